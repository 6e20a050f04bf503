package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/infra/metrics"
)

const maxResponseBody = 1 << 20

// apiClient is a small JSON client shared by the REST gateways. Status codes
// map onto the gateway error classes: transport errors, 429 and 5xx are
// retryable, other 4xx are not.
type apiClient struct {
	provider string
	baseURL  string
	http     *http.Client
	auth     func(*http.Request)
}

func newAPIClient(provider, baseURL string, timeout time.Duration, auth func(*http.Request)) *apiClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &apiClient{
		provider: provider,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		auth:     auth,
	}
}

// statusError carries the HTTP status and the decoded body of a failed call
// so adapters can read provider error codes.
type statusError struct {
	class  error
	Status int
	Body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: http %d: %s", e.class, e.Status, truncate(e.Body, 200))
}

func (e *statusError) Unwrap() error { return e.class }

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// do sends in as JSON (when non-nil) and decodes the response into out.
func (c *apiClient) do(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayCall(c.provider, op, resultLabel(err), time.Since(start)) }()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: encode: %w", c.provider, op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayRejected, c.provider, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayUnavailable, c.provider, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: %s %s: read body: %v", domain.ErrGatewayUnavailable, c.provider, op, err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return &statusError{class: domain.ErrGatewayUnavailable, Status: resp.StatusCode, Body: raw}
	case resp.StatusCode >= 400:
		return &statusError{class: domain.ErrGatewayRejected, Status: resp.StatusCode, Body: raw}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s %s: decode: %v", domain.ErrGatewayUnavailable, c.provider, op, err)
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrGatewayRejected):
		return "rejected"
	}
	return "error"
}

// httpStatus returns the status of a failed call, or 0.
func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func statusBody(err error) []byte {
	var se *statusError
	if errors.As(err, &se) {
		return se.Body
	}
	return nil
}
