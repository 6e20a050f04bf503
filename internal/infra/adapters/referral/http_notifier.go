package referral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"saas-plan-payments/internal/config"
	"saas-plan-payments/internal/domain/ports/adapter"
)

var (
	_ adapter.ReferralNotifier = (*HTTPNotifier)(nil)
	_ adapter.ReferralNotifier = Noop{}
)

// New returns an HTTP notifier, or Noop when no endpoint is configured.
func New(cfg config.ReferralConfig) adapter.ReferralNotifier {
	if cfg.URL == "" {
		return Noop{}
	}
	return NewHTTPNotifier(cfg.URL, cfg.Token, cfg.Timeout)
}

// HTTPNotifier posts commissions to the referral service.
type HTTPNotifier struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPNotifier(url, token string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

type commissionBody struct {
	ReferrerID string `json:"referrer_id"`
	UserID     string `json:"user_id"`
	PaymentID  string `json:"payment_id"`
	PlanID     string `json:"plan_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

// AccrueCommission is keyed by payment id on the receiving side, so a retry
// after a lost response is harmless.
func (n *HTTPNotifier) AccrueCommission(ctx context.Context, c adapter.Commission) error {
	b, err := json.Marshal(commissionBody{
		ReferrerID: c.ReferrerID,
		UserID:     c.UserID,
		PaymentID:  c.PaymentID,
		PlanID:     c.PlanID,
		Amount:     c.Amount.StringFixed(2),
		Currency:   c.Currency,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", c.PaymentID)
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("referral notify: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("referral notify: http %d", resp.StatusCode)
	}
	return nil
}

// Noop drops commissions.
type Noop struct{}

func (Noop) AccrueCommission(context.Context, adapter.Commission) error { return nil }
