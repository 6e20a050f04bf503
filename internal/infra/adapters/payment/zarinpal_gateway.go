package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
)

const zarinpalProvider = "zarinpal"

var (
	_ adapter.PaymentGateway = (*ZarinpalGateway)(nil)
	_ adapter.Requerier      = (*ZarinpalGateway)(nil)
)

// ZarinPal result codes.
const (
	zpOK              = 100
	zpAlreadyVerified = 101
	zpAmountMismatch  = -50
	zpNotPaid         = -51
	zpUnknownSession  = -54
)

type ZarinpalFactory struct{}

func (ZarinpalFactory) Provider() string { return zarinpalProvider }

func (ZarinpalFactory) NewGateway(cfg adapter.GatewayConfig) (adapter.PaymentGateway, error) {
	if err := cfg.RequireCredentials("merchant_id"); err != nil {
		return nil, err
	}
	base, start := "https://api.zarinpal.com/pg/v4", "https://www.zarinpal.com/pg/StartPay/"
	if cfg.Sandbox() {
		base, start = "https://sandbox.zarinpal.com/pg/v4", "https://sandbox.zarinpal.com/pg/StartPay/"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &ZarinpalGateway{
		cfg:        cfg,
		merchantID: cfg.Credential("merchant_id"),
		startPay:   start,
		api:        newAPIClient(zarinpalProvider, base, cfg.Timeout, nil),
	}, nil
}

// ZarinpalGateway implements the REST v4 request/verify flow. ZarinPal sends
// no webhooks; every confirmation is a verify round-trip with the amount we
// expect, which the provider checks on its side.
type ZarinpalGateway struct {
	cfg        adapter.GatewayConfig
	merchantID string
	startPay   string
	api        *apiClient
}

func (g *ZarinpalGateway) Name() string { return g.cfg.Name }

func (g *ZarinpalGateway) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Redirect: true, Requery: true, CallTimeout: g.cfg.Timeout}
}

type zarinpalResponse struct {
	Data struct {
		Code      int    `json:"code"`
		Message   string `json:"message"`
		Authority string `json:"authority"`
		RefID     int64  `json:"ref_id"`
		CardPan   string `json:"card_pan"`
	} `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zarinpalError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UnmarshalJSON tolerates ZarinPal's habit of sending "data": [] on errors.
func (r *zarinpalResponse) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data   json.RawMessage `json:"data"`
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Errors = raw.Errors
	if len(raw.Data) > 0 && raw.Data[0] == '{' {
		return json.Unmarshal(raw.Data, &r.Data)
	}
	return nil
}

// code returns the data code, or the error code when the call failed.
func (r *zarinpalResponse) code() (int, string) {
	if r.Data.Code != 0 {
		return r.Data.Code, r.Data.Message
	}
	var e zarinpalError
	if len(r.Errors) > 0 && r.Errors[0] == '{' && json.Unmarshal(r.Errors, &e) == nil {
		return e.Code, e.Message
	}
	return 0, ""
}

// call posts to path and decodes the answer from a 2xx or 4xx body alike.
func (g *ZarinpalGateway) call(ctx context.Context, op, path string, body interface{}) (*zarinpalResponse, error) {
	var resp zarinpalResponse
	err := g.api.do(ctx, op, http.MethodPost, path, body, &resp)
	if err != nil {
		if !errors.Is(err, domain.ErrGatewayRejected) {
			return nil, err
		}
		if json.Unmarshal(statusBody(err), &resp) != nil {
			return nil, err
		}
	}
	return &resp, nil
}

func (g *ZarinpalGateway) CreateCharge(ctx context.Context, order *model.PlanOrder, req *model.PurchaseRequest) (adapter.ChargeResult, error) {
	amount, err := ToMinor(order.FinalPrice, order.Currency)
	if err != nil {
		return adapter.ChargeResult{}, err
	}
	back, err := returnURL(g.cfg.ReturnURL, req.ReturnURL, order.PaymentID)
	if err != nil {
		return adapter.ChargeResult{}, err
	}
	meta := map[string]string{"order_id": order.PaymentID}
	if req != nil {
		if req.Customer.Email != "" {
			meta["email"] = req.Customer.Email
		}
		if req.Customer.Phone != "" {
			meta["mobile"] = req.Customer.Phone
		}
	}
	payload := map[string]interface{}{
		"merchant_id":  g.merchantID,
		"amount":       amount,
		"currency":     order.Currency,
		"description":  describe(order),
		"callback_url": back,
		"metadata":     meta,
	}
	resp, err := g.call(ctx, "create_charge", "/payment/request.json", payload)
	if err != nil {
		return adapter.ChargeResult{}, err
	}
	code, msg := resp.code()
	if code != zpOK || resp.Data.Authority == "" {
		return adapter.ChargeResult{}, fmt.Errorf("%w: zarinpal request: code %d: %s", domain.ErrGatewayRejected, code, msg)
	}
	return adapter.ChargeResult{
		RedirectURL:       g.startPay + resp.Data.Authority,
		ProviderReference: resp.Data.Authority,
	}, nil
}

func (g *ZarinpalGateway) Reference(cb adapter.Callback) (adapter.CallbackReference, error) {
	if cb.Kind == adapter.CallbackWebhook {
		return adapter.CallbackReference{}, errors.New("zarinpal does not send webhooks")
	}
	ref := adapter.CallbackReference{
		PaymentID:         cb.Query.Get(paymentIDParam),
		ProviderReference: cb.Query.Get("Authority"),
	}
	if ref.PaymentID == "" && ref.ProviderReference == "" {
		return ref, errors.New("zarinpal: return without Authority")
	}
	return ref, nil
}

// Verify does not read the Status query flag. The verify call decides.
func (g *ZarinpalGateway) Verify(ctx context.Context, cb adapter.Callback, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if cb.Kind == adapter.CallbackWebhook {
		return adapter.VerifiedOutcome{}, domain.VerificationError(domain.ErrVerificationFailed, "zarinpal does not send webhooks")
	}
	if authority := cb.Query.Get("Authority"); authority != "" && authority != expected.ProviderReference {
		return adapter.VerifiedOutcome{}, domain.VerificationError(ErrReferenceMismatch, authority)
	}
	return g.Lookup(ctx, expected)
}

func (g *ZarinpalGateway) Lookup(ctx context.Context, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if expected.ProviderReference == "" {
		return adapter.VerifiedOutcome{Status: adapter.OutcomePending, PaymentID: expected.PaymentID}, nil
	}
	amount, err := ToMinor(expected.FinalPrice, expected.Currency)
	if err != nil {
		return adapter.VerifiedOutcome{}, err
	}
	resp, err := g.call(ctx, "verify", "/payment/verify.json", map[string]interface{}{
		"merchant_id": g.merchantID,
		"amount":      amount,
		"authority":   expected.ProviderReference,
	})
	if err != nil {
		return adapter.VerifiedOutcome{}, err
	}

	out := adapter.VerifiedOutcome{
		ProviderReference: expected.ProviderReference,
		PaymentID:         expected.PaymentID,
	}
	code, msg := resp.code()
	switch code {
	case zpOK, zpAlreadyVerified:
		// ZarinPal checked the amount we sent.
		out.Status = adapter.OutcomeSucceeded
		out.Amount = expected.FinalPrice
		out.Currency = expected.Currency
		out.AmountReported = true
		if resp.Data.RefID != 0 {
			out.Reason = "ref_id " + strconv.FormatInt(resp.Data.RefID, 10)
		}
		return out, nil
	case zpNotPaid:
		out.Status = adapter.OutcomeFailed
		out.Reason = "payment not completed"
		return out, nil
	case zpAmountMismatch:
		return adapter.VerifiedOutcome{}, domain.VerificationError(domain.ErrAmountMismatch, msg)
	case zpUnknownSession:
		return adapter.VerifiedOutcome{}, domain.VerificationError(ErrReferenceMismatch, msg)
	}
	return adapter.VerifiedOutcome{}, fmt.Errorf("%w: zarinpal verify: code %d: %s", domain.ErrGatewayRejected, code, msg)
}
