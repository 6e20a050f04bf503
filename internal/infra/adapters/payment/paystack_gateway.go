package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
)

const (
	paystackProvider = "paystack"
	paystackBaseURL  = "https://api.paystack.co"
)

var (
	_ adapter.PaymentGateway = (*PaystackGateway)(nil)
	_ adapter.Requerier      = (*PaystackGateway)(nil)
)

type PaystackFactory struct{}

func (PaystackFactory) Provider() string { return paystackProvider }

func (PaystackFactory) NewGateway(cfg adapter.GatewayConfig) (adapter.PaymentGateway, error) {
	if err := cfg.RequireCredentials("secret_key"); err != nil {
		return nil, err
	}
	base := cfg.BaseURL
	if base == "" {
		base = paystackBaseURL
	}
	secret := cfg.Credential("secret_key")
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = secret
	}
	return &PaystackGateway{
		cfg:           cfg,
		webhookSecret: webhookSecret,
		api: newAPIClient(paystackProvider, strings.TrimRight(base, "/"), cfg.Timeout, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+secret)
		}),
	}, nil
}

// PaystackGateway uses the payment id as the Paystack transaction reference.
type PaystackGateway struct {
	cfg           adapter.GatewayConfig
	webhookSecret string
	api           *apiClient
}

func (g *PaystackGateway) Name() string { return g.cfg.Name }

func (g *PaystackGateway) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Redirect: true, Webhook: true, Requery: true, CallTimeout: g.cfg.Timeout}
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Gateway   string `json:"gateway_response"`
}

func (g *PaystackGateway) CreateCharge(ctx context.Context, order *model.PlanOrder, req *model.PurchaseRequest) (adapter.ChargeResult, error) {
	email := customerEmail(req)
	if email == "" {
		return adapter.ChargeResult{}, fmt.Errorf("%w: paystack requires a customer email", domain.ErrInvalidArgument)
	}
	amount, err := ToMinor(order.FinalPrice, order.Currency)
	if err != nil {
		return adapter.ChargeResult{}, err
	}
	back, err := returnURL(g.cfg.ReturnURL, req.ReturnURL, order.PaymentID)
	if err != nil {
		return adapter.ChargeResult{}, err
	}

	body := map[string]interface{}{
		"email":        email,
		"amount":       amount,
		"currency":     order.Currency,
		"reference":    order.PaymentID,
		"callback_url": back,
		"metadata":     map[string]string{paymentIDParam: order.PaymentID, "plan_id": order.PlanID},
	}
	var env paystackEnvelope
	if err := g.api.do(ctx, "create_charge", http.MethodPost, "/transaction/initialize", body, &env); err != nil {
		return adapter.ChargeResult{}, err
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	if !env.Status || json.Unmarshal(env.Data, &data) != nil || data.AuthorizationURL == "" {
		return adapter.ChargeResult{}, fmt.Errorf("%w: paystack initialize: %s", domain.ErrGatewayRejected, env.Message)
	}
	return adapter.ChargeResult{RedirectURL: data.AuthorizationURL, ProviderReference: data.Reference}, nil
}

func (g *PaystackGateway) Reference(cb adapter.Callback) (adapter.CallbackReference, error) {
	if cb.Kind == adapter.CallbackReturn {
		ref := cb.Query.Get("reference")
		if ref == "" {
			ref = cb.Query.Get("trxref")
		}
		pid := cb.Query.Get(paymentIDParam)
		if pid == "" {
			pid = ref
		}
		if pid == "" {
			return adapter.CallbackReference{}, errors.New("paystack: return without reference")
		}
		return adapter.CallbackReference{PaymentID: pid, ProviderReference: ref}, nil
	}
	var ev struct {
		Event string              `json:"event"`
		Data  paystackTransaction `json:"data"`
	}
	if err := json.Unmarshal(cb.Payload, &ev); err != nil || ev.Data.Reference == "" {
		return adapter.CallbackReference{}, errors.New("paystack: webhook without transaction reference")
	}
	return adapter.CallbackReference{PaymentID: ev.Data.Reference, ProviderReference: ev.Data.Reference}, nil
}

// Verify checks the webhook signature and then, for both legs, re-reads the
// transaction from the API so the amount comes from Paystack itself.
func (g *PaystackGateway) Verify(ctx context.Context, cb adapter.Callback, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if cb.Kind == adapter.CallbackWebhook {
		if err := VerifySignature(SHA512, Hex, []byte(g.webhookSecret), cb.Payload, cb.Headers.Get("x-paystack-signature")); err != nil {
			return adapter.VerifiedOutcome{}, err
		}
	}
	return g.Lookup(ctx, expected)
}

func (g *PaystackGateway) Lookup(ctx context.Context, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	var env paystackEnvelope
	err := g.api.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(expected.PaymentID), nil, &env)
	if httpStatus(err) == http.StatusNotFound {
		return adapter.VerifiedOutcome{Status: adapter.OutcomePending, PaymentID: expected.PaymentID}, nil
	}
	if err != nil {
		return adapter.VerifiedOutcome{}, err
	}
	var tx paystackTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return adapter.VerifiedOutcome{}, fmt.Errorf("%w: paystack verify: %v", domain.ErrGatewayUnavailable, err)
	}
	if tx.Reference != expected.PaymentID {
		return adapter.VerifiedOutcome{}, domain.VerificationError(ErrReferenceMismatch, tx.Reference)
	}

	out := adapter.VerifiedOutcome{
		Status:            adapter.OutcomePending,
		Currency:          strings.ToUpper(tx.Currency),
		ProviderReference: tx.Reference,
		PaymentID:         tx.Reference,
	}
	switch tx.Status {
	case "success":
		out.Status = adapter.OutcomeSucceeded
		out.Amount = FromMinor(tx.Amount, tx.Currency)
		out.AmountReported = true
	case "failed", "reversed":
		out.Status = adapter.OutcomeFailed
		out.Reason = tx.Status
		if tx.Gateway != "" {
			out.Reason += ": " + tx.Gateway
		}
	}
	return out, nil
}
