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
	razorpayProvider = "razorpay"
	razorpayBaseURL  = "https://api.razorpay.com"
)

var (
	_ adapter.PaymentGateway = (*RazorpayGateway)(nil)
	_ adapter.Requerier      = (*RazorpayGateway)(nil)
)

type RazorpayFactory struct{}

func (RazorpayFactory) Provider() string { return razorpayProvider }

func (RazorpayFactory) NewGateway(cfg adapter.GatewayConfig) (adapter.PaymentGateway, error) {
	if err := cfg.RequireCredentials("key_id", "key_secret"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: razorpay: webhook_secret is required", domain.ErrGatewayRejected)
	}
	base := cfg.BaseURL
	if base == "" {
		base = razorpayBaseURL
	}
	keyID, keySecret := cfg.Credential("key_id"), cfg.Credential("key_secret")
	return &RazorpayGateway{
		cfg:       cfg,
		keySecret: keySecret,
		api: newAPIClient(razorpayProvider, strings.TrimRight(base, "/"), cfg.Timeout, func(r *http.Request) {
			r.SetBasicAuth(keyID, keySecret)
		}),
	}, nil
}

// RazorpayGateway opens a Razorpay order whose id is handed to Checkout.js as
// the client token. The order receipt carries the payment id.
type RazorpayGateway struct {
	cfg       adapter.GatewayConfig
	keySecret string
	api       *apiClient
}

func (g *RazorpayGateway) Name() string { return g.cfg.Name }

func (g *RazorpayGateway) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{ClientToken: true, Webhook: true, Requery: true, CallTimeout: g.cfg.Timeout}
}

type razorpayOrder struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"` // created | attempted | paid
}

type razorpayPayment struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
}

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity razorpayOrder `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (g *RazorpayGateway) CreateCharge(ctx context.Context, order *model.PlanOrder, _ *model.PurchaseRequest) (adapter.ChargeResult, error) {
	amount, err := ToMinor(order.FinalPrice, order.Currency)
	if err != nil {
		return adapter.ChargeResult{}, err
	}
	body := map[string]interface{}{
		"amount":   amount,
		"currency": order.Currency,
		"receipt":  order.PaymentID,
		"notes":    map[string]string{paymentIDParam: order.PaymentID, "plan_id": order.PlanID},
	}
	var ro razorpayOrder
	if err := g.api.do(ctx, "create_charge", http.MethodPost, "/v1/orders", body, &ro); err != nil {
		return adapter.ChargeResult{}, err
	}
	if ro.ID == "" {
		return adapter.ChargeResult{}, fmt.Errorf("%w: razorpay: order without id", domain.ErrGatewayRejected)
	}
	return adapter.ChargeResult{ClientToken: ro.ID, ProviderReference: ro.ID}, nil
}

func (g *RazorpayGateway) Reference(cb adapter.Callback) (adapter.CallbackReference, error) {
	if cb.Kind == adapter.CallbackReturn {
		ref := adapter.CallbackReference{
			PaymentID:         cb.Query.Get(paymentIDParam),
			ProviderReference: cb.Query.Get("razorpay_order_id"),
		}
		if ref.PaymentID == "" && ref.ProviderReference == "" {
			return ref, errors.New("razorpay: return without order id")
		}
		return ref, nil
	}
	var ev razorpayEvent
	if err := json.Unmarshal(cb.Payload, &ev); err != nil {
		return adapter.CallbackReference{}, fmt.Errorf("razorpay: decode event: %w", err)
	}
	ref := adapter.CallbackReference{
		PaymentID:         ev.Payload.Order.Entity.Receipt,
		ProviderReference: ev.Payload.Payment.Entity.OrderID,
	}
	if ref.PaymentID == "" {
		ref.PaymentID = ev.Payload.Payment.Entity.Notes[paymentIDParam]
	}
	if ref.ProviderReference == "" {
		ref.ProviderReference = ev.Payload.Order.Entity.ID
	}
	if ref.PaymentID == "" && ref.ProviderReference == "" {
		return ref, fmt.Errorf("razorpay: event %q without order reference", ev.Event)
	}
	return ref, nil
}

func (g *RazorpayGateway) Verify(ctx context.Context, cb adapter.Callback, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if cb.Kind == adapter.CallbackWebhook {
		return g.verifyWebhook(cb, expected)
	}

	orderID := cb.Query.Get("razorpay_order_id")
	paymentID := cb.Query.Get("razorpay_payment_id")
	if orderID == "" || paymentID == "" {
		if errDesc := cb.Query.Get("error[description]"); errDesc != "" {
			return adapter.VerifiedOutcome{Status: adapter.OutcomePending, PaymentID: expected.PaymentID, Reason: errDesc}, nil
		}
		return adapter.VerifiedOutcome{}, domain.VerificationError(domain.ErrInvalidSignature, "razorpay: missing checkout fields")
	}
	if orderID != expected.ProviderReference {
		return adapter.VerifiedOutcome{}, domain.VerificationError(ErrReferenceMismatch, orderID)
	}
	msg := []byte(orderID + "|" + paymentID)
	if err := VerifySignature(SHA256, Hex, []byte(g.keySecret), msg, cb.Query.Get("razorpay_signature")); err != nil {
		return adapter.VerifiedOutcome{}, err
	}
	// The checkout signature proves the pair came from Razorpay; the amount
	// comes from the order itself.
	return g.Lookup(ctx, expected)
}

func (g *RazorpayGateway) verifyWebhook(cb adapter.Callback, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if err := VerifySignature(SHA256, Hex, []byte(g.cfg.WebhookSecret), cb.Payload, cb.Headers.Get("X-Razorpay-Signature")); err != nil {
		return adapter.VerifiedOutcome{}, err
	}
	var ev razorpayEvent
	if err := json.Unmarshal(cb.Payload, &ev); err != nil {
		return adapter.VerifiedOutcome{}, domain.VerificationError(domain.ErrVerificationFailed, "razorpay: undecodable event")
	}
	pay := ev.Payload.Payment.Entity
	orderID := pay.OrderID
	if orderID == "" {
		orderID = ev.Payload.Order.Entity.ID
	}
	if expected.ProviderReference != "" && orderID != expected.ProviderReference {
		return adapter.VerifiedOutcome{}, domain.VerificationError(ErrReferenceMismatch, orderID)
	}

	out := adapter.VerifiedOutcome{
		Status:            adapter.OutcomePending,
		ProviderReference: orderID,
		PaymentID:         expected.PaymentID,
	}
	switch ev.Event {
	case "payment.captured":
		out.Status = adapter.OutcomeSucceeded
		out.Amount = FromMinor(pay.Amount, pay.Currency)
		out.Currency = strings.ToUpper(pay.Currency)
		out.AmountReported = true
	case "order.paid":
		o := ev.Payload.Order.Entity
		out.Status = adapter.OutcomeSucceeded
		out.Amount = FromMinor(o.AmountPaid, o.Currency)
		out.Currency = strings.ToUpper(o.Currency)
		out.AmountReported = true
	case "payment.failed":
		// A failed attempt leaves the Razorpay order payable; Checkout retries
		// on the same order id. The reconciler's pending TTL closes it out.
		out.Reason = pay.ErrorDescription
		if out.Reason == "" {
			out.Reason = "payment failed"
		}
	}
	return out, nil
}

// Lookup reads the Razorpay order; an order only counts as paid once
// Razorpay says so.
func (g *RazorpayGateway) Lookup(ctx context.Context, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if expected.ProviderReference == "" {
		return adapter.VerifiedOutcome{Status: adapter.OutcomePending, PaymentID: expected.PaymentID}, nil
	}
	var ro razorpayOrder
	if err := g.api.do(ctx, "lookup", http.MethodGet, "/v1/orders/"+url.PathEscape(expected.ProviderReference), nil, &ro); err != nil {
		return adapter.VerifiedOutcome{}, err
	}
	if ro.Receipt != "" && ro.Receipt != expected.PaymentID {
		return adapter.VerifiedOutcome{}, domain.VerificationError(ErrReferenceMismatch, ro.Receipt)
	}
	out := adapter.VerifiedOutcome{
		Status:            adapter.OutcomePending,
		Currency:          strings.ToUpper(ro.Currency),
		ProviderReference: ro.ID,
		PaymentID:         expected.PaymentID,
	}
	if ro.Status == "paid" {
		out.Status = adapter.OutcomeSucceeded
		out.Amount = FromMinor(ro.AmountPaid, ro.Currency)
		out.AmountReported = true
	}
	return out, nil
}
