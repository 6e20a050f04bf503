package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/infra/metrics"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

const stripeProvider = "stripe"

var (
	_ adapter.PaymentGateway = (*StripeGateway)(nil)
	_ adapter.Requerier      = (*StripeGateway)(nil)
)

// ErrReferenceMismatch means a provider object does not belong to the order it
// was looked up for.
var ErrReferenceMismatch = errors.New("provider object does not match order")

type StripeFactory struct{}

func (StripeFactory) Provider() string { return stripeProvider }

func (StripeFactory) NewGateway(cfg adapter.GatewayConfig) (adapter.PaymentGateway, error) {
	if err := cfg.RequireCredentials("secret_key"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: stripe: webhook_secret is required", domain.ErrGatewayRejected)
	}
	base := cfg.BaseURL
	if base == "" {
		base = stripe.APIURL
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(base),
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	sc := &client.API{}
	sc.Init(cfg.Credential("secret_key"), &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeGateway{cfg: cfg, sc: sc}, nil
}

// StripeGateway sells plans through hosted Checkout sessions. The session's
// client_reference_id carries the payment id.
type StripeGateway struct {
	cfg adapter.GatewayConfig
	sc  *client.API
}

func (g *StripeGateway) Name() string { return g.cfg.Name }

func (g *StripeGateway) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Redirect: true, Webhook: true, Requery: true, CallTimeout: g.cfg.Timeout}
}

func (g *StripeGateway) CreateCharge(ctx context.Context, order *model.PlanOrder, req *model.PurchaseRequest) (adapter.ChargeResult, error) {
	amount, err := ToMinor(order.FinalPrice, order.Currency)
	if err != nil {
		return adapter.ChargeResult{}, err
	}
	back, err := returnURL(g.cfg.ReturnURL, req.ReturnURL, order.PaymentID)
	if err != nil {
		return adapter.ChargeResult{}, err
	}
	cancel := g.cfg.CancelURL
	if cancel == "" {
		cancel = back
	}

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(order.PaymentID),
		SuccessURL:        stripe.String(back + "&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(cancel),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(order.Currency)),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(describe(order)),
				},
			},
		}},
	}
	if email := customerEmail(req); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata(paymentIDParam, order.PaymentID)
	params.SetIdempotencyKey(order.PaymentID)

	start := time.Now()
	sess, err := g.sc.CheckoutSessions.New(params)
	metrics.ObserveGatewayCall(stripeProvider, "create_charge", resultLabel(stripeErr("", err)), time.Since(start))
	if err != nil {
		return adapter.ChargeResult{}, stripeErr("create checkout session", err)
	}
	return adapter.ChargeResult{RedirectURL: sess.URL, ProviderReference: sess.ID}, nil
}

type stripeEventEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string `json:"id"`
			Object            string `json:"object"`
			ClientReferenceID string `json:"client_reference_id"`
		} `json:"object"`
	} `json:"data"`
}

func (g *StripeGateway) Reference(cb adapter.Callback) (adapter.CallbackReference, error) {
	if cb.Kind == adapter.CallbackReturn {
		ref := adapter.CallbackReference{
			PaymentID:         cb.Query.Get(paymentIDParam),
			ProviderReference: cb.Query.Get("session_id"),
		}
		if ref.PaymentID == "" && ref.ProviderReference == "" {
			return ref, errors.New("stripe: return without payment_id or session_id")
		}
		return ref, nil
	}
	if _, err := g.constructEvent(cb); err != nil {
		return adapter.CallbackReference{}, err
	}
	var env stripeEventEnvelope
	if err := json.Unmarshal(cb.Payload, &env); err != nil {
		return adapter.CallbackReference{}, fmt.Errorf("stripe: decode event: %w", err)
	}
	if env.Data.Object.Object != "checkout.session" {
		return adapter.CallbackReference{}, fmt.Errorf("%w: stripe %s", domain.ErrEventIgnored, env.Type)
	}
	return adapter.CallbackReference{
		PaymentID:         env.Data.Object.ClientReferenceID,
		ProviderReference: env.Data.Object.ID,
	}, nil
}

func (g *StripeGateway) Verify(ctx context.Context, cb adapter.Callback, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if cb.Kind == adapter.CallbackWebhook {
		return g.verifyEvent(cb, expected)
	}
	// The return leg carries nothing signed; ask Stripe.
	return g.Lookup(ctx, expected)
}

func (g *StripeGateway) constructEvent(cb adapter.Callback) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(cb.Payload, cb.Headers.Get("Stripe-Signature"), g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return event, domain.VerificationError(domain.ErrInvalidSignature, err.Error())
	}
	return event, nil
}

func (g *StripeGateway) verifyEvent(cb adapter.Callback, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	event, err := g.constructEvent(cb)
	if err != nil {
		return adapter.VerifiedOutcome{}, err
	}
	var sess stripe.CheckoutSession
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &sess) != nil {
		return adapter.VerifiedOutcome{}, domain.VerificationError(domain.ErrVerificationFailed, "stripe: event without checkout session")
	}
	out, err := g.outcome(&sess, expected)
	if err != nil {
		return adapter.VerifiedOutcome{}, err
	}
	switch event.Type {
	case "checkout.session.async_payment_failed":
		out.Status, out.Reason = adapter.OutcomeFailed, "async payment failed"
	case "checkout.session.expired":
		out.Status, out.Reason = adapter.OutcomeFailed, "checkout session expired"
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		out.Status = adapter.OutcomePending
	}
	return out, nil
}

// Lookup retrieves the checkout session recorded on the order.
func (g *StripeGateway) Lookup(ctx context.Context, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if expected.ProviderReference == "" {
		return adapter.VerifiedOutcome{Status: adapter.OutcomePending, PaymentID: expected.PaymentID}, nil
	}
	params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
	start := time.Now()
	sess, err := g.sc.CheckoutSessions.Get(expected.ProviderReference, params)
	metrics.ObserveGatewayCall(stripeProvider, "lookup", resultLabel(stripeErr("", err)), time.Since(start))
	if err != nil {
		return adapter.VerifiedOutcome{}, stripeErr("get checkout session", err)
	}
	return g.outcome(sess, expected)
}

func (g *StripeGateway) outcome(sess *stripe.CheckoutSession, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	if sess.ClientReferenceID != expected.PaymentID {
		return adapter.VerifiedOutcome{}, domain.VerificationError(ErrReferenceMismatch,
			fmt.Sprintf("session %s belongs to %q", sess.ID, sess.ClientReferenceID))
	}
	out := adapter.VerifiedOutcome{
		Status:            adapter.OutcomePending,
		Currency:          strings.ToUpper(string(sess.Currency)),
		ProviderReference: sess.ID,
		PaymentID:         sess.ClientReferenceID,
	}
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		out.Status = adapter.OutcomeSucceeded
		out.Amount = FromMinor(sess.AmountTotal, string(sess.Currency))
		out.AmountReported = true
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		out.Status, out.Reason = adapter.OutcomeFailed, "checkout session expired"
	}
	return out, nil
}

func stripeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 || se.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: stripe %s: %s", domain.ErrGatewayUnavailable, op, se.Msg)
		}
		return fmt.Errorf("%w: stripe %s: %s", domain.ErrGatewayRejected, op, se.Msg)
	}
	return fmt.Errorf("%w: stripe %s: %v", domain.ErrGatewayUnavailable, op, err)
}
