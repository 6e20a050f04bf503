package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"

	"github.com/shopspring/decimal"
)

// DefaultAmountTolerance is the largest accepted difference between the amount a
// provider reports and the order's final price.
var DefaultAmountTolerance = decimal.New(1, -2)

type CallbackKind string

const (
	CallbackReturn  CallbackKind = "return"  // user's browser coming back from the provider
	CallbackWebhook CallbackKind = "webhook" // server-to-server notification
)

// Callback is an inbound provider notification as received over HTTP.
type Callback struct {
	Kind    CallbackKind
	Payload []byte // raw request body
	Headers http.Header
	Query   url.Values // query string merged with form values
}

// Capabilities tells the orchestration layer which confirmation paths a
// gateway supports.
type Capabilities struct {
	Redirect    bool // CreateCharge returns a URL to send the user to
	ClientToken bool // CreateCharge returns a token for an on-page widget
	Webhook     bool // provider sends signed server-to-server callbacks
	Requery     bool // gateway implements Requerier

	// CallTimeout is the configured per-call timeout, zero when unset.
	CallTimeout time.Duration
}

// ChargeResult is what CreateCharge hands back to the client.
type ChargeResult struct {
	RedirectURL       string
	ClientToken       string
	ProviderReference string
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomePending   OutcomeStatus = "pending"
	OutcomeFailed    OutcomeStatus = "failed"
)

// VerifiedOutcome is produced only from an authenticated provider message or an
// authenticated API round-trip.
type VerifiedOutcome struct {
	Status            OutcomeStatus
	Amount            decimal.Decimal
	Currency          string
	AmountReported    bool // false when the provider did not say how much was paid
	ProviderReference string
	PaymentID         string
	Reason            string
}

// CallbackReference identifies the order a callback talks about. It is read
// from unauthenticated input and only used to load the expected order.
type CallbackReference struct {
	PaymentID         string
	ProviderReference string
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() string
	Capabilities() Capabilities

	// CreateCharge opens a charge for a pending order. Transport failures and
	// provider 5xx wrap domain.ErrGatewayUnavailable; 4xx and credential
	// problems wrap domain.ErrGatewayRejected.
	CreateCharge(ctx context.Context, order *model.PlanOrder, req *model.PurchaseRequest) (ChargeResult, error)

	// Reference extracts the order identifiers from a callback.
	Reference(cb Callback) (CallbackReference, error)

	// Verify authenticates cb against the expected order. It never returns a
	// succeeded outcome together with an error; authenticity problems wrap
	// domain.ErrVerificationFailed.
	Verify(ctx context.Context, cb Callback, expected *model.PlanOrder) (VerifiedOutcome, error)
}

// Requerier is implemented by gateways that can look up a charge by its
// provider reference.
type Requerier interface {
	Lookup(ctx context.Context, expected *model.PlanOrder) (VerifiedOutcome, error)
}

// GatewayResolver returns the configured gateway for a provider name.
type GatewayResolver interface {
	Gateway(name string) (PaymentGateway, error)
}

// GatewayConfig is everything an adapter factory needs.
type GatewayConfig struct {
	Name          string            `yaml:"-"`
	Enabled       bool              `yaml:"enabled"`
	Mode          string            `yaml:"mode"` // sandbox | live
	Currency      string            `yaml:"currency"`
	Credentials   map[string]string `yaml:"credentials"`
	WebhookSecret string            `yaml:"webhook_secret"`
	BaseURL       string            `yaml:"base_url"` // API override, empty for the provider default
	ReturnURL     string            `yaml:"return_url"`
	CancelURL     string            `yaml:"cancel_url"`
	Timeout       time.Duration     `yaml:"timeout"`
}

func (c GatewayConfig) Sandbox() bool { return !strings.EqualFold(c.Mode, "live") }

func (c GatewayConfig) Credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials[key]
}

// RequireCredentials fails with domain.ErrGatewayRejected when any key is empty.
func (c GatewayConfig) RequireCredentials(keys ...string) error {
	for _, k := range keys {
		if strings.TrimSpace(c.Credential(k)) == "" {
			return fmt.Errorf("%w: %s: missing credential %q", domain.ErrGatewayRejected, c.Name, k)
		}
	}
	return nil
}

// GatewayFactory builds a gateway from its configuration.
type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (PaymentGateway, error)
}

// CheckAmount cross-checks a succeeded outcome against the order. Outcomes
// without a reported amount pass only the currency check.
func CheckAmount(out VerifiedOutcome, order *model.PlanOrder, tolerance decimal.Decimal) error {
	if out.Currency != "" && !strings.EqualFold(out.Currency, order.Currency) {
		return domain.VerificationError(domain.ErrAmountMismatch,
			fmt.Sprintf("currency %s, expected %s", strings.ToUpper(out.Currency), order.Currency))
	}
	if !out.AmountReported {
		return nil
	}
	if out.Amount.Sub(order.FinalPrice).Abs().GreaterThan(tolerance) {
		return domain.VerificationError(domain.ErrAmountMismatch,
			fmt.Sprintf("paid %s, expected %s", out.Amount.StringFixed(2), order.FinalPrice.StringFixed(2)))
	}
	return nil
}
