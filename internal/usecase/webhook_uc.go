package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/domain/ports/repository"
	"saas-plan-payments/internal/infra/logging"
	"saas-plan-payments/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var errForeignGateway = errors.New("order belongs to another gateway")

// Ack describes how a callback was settled.
type Ack struct {
	Order            *model.PlanOrder
	Outcome          adapter.OutcomeStatus
	AlreadyProcessed bool
	// Ignored is set for authenticated events that carry no order update.
	Ignored    bool
	Activation *ActivationResult
}

// Approved reports whether the order ended up approved, now or earlier.
func (a *Ack) Approved() bool {
	return a != nil && a.Order != nil && a.Order.Status == model.OrderStatusApproved
}

// WebhookDispatcher runs the verify, lookup, transition and activate pipeline
// shared by provider webhooks, browser returns and the reconciler.
type WebhookDispatcher interface {
	// Dispatch authenticates cb with the provider's gateway and settles the
	// order it refers to.
	Dispatch(ctx context.Context, provider string, cb adapter.Callback) (*Ack, error)
	// Apply settles order with an outcome that was already authenticated.
	Apply(ctx context.Context, order *model.PlanOrder, out adapter.VerifiedOutcome) (*Ack, error)
}

var _ WebhookDispatcher = (*webhookDispatcher)(nil)

type webhookDispatcher struct {
	gateways   adapter.GatewayResolver
	orders     repository.OrderRepository
	activation ActivationUseCase
	tolerance  decimal.Decimal
	log        *zerolog.Logger
}

func NewWebhookDispatcher(
	gateways adapter.GatewayResolver,
	orders repository.OrderRepository,
	activation ActivationUseCase,
	tolerance decimal.Decimal,
	logger *zerolog.Logger,
) WebhookDispatcher {
	return &webhookDispatcher{
		gateways:   gateways,
		orders:     orders,
		activation: activation,
		tolerance:  tolerance,
		log:        logger,
	}
}

func (d *webhookDispatcher) Dispatch(ctx context.Context, provider string, cb adapter.Callback) (ack *Ack, err error) {
	start := time.Now()
	log := logging.With(logging.WithProvider(ctx, provider), d.log)
	defer func() {
		result := "ok"
		if err != nil {
			result = "fail"
		}
		metrics.ObserveVerify(provider, string(cb.Kind), result, failureReason(err), time.Since(start).Seconds())
	}()

	gw, err := d.gateways.Gateway(provider)
	if err != nil {
		return nil, err
	}

	ref, err := gw.Reference(cb)
	if errors.Is(err, domain.ErrEventIgnored) {
		log.Debug().Err(err).Msg("event carries no order update")
		return &Ack{Ignored: true}, nil
	}
	if err != nil {
		logging.Security(log).Err(err).Str("kind", string(cb.Kind)).Msg("callback without a usable reference")
		if !errors.Is(err, domain.ErrVerificationFailed) {
			err = domain.VerificationError(err, "reference")
		}
		return nil, err
	}

	order, err := d.findOrder(ctx, gw.Name(), ref)
	if err != nil {
		log.Warn().Err(err).Str("payment_id", ref.PaymentID).Str("provider_ref", ref.ProviderReference).
			Msg("callback for unknown order")
		return nil, err
	}
	log = logging.With(logging.WithPaymentID(ctx, order.PaymentID), log)

	if order.PaymentMethod != gw.Name() {
		logging.Security(log).Str("order_gateway", order.PaymentMethod).Msg("callback routed to the wrong gateway")
		return nil, domain.VerificationError(errForeignGateway, order.PaymentMethod)
	}

	out, err := gw.Verify(ctx, cb, order)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			log.Warn().Err(err).Msg("gateway unavailable during verification; order left untouched")
			return nil, err
		}
		if !errors.Is(err, domain.ErrVerificationFailed) {
			err = domain.VerificationError(err, "")
		}
		logging.Security(log).Err(err).Str("kind", string(cb.Kind)).Msg("callback verification failed")
		return nil, err
	}
	if out.PaymentID != "" && out.PaymentID != order.PaymentID {
		logging.Security(log).Str("outcome_payment_id", out.PaymentID).Msg("verified outcome names another order")
		return nil, domain.VerificationError(domain.ErrInvalidArgument, "payment id mismatch")
	}
	return d.Apply(ctx, order, out)
}

func (d *webhookDispatcher) findOrder(ctx context.Context, gateway string, ref adapter.CallbackReference) (*model.PlanOrder, error) {
	var (
		order *model.PlanOrder
		err   error
	)
	switch {
	case ref.PaymentID != "":
		order, err = d.orders.FindByPaymentID(ctx, repository.NoTX, ref.PaymentID)
	case ref.ProviderReference != "":
		order, err = d.orders.FindByProviderReference(ctx, repository.NoTX, gateway, ref.ProviderReference)
	default:
		return nil, domain.VerificationError(domain.ErrInvalidArgument, "empty reference")
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	return order, err
}

func (d *webhookDispatcher) Apply(ctx context.Context, order *model.PlanOrder, out adapter.VerifiedOutcome) (*Ack, error) {
	log := logging.With(logging.WithPaymentID(ctx, order.PaymentID), d.log)
	ack := &Ack{Order: order, Outcome: out.Status}

	upd := model.OrderUpdate{ProcessedAt: time.Now().UTC()}
	if out.ProviderReference != "" {
		ref := out.ProviderReference
		upd.ProviderReference = &ref
	}

	var target model.OrderStatus
	switch out.Status {
	case adapter.OutcomePending:
		log.Debug().Str("reason", out.Reason).Msg("provider reports payment still pending")
		return ack, nil
	case adapter.OutcomeSucceeded:
		if err := adapter.CheckAmount(out, order, d.tolerance); err != nil {
			logging.Security(log).Err(err).Msg("amount cross-check failed; order not approved")
			return nil, err
		}
		target = model.OrderStatusApproved
	case adapter.OutcomeFailed:
		if out.Reason != "" {
			notes := "provider: " + out.Reason
			upd.Notes = &notes
		}
		target = model.OrderStatusFailed
	default:
		return nil, domain.VerificationError(domain.ErrInvalidArgument, fmt.Sprintf("outcome %q", out.Status))
	}

	updated, err := d.orders.Transition(ctx, repository.NoTX, order.PaymentID, model.OrderStatusPending, target, upd)
	switch {
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return d.alreadyProcessed(ctx, log, ack, out)
	case err != nil:
		return nil, fmt.Errorf("transition %s to %s: %w", order.PaymentID, target, err)
	}

	ack.Order = updated
	metrics.IncOrder(updated.PaymentMethod, string(target))
	if target != model.OrderStatusApproved {
		log.Info().Str("reason", out.Reason).Msg("order failed")
		return ack, nil
	}

	metrics.AddRevenue(updated.Currency, updated.FinalPrice)
	log.Info().Str("amount", updated.FinalPrice.StringFixed(2)).Str("currency", updated.Currency).Msg("order approved")
	act, err := d.activation.Activate(ctx, updated)
	ack.Activation = act
	if err != nil {
		// The order stays approved; a provider retry or the reconciler's
		// unactivated-order pass re-runs activation.
		return ack, fmt.Errorf("activate %s: %w", updated.PaymentID, err)
	}
	return ack, nil
}

// alreadyProcessed handles a callback for an order another path settled first.
// An approved order is re-activated, which is a no-op unless a crash
// interrupted the first activation.
func (d *webhookDispatcher) alreadyProcessed(ctx context.Context, log *zerolog.Logger, ack *Ack, out adapter.VerifiedOutcome) (*Ack, error) {
	current, err := d.orders.FindByPaymentID(ctx, repository.NoTX, ack.Order.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", ack.Order.PaymentID, err)
	}
	ack.Order = current
	ack.AlreadyProcessed = true

	if current.Status != model.OrderStatusApproved {
		if out.Status == adapter.OutcomeSucceeded {
			log.Warn().Str("status", string(current.Status)).
				Msg("provider reports success for a closed order; needs manual refund review")
		}
		return ack, nil
	}
	act, err := d.activation.Activate(ctx, current)
	ack.Activation = act
	if err != nil {
		return ack, fmt.Errorf("activate %s: %w", current.PaymentID, err)
	}
	return ack, nil
}

// failureReason maps an error onto a bounded metrics label.
func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidSignature):
		return "signature"
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "unknown_order"
	case errors.Is(err, domain.ErrProviderNotFound):
		return "unknown_provider"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrVerificationFailed):
		return "verification"
	}
	return "other"
}
