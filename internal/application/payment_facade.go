package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/domain/ports/repository"
	"saas-plan-payments/internal/infra/logging"
	"saas-plan-payments/internal/infra/metrics"
	"saas-plan-payments/internal/usecase"

	"github.com/rs/zerolog"
)

// DefaultChargeTimeout bounds CreateCharge for gateways without a configured
// timeout when the facade is built without an explicit one.
const DefaultChargeTimeout = 40 * time.Second

const (
	freeOrderNote   = "settled without gateway: zero amount"
	maxOrderListing = 100
)

var _ PaymentService = (*PaymentFacade)(nil)

// PaymentFacade is the single entry point of the purchase workflow.
type PaymentFacade struct {
	plans         repository.SubscriptionPlanRepository
	orders        repository.OrderRepository
	gateways      adapter.GatewayResolver
	pricing       usecase.PricingUseCase
	activation    usecase.ActivationUseCase
	dispatcher    usecase.WebhookDispatcher
	chargeTimeout time.Duration
	log           *zerolog.Logger
}

func NewPaymentFacade(
	plans repository.SubscriptionPlanRepository,
	orders repository.OrderRepository,
	gateways adapter.GatewayResolver,
	pricing usecase.PricingUseCase,
	activation usecase.ActivationUseCase,
	dispatcher usecase.WebhookDispatcher,
	chargeTimeout time.Duration,
	logger *zerolog.Logger,
) *PaymentFacade {
	if chargeTimeout <= 0 {
		chargeTimeout = DefaultChargeTimeout
	}
	return &PaymentFacade{
		plans:         plans,
		orders:        orders,
		gateways:      gateways,
		pricing:       pricing,
		activation:    activation,
		dispatcher:    dispatcher,
		chargeTimeout: chargeTimeout,
		log:           logger,
	}
}

// Initiate prices the request, opens a pending order and asks the gateway for
// a charge. Once the order exists it is never deleted: a failed charge leaves
// it pending for the reconciler and for audit.
func (f *PaymentFacade) Initiate(ctx context.Context, req *model.PurchaseRequest) (*InitiateResult, error) {
	defer logging.TraceDuration(f.log, "PaymentFacade.Initiate")()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	gw, err := f.gateways.Gateway(req.Gateway)
	if err != nil {
		return nil, err
	}

	plan, err := f.plans.FindByID(ctx, repository.NoTX, req.PlanID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown plan %s", domain.ErrPlanNotPurchasable, req.PlanID)
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if !plan.Purchasable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotPurchasable, plan.ID)
	}

	quote, err := f.pricing.ComputePrice(ctx, plan, req.BillingCycle, req.CouponCode)
	if err != nil {
		return nil, err
	}

	order, err := model.NewPlanOrder(model.OrderDraft{
		UserID:        req.UserID,
		PlanID:        plan.ID,
		BillingCycle:  req.BillingCycle,
		Quote:         *quote,
		PaymentMethod: gw.Name(),
	})
	if err != nil {
		return nil, err
	}
	if err := f.orders.Create(ctx, repository.NoTX, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	metrics.IncOrder(order.PaymentMethod, "created")

	log := logging.With(logging.WithPaymentID(logging.WithProvider(ctx, gw.Name()), order.PaymentID), f.log)
	log.Info().Str("plan_id", plan.ID).Str("cycle", string(order.BillingCycle)).
		Str("amount", order.FinalPrice.StringFixed(2)).Str("currency", order.Currency).Msg("order created")

	if order.FinalPrice.IsZero() {
		return f.settleFree(ctx, log, order)
	}

	timeout := f.chargeTimeout
	if t := gw.Capabilities().CallTimeout; t > 0 {
		timeout = t
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	charge, err := gw.CreateCharge(cctx, order, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
		}
		log.Warn().Err(err).Msg("create charge failed; order left pending")
		return nil, fmt.Errorf("create charge for %s: %w", order.PaymentID, err)
	}

	if charge.ProviderReference != "" {
		if err := f.orders.SetProviderReference(ctx, repository.NoTX, order.PaymentID, charge.ProviderReference); err != nil {
			log.Error().Err(err).Str("provider_ref", charge.ProviderReference).Msg("failed to store provider reference")
			return nil, fmt.Errorf("store provider reference: %w", err)
		}
		order.ProviderReference = charge.ProviderReference
	}

	return &InitiateResult{
		Order:       order,
		RedirectURL: charge.RedirectURL,
		ClientToken: charge.ClientToken,
	}, nil
}

func (f *PaymentFacade) settleFree(ctx context.Context, log *zerolog.Logger, order *model.PlanOrder) (*InitiateResult, error) {
	note := freeOrderNote
	approved, err := f.orders.Transition(ctx, repository.NoTX, order.PaymentID,
		model.OrderStatusPending, model.OrderStatusApproved,
		model.OrderUpdate{Notes: &note, ProcessedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("approve free order: %w", err)
	}
	metrics.IncOrder(approved.PaymentMethod, string(model.OrderStatusApproved))
	if _, err := f.activation.Activate(ctx, approved); err != nil {
		// the reconciler activates approved orders left without a plan
		log.Error().Err(err).Msg("free order approved but activation deferred")
		return &InitiateResult{Order: approved, Approved: true, ActivationPending: true}, nil
	}
	log.Info().Msg("zero-amount order approved without gateway")
	return &InitiateResult{Order: approved, Approved: true}, nil
}

// ConfirmReturn verifies the browser return from a gateway. The redirect alone
// is never trusted; the gateway authenticates it.
func (f *PaymentFacade) ConfirmReturn(ctx context.Context, provider string, cb adapter.Callback) (*ReturnOutcome, error) {
	cb.Kind = adapter.CallbackReturn
	ack, err := f.dispatcher.Dispatch(ctx, strings.ToLower(provider), cb)
	if err != nil && !ack.Approved() {
		return nil, err
	}
	out := &ReturnOutcome{Order: ack.Order, AlreadyProcessed: ack.AlreadyProcessed}
	switch {
	case err != nil:
		f.log.Error().Err(err).Str("payment_id", ack.Order.PaymentID).Msg("order approved but activation deferred")
		out.Status = ReturnSuccess
		out.ActivationPending = true
	case ack.Approved():
		out.Status = ReturnSuccess
		if ack.Activation != nil && ack.Activation.Record != nil {
			exp := ack.Activation.Record.ExpiresAt
			out.ExpiresAt = &exp
		}
	case ack.Order != nil && ack.Order.Status == model.OrderStatusPending:
		out.Status = ReturnPending
	default:
		out.Status = ReturnFailed
	}
	return out, nil
}

func (f *PaymentFacade) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*usecase.Ack, error) {
	return f.dispatcher.Dispatch(ctx, strings.ToLower(provider), adapter.Callback{
		Kind:    adapter.CallbackWebhook,
		Payload: payload,
		Headers: headers,
	})
}

// Approve is the manual override used for offline payments such as bank
// transfers. The order is activated like any provider-approved order.
func (f *PaymentFacade) Approve(ctx context.Context, paymentID, adminID, notes string) (*model.PlanOrder, error) {
	order, err := f.decide(ctx, "approve", paymentID, adminID, notes, model.OrderStatusApproved)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) && order != nil && order.Status == model.OrderStatusApproved {
			if _, aerr := f.activation.Activate(ctx, order); aerr != nil {
				return order, aerr
			}
		}
		return order, err
	}
	metrics.AddRevenue(order.Currency, order.FinalPrice)
	if _, err := f.activation.Activate(ctx, order); err != nil {
		return order, fmt.Errorf("activate %s: %w", order.PaymentID, err)
	}
	return order, nil
}

func (f *PaymentFacade) Reject(ctx context.Context, paymentID, adminID, notes string) (*model.PlanOrder, error) {
	return f.decide(ctx, "reject", paymentID, adminID, notes, model.OrderStatusRejected)
}

// decide performs an admin transition. On ErrAlreadyProcessed the current
// order is returned alongside the error.
func (f *PaymentFacade) decide(ctx context.Context, action, paymentID, adminID, notes string, to model.OrderStatus) (*model.PlanOrder, error) {
	adminID = strings.TrimSpace(adminID)
	if paymentID == "" || adminID == "" {
		metrics.IncAdminAction(action, "error")
		return nil, domain.ErrInvalidArgument
	}
	upd := model.OrderUpdate{ProcessedBy: &adminID, ProcessedAt: time.Now().UTC()}
	if n := strings.TrimSpace(notes); n != "" {
		upd.Notes = &n
	}

	order, err := f.orders.Transition(ctx, repository.NoTX, paymentID, model.OrderStatusPending, to, upd)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncAdminAction(action, "error")
		return nil, domain.ErrOrderNotFound
	case errors.Is(err, domain.ErrAlreadyProcessed):
		metrics.IncAdminAction(action, "conflict")
		current, ferr := f.orders.FindByPaymentID(ctx, repository.NoTX, paymentID)
		if ferr != nil {
			return nil, ferr
		}
		return current, err
	default:
		metrics.IncAdminAction(action, "error")
		return nil, err
	}

	metrics.IncAdminAction(action, "ok")
	metrics.IncOrder(order.PaymentMethod, string(to))
	f.log.Info().Str("payment_id", paymentID).Str("admin_id", adminID).Str("status", string(to)).
		Msg("order decided manually")
	return order, nil
}

// OrdersByUser lists a user's orders, newest first.
func (f *PaymentFacade) OrdersByUser(ctx context.Context, userID string, limit int) ([]*model.PlanOrder, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if limit <= 0 || limit > maxOrderListing {
		limit = maxOrderListing
	}
	return f.orders.ListByUser(ctx, repository.NoTX, userID, limit)
}

func (f *PaymentFacade) Order(ctx context.Context, paymentID string) (*model.PlanOrder, error) {
	o, err := f.orders.FindByPaymentID(ctx, repository.NoTX, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}
