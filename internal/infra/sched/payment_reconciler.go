package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saas-plan-payments/internal/config"
	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/domain/ports/repository"
	"saas-plan-payments/internal/infra/logging"
	"saas-plan-payments/internal/infra/metrics"
	"saas-plan-payments/internal/infra/redis"
	"saas-plan-payments/internal/usecase"

	"github.com/rs/zerolog"
)

const expiredNote = "expired: no confirmation received"

// PaymentReconciler re-verifies stale pending orders through gateways that
// can re-query a charge, and fails orders nobody confirmed within the TTL.
// It covers lost webhooks and users who never came back from the provider.
// It also finishes activation for approved orders whose activation failed.
type PaymentReconciler struct {
	orders     repository.OrderRepository
	gateways   adapter.GatewayResolver
	dispatcher usecase.WebhookDispatcher
	activation usecase.ActivationUseCase
	locker     redis.Locker
	staleAfter time.Duration
	pendingTTL time.Duration
	batch      int
	lockTTL    time.Duration
	now        func() time.Time
	log        *zerolog.Logger
}

func NewPaymentReconciler(
	orders repository.OrderRepository,
	gateways adapter.GatewayResolver,
	dispatcher usecase.WebhookDispatcher,
	activation usecase.ActivationUseCase,
	locker redis.Locker,
	cfg config.SchedulerConfig,
	logger *zerolog.Logger,
) *PaymentReconciler {
	l := logger.With().Str("component", "payment_reconciler").Logger()
	r := &PaymentReconciler{
		orders:     orders,
		gateways:   gateways,
		dispatcher: dispatcher,
		activation: activation,
		locker:     locker,
		staleAfter: cfg.StaleAfter,
		pendingTTL: cfg.PendingTTL,
		batch:      cfg.BatchSize,
		lockTTL:    cfg.ReconcileInterval,
		now:        func() time.Time { return time.Now().UTC() },
		log:        &l,
	}
	if r.staleAfter <= 0 {
		r.staleAfter = 10 * time.Minute
	}
	if r.pendingTTL <= 0 {
		r.pendingTTL = 24 * time.Hour
	}
	if r.batch <= 0 {
		r.batch = 200
	}
	if r.lockTTL <= 0 {
		r.lockTTL = time.Minute
	}
	return r
}

func (r *PaymentReconciler) Name() string { return "payment_reconciler" }

// Run performs one reconciliation pass and returns the number of orders that
// left the pending state or were activated late. A pass is skipped when
// another replica holds the lock.
func (r *PaymentReconciler) Run(ctx context.Context) (int, error) {
	if r.locker != nil {
		token, err := r.locker.TryLock(ctx, redis.ReconcileLockKey(), r.lockTTL)
		if errors.Is(err, redis.ErrLockHeld) {
			metrics.IncReconciled("skipped")
			r.log.Debug().Msg("another replica is reconciling")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("acquire reconcile lock: %w", err)
		}
		defer func() {
			// the pass context may already be done
			unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.locker.Unlock(unlockCtx, redis.ReconcileLockKey(), token); err != nil {
				r.log.Warn().Err(err).Msg("release reconcile lock")
			}
		}()
	}

	now := r.now()
	pending, err := r.orders.ListPendingOlderThan(ctx, repository.NoTX, now.Add(-r.staleAfter), r.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale pending orders: %w", err)
	}

	settled := 0
	for _, o := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		outcome := r.reconcile(ctx, o, now)
		metrics.IncReconciled(outcome)
		if outcome == "approved" || outcome == "failed" || outcome == "expired" {
			settled++
		}
	}

	activated, err := r.activateStranded(ctx)
	return settled + activated, err
}

// activateStranded re-runs activation for approved orders with no activation
// record. Activation is idempotent, so racing a provider retry is harmless.
func (r *PaymentReconciler) activateStranded(ctx context.Context) (int, error) {
	if r.activation == nil {
		return 0, nil
	}
	stranded, err := r.orders.ListApprovedUnactivated(ctx, repository.NoTX, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list unactivated orders: %w", err)
	}
	n := 0
	for _, o := range stranded {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		log := logging.With(logging.WithPaymentID(ctx, o.PaymentID), r.log)
		res, err := r.activation.Activate(ctx, o)
		if err != nil {
			metrics.IncReconciled("error")
			log.Error().Err(err).Msg("late activation failed; will retry next pass")
			continue
		}
		if !res.Replayed {
			metrics.IncReconciled("activated")
			log.Info().Msg("approved order activated by reconciler")
			n++
		}
	}
	return n, nil
}

// reconcile settles one order and returns the metrics outcome label.
func (r *PaymentReconciler) reconcile(ctx context.Context, o *model.PlanOrder, now time.Time) string {
	log := logging.With(logging.WithProvider(logging.WithPaymentID(ctx, o.PaymentID), o.PaymentMethod), r.log)
	expired := now.Sub(o.OrderedAt) > r.pendingTTL

	gw, err := r.gateways.Gateway(o.PaymentMethod)
	if err != nil {
		// gateway was disabled after the order was placed
		if expired {
			return r.expire(ctx, log, o)
		}
		return "pending"
	}

	caps := gw.Capabilities()
	if q, ok := gw.(adapter.Requerier); ok && caps.Requery {
		out, err := q.Lookup(ctx, o)
		switch {
		case errors.Is(err, domain.ErrGatewayUnavailable):
			log.Warn().Err(err).Msg("re-query failed; will retry next pass")
			return "error"
		case err != nil:
			logging.Security(log).Err(err).Msg("re-query did not verify")
		default:
			ack, err := r.dispatcher.Apply(ctx, o, out)
			if err != nil && (ack == nil || ack.Order == nil) {
				log.Error().Err(err).Msg("apply re-queried outcome")
				return "error"
			}
			if err != nil {
				log.Error().Err(err).Msg("order settled but activation failed")
			}
			switch ack.Order.Status {
			case model.OrderStatusApproved:
				log.Info().Msg("reconciled to approved")
				return "approved"
			case model.OrderStatusFailed, model.OrderStatusRejected:
				return "failed"
			}
		}
	}

	// Manual gateways wait for an operator decision however long it takes.
	if !caps.Webhook && !caps.Requery {
		return "pending"
	}
	if expired {
		return r.expire(ctx, log, o)
	}
	return "pending"
}

func (r *PaymentReconciler) expire(ctx context.Context, log *zerolog.Logger, o *model.PlanOrder) string {
	note := expiredNote
	_, err := r.orders.Transition(ctx, repository.NoTX, o.PaymentID, model.OrderStatusPending, model.OrderStatusFailed,
		model.OrderUpdate{Notes: &note, ProcessedAt: r.now()})
	switch {
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return "skipped"
	case err != nil:
		log.Error().Err(err).Msg("expire pending order")
		return "error"
	}
	metrics.IncOrder(o.PaymentMethod, string(model.OrderStatusFailed))
	log.Info().Dur("age", r.now().Sub(o.OrderedAt)).Msg("pending order expired")
	return "expired"
}
