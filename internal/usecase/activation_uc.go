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
	"saas-plan-payments/internal/infra/metrics"
	"saas-plan-payments/internal/infra/worker"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// ActivationResult reports what Activate did. Replayed is true when the order
// had been activated before and nothing changed.
type ActivationResult struct {
	Record   *model.ActivationRecord
	Replayed bool
}

// ActivationUseCase applies approved orders to their users exactly once.
type ActivationUseCase interface {
	Activate(ctx context.Context, order *model.PlanOrder) (*ActivationResult, error)
}

var _ ActivationUseCase = (*activationUC)(nil)

type activationUC struct {
	users       repository.UserRepository
	coupons     repository.CouponRepository
	activations repository.ActivationRepository
	tm          repository.TransactionManager
	referral    adapter.ReferralNotifier
	workerPool  *worker.Pool
	now         func() time.Time
	log         *zerolog.Logger
}

func NewActivationUseCase(
	users repository.UserRepository,
	coupons repository.CouponRepository,
	activations repository.ActivationRepository,
	tm repository.TransactionManager,
	referral adapter.ReferralNotifier,
	pool *worker.Pool,
	logger *zerolog.Logger,
) ActivationUseCase {
	return &activationUC{
		users:       users,
		coupons:     coupons,
		activations: activations,
		tm:          tm,
		referral:    referral,
		workerPool:  pool,
		now:         time.Now,
		log:         logger,
	}
}

func (uc *activationUC) Activate(ctx context.Context, order *model.PlanOrder) (*ActivationResult, error) {
	if order.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	if order.Status != model.OrderStatusApproved {
		uc.log.Error().Str("payment_id", order.PaymentID).Str("status", string(order.Status)).
			Msg("activation requested for an order that is not approved")
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, order.PaymentID, order.Status)
	}

	now := uc.now().UTC()
	rec := &model.ActivationRecord{
		OrderID:     order.ID,
		PaymentID:   order.PaymentID,
		UserID:      order.UserID,
		PlanID:      order.PlanID,
		ExpiresAt:   model.ExpiryFor(order.BillingCycle, now),
		ActivatedAt: now,
	}
	res := &ActivationResult{Record: rec}

	err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		inserted, err := uc.activations.Insert(ctx, tx, rec)
		if err != nil {
			return fmt.Errorf("insert activation: %w", err)
		}
		if !inserted {
			prev, err := uc.activations.FindByOrderID(ctx, tx, order.ID)
			if err != nil {
				return fmt.Errorf("load activation: %w", err)
			}
			res.Record, res.Replayed = prev, true
			return nil
		}
		if err := uc.users.SetPlan(ctx, tx, order.UserID, order.PlanID, rec.ExpiresAt); err != nil {
			return fmt.Errorf("set user plan: %w", err)
		}
		if order.CouponCode != nil && *order.CouponCode != "" {
			moved, err := uc.coupons.IncrementUsage(ctx, tx, *order.CouponCode)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("increment coupon usage: %w", err)
			}
			if !moved {
				// The order was priced while the coupon was redeemable; honour the paid price.
				uc.log.Warn().Str("payment_id", order.PaymentID).Str("coupon", *order.CouponCode).
					Msg("coupon usage not incremented: limit reached or coupon removed")
			}
		}
		return nil
	})
	if err != nil {
		metrics.IncActivation(string(order.BillingCycle), "error")
		return nil, err
	}

	if res.Replayed {
		metrics.IncActivation(string(order.BillingCycle), "replayed")
		uc.log.Info().Str("payment_id", order.PaymentID).Msg("activation replayed; nothing to do")
		return res, nil
	}

	if inv, ok := uc.users.(repository.UserCacheInvalidator); ok {
		if err := inv.InvalidateUser(ctx, order.UserID); err != nil {
			uc.log.Warn().Err(err).Str("user_id", order.UserID).Msg("drop cached user after activation")
		}
	}

	metrics.IncActivation(string(order.BillingCycle), "activated")
	uc.log.Info().Str("payment_id", order.PaymentID).Str("user_id", order.UserID).Str("plan_id", order.PlanID).
		Time("expires_at", rec.ExpiresAt).Msg("subscription activated")

	uc.enqueueReferral(order)
	return res, nil
}

// enqueueReferral accrues the referrer's commission in the background. It never
// affects the activation.
func (uc *activationUC) enqueueReferral(order *model.PlanOrder) {
	if uc.referral == nil || uc.workerPool == nil || !order.FinalPrice.IsPositive() {
		return
	}
	o := *order
	err := uc.workerPool.Submit(func(ctx context.Context) error {
		user, err := uc.users.FindByID(ctx, repository.NoTX, o.UserID)
		if err != nil {
			return fmt.Errorf("referral: load user %s: %w", o.UserID, err)
		}
		if user.ReferredBy == nil || *user.ReferredBy == "" {
			return nil
		}
		err = uc.referral.AccrueCommission(ctx, adapter.Commission{
			ReferrerID: *user.ReferredBy,
			UserID:     o.UserID,
			PaymentID:  o.PaymentID,
			PlanID:     o.PlanID,
			Amount:     o.FinalPrice,
			Currency:   o.Currency,
		})
		if err != nil {
			metrics.IncReferralAccrual("error")
			return fmt.Errorf("referral: accrue for %s: %w", o.PaymentID, err)
		}
		metrics.IncReferralAccrual("sent")
		return nil
	})
	if err != nil {
		metrics.IncReferralAccrual("dropped")
		uc.log.Warn().Err(err).Str("payment_id", order.PaymentID).Msg("failed to submit referral task to worker pool")
	}
}
