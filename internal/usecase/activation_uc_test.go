//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"
	"saas-plan-payments/internal/infra/worker"
	"saas-plan-payments/internal/usecase"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activationFixture struct {
	users       *MockUserRepo
	coupons     *MockCouponRepo
	activations *MockActivationRepo
	referral    *MockReferral
	uc          usecase.ActivationUseCase
}

func newActivationFixture(t *testing.T, pool *worker.Pool) *activationFixture {
	t.Helper()
	ref := "referrer-1"
	f := &activationFixture{
		users: NewMockUserRepo(
			&model.User{ID: "u1", Email: "u1@example.com"},
			&model.User{ID: "u2", Email: "u2@example.com", ReferredBy: &ref},
		),
		coupons:     NewMockCouponRepo(&model.Coupon{Code: "SAVE10", Kind: model.DiscountPercentage, Value: dec("10"), Active: true, UsageLimit: 10}),
		activations: NewMockActivationRepo(),
		referral:    NewMockReferral(),
	}
	f.uc = usecase.NewActivationUseCase(f.users, f.coupons, f.activations, NewMockTxManager(), f.referral, pool, newTestLogger())
	return f
}

func TestActivate_ReplaysDoNotExtend(t *testing.T) {
	f := newActivationFixture(t, nil)
	order := approvedOrder("ord_y1", "u1", model.BillingCycleYearly, "864")
	code := "SAVE10"
	order.CouponCode = &code

	before := time.Now().UTC()
	first, err := f.uc.Activate(context.Background(), order)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	want := before.AddDate(1, 0, 0)
	assert.WithinDuration(t, want, first.Record.ExpiresAt, 5*time.Second)

	for i := 0; i < 5; i++ {
		again, err := f.uc.Activate(context.Background(), order)
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, first.Record.ExpiresAt, again.Record.ExpiresAt)
	}

	u, err := f.users.FindByID(context.Background(), nil, "u1")
	require.NoError(t, err)
	require.NotNil(t, u.PlanExpireDate)
	assert.Equal(t, first.Record.ExpiresAt, *u.PlanExpireDate)
	assert.Equal(t, "pro", *u.PlanID)
	assert.True(t, u.PlanIsActive)
	assert.Equal(t, 1, f.users.setPlans)
	assert.Equal(t, 1, f.activations.count())
	assert.Equal(t, 1, f.coupons.used("SAVE10"))
}

func TestActivate_MonthlyExpiry(t *testing.T) {
	f := newActivationFixture(t, nil)
	before := time.Now().UTC()

	res, err := f.uc.Activate(context.Background(), approvedOrder("ord_m1", "u1", model.BillingCycleMonthly, "100"))
	require.NoError(t, err)
	assert.WithinDuration(t, before.AddDate(0, 1, 0), res.Record.ExpiresAt, 5*time.Second)
}

func TestActivate_RequiresApprovedOrder(t *testing.T) {
	f := newActivationFixture(t, nil)
	o := approvedOrder("ord_p1", "u1", model.BillingCycleMonthly, "100")
	o.Status = model.OrderStatusPending

	_, err := f.uc.Activate(context.Background(), o)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Zero(t, f.activations.count())
}

func TestActivate_UnknownUserRollsBack(t *testing.T) {
	f := newActivationFixture(t, nil)
	_, err := f.uc.Activate(context.Background(), approvedOrder("ord_x", "ghost", model.BillingCycleMonthly, "100"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActivate_DropsCachedUserAfterCommit(t *testing.T) {
	users := NewMockUserRepo(&model.User{ID: "u1"})
	tm := NewMockTxManager()
	var atCommit []string
	tm.WithTxFunc = func(ctx context.Context, _ pgx.TxOptions, fn func(context.Context, repository.Tx) error) error {
		err := fn(ctx, repository.NoTX)
		atCommit = users.invalidations()
		return err
	}
	uc := usecase.NewActivationUseCase(users, NewMockCouponRepo(), NewMockActivationRepo(), tm, nil, nil, newTestLogger())
	order := approvedOrder("ord_i1", "u1", model.BillingCycleMonthly, "100")

	_, err := uc.Activate(context.Background(), order)
	require.NoError(t, err)
	assert.Empty(t, atCommit, "cache must not be dropped before commit")
	assert.Equal(t, []string{"u1"}, users.invalidations())

	again, err := uc.Activate(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Len(t, users.invalidations(), 1)
}

func TestActivate_ConcurrentCallsActivateOnce(t *testing.T) {
	f := newActivationFixture(t, nil)
	order := approvedOrder("ord_c1", "u1", model.BillingCycleYearly, "960")

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.uc.Activate(context.Background(), order)
			if err != nil {
				t.Errorf("activate: %v", err)
				return
			}
			if !res.Replayed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, f.users.setPlans)
}

func TestActivate_AccruesReferralOnce(t *testing.T) {
	pool := worker.NewPool(1, newTestLogger())
	pool.Start(context.Background())
	defer pool.Stop()
	f := newActivationFixture(t, pool)
	order := approvedOrder("ord_r1", "u2", model.BillingCycleMonthly, "100")

	_, err := f.uc.Activate(context.Background(), order)
	require.NoError(t, err)
	select {
	case <-f.referral.done:
	case <-time.After(2 * time.Second):
		t.Fatal("referral commission was not accrued")
	}

	_, err = f.uc.Activate(context.Background(), order)
	require.NoError(t, err)
	pool.Stop()

	require.Equal(t, 1, f.referral.count())
	c := f.referral.calls[0]
	assert.Equal(t, "referrer-1", c.ReferrerID)
	assert.Equal(t, "ord_r1", c.PaymentID)
	assert.True(t, c.Amount.Equal(dec("100")))
}

func TestActivate_NoReferralWithoutReferrer(t *testing.T) {
	pool := worker.NewPool(1, newTestLogger())
	pool.Start(context.Background())
	f := newActivationFixture(t, pool)

	_, err := f.uc.Activate(context.Background(), approvedOrder("ord_r2", "u1", model.BillingCycleMonthly, "100"))
	require.NoError(t, err)
	pool.Stop()
	assert.Zero(t, f.referral.count())
}
