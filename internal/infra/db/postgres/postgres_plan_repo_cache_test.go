//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	plan := &model.SubscriptionPlan{
		ID:           "pro",
		Name:         "Pro",
		MonthlyPrice: decimal.RequireFromString("100.00"),
		YearlyPrice:  decimal.RequireFromString("960.00"),
		Currency:     "USD",
		Active:       true,
	}
	planJSON, _ := json.Marshal(plan)

	t.Run("FindByID returns from cache on hit", func(t *testing.T) {
		cache := newMemRedis()
		cache.data["plan:pro"] = string(planJSON)
		innerCalled := false
		inner := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
				innerCalled = true
				return nil, nil
			},
		}

		got, err := NewPlanRepoCacheDecorator(inner, cache, 0, nil).FindByID(ctx, nil, "pro")
		require.NoError(t, err)
		assert.False(t, innerCalled, "inner repository must not be called on a hit")
		assert.Equal(t, "pro", got.ID)
		assert.True(t, got.YearlyPrice.Equal(plan.YearlyPrice))
	})

	t.Run("FindByID fills the cache on miss", func(t *testing.T) {
		cache := newMemRedis()
		calls := 0
		inner := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
				calls++
				return plan, nil
			},
		}
		dec := NewPlanRepoCacheDecorator(inner, cache, time.Minute, nil)

		_, err := dec.FindByID(ctx, nil, "pro")
		require.NoError(t, err)
		_, err = dec.FindByID(ctx, nil, "pro")
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Contains(t, cache.data, "plan:pro")
	})

	t.Run("FindByID bypasses the cache inside a transaction", func(t *testing.T) {
		cache := newMemRedis()
		cache.data["plan:pro"] = string(planJSON)
		calls := 0
		inner := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
				calls++
				return plan, nil
			},
		}
		_, err := NewPlanRepoCacheDecorator(inner, cache, 0, nil).FindByID(ctx, struct{}{}, "pro")
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("FindByID falls back to the database when redis fails", func(t *testing.T) {
		cache := newMemRedis()
		cache.getErr = errors.New("connection refused")
		inner := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
				return plan, nil
			},
		}
		got, err := NewPlanRepoCacheDecorator(inner, cache, 0, nil).FindByID(ctx, nil, "pro")
		require.NoError(t, err)
		assert.Equal(t, "Pro", got.Name)
	})

	t.Run("FindByID does not cache not found", func(t *testing.T) {
		cache := newMemRedis()
		inner := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
				return nil, domain.ErrNotFound
			},
		}
		_, err := NewPlanRepoCacheDecorator(inner, cache, 0, nil).FindByID(ctx, nil, "gone")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Empty(t, cache.data)
	})

	t.Run("Save invalidates the plan and the list", func(t *testing.T) {
		cache := newMemRedis()
		cache.data["plan:pro"] = string(planJSON)
		cache.data["plans:all"] = "[]"
		inner := &mockInnerPlanRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) error { return nil },
		}
		require.NoError(t, NewPlanRepoCacheDecorator(inner, cache, 0, nil).Save(ctx, nil, plan))
		assert.ElementsMatch(t, []string{"plan:pro", "plans:all"}, cache.deleted)
		assert.Empty(t, cache.data)
	})
}

func TestUserRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	user := &model.User{ID: "u1", Email: "a@example.com"}

	t.Run("SetPlan drops the cached user", func(t *testing.T) {
		cache := newMemRedis()
		b, _ := json.Marshal(user)
		cache.data["user:id:u1"] = string(b)
		var gotPlan string
		inner := &mockInnerUserRepo{
			SetPlanFunc: func(ctx context.Context, tx repository.Tx, userID, planID string, expiresAt time.Time) error {
				gotPlan = planID
				return nil
			},
		}
		dec := NewUserRepoCacheDecorator(inner, cache, 0)
		require.NoError(t, dec.SetPlan(ctx, nil, "u1", "pro", time.Now().Add(time.Hour)))
		assert.Equal(t, "pro", gotPlan)
		assert.NotContains(t, cache.data, "user:id:u1")
	})

	t.Run("InvalidateUser drops an entry cached during the transaction", func(t *testing.T) {
		cache := newMemRedis()
		stale, _ := json.Marshal(user)
		inner := &mockInnerUserRepo{
			SetPlanFunc: func(ctx context.Context, tx repository.Tx, userID, planID string, expiresAt time.Time) error {
				return nil
			},
		}
		dec := NewUserRepoCacheDecorator(inner, cache, 0)
		require.NoError(t, dec.SetPlan(ctx, struct{}{}, "u1", "pro", time.Now().Add(time.Hour)))
		// a reader re-caches the pre-commit row
		cache.data["user:id:u1"] = string(stale)

		inv, ok := dec.(repository.UserCacheInvalidator)
		require.True(t, ok)
		require.NoError(t, inv.InvalidateUser(ctx, "u1"))
		assert.NotContains(t, cache.data, "user:id:u1")
	})

	t.Run("FindByID reads through", func(t *testing.T) {
		cache := newMemRedis()
		calls := 0
		inner := &mockInnerUserRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
				calls++
				return user, nil
			},
		}
		dec := NewUserRepoCacheDecorator(inner, cache, 0)
		for i := 0; i < 3; i++ {
			got, err := dec.FindByID(ctx, nil, "u1")
			require.NoError(t, err)
			assert.Equal(t, "a@example.com", got.Email)
		}
		assert.Equal(t, 1, calls)
	})
}
