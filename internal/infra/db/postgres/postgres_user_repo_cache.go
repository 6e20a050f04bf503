package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"
	"saas-plan-payments/internal/infra/metrics"
	red "saas-plan-payments/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, ttl time.Duration) repository.UserRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &userRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func userKey(id string) string { return fmt.Sprintf("user:id:%s", id) }

var _ repository.UserCacheInvalidator = (*userRepoCacheDecorator)(nil)

// Writes outside a transaction drop the cached entry once the row is written.
// Inside a transaction a concurrent reader could re-cache the old row before
// commit, so the caller invalidates again through InvalidateUser afterwards.
func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if err := d.inner.Save(ctx, tx, u); err != nil {
		return err
	}
	_ = d.cache.Del(ctx, userKey(u.ID))
	return nil
}

func (d *userRepoCacheDecorator) SetPlan(ctx context.Context, tx repository.Tx, userID, planID string, expiresAt time.Time) error {
	if err := d.inner.SetPlan(ctx, tx, userID, planID, expiresAt); err != nil {
		return err
	}
	_ = d.cache.Del(ctx, userKey(userID))
	return nil
}

func (d *userRepoCacheDecorator) InvalidateUser(ctx context.Context, userID string) error {
	return d.cache.Del(ctx, userKey(userID))
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := userKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncCacheRequest("user", metrics.CacheHit)
			return &user, nil
		}
	} else if !red.IsMiss(err) {
		metrics.IncCacheRequest("user", metrics.CacheError)
		return d.inner.FindByID(ctx, tx, id)
	}

	metrics.IncCacheRequest("user", metrics.CacheMiss)
	user, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(user); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return user, nil
}
