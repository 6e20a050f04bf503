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

	"github.com/rs/zerolog"
)

var _ repository.SubscriptionPlanRepository = (*planRepoCacheDecorator)(nil)

const (
	planKeyFmt  = "plan:%s"
	planListKey = "plans:all"
)

// planRepoCacheDecorator serves plan reads from Redis. Reads inside a
// transaction always go to the database.
type planRepoCacheDecorator struct {
	inner  repository.SubscriptionPlanRepository
	cache  red.RedisClient
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewPlanRepoCacheDecorator(inner repository.SubscriptionPlanRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.SubscriptionPlanRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "plan_cache").Logger()
	}
	return &planRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, logger: &l}
}

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := fmt.Sprintf(planKeyFmt, id)
	var plan model.SubscriptionPlan
	if d.load(ctx, "plan", key, &plan) {
		return &plan, nil
	}

	p, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, key, p)
	return p, nil
}

func (d *planRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	if tx != nil {
		return d.inner.ListAll(ctx, tx)
	}
	var plans []*model.SubscriptionPlan
	if d.load(ctx, "plan_list", planListKey, &plans) {
		return plans, nil
	}

	plans, err := d.inner.ListAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		d.store(ctx, planListKey, plans)
	}
	return plans, nil
}

func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) error {
	d.invalidate(ctx, plan.ID)
	return d.inner.Save(ctx, tx, plan)
}

func (d *planRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id string) error {
	d.invalidate(ctx, id)
	return d.inner.Delete(ctx, tx, id)
}

func (d *planRepoCacheDecorator) load(ctx context.Context, name, key string, dst interface{}) bool {
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		if json.Unmarshal([]byte(val), dst) == nil {
			metrics.IncCacheRequest(name, metrics.CacheHit)
			return true
		}
		d.logger.Warn().Str("key", key).Msg("dropping undecodable cache entry")
		_ = d.cache.Del(ctx, key)
	case red.IsMiss(err):
	default:
		metrics.IncCacheRequest(name, metrics.CacheError)
		d.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return false
	}
	metrics.IncCacheRequest(name, metrics.CacheMiss)
	return false
}

func (d *planRepoCacheDecorator) store(ctx context.Context, key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (d *planRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	if err := d.cache.Del(ctx, fmt.Sprintf(planKeyFmt, id), planListKey); err != nil {
		d.logger.Warn().Err(err).Str("plan_id", id).Msg("cache invalidation failed")
	}
}
