package repository

import (
	"context"

	"saas-plan-payments/internal/domain/model"
)

type CouponRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Coupon) error
	// FindByCode looks up a normalized code.
	FindByCode(ctx context.Context, tx Tx, code string) (*model.Coupon, error)
	// IncrementUsage bumps times_used unless the usage limit is reached.
	// It reports whether the counter moved.
	IncrementUsage(ctx context.Context, tx Tx, code string) (bool, error)
}
