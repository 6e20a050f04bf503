package postgres

import (
	"context"
	"time"

	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.CouponRepository = (*PostgresCouponRepo)(nil)

const couponColumns = `id, code, kind, value, minimum_spend, usage_limit, times_used, expires_at, active, created_at`

type PostgresCouponRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCouponRepo(pool *pgxpool.Pool) *PostgresCouponRepo {
	return &PostgresCouponRepo{pool: pool}
}

// Save upserts by code. The code is stored normalized.
func (r *PostgresCouponRepo) Save(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Code = model.NormalizeCouponCode(c.Code)
	const q = `
INSERT INTO coupons (` + couponColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT ((UPPER(code))) DO UPDATE SET
  kind=EXCLUDED.kind, value=EXCLUDED.value, minimum_spend=EXCLUDED.minimum_spend,
  usage_limit=EXCLUDED.usage_limit, expires_at=EXCLUDED.expires_at, active=EXCLUDED.active;`
	_, err := execSQL(ctx, r.pool, tx, q,
		c.ID, c.Code, string(c.Kind), c.Value, c.MinimumSpend, c.UsageLimit, c.TimesUsed,
		c.ExpiresAt, c.Active, c.CreatedAt)
	return mapErr("save coupon", err)
}

func (r *PostgresCouponRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	q := forUpdate(`SELECT `+couponColumns+` FROM coupons WHERE UPPER(code) = $1`, tx) + ";"
	row, err := pickRow(ctx, r.pool, tx, q, model.NormalizeCouponCode(code))
	if err != nil {
		return nil, err
	}
	var (
		c    model.Coupon
		kind string
	)
	if err := row.Scan(&c.ID, &c.Code, &kind, &c.Value, &c.MinimumSpend, &c.UsageLimit,
		&c.TimesUsed, &c.ExpiresAt, &c.Active, &c.CreatedAt); err != nil {
		return nil, mapErr("find coupon", err)
	}
	c.Kind = model.DiscountKind(kind)
	return &c, nil
}

// IncrementUsage is a conditional update, so concurrent activations can never
// push times_used past usage_limit.
func (r *PostgresCouponRepo) IncrementUsage(ctx context.Context, tx repository.Tx, code string) (moved bool, err error) {
	start := time.Now()
	defer func() { observe("coupon_increment", start, err) }()

	const q = `
UPDATE coupons
   SET times_used = times_used + 1
 WHERE UPPER(code) = $1
   AND (usage_limit = 0 OR times_used < usage_limit);`
	ct, err := execSQL(ctx, r.pool, tx, q, model.NormalizeCouponCode(code))
	if err != nil {
		return false, mapErr("increment coupon usage", err)
	}
	return ct.RowsAffected() == 1, nil
}
