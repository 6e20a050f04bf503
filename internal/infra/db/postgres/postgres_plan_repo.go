package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Ensure interface compliance
var _ repository.SubscriptionPlanRepository = (*PostgresPlanRepo)(nil)

const planColumns = `id, name, monthly_price, yearly_price, currency, features, trial_days, active, created_at`

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

func scanPlan(row rowScanner) (*model.SubscriptionPlan, error) {
	var (
		p        model.SubscriptionPlan
		features []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.MonthlyPrice, &p.YearlyPrice, &p.Currency,
		&features, &p.TrialDays, &p.Active, &p.CreatedAt); err != nil {
		return nil, mapErr("scan plan", err)
	}
	p.Features = map[string]bool{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, fmt.Errorf("%w: plan features: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &p, nil
}

func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) (err error) {
	start := time.Now()
	defer func() { observe("plan_save", start, err) }()

	features, err := json.Marshal(plan.Features)
	if err != nil {
		return fmt.Errorf("%w: plan features: %v", domain.ErrInvalidArgument, err)
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO subscription_plans (` + planColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE
  SET name          = EXCLUDED.name,
      monthly_price = EXCLUDED.monthly_price,
      yearly_price  = EXCLUDED.yearly_price,
      currency      = EXCLUDED.currency,
      features      = EXCLUDED.features,
      trial_days    = EXCLUDED.trial_days,
      active        = EXCLUDED.active;`
	_, err = execSQL(ctx, r.pool, tx, q,
		plan.ID, plan.Name, plan.MonthlyPrice, plan.YearlyPrice, plan.Currency,
		features, plan.TrialDays, plan.Active, plan.CreatedAt)
	return mapErr("save plan", err)
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY monthly_price, id;`)
	if err != nil {
		return nil, mapErr("list plans", err)
	}
	defer rows.Close()
	var out []*model.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapErr("list plans", rows.Err())
}

// Delete refuses to drop a plan that still has pending orders against it.
func (r *PostgresPlanRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT COUNT(1) FROM plan_orders WHERE plan_id = $1 AND status = 'pending';`, id)
	if err != nil {
		return err
	}
	var cnt int
	if err := row.Scan(&cnt); err != nil {
		return mapErr("count pending orders", err)
	}
	if cnt > 0 {
		return fmt.Errorf("%w: plan %s has %d pending orders", domain.ErrInvalidState, id, cnt)
	}

	ct, err := execSQL(ctx, r.pool, tx, `DELETE FROM subscription_plans WHERE id = $1;`, id)
	if err != nil {
		return mapErr("delete plan", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
