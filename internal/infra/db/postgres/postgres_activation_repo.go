package postgres

import (
	"context"
	"time"

	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.ActivationRepository = (*PostgresActivationRepo)(nil)

type PostgresActivationRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresActivationRepo(pool *pgxpool.Pool) *PostgresActivationRepo {
	return &PostgresActivationRepo{pool: pool}
}

func (r *PostgresActivationRepo) Insert(ctx context.Context, tx repository.Tx, rec *model.ActivationRecord) (bool, error) {
	if rec.ActivatedAt.IsZero() {
		rec.ActivatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO activation_log (order_id, payment_id, user_id, plan_id, expires_at, activated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (order_id) DO NOTHING;`
	ct, err := execSQL(ctx, r.pool, tx, q,
		rec.OrderID, rec.PaymentID, rec.UserID, rec.PlanID, rec.ExpiresAt, rec.ActivatedAt)
	if err != nil {
		return false, mapErr("insert activation", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PostgresActivationRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.ActivationRecord, error) {
	const q = `
SELECT order_id, payment_id, user_id, plan_id, expires_at, activated_at
  FROM activation_log WHERE order_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, orderID)
	if err != nil {
		return nil, err
	}
	var rec model.ActivationRecord
	if err := row.Scan(&rec.OrderID, &rec.PaymentID, &rec.UserID, &rec.PlanID, &rec.ExpiresAt, &rec.ActivatedAt); err != nil {
		return nil, mapErr("find activation", err)
	}
	return &rec, nil
}
