package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.OrderRepository = (*orderRepo)(nil)

const orderColumns = `id, payment_id, provider_reference, user_id, plan_id, billing_cycle,
       original_price, discount_amount, final_price, currency, payment_method, status,
       coupon_code, notes, ordered_at, processed_at, processed_by`

type orderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepo(pool *pgxpool.Pool) *orderRepo {
	return &orderRepo{pool: pool}
}

func scanOrder(row rowScanner) (*model.PlanOrder, error) {
	var (
		o   model.PlanOrder
		ref *string
	)
	err := row.Scan(&o.ID, &o.PaymentID, &ref, &o.UserID, &o.PlanID, &o.BillingCycle,
		&o.OriginalPrice, &o.DiscountAmount, &o.FinalPrice, &o.Currency, &o.PaymentMethod, &o.Status,
		&o.CouponCode, &o.Notes, &o.OrderedAt, &o.ProcessedAt, &o.ProcessedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	if ref != nil {
		o.ProviderReference = *ref
	}
	return &o, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *orderRepo) Create(ctx context.Context, tx repository.Tx, o *model.PlanOrder) (err error) {
	start := time.Now()
	defer func() { observe("order_create", start, err) }()
	const q = `
INSERT INTO plan_orders (
  id, payment_id, provider_reference, user_id, plan_id, billing_cycle,
  original_price, discount_amount, final_price, currency, payment_method, status,
  coupon_code, notes, ordered_at, processed_at, processed_by
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17);`

	_, err = execSQL(ctx, r.pool, tx, q,
		o.ID, o.PaymentID, nullIfEmpty(o.ProviderReference), o.UserID, o.PlanID, string(o.BillingCycle),
		o.OriginalPrice, o.DiscountAmount, o.FinalPrice, o.Currency, o.PaymentMethod, string(o.Status),
		o.CouponCode, o.Notes, o.OrderedAt, o.ProcessedAt, o.ProcessedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicatePaymentID, o.PaymentID)
		}
		return mapErr("create order", err)
	}
	return nil
}

// Transition is a compare-and-set on status. Exactly one of any number of
// concurrent callers moving the same order out of from succeeds.
func (r *orderRepo) Transition(ctx context.Context, tx repository.Tx, paymentID string, from, to model.OrderStatus, upd model.OrderUpdate) (o *model.PlanOrder, err error) {
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	start := time.Now()
	defer func() { observe("order_transition", start, err) }()

	processedAt := upd.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	q := `
UPDATE plan_orders
   SET status             = $3,
       provider_reference = COALESCE($4, provider_reference),
       notes              = CASE
                              WHEN $5::text IS NULL THEN notes
                              WHEN notes = '' THEN $5::text
                              ELSE notes || E'\n' || $5::text
                            END,
       processed_by       = COALESCE($6, processed_by),
       processed_at       = $7
 WHERE payment_id = $1
   AND status = $2
RETURNING ` + orderColumns + `;`

	row, err := pickRow(ctx, r.pool, tx, q, paymentID, string(from), string(to),
		upd.ProviderReference, upd.Notes, upd.ProcessedBy, processedAt)
	if err != nil {
		return nil, err
	}
	o, err = scanOrder(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, r.explainMiss(ctx, tx, paymentID)
	}
	return o, err
}

// explainMiss distinguishes "no such order" from "order already moved on"
// after a conditional update matched nothing.
func (r *orderRepo) explainMiss(ctx context.Context, tx repository.Tx, paymentID string) error {
	row, err := pickRow(ctx, r.pool, tx, `SELECT status FROM plan_orders WHERE payment_id = $1;`, paymentID)
	if err != nil {
		return err
	}
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return mapErr("order status", err)
	}
	return fmt.Errorf("%w: %s is %s", domain.ErrAlreadyProcessed, paymentID, status)
}

func (r *orderRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.PlanOrder, error) {
	q := forUpdate(`SELECT `+orderColumns+` FROM plan_orders WHERE payment_id = $1`, tx) + ";"
	row, err := pickRow(ctx, r.pool, tx, q, paymentID)
	if err != nil {
		return nil, err
	}
	return scanOrder(row)
}

func (r *orderRepo) FindByProviderReference(ctx context.Context, tx repository.Tx, method, ref string) (*model.PlanOrder, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + orderColumns + ` FROM plan_orders
 WHERE payment_method = $1 AND provider_reference = $2
 ORDER BY ordered_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, method, ref)
	if err != nil {
		return nil, err
	}
	return scanOrder(row)
}

func (r *orderRepo) SetProviderReference(ctx context.Context, tx repository.Tx, paymentID, ref string) error {
	const q = `UPDATE plan_orders SET provider_reference = $2 WHERE payment_id = $1 AND status = 'pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, paymentID, ref)
	if err != nil {
		return mapErr("set provider reference", err)
	}
	if cmd.RowsAffected() == 0 {
		return r.explainMiss(ctx, tx, paymentID)
	}
	return nil
}

func (r *orderRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.PlanOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + orderColumns + ` FROM plan_orders
 WHERE status = 'pending' AND ordered_at < $1
 ORDER BY ordered_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, cutoff, limit)
}

// ListApprovedUnactivated returns approved orders that have no activation_log
// row yet, oldest first.
func (r *orderRepo) ListApprovedUnactivated(ctx context.Context, tx repository.Tx, limit int) ([]*model.PlanOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + orderColumns + ` FROM plan_orders
 WHERE status = 'approved'
   AND NOT EXISTS (SELECT 1 FROM activation_log a WHERE a.order_id = plan_orders.id)
 ORDER BY processed_at ASC NULLS FIRST LIMIT $1;`
	return r.list(ctx, tx, q, limit)
}

func (r *orderRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.PlanOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + orderColumns + ` FROM plan_orders
 WHERE user_id = $1
 ORDER BY ordered_at DESC LIMIT $2;`
	return r.list(ctx, tx, q, userID, limit)
}

func (r *orderRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PlanOrder, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr("list orders", err)
	}
	defer rows.Close()

	var out []*model.PlanOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list orders", err)
	}
	return out, nil
}
