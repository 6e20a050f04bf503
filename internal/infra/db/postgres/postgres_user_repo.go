package postgres

import (
	"context"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

const userColumns = `id, email, name, referred_by, plan_id, plan_expire_date, plan_is_active`

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (` + userColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  email=$2, name=$3, referred_by=$4, plan_id=$5, plan_expire_date=$6, plan_is_active=$7,
  updated_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q,
		u.ID, u.Email, u.Name, u.ReferredBy, u.PlanID, u.PlanExpireDate, u.PlanIsActive)
	return mapErr("save user", err)
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := forUpdate(`SELECT `+userColumns+` FROM users WHERE id=$1`, tx) + ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.ReferredBy, &u.PlanID, &u.PlanExpireDate, &u.PlanIsActive); err != nil {
		return nil, mapErr("find user", err)
	}
	return &u, nil
}

func (r *PostgresUserRepo) SetPlan(ctx context.Context, tx repository.Tx, userID, planID string, expiresAt time.Time) (err error) {
	start := time.Now()
	defer func() { observe("user_set_plan", start, err) }()

	const q = `
UPDATE users
   SET plan_id=$2, plan_expire_date=$3, plan_is_active=TRUE, updated_at=NOW()
 WHERE id=$1;`
	ct, err := execSQL(ctx, r.pool, tx, q, userID, planID, expiresAt)
	if err != nil {
		return mapErr("set user plan", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
