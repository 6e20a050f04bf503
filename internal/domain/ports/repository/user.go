package repository

import (
	"context"
	"time"

	"saas-plan-payments/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	// SetPlan assigns planID until expiresAt and marks the plan active.
	// Returns domain.ErrNotFound for an unknown user.
	SetPlan(ctx context.Context, tx Tx, userID, planID string, expiresAt time.Time) error
}

// UserCacheInvalidator is implemented by user repositories that cache reads.
// Callers that write users inside a transaction invalidate after commit.
type UserCacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}
