package repository

import (
	"context"
	"time"

	"saas-plan-payments/internal/domain/model"
)

// -----------------------------
// Plan orders
// -----------------------------

// OrderRepository stores plan orders keyed by payment id.
type OrderRepository interface {
	// Create inserts a new order. Returns domain.ErrDuplicatePaymentID when the
	// payment id is taken.
	Create(ctx context.Context, tx Tx, o *model.PlanOrder) error

	// Transition moves an order from -> to in a single compare-and-set and
	// returns the updated row. It fails with domain.ErrInvalidTransition for
	// illegal pairs, domain.ErrAlreadyProcessed when the order is no longer in
	// from, and domain.ErrNotFound when no such order exists.
	Transition(ctx context.Context, tx Tx, paymentID string, from, to model.OrderStatus, upd model.OrderUpdate) (*model.PlanOrder, error)

	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.PlanOrder, error)
	FindByProviderReference(ctx context.Context, tx Tx, method, ref string) (*model.PlanOrder, error)

	// SetProviderReference records the gateway reference of a pending order.
	SetProviderReference(ctx context.Context, tx Tx, paymentID, ref string) error

	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.PlanOrder, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.PlanOrder, error)

	// ListApprovedUnactivated returns approved orders with no activation
	// record, which happens when activation failed after the transition.
	ListApprovedUnactivated(ctx context.Context, tx Tx, limit int) ([]*model.PlanOrder, error)
}
