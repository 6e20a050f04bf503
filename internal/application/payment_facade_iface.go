package application

import (
	"context"
	"net/http"
	"time"

	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/usecase"
)

// PaymentService is the surface the HTTP layer drives. PaymentFacade
// implements it; handler tests substitute light-weight fakes.
type PaymentService interface {
	Initiate(ctx context.Context, req *model.PurchaseRequest) (*InitiateResult, error)
	ConfirmReturn(ctx context.Context, provider string, cb adapter.Callback) (*ReturnOutcome, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*usecase.Ack, error)

	Approve(ctx context.Context, paymentID, adminID, notes string) (*model.PlanOrder, error)
	Reject(ctx context.Context, paymentID, adminID, notes string) (*model.PlanOrder, error)
	Order(ctx context.Context, paymentID string) (*model.PlanOrder, error)
	OrdersByUser(ctx context.Context, userID string, limit int) ([]*model.PlanOrder, error)
}

// InitiateResult tells the client where to go next. Exactly one of
// RedirectURL and ClientToken is set unless the order was settled without a
// gateway (Approved).
type InitiateResult struct {
	Order       *model.PlanOrder
	RedirectURL string
	ClientToken string
	Approved    bool
	// ActivationPending is set when a free order was approved but the plan
	// is applied later by the reconciler.
	ActivationPending bool
}

type ReturnStatus string

const (
	ReturnSuccess ReturnStatus = "success"
	ReturnPending ReturnStatus = "pending"
	ReturnFailed  ReturnStatus = "failed"
)

// ReturnOutcome is what the user is told after coming back from a gateway.
type ReturnOutcome struct {
	Order            *model.PlanOrder
	Status           ReturnStatus
	AlreadyProcessed bool
	ExpiresAt        *time.Time
	// ActivationPending is set when the payment was approved but the plan
	// could not be applied yet; the reconciler finishes it.
	ActivationPending bool
}
