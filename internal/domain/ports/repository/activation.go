package repository

import (
	"context"

	"saas-plan-payments/internal/domain/model"
)

type ActivationRepository interface {
	// Insert stores rec unless a record for the same order exists. It reports
	// whether a row was written.
	Insert(ctx context.Context, tx Tx, rec *model.ActivationRecord) (bool, error)
	FindByOrderID(ctx context.Context, tx Tx, orderID string) (*model.ActivationRecord, error)
}
