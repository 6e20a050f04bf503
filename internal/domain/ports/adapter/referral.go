package adapter

import (
	"context"

	"github.com/shopspring/decimal"
)

// Commission is a referral accrual triggered by a paid activation.
type Commission struct {
	ReferrerID string
	UserID     string
	PaymentID  string
	PlanID     string
	Amount     decimal.Decimal // amount the referred user paid
	Currency   string
}

// ReferralNotifier hands commissions to the referral program.
type ReferralNotifier interface {
	AccrueCommission(ctx context.Context, c Commission) error
}
