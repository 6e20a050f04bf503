package model

import "time"

// ActivationRecord proves that an approved order has been applied to its user.
// There is at most one record per order.
type ActivationRecord struct {
	OrderID     string
	PaymentID   string
	UserID      string
	PlanID      string
	ExpiresAt   time.Time
	ActivatedAt time.Time
}

// ExpiryFor returns the plan expiry for cycle starting at from.
func ExpiryFor(cycle BillingCycle, from time.Time) time.Time {
	if cycle == BillingCycleYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
