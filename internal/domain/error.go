package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid repository exec context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Pricing and purchase validation
	ErrInvalidBillingCycle = errors.New("invalid billing cycle")
	ErrPlanNotPurchasable  = errors.New("plan is not purchasable")
	ErrInvalidCoupon       = errors.New("coupon is invalid or no longer redeemable")
	ErrMinimumSpendNotMet  = errors.New("coupon minimum spend not met")

	// Orders
	ErrOrderNotFound      = errors.New("order not found")
	ErrDuplicatePaymentID = errors.New("duplicate payment id")
	ErrAlreadyProcessed   = errors.New("order already processed")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrInvalidState       = errors.New("order is not in a state that allows this operation")

	// Gateways
	ErrProviderNotFound   = errors.New("payment provider not found")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrInvalidSignature   = errors.New("invalid callback signature")
	ErrAmountMismatch     = errors.New("paid amount does not match order")
	// ErrEventIgnored marks an authenticated webhook that carries no order
	// update. It is acknowledged without side effects.
	ErrEventIgnored = errors.New("webhook event ignored")
)

// VerificationError wraps reason so that it matches both ErrVerificationFailed
// and reason itself under errors.Is.
func VerificationError(reason error, detail string) error {
	if detail == "" {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, reason)
	}
	return fmt.Errorf("%w: %w: %s", ErrVerificationFailed, reason, detail)
}
