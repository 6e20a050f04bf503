package model

import (
	"crypto/rand"
	"strings"
	"time"

	"saas-plan-payments/internal/domain"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"  // charge created or about to be; awaiting confirmation
	OrderStatusApproved OrderStatus = "approved" // verified payment or admin approval
	OrderStatusRejected OrderStatus = "rejected" // admin rejected
	OrderStatusFailed   OrderStatus = "failed"   // provider reported failure or pending TTL elapsed
)

const paymentIDPrefix = "ord_"

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusApproved || s == OrderStatusRejected || s == OrderStatusFailed
}

// CanTransition reports whether from -> to is legal. Only pending orders move.
func CanTransition(from, to OrderStatus) bool {
	return from == OrderStatusPending && to.Terminal()
}

// NewPaymentID returns a lexically sortable, unguessable idempotency key.
func NewPaymentID() string {
	return paymentIDPrefix + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

// PlanOrder is one purchase attempt of a plan through a gateway.
type PlanOrder struct {
	ID                string // UUID
	PaymentID         string // idempotency key shared with the provider
	ProviderReference string // provider session/authority/order id
	UserID            string
	PlanID            string
	BillingCycle      BillingCycle
	OriginalPrice     decimal.Decimal
	DiscountAmount    decimal.Decimal
	FinalPrice        decimal.Decimal
	Currency          string
	PaymentMethod     string // gateway name
	Status            OrderStatus
	CouponCode        *string
	Notes             string
	OrderedAt         time.Time
	ProcessedAt       *time.Time
	ProcessedBy       *string // admin id for manual decisions
}

func (o *PlanOrder) IsZero() bool { return o == nil || o.PaymentID == "" }

// OrderDraft carries everything needed to open a pending order.
type OrderDraft struct {
	PaymentID     string // optional; generated when empty
	UserID        string
	PlanID        string
	BillingCycle  BillingCycle
	Quote         PriceQuote
	PaymentMethod string
}

// NewPlanOrder validates the draft and returns a pending order.
func NewPlanOrder(d OrderDraft) (*PlanOrder, error) {
	if d.UserID == "" || d.PlanID == "" || d.PaymentMethod == "" || !d.BillingCycle.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	q := d.Quote
	if q.OriginalPrice.IsNegative() || q.DiscountAmount.IsNegative() || q.FinalPrice.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	if !q.OriginalPrice.Sub(q.DiscountAmount).Equal(q.FinalPrice) {
		return nil, domain.ErrInvalidArgument
	}
	if len(q.Currency) != 3 {
		return nil, domain.ErrInvalidArgument
	}
	pid := d.PaymentID
	if pid == "" {
		pid = NewPaymentID()
	}
	o := &PlanOrder{
		ID:             uuid.NewString(),
		PaymentID:      pid,
		UserID:         d.UserID,
		PlanID:         d.PlanID,
		BillingCycle:   d.BillingCycle,
		OriginalPrice:  q.OriginalPrice,
		DiscountAmount: q.DiscountAmount,
		FinalPrice:     q.FinalPrice,
		Currency:       strings.ToUpper(q.Currency),
		PaymentMethod:  strings.ToLower(d.PaymentMethod),
		Status:         OrderStatusPending,
		OrderedAt:      time.Now().UTC(),
	}
	if q.Coupon != nil && q.DiscountAmount.IsPositive() {
		code := q.Coupon.Code
		o.CouponCode = &code
	}
	return o, nil
}

// OrderUpdate holds the columns written together with a status transition.
// Nil pointers leave the stored value untouched.
type OrderUpdate struct {
	ProviderReference *string
	Notes             *string
	ProcessedBy       *string
	ProcessedAt       time.Time
}
