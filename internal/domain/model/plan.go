package model

import (
	"strings"
	"time"

	"saas-plan-payments/internal/domain"

	"github.com/shopspring/decimal"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// ParseBillingCycle accepts the cycle case-insensitively.
func ParseBillingCycle(s string) (BillingCycle, error) {
	c := BillingCycle(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", domain.ErrInvalidBillingCycle
	}
	return c, nil
}

// SubscriptionPlan is a purchasable tier. Plans are owned by the admin surface of
// the host application; this service only reads them.
type SubscriptionPlan struct {
	ID           string
	Name         string
	MonthlyPrice decimal.Decimal
	YearlyPrice  decimal.Decimal // zero means "not configured"
	Currency     string
	Features     map[string]bool
	TrialDays    int
	Active       bool
	CreatedAt    time.Time
}

func (p *SubscriptionPlan) IsZero() bool { return p == nil || p.ID == "" }

// IsFree reports whether the plan costs nothing on either cycle.
func (p *SubscriptionPlan) IsFree() bool {
	return p.MonthlyPrice.IsZero() && p.YearlyPrice.IsZero()
}

func (p *SubscriptionPlan) Purchasable() bool {
	if p.IsZero() || !p.Active {
		return false
	}
	if p.MonthlyPrice.IsNegative() || p.YearlyPrice.IsNegative() {
		return false
	}
	return p.MonthlyPrice.IsPositive() || p.IsFree()
}

// NewSubscriptionPlan validates and constructs an active plan.
func NewSubscriptionPlan(id, name string, monthly, yearly decimal.Decimal, currency string) (*SubscriptionPlan, error) {
	if id == "" || name == "" || monthly.IsNegative() || yearly.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidArgument
	}
	return &SubscriptionPlan{
		ID:           id,
		Name:         name,
		MonthlyPrice: monthly,
		YearlyPrice:  yearly,
		Currency:     currency,
		Features:     map[string]bool{},
		Active:       true,
		CreatedAt:    time.Now(),
	}, nil
}
