package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// Coupon is a discount code. TimesUsed only grows when an order carrying the
// code is activated.
type Coupon struct {
	ID           string
	Code         string
	Kind         DiscountKind
	Value        decimal.Decimal
	MinimumSpend decimal.Decimal
	UsageLimit   int // 0 = unlimited
	TimesUsed    int
	ExpiresAt    *time.Time
	Active       bool
	CreatedAt    time.Time
}

var hundred = decimal.NewFromInt(100)

// NormalizeCouponCode makes codes case-insensitive.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) Exhausted() bool {
	return c.UsageLimit > 0 && c.TimesUsed >= c.UsageLimit
}

func (c *Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

func (c *Coupon) Redeemable(now time.Time) bool {
	return c != nil && c.Active && !c.Expired(now) && !c.Exhausted()
}

// Discount returns the amount taken off original, clamped to [0, original]
// and rounded half away from zero to two places.
func (c *Coupon) Discount(original decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Kind {
	case DiscountPercentage:
		d = original.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		d = c.Value
	default:
		return decimal.Zero
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(original) {
		d = original
	}
	return d.Round(2)
}

// PriceQuote is the output of pricing. FinalPrice is always
// OriginalPrice - DiscountAmount.
type PriceQuote struct {
	OriginalPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalPrice     decimal.Decimal
	Currency       string
	Coupon         *Coupon
}
