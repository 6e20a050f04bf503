package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// YearlyFallbackFactor prices a yearly cycle as twelve months with a 20%
// discount when the plan has no explicit yearly price.
var YearlyFallbackFactor = decimal.RequireFromString("9.6") // 12 * 0.8

// PricingUseCase computes what a purchase costs. It has no side effects.
type PricingUseCase interface {
	ComputePrice(ctx context.Context, plan *model.SubscriptionPlan, cycle model.BillingCycle, couponCode string) (*model.PriceQuote, error)
}

var _ PricingUseCase = (*pricingUC)(nil)

type pricingUC struct {
	coupons repository.CouponRepository
	now     func() time.Time
	log     *zerolog.Logger
}

func NewPricingUseCase(coupons repository.CouponRepository, logger *zerolog.Logger) PricingUseCase {
	return &pricingUC{coupons: coupons, now: time.Now, log: logger}
}

// BasePrice returns the undiscounted price of plan for cycle.
func BasePrice(plan *model.SubscriptionPlan, cycle model.BillingCycle) (decimal.Decimal, error) {
	switch cycle {
	case model.BillingCycleMonthly:
		return plan.MonthlyPrice, nil
	case model.BillingCycleYearly:
		if plan.YearlyPrice.IsPositive() {
			return plan.YearlyPrice, nil
		}
		return plan.MonthlyPrice.Mul(YearlyFallbackFactor).Round(2), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrInvalidBillingCycle, cycle)
	}
}

func (p *pricingUC) ComputePrice(ctx context.Context, plan *model.SubscriptionPlan, cycle model.BillingCycle, couponCode string) (*model.PriceQuote, error) {
	if plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	original, err := BasePrice(plan, cycle)
	if err != nil {
		return nil, err
	}
	quote := &model.PriceQuote{
		OriginalPrice:  original,
		DiscountAmount: decimal.Zero,
		FinalPrice:     original,
		Currency:       plan.Currency,
	}

	code := model.NormalizeCouponCode(couponCode)
	if code == "" {
		return quote, nil
	}

	coupon, err := p.coupons.FindByCode(ctx, repository.NoTX, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCoupon, code)
		}
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	if !coupon.Redeemable(p.now()) {
		p.log.Debug().Str("coupon", code).Bool("active", coupon.Active).
			Int("times_used", coupon.TimesUsed).Int("usage_limit", coupon.UsageLimit).
			Msg("coupon not redeemable")
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCoupon, code)
	}
	if original.LessThan(coupon.MinimumSpend) {
		return nil, fmt.Errorf("%w: %s requires %s", domain.ErrMinimumSpendNotMet, code, coupon.MinimumSpend.StringFixed(2))
	}

	discount := coupon.Discount(original)
	quote.DiscountAmount = discount
	quote.FinalPrice = original.Sub(discount)
	quote.Coupon = coupon
	return quote, nil
}
