package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"saas-plan-payments/internal/domain"

	"github.com/go-playground/validator/v10"
)

// CustomerDetails are forwarded to gateways that require them (email for
// receipts, phone for regional rails).
type CustomerDetails struct {
	Email string `json:"email" validate:"omitempty,email,max=254"`
	Name  string `json:"name" validate:"omitempty,max=200"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

// PurchaseRequest is the input of a checkout. It is never persisted.
type PurchaseRequest struct {
	UserID       string          `json:"-" validate:"required,max=64"`
	PlanID       string          `json:"plan_id" validate:"required,max=64"`
	BillingCycle BillingCycle    `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	CouponCode   string          `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
	Gateway      string          `json:"-" validate:"required,max=32"`
	Customer     CustomerDetails `json:"customer"`
	ReturnURL    string          `json:"return_url,omitempty" validate:"omitempty,url"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Normalize trims input and lower-cases identifiers that are matched
// case-insensitively.
func (r *PurchaseRequest) Normalize() {
	r.PlanID = strings.TrimSpace(r.PlanID)
	r.UserID = strings.TrimSpace(r.UserID)
	r.BillingCycle = BillingCycle(strings.ToLower(strings.TrimSpace(string(r.BillingCycle))))
	r.Gateway = strings.ToLower(strings.TrimSpace(r.Gateway))
	r.CouponCode = strings.TrimSpace(r.CouponCode)
	r.Customer.Email = strings.TrimSpace(r.Customer.Email)
}

// Validate returns an error wrapping domain.ErrInvalidArgument (or
// domain.ErrInvalidBillingCycle) naming the first offending field.
func (r *PurchaseRequest) Validate() error {
	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Field() == "BillingCycle" {
				return fmt.Errorf("%w: %q", domain.ErrInvalidBillingCycle, r.BillingCycle)
			}
			return fmt.Errorf("%w: %s failed %q", domain.ErrInvalidArgument, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
