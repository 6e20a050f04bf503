package payment

import (
	"fmt"
	"net/url"
	"strings"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
)

// paymentIDParam is appended to every return URL so the return handler can
// find the order without trusting anything the provider adds.
const paymentIDParam = "payment_id"

// returnURL picks the request's return URL over the configured one and tags
// it with the payment id.
func returnURL(configured, requested, paymentID string) (string, error) {
	base := strings.TrimSpace(requested)
	if base == "" {
		base = strings.TrimSpace(configured)
	}
	if base == "" {
		return "", fmt.Errorf("%w: no return url configured", domain.ErrGatewayRejected)
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: bad return url %q", domain.ErrGatewayRejected, base)
	}
	q := u.Query()
	q.Set(paymentIDParam, paymentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func describe(order *model.PlanOrder) string {
	return fmt.Sprintf("Plan %s (%s) order %s", order.PlanID, order.BillingCycle, order.PaymentID)
}

func customerEmail(req *model.PurchaseRequest) string {
	if req == nil {
		return ""
	}
	return req.Customer.Email
}
