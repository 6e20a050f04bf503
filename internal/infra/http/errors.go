package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"saas-plan-payments/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// apiError is the boundary view of a domain error: status code, stable error
// code and the locale key of the user-facing message.
type apiError struct {
	status int
	code   string
	msgKey string
}

var errInternal = apiError{status: http.StatusInternalServerError, code: "internal", msgKey: "invalid_request"}

func classify(err error) apiError {
	switch {
	case errors.Is(err, domain.ErrInvalidBillingCycle):
		return apiError{http.StatusUnprocessableEntity, "invalid_billing_cycle", "invalid_billing_cycle"}
	case errors.Is(err, domain.ErrPlanNotPurchasable):
		return apiError{http.StatusUnprocessableEntity, "plan_not_purchasable", "plan_not_purchasable"}
	case errors.Is(err, domain.ErrInvalidCoupon):
		return apiError{http.StatusUnprocessableEntity, "invalid_coupon", "invalid_coupon"}
	case errors.Is(err, domain.ErrMinimumSpendNotMet):
		return apiError{http.StatusUnprocessableEntity, "minimum_spend_not_met", "minimum_spend_not_met"}
	case errors.Is(err, domain.ErrInvalidArgument):
		return apiError{http.StatusUnprocessableEntity, "invalid_argument", "invalid_request"}
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return apiError{http.StatusBadGateway, "gateway_unavailable", "gateway_unavailable"}
	case errors.Is(err, domain.ErrGatewayRejected):
		return apiError{http.StatusBadRequest, "gateway_rejected", "gateway_rejected"}
	case errors.Is(err, domain.ErrInvalidSignature):
		return apiError{http.StatusUnauthorized, "invalid_signature", "payment_verification_failed"}
	case errors.Is(err, domain.ErrVerificationFailed), errors.Is(err, domain.ErrAmountMismatch):
		return apiError{http.StatusBadRequest, "verification_failed", "payment_verification_failed"}
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrNotFound):
		return apiError{http.StatusNotFound, "order_not_found", "payment_unknown_order"}
	case errors.Is(err, domain.ErrProviderNotFound):
		return apiError{http.StatusNotFound, "provider_not_found", "payment_unknown_order"}
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return apiError{http.StatusConflict, "already_processed", "payment_already_processed"}
	case errors.Is(err, domain.ErrDuplicatePaymentID):
		return apiError{http.StatusConflict, "duplicate_payment_id", "invalid_request"}
	}
	return errInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
