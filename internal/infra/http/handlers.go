package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"saas-plan-payments/internal/application"
	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/infra/i18n"
	"saas-plan-payments/internal/infra/logging"
	"saas-plan-payments/internal/infra/redis"

	"github.com/go-chi/chi/v5"
)

const (
	userHeader      = "X-User-ID"
	maxRequestBody  = 64 << 10
	maxWebhookBody  = 1 << 20
	retryAfterSecs  = "30"
	rateLimitWindow = time.Minute
)

type initiateResponse struct {
	PaymentID   string `json:"payment_id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url,omitempty"`
	ClientToken string `json:"client_token,omitempty"`
	FinalPrice  string `json:"final_price"`
	Currency    string `json:"currency"`

	ActivationPending bool `json:"activation_pending,omitempty"`
}

type orderResponse struct {
	PaymentID         string     `json:"payment_id"`
	Status            string     `json:"status"`
	UserID            string     `json:"user_id"`
	PlanID            string     `json:"plan_id"`
	BillingCycle      string     `json:"billing_cycle"`
	OriginalPrice     string     `json:"original_price"`
	DiscountAmount    string     `json:"discount_amount"`
	FinalPrice        string     `json:"final_price"`
	Currency          string     `json:"currency"`
	Gateway           string     `json:"gateway"`
	ProviderReference string     `json:"provider_reference,omitempty"`
	CouponCode        *string    `json:"coupon_code,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	OrderedAt         time.Time  `json:"ordered_at"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	ProcessedBy       *string    `json:"processed_by,omitempty"`
}

func toOrderResponse(o *model.PlanOrder) orderResponse {
	return orderResponse{
		PaymentID:         o.PaymentID,
		Status:            string(o.Status),
		UserID:            o.UserID,
		PlanID:            o.PlanID,
		BillingCycle:      string(o.BillingCycle),
		OriginalPrice:     o.OriginalPrice.StringFixed(2),
		DiscountAmount:    o.DiscountAmount.StringFixed(2),
		FinalPrice:        o.FinalPrice.StringFixed(2),
		Currency:          o.Currency,
		Gateway:           o.PaymentMethod,
		ProviderReference: o.ProviderReference,
		CouponCode:        o.CouponCode,
		Notes:             o.Notes,
		OrderedAt:         o.OrderedAt,
		ProcessedAt:       o.ProcessedAt,
		ProcessedBy:       o.ProcessedBy,
	}
}

func (s *Server) translator(r *http.Request) *i18n.Translator {
	return s.i18n.For(r.Header.Get("Accept-Language"))
}

// writeError maps err onto a JSON error with a localized message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	log := logging.With(r.Context(), s.log)
	switch {
	case e.status >= http.StatusInternalServerError && e.status != http.StatusBadGateway:
		log.Error().Err(err).Msg("request failed")
	case errors.Is(err, domain.ErrInvalidState):
		log.Error().Err(err).Msg("order in unexpected state")
	default:
		log.Debug().Err(err).Int("status", e.status).Msg("request rejected")
	}
	if e.status == http.StatusBadGateway {
		w.Header().Set("Retry-After", retryAfterSecs)
	}
	writeJSON(w, e.status, errorBody{Error: e.code, Message: s.message(r, e.msgKey)})
}

func (s *Server) message(r *http.Request, key string) string {
	tr := s.translator(r)
	if key == "payment_verification_failed" {
		return tr.T(key, logging.TraceID(r.Context()))
	}
	return tr.T(key)
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: s.message(r, "invalid_request")})
		return
	}
	ctx = logging.WithUserID(ctx, userID)
	r = r.WithContext(ctx)

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, redis.InitiateKey(userID), s.cfg.RateLimit.InitiatePerMinute, rateLimitWindow)
		switch {
		case err != nil:
			// fail open
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable")
		case !ok:
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: s.message(r, "rate_limited")})
			return
		}
	}

	var req model.PurchaseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_json", Message: s.message(r, "invalid_request")})
		return
	}
	req.UserID = userID
	req.Gateway = chi.URLParam(r, "gateway")

	res, err := s.svc.Initiate(ctx, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, initiateResponse{
		PaymentID:   res.Order.PaymentID,
		Status:      string(res.Order.Status),
		RedirectURL: res.RedirectURL,
		ClientToken: res.ClientToken,
		FinalPrice:  res.Order.FinalPrice.StringFixed(2),
		Currency:    res.Order.Currency,

		ActivationPending: res.ActivationPending,
	})
}

// handleReturn verifies the browser coming back from a gateway and redirects
// to the plan page with a flash. The redirect's own status parameter is only
// a hint for the page; the flash carries the verified result.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "gateway")
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		s.redirectWithFlash(w, r, Flash{Kind: "error", Message: s.message(r, "invalid_request")})
		return
	}

	out, err := s.svc.ConfirmReturn(logging.WithProvider(ctx, provider), provider, adapter.Callback{
		Kind:    adapter.CallbackReturn,
		Headers: r.Header,
		Query:   r.Form,
	})
	if err != nil {
		e := classify(err)
		if e == errInternal {
			logging.With(ctx, s.log).Error().Err(err).Str("provider", provider).Msg("return confirmation failed")
		}
		s.redirectWithFlash(w, r, Flash{Kind: "error", Message: s.message(r, e.msgKey)})
		return
	}

	tr := s.translator(r)
	fl := Flash{PaymentID: out.Order.PaymentID}
	switch out.Status {
	case application.ReturnSuccess:
		fl.Kind = "success"
		if out.ActivationPending {
			fl.Message = tr.T("payment_activation_pending")
		} else if out.ExpiresAt != nil && !out.AlreadyProcessed {
			fl.Message = tr.T("payment_success", out.Order.PlanID, out.ExpiresAt.Format("2006-01-02"))
		} else {
			fl.Message = tr.T("payment_already_processed")
		}
	case application.ReturnPending:
		fl.Kind = "pending"
		fl.Message = tr.T("payment_pending")
	default:
		fl.Kind = "error"
		fl.Message = tr.T("payment_failed")
	}
	s.redirectWithFlash(w, r, fl)
}

func (s *Server) redirectWithFlash(w http.ResponseWriter, r *http.Request, fl Flash) {
	if err := s.flash.set(w, r, fl); err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("store flash")
	}
	target := s.cfg.Payment.PlanPageURL
	if u, err := url.Parse(target); err == nil {
		q := u.Query()
		q.Set("status", fl.Kind)
		if fl.PaymentID != "" {
			q.Set("payment_id", fl.PaymentID)
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleFlash(w http.ResponseWriter, r *http.Request) {
	fl, err := s.flash.read(w, r)
	if err != nil || fl == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, fl)
}

type webhookResponse struct {
	Status      string `json:"status"`
	PaymentID   string `json:"payment_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "gateway")
	ctx := logging.WithProvider(r.Context(), provider)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload_too_large"})
		return
	}

	ack, err := s.svc.HandleWebhook(ctx, provider, payload, r.Header)
	if err != nil {
		if ack != nil {
			// order settled but activation failed; a provider retry or the reconciler re-runs it
			logging.With(ctx, s.log).Error().Err(err).Msg("webhook side effects failed")
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "activation_failed"})
			return
		}
		e := classify(err)
		if e.status == http.StatusBadGateway {
			w.Header().Set("Retry-After", retryAfterSecs)
		}
		writeJSON(w, e.status, errorBody{Error: e.code})
		return
	}

	resp := webhookResponse{Status: "processed"}
	switch {
	case ack.Ignored:
		resp.Status = "ignored"
	case ack.AlreadyProcessed:
		resp.Status = "already_processed"
	case ack.Outcome == adapter.OutcomePending:
		resp.Status = "pending"
	}
	if ack.Order != nil {
		resp.PaymentID = ack.Order.PaymentID
		resp.OrderStatus = string(ack.Order.Status)
	}
	writeJSON(w, http.StatusOK, resp)
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Order(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := s.svc.OrdersByUser(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.svc.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.svc.Reject)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, paymentID, adminID, notes string) (*model.PlanOrder, error)) {
	var body decisionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_json"})
			return
		}
	}
	pid := chi.URLParam(r, "paymentID")
	ctx := logging.WithPaymentID(r.Context(), pid)

	o, err := fn(ctx, pid, adminID(ctx), body.Notes)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toOrderResponse(o))
	case errors.Is(err, domain.ErrAlreadyProcessed) && o != nil:
		writeJSON(w, http.StatusConflict, map[string]any{"error": "already_processed", "order": toOrderResponse(o)})
	case o != nil:
		logging.With(ctx, s.log).Error().Err(err).Msg("order decided but activation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "activation_failed", "order": toOrderResponse(o)})
	default:
		s.writeError(w, r.WithContext(ctx), err)
	}
}
