package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"saas-plan-payments/internal/application"
	"saas-plan-payments/internal/config"
	"saas-plan-payments/internal/infra/i18n"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RateLimiter is satisfied by redis.RateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// HealthCheck is one dependency probed by GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server exposes the payment routes, the admin overrides and the
// operational endpoints.
type Server struct {
	cfg     *config.Config
	svc     application.PaymentService
	limiter RateLimiter
	auth    *AdminAuth
	flash   *flashes
	i18n    *i18n.Catalog
	checks  []HealthCheck
	log     *zerolog.Logger
	srv     *http.Server
}

func NewServer(
	cfg *config.Config,
	svc application.PaymentService,
	limiter RateLimiter,
	catalog *i18n.Catalog,
	logger *zerolog.Logger,
	checks ...HealthCheck,
) *Server {
	l := logger.With().Str("component", "http").Logger()
	return &Server{
		cfg:     cfg,
		svc:     svc,
		limiter: limiter,
		auth:    NewAdminAuth(cfg.Security.AdminJWTSecret, cfg.Security.AdminTokenTTL),
		flash:   newFlashes([]byte(cfg.Security.SessionKey), !cfg.Runtime.Dev),
		i18n:    catalog,
		checks:  checks,
		log:     &l,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Timeout(s.cfg.Server.RequestTimeout))

		r.Route("/payments", func(r chi.Router) {
			r.Get("/flash", s.handleFlash)
			r.Post("/{gateway}/initiate", s.handleInitiate)
			r.Get("/{gateway}/return", s.handleReturn)
			r.Post("/{gateway}/return", s.handleReturn)
			r.Post("/{gateway}/webhook", s.handleWebhook)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.Require)
			r.Get("/orders/{paymentID}", s.handleGetOrder)
			r.Post("/orders/{paymentID}/approve", s.handleApprove)
			r.Post("/orders/{paymentID}/reject", s.handleReject)
			r.Get("/users/{userID}/orders", s.handleUserOrders)
		})
	})
	return r
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.log.Warn().Interface("failed", failed).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
