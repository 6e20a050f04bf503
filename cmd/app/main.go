package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saas-plan-payments/internal/application"
	"saas-plan-payments/internal/config"
	payAdapters "saas-plan-payments/internal/infra/adapters/payment"
	"saas-plan-payments/internal/infra/adapters/referral"
	"saas-plan-payments/internal/infra/db/migrations"
	pg "saas-plan-payments/internal/infra/db/postgres"
	httpapi "saas-plan-payments/internal/infra/http"
	"saas-plan-payments/internal/infra/i18n"
	"saas-plan-payments/internal/infra/logging"
	"saas-plan-payments/internal/infra/metrics"
	red "saas-plan-payments/internal/infra/redis"
	"saas-plan-payments/internal/infra/sched"
	"saas-plan-payments/internal/infra/scheduler"
	"saas-plan-payments/internal/infra/worker"
	"saas-plan-payments/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, insecure cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		boot := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)
		boot.Fatal().Err(err).Str("path", *cfgPath).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if cfg.Database.AutoMigrate {
		if err := migrations.UpWithPool(pool); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
		logger.Info().Msg("migrations applied")
	}
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	userRepo := pg.NewUserRepoCacheDecorator(pg.NewPostgresUserRepo(pool), redisClient, cfg.Redis.TTL)
	planRepo := pg.NewPlanRepoCacheDecorator(pg.NewPostgresPlanRepo(pool), redisClient, cfg.Redis.TTL, logger)
	couponRepo := pg.NewPostgresCouponRepo(pool)
	activationRepo := pg.NewPostgresActivationRepo(pool)
	orderRepo := pg.NewOrderRepo(pool)

	// ---- Gateways ----
	registry := payAdapters.NewRegistry(payAdapters.DefaultFactories()...)
	if err := registry.Configure(cfg.Payment.EnabledGateways()); err != nil {
		logger.Fatal().Err(err).Msg("payment gateways")
	}
	if len(registry.Names()) == 0 {
		logger.Warn().Msg("no payment gateway enabled; only free plans can be purchased")
	}
	logger.Info().Strs("gateways", registry.Names()).Msg("payment gateways ready")

	// ---- Worker pool ----
	workerPool := worker.NewPool(cfg.Worker.Size, logger)
	workerPool.Start(ctx)

	// ---- Use cases ----
	pricingUC := usecase.NewPricingUseCase(couponRepo, logger)
	activationUC := usecase.NewActivationUseCase(userRepo, couponRepo, activationRepo, txManager,
		referral.New(cfg.Referral), workerPool, logger)
	dispatcher := usecase.NewWebhookDispatcher(registry, orderRepo, activationUC, cfg.Payment.Tolerance(), logger)

	// ---- Facade ----
	facade := application.NewPaymentFacade(planRepo, orderRepo, registry, pricingUC, activationUC, dispatcher,
		application.DefaultChargeTimeout, logger)

	// ---- Reconciler ----
	reconciler := sched.NewPaymentReconciler(orderRepo, registry, dispatcher, activationUC, red.NewLocker(redisClient), cfg.Scheduler, logger)
	reconcileLoop := scheduler.NewScheduler(cfg.Scheduler.ReconcileInterval, cfg.Scheduler.ReconcileInterval, reconciler, logger)
	reconcileLoop.Start(ctx)

	// ---- HTTP ----
	catalog, err := i18n.NewCatalog(i18n.LocalesFS, cfg.Payment.Languages...)
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}
	srv := httpapi.NewServer(cfg, facade, red.NewRateLimiter(redisClient), catalog, logger,
		httpapi.HealthCheck{Name: "postgres", Check: pool.Ping},
		httpapi.HealthCheck{Name: "redis", Check: redisClient.Ping},
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigc:
		logger.Info().Str("signal", s.String()).Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	reconcileLoop.Stop()
	workerPool.Stop()
	cancel()
	logger.Info().Msg("bye")
}
