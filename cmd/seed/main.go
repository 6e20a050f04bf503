package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"saas-plan-payments/internal/config"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/repository"
	pg "saas-plan-payments/internal/infra/db/postgres"
	httpapi "saas-plan-payments/internal/infra/http"
	"saas-plan-payments/internal/infra/logging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	adminID := flag.String("admin-token", "", "print an admin bearer token for this admin id and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		boot := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)
		boot.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)

	if *adminID != "" {
		token, err := httpapi.NewAdminAuth(cfg.Security.AdminJWTSecret, cfg.Security.AdminTokenTTL).Mint(*adminID)
		if err != nil {
			logger.Fatal().Err(err).Msg("mint admin token")
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	planRepo := pg.NewPostgresPlanRepo(pool)
	couponRepo := pg.NewPostgresCouponRepo(pool)

	// If plans already exist, do nothing
	plans, err := planRepo.ListAll(ctx, repository.NoTX)
	if err != nil {
		logger.Fatal().Err(err).Msg("list plans")
	}
	if len(plans) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(plans))
		for _, p := range plans {
			fmt.Printf("  - %s (%s, monthly=%s, yearly=%s %s)\n", p.Name, p.ID, p.MonthlyPrice.StringFixed(2), p.YearlyPrice.StringFixed(2), p.Currency)
		}
		return
	}

	seed := []struct {
		ID, Name        string
		Monthly, Yearly string
	}{
		{"free", "Free", "0", "0"},
		{"starter", "Starter", "9", "86.40"},
		{"pro", "Pro", "29", "0"}, // yearly falls back to the discounted monthly price
		{"team", "Team", "99", "950"},
	}
	for _, s := range seed {
		p, err := model.NewSubscriptionPlan(s.ID, s.Name, decimal.RequireFromString(s.Monthly), decimal.RequireFromString(s.Yearly), cfg.Payment.Currency)
		if err != nil {
			logger.Fatal().Err(err).Str("plan", s.ID).Msg("build plan")
		}
		if err := planRepo.Save(ctx, repository.NoTX, p); err != nil {
			logger.Fatal().Err(err).Str("plan", s.ID).Msg("save plan")
		}
		fmt.Printf("seeded plan: %s (id=%s, monthly=%s %s)\n", p.Name, p.ID, p.MonthlyPrice.StringFixed(2), p.Currency)
	}

	coupons := []*model.Coupon{
		{Code: "WELCOME10", Kind: model.DiscountPercentage, Value: decimal.NewFromInt(10), Active: true},
		{Code: "TEAM50", Kind: model.DiscountFixed, Value: decimal.NewFromInt(50), MinimumSpend: decimal.NewFromInt(500), UsageLimit: 100, Active: true},
	}
	for _, c := range coupons {
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now().UTC()
		if err := couponRepo.Save(ctx, repository.NoTX, c); err != nil {
			logger.Fatal().Err(err).Str("coupon", c.Code).Msg("save coupon")
		}
		fmt.Printf("seeded coupon: %s (%s %s)\n", c.Code, c.Kind, c.Value.String())
	}

	fmt.Println("Seeding complete.")
}
