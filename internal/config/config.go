package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/infra/security"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EncryptionKeyEnv overrides security.encryption_key so the key can stay out
// of the config file.
const EncryptionKeyEnv = "PAYMENTS_ENCRYPTION_KEY"

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PublicURL      string        `yaml:"public_url"` // base for default return URLs
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	MaxConns    int32  `yaml:"max_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	EncryptionKey  string        `yaml:"encryption_key"`
	AdminJWTSecret string        `yaml:"admin_jwt_secret"`
	AdminTokenTTL  time.Duration `yaml:"admin_token_ttl"`
	SessionKey     string        `yaml:"session_key"` // flash cookie signing key
}

type PaymentConfig struct {
	Currency        string                           `yaml:"currency"`
	AmountTolerance string                           `yaml:"amount_tolerance"`
	PlanPageURL     string                           `yaml:"plan_page_url"`
	Languages       []string                         `yaml:"languages"`
	Gateways        map[string]adapter.GatewayConfig `yaml:"gateways"`
}

// Tolerance parses AmountTolerance, defaulting to adapter.DefaultAmountTolerance.
func (p PaymentConfig) Tolerance() decimal.Decimal {
	d, err := decimal.NewFromString(p.AmountTolerance)
	if err != nil || d.IsNegative() {
		return adapter.DefaultAmountTolerance
	}
	return d
}

// EnabledGateways returns the enabled gateway configs with Name filled in.
func (p PaymentConfig) EnabledGateways() []adapter.GatewayConfig {
	out := make([]adapter.GatewayConfig, 0, len(p.Gateways))
	for name, g := range p.Gateways {
		if !g.Enabled {
			continue
		}
		g.Name = strings.ToLower(name)
		out = append(out, g)
	}
	return out
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	PendingTTL        time.Duration `yaml:"pending_ttl"`
	BatchSize         int           `yaml:"batch_size"`
}

type WorkerConfig struct {
	Size int `yaml:"size"`
}

type RateLimitConfig struct {
	InitiatePerMinute int `yaml:"initiate_per_minute"`
}

type ReferralConfig struct {
	URL     string        `yaml:"url"` // empty disables commission notifications
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Security  SecurityConfig  `yaml:"security"`
	Payment   PaymentConfig   `yaml:"payment"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Referral  ReferralConfig  `yaml:"referral"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads, defaults, decrypts and validates the YAML file at path.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if k := os.Getenv(EncryptionKeyEnv); k != "" {
		cfg.Security.EncryptionKey = k
	}
	applyDefaults(&cfg)
	if err := openSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 45 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = cfg.Server.RequestTimeout + 5*time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Security.AdminTokenTTL <= 0 {
		cfg.Security.AdminTokenTTL = 12 * time.Hour
	}
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "USD"
	}
	cfg.Payment.Currency = strings.ToUpper(cfg.Payment.Currency)
	for name, g := range cfg.Payment.Gateways {
		g.Name = strings.ToLower(name)
		g.Timeout = clampTimeout(g.Timeout)
		if g.Currency == "" {
			g.Currency = cfg.Payment.Currency
		}
		g.Currency = strings.ToUpper(g.Currency)
		if g.Mode == "" {
			g.Mode = "sandbox"
		}
		if g.ReturnURL == "" && cfg.Server.PublicURL != "" {
			g.ReturnURL = strings.TrimRight(cfg.Server.PublicURL, "/") + "/payments/" + g.Name + "/return"
		}
		cfg.Payment.Gateways[name] = g
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = time.Minute
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		cfg.Scheduler.StaleAfter = 10 * time.Minute
	}
	if cfg.Scheduler.PendingTTL <= 0 {
		cfg.Scheduler.PendingTTL = 24 * time.Hour
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 200
	}
	if cfg.Worker.Size <= 0 {
		cfg.Worker.Size = 4
	}
	if cfg.RateLimit.InitiatePerMinute <= 0 {
		cfg.RateLimit.InitiatePerMinute = 10
	}
	if cfg.Referral.Timeout <= 0 {
		cfg.Referral.Timeout = 5 * time.Second
	}
}

// clampTimeout keeps gateway timeouts within 10s..40s, 20s when unset.
func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return 20 * time.Second
	case d < 10*time.Second:
		return 10 * time.Second
	case d > 40*time.Second:
		return 40 * time.Second
	}
	return d
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

// openSecrets decrypts every "enc:" value in place.
func openSecrets(cfg *Config) error {
	var svc *security.EncryptionService
	if cfg.Security.EncryptionKey != "" {
		s, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("security.encryption_key: %w", err)
		}
		svc = s
	}
	open := func(field string, v *string) error {
		pt, err := svc.OpenSecret(*v)
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", field, err)
		}
		*v = pt
		return nil
	}
	for field, v := range map[string]*string{
		"database.url":              &cfg.Database.URL,
		"redis.password":            &cfg.Redis.Password,
		"security.admin_jwt_secret": &cfg.Security.AdminJWTSecret,
		"security.session_key":      &cfg.Security.SessionKey,
		"referral.token":            &cfg.Referral.Token,
	} {
		if err := open(field, v); err != nil {
			return err
		}
	}
	for name, g := range cfg.Payment.Gateways {
		if err := open("payment.gateways."+name+".webhook_secret", &g.WebhookSecret); err != nil {
			return err
		}
		creds := make(map[string]string, len(g.Credentials))
		for k, v := range g.Credentials {
			if err := open("payment.gateways."+name+".credentials."+k, &v); err != nil {
				return err
			}
			creds[k] = v
		}
		g.Credentials = creds
		cfg.Payment.Gateways[name] = g
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if len(cfg.Security.AdminJWTSecret) < 32 {
		return errors.New("security.admin_jwt_secret must be at least 32 bytes")
	}
	if len(cfg.Security.SessionKey) < 32 {
		return errors.New("security.session_key must be at least 32 bytes")
	}
	if cfg.Payment.PlanPageURL == "" {
		return errors.New("payment.plan_page_url is required")
	}
	if len(cfg.Payment.EnabledGateways()) == 0 {
		return errors.New("payment.gateways: at least one gateway must be enabled")
	}
	return nil
}
