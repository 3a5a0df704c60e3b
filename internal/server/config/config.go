// Package config handles configuration for the server component: defaults,
// an optional .env preload, a JSON overlay, environment variables for
// secrets, and command-line flags.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mamyekta/novabot/internal/server/models"
)

// Config holds runtime settings for the bot server.
type Config struct {
	// DatabaseDSN is the PostgreSQL DSN (pgx). Empty selects the in-memory
	// store, for development only.
	DatabaseDSN string

	// HTTPAddr is the bind address of the webhook/admin HTTP server.
	HTTPAddr string

	TelegramToken  string
	BotUsername    string
	OperatorChatID int64
	CardNumber     string
	CardOwner      string
	CooldownPeriod time.Duration

	Plans           []models.Plan
	PaymentWindow   time.Duration
	MinPaymentRials int64
	ReferralPercent int64
	TrialTrafficMB  int64
	TrialPeriod     time.Duration

	// BankDepositPattern is the bank-specific deposit regexp with one
	// capture group for the amount.
	BankDepositPattern string
	WebhookSecret      string

	NowPaymentsBaseURL     string
	NowPaymentsAPIKey      string
	NowPaymentsCallbackURL string
	RatesURL               string

	PanelBaseURL    string
	PanelAPIURL     string
	PanelDBURL      string
	PanelSubURL     string
	PanelUsername   string
	PanelPassword   string
	PanelInboundIDs []int

	AdminPasswordHash string
	JWTSecret         string
	TokenValidity     time.Duration

	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string

	TimeoutSweepSpec   string
	ExpiredGCSpec      string
	WarnSweepSpec      string
	PanelGCSpec        string
	ReconcileSpec      string
	SessionRefreshSpec string
	BackupSpec         string
	CooldownEvictSpec  string

	ExpiredRetention time.Duration
	TrafficWarnGB    int64
	ExpiryWarnWindow time.Duration
	OrphanGrace      time.Duration
	ReconcileDrift   bool
}

// LoadDefaults populates Config with development defaults. Secrets have no
// defaults; they come from the environment or the JSON overlay.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.CooldownPeriod = time.Second

	c.Plans = []models.Plan{
		{ID: 1, Name: "30 روزه 50 گیگ", TrafficGB: 50, PeriodDays: 30, LimitIP: 2, PriceToman: 89000, Active: true},
		{ID: 2, Name: "60 روزه 100 گیگ", TrafficGB: 100, PeriodDays: 60, LimitIP: 2, PriceToman: 159000, Active: true},
	}
	c.PaymentWindow = 30 * time.Minute
	c.MinPaymentRials = 10000
	c.ReferralPercent = 10
	c.TrialTrafficMB = 512
	c.TrialPeriod = 24 * time.Hour

	c.BankDepositPattern = `واریز\s+([\d,]+)`

	c.PanelInboundIDs = []int{1}

	c.TokenValidity = time.Hour

	c.S3Region = "us-east-1"

	c.TimeoutSweepSpec = "@every 1m"
	c.ExpiredGCSpec = "@every 1h"
	c.WarnSweepSpec = "@every 15m"
	c.PanelGCSpec = "@every 1h"
	c.ReconcileSpec = "@every 6h"
	c.SessionRefreshSpec = "@every 30m"
	c.BackupSpec = "" // disabled until S3 is configured
	c.CooldownEvictSpec = "@every 10m"

	c.ExpiredRetention = 48 * time.Hour
	c.TrafficWarnGB = 1
	c.ExpiryWarnWindow = 3 * 24 * time.Hour
	c.OrphanGrace = 24 * time.Hour
	c.ReconcileDrift = false
}

// loadEnv overlays secrets and deployment-specific values from environment
// variables. A .env file in the working directory is loaded first if present.
func (c *Config) loadEnv() {
	_ = godotenv.Load()

	overlay := map[string]*string{
		"DATABASE_DSN":        &c.DatabaseDSN,
		"TELEGRAM_TOKEN":      &c.TelegramToken,
		"BOT_USERNAME":        &c.BotUsername,
		"CARD_NUMBER":         &c.CardNumber,
		"CARD_OWNER":          &c.CardOwner,
		"WEBHOOK_SECRET":      &c.WebhookSecret,
		"ADMIN_PASSWORD_HASH": &c.AdminPasswordHash,
		"JWT_SECRET":          &c.JWTSecret,
		"NOWPAYMENTS_API_KEY": &c.NowPaymentsAPIKey,
		"PANEL_BASE_URL":      &c.PanelBaseURL,
		"PANEL_API_URL":       &c.PanelAPIURL,
		"PANEL_DB_URL":        &c.PanelDBURL,
		"PANEL_SUB_URL":       &c.PanelSubURL,
		"PANEL_USERNAME":      &c.PanelUsername,
		"PANEL_PASSWORD":      &c.PanelPassword,
		"S3_ROOT_USER":        &c.S3RootUser,
		"S3_ROOT_PASSWORD":    &c.S3RootPassword,
		"S3_BUCKET":           &c.S3Bucket,
		"S3_BASE_ENDPOINT":    &c.S3BaseEndpoint,
	}
	for key, target := range overlay {
		if v, ok := os.LookupEnv(key); ok {
			*target = v
		}
	}

	if v, ok := os.LookupEnv("OPERATOR_CHAT_ID"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.OperatorChatID = id
		}
	}
}

// TrialTrafficBytes converts the configured trial size.
func (c *Config) TrialTrafficBytes() int64 {
	return c.TrialTrafficMB * 1024 * 1024
}

// TrafficWarnBytes converts the configured warning threshold.
func (c *Config) TrafficWarnBytes() int64 {
	return c.TrafficWarnGB * 1024 * 1024 * 1024
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment and finally command-line
// flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	cfg.loadEnv()
	parseFlags(cfg)
	return cfg
}
