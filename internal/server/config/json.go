package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/mamyekta/novabot/internal/flagx"
	"github.com/mamyekta/novabot/internal/server/models"
	"github.com/mamyekta/novabot/internal/timex"
)

// JsonConfig is the DTO for the JSON overlay file. Duration fields accept
// either strings such as "30m" or integer nanoseconds. Zero values leave the
// corresponding Config field untouched, so the file only needs the settings
// it changes.
type JsonConfig struct {
	DatabaseDSN string `json:"database_dsn"`
	HTTPAddr    string `json:"http_addr"`

	TelegramToken  string         `json:"telegram_token"`
	BotUsername    string         `json:"bot_username"`
	OperatorChatID int64          `json:"operator_chat_id"`
	CardNumber     string         `json:"card_number"`
	CardOwner      string         `json:"card_owner"`
	CooldownPeriod timex.Duration `json:"cooldown_period"`

	Plans           []models.Plan  `json:"plans"`
	PaymentWindow   timex.Duration `json:"payment_window"`
	MinPaymentRials int64          `json:"min_payment_rials"`
	ReferralPercent int64          `json:"referral_percent"`
	TrialTrafficMB  int64          `json:"trial_traffic_mb"`
	TrialPeriod     timex.Duration `json:"trial_period"`

	BankDepositPattern string `json:"bank_deposit_pattern"`
	WebhookSecret      string `json:"webhook_secret"`

	NowPaymentsBaseURL     string `json:"nowpayments_base_url"`
	NowPaymentsAPIKey      string `json:"nowpayments_api_key"`
	NowPaymentsCallbackURL string `json:"nowpayments_callback_url"`
	RatesURL               string `json:"rates_url"`

	PanelBaseURL    string `json:"panel_base_url"`
	PanelAPIURL     string `json:"panel_api_url"`
	PanelDBURL      string `json:"panel_db_url"`
	PanelSubURL     string `json:"panel_sub_url"`
	PanelUsername   string `json:"panel_username"`
	PanelPassword   string `json:"panel_password"`
	PanelInboundIDs []int  `json:"panel_inbound_ids"`

	AdminPasswordHash string         `json:"admin_password_hash"`
	JWTSecret         string         `json:"jwt_secret"`
	TokenValidity     timex.Duration `json:"token_validity"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	TimeoutSweepSpec   string `json:"timeout_sweep_spec"`
	ExpiredGCSpec      string `json:"expired_gc_spec"`
	WarnSweepSpec      string `json:"warn_sweep_spec"`
	PanelGCSpec        string `json:"panel_gc_spec"`
	ReconcileSpec      string `json:"reconcile_spec"`
	SessionRefreshSpec string `json:"session_refresh_spec"`
	BackupSpec         string `json:"backup_spec"`
	CooldownEvictSpec  string `json:"cooldown_evict_spec"`

	ExpiredRetention timex.Duration `json:"expired_retention"`
	TrafficWarnGB    int64          `json:"traffic_warn_gb"`
	ExpiryWarnWindow timex.Duration `json:"expiry_warn_window"`
	OrphanGrace      timex.Duration `json:"orphan_grace"`
	ReconcileDrift   bool           `json:"reconcile_drift"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flags into the provided Config. Absent file means no overlay; a
// file that cannot be read or parsed panics, since starting with a half-read
// config is worse than not starting.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.TelegramToken, c.TelegramToken)
	setString(&config.BotUsername, c.BotUsername)
	setString(&config.CardNumber, c.CardNumber)
	setString(&config.CardOwner, c.CardOwner)
	setString(&config.BankDepositPattern, c.BankDepositPattern)
	setString(&config.WebhookSecret, c.WebhookSecret)
	setString(&config.NowPaymentsBaseURL, c.NowPaymentsBaseURL)
	setString(&config.NowPaymentsAPIKey, c.NowPaymentsAPIKey)
	setString(&config.NowPaymentsCallbackURL, c.NowPaymentsCallbackURL)
	setString(&config.RatesURL, c.RatesURL)
	setString(&config.PanelBaseURL, c.PanelBaseURL)
	setString(&config.PanelAPIURL, c.PanelAPIURL)
	setString(&config.PanelDBURL, c.PanelDBURL)
	setString(&config.PanelSubURL, c.PanelSubURL)
	setString(&config.PanelUsername, c.PanelUsername)
	setString(&config.PanelPassword, c.PanelPassword)
	setString(&config.AdminPasswordHash, c.AdminPasswordHash)
	setString(&config.JWTSecret, c.JWTSecret)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.TimeoutSweepSpec, c.TimeoutSweepSpec)
	setString(&config.ExpiredGCSpec, c.ExpiredGCSpec)
	setString(&config.WarnSweepSpec, c.WarnSweepSpec)
	setString(&config.PanelGCSpec, c.PanelGCSpec)
	setString(&config.ReconcileSpec, c.ReconcileSpec)
	setString(&config.SessionRefreshSpec, c.SessionRefreshSpec)
	setString(&config.BackupSpec, c.BackupSpec)
	setString(&config.CooldownEvictSpec, c.CooldownEvictSpec)

	setInt64(&config.OperatorChatID, c.OperatorChatID)
	setInt64(&config.MinPaymentRials, c.MinPaymentRials)
	setInt64(&config.ReferralPercent, c.ReferralPercent)
	setInt64(&config.TrialTrafficMB, c.TrialTrafficMB)
	setInt64(&config.TrafficWarnGB, c.TrafficWarnGB)

	setDuration(&config.CooldownPeriod, c.CooldownPeriod)
	setDuration(&config.PaymentWindow, c.PaymentWindow)
	setDuration(&config.TrialPeriod, c.TrialPeriod)
	setDuration(&config.TokenValidity, c.TokenValidity)
	setDuration(&config.ExpiredRetention, c.ExpiredRetention)
	setDuration(&config.ExpiryWarnWindow, c.ExpiryWarnWindow)
	setDuration(&config.OrphanGrace, c.OrphanGrace)

	if len(c.Plans) > 0 {
		config.Plans = c.Plans
	}
	if len(c.PanelInboundIDs) > 0 {
		config.PanelInboundIDs = c.PanelInboundIDs
	}
	if c.ReconcileDrift {
		config.ReconcileDrift = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
