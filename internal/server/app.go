// Package server initializes and runs the bot server: it wires the store,
// the panel client, the order engine, the Telegram bot, the HTTP surface and
// the reconciliation scheduler, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mamyekta/novabot/internal/logging"
	"github.com/mamyekta/novabot/internal/server/backup"
	"github.com/mamyekta/novabot/internal/server/bot"
	"github.com/mamyekta/novabot/internal/server/config"
	"github.com/mamyekta/novabot/internal/server/engine"
	"github.com/mamyekta/novabot/internal/server/httpapi"
	"github.com/mamyekta/novabot/internal/server/notify"
	"github.com/mamyekta/novabot/internal/server/payments"
	"github.com/mamyekta/novabot/internal/server/provisioner"
	"github.com/mamyekta/novabot/internal/server/repositories/repomanager"
	"github.com/mamyekta/novabot/internal/server/scheduler"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	bot       *bot.Bot
	httpSrv   *httpapi.Server
	scheduler *scheduler.Scheduler
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	ctx := context.Background()

	var db *sql.DB
	var repos repomanager.RepositoryManager
	if cfg.DatabaseDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		repos = repomanager.NewPostgresRepositoryManager()
		if err := repos.RunMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("migration error: %w", err)
		}
	} else {
		logger.Warn(ctx, "no database DSN configured, using the in-memory store")
		repos = repomanager.NewMemoryRepositoryManager()
	}

	panel, err := provisioner.NewXUIClient(provisioner.XUIConfig{
		BaseURL:    cfg.PanelBaseURL,
		APIURL:     cfg.PanelAPIURL,
		DBURL:      cfg.PanelDBURL,
		SubURL:     cfg.PanelSubURL,
		Username:   cfg.PanelUsername,
		Password:   cfg.PanelPassword,
		InboundIDs: cfg.PanelInboundIDs,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("panel client init error: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram init error: %w", err)
	}
	notifier := notify.NewTelegramNotifier(api)

	eng := engine.New(db, repos, panel, notifier, engine.Config{
		Catalog:           cfg.Plans,
		PaymentWindow:     cfg.PaymentWindow,
		MinPaymentRials:   cfg.MinPaymentRials,
		ReferralPercent:   cfg.ReferralPercent,
		TrialTrafficBytes: cfg.TrialTrafficBytes(),
		TrialPeriod:       cfg.TrialPeriod,
		OperatorChatID:    cfg.OperatorChatID,
	}, logger, nil)

	cooldown := notify.NewCooldown(cfg.CooldownPeriod, nil)

	// the crypto payment option only shows up when the processor is configured
	var crypto bot.CryptoPayer
	var rates bot.RatesSource
	if cfg.NowPaymentsAPIKey != "" {
		crypto = payments.NewNowPaymentsClient(cfg.NowPaymentsBaseURL, cfg.NowPaymentsAPIKey, cfg.NowPaymentsCallbackURL)
		if cfg.RatesURL != "" {
			rates = payments.NewRatesClient(cfg.RatesURL)
		}
	}

	chatBot := bot.New(api, eng, notifier, cooldown, crypto, rates, bot.Config{
		Username:       cfg.BotUsername,
		OperatorChatID: cfg.OperatorChatID,
		CardNumber:     cfg.CardNumber,
		CardOwner:      cfg.CardOwner,
	}, logger, nil)

	bankParser, err := payments.NewBankParser(cfg.BankDepositPattern)
	if err != nil {
		return nil, fmt.Errorf("bank parser init error: %w", err)
	}

	httpSrv := httpapi.NewServer(httpapi.Config{
		Addr:              cfg.HTTPAddr,
		WebhookSecret:     cfg.WebhookSecret,
		AdminPasswordHash: cfg.AdminPasswordHash,
		JWTSecret:         cfg.JWTSecret,
		TokenValidity:     cfg.TokenValidity,
	}, eng, bankParser, logger, nil)

	var snapshotter scheduler.Snapshotter
	if cfg.BackupSpec != "" && cfg.S3Bucket != "" {
		snapshotter = backup.NewService(backup.Config{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		}, db, repos, logger, nil)
	}

	sched := scheduler.New(scheduler.Config{
		TimeoutSweepSpec:   cfg.TimeoutSweepSpec,
		ExpiredGCSpec:      cfg.ExpiredGCSpec,
		WarnSweepSpec:      cfg.WarnSweepSpec,
		PanelGCSpec:        cfg.PanelGCSpec,
		ReconcileSpec:      cfg.ReconcileSpec,
		SessionRefreshSpec: cfg.SessionRefreshSpec,
		BackupSpec:         cfg.BackupSpec,
		CooldownEvictSpec:  cfg.CooldownEvictSpec,
		ExpiredRetention:   cfg.ExpiredRetention,
		TrafficWarnBytes:   cfg.TrafficWarnBytes(),
		ExpiryWarnWindow:   cfg.ExpiryWarnWindow,
		OrphanGrace:        cfg.OrphanGrace,
		ReconcileDrift:     cfg.ReconcileDrift,
	}, eng, panel, snapshotter, cooldown, logger)

	return &App{
		config:    cfg,
		logger:    logger,
		db:        db,
		bot:       chatBot,
		httpSrv:   httpSrv,
		scheduler: sched,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	if err := app.scheduler.Start(); err != nil {
		app.logger.Error(ctx, "scheduler start failed", "error", err)
		return
	}
	defer app.scheduler.Stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpSrv.Run(ctx); err != nil {
			app.logger.Error(ctx, "http server error", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.bot.Run(ctx)
	}()

	wg.Wait()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close error", "error", err)
		}
	}

	app.logger.Info(ctx, "app stopped")
}
