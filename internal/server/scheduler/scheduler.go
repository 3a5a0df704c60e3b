// Package scheduler drives the periodic reconciliation work: payment
// timeouts, expired-order garbage collection, depletion warnings, panel-side
// cleanup, session refresh and backups. Every mutation goes through the
// order engine; the scheduler itself never touches the repositories.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mamyekta/novabot/internal/logging"
)

// OrderSweeper is the slice of the order engine the scheduler drives.
type OrderSweeper interface {
	ExpireDueOrders(ctx context.Context) (int, error)
	PurgeExpiredBefore(ctx context.Context, retention time.Duration) (int, error)
	WarnNearDepletion(ctx context.Context, trafficThreshold int64, expiryWindow time.Duration) (int, error)
	PruneOrphanVerified(ctx context.Context, grace time.Duration) (int, error)
}

// PanelMaintainer is the panel-side housekeeping the scheduler triggers.
type PanelMaintainer interface {
	PurgeDepleted(ctx context.Context) error
	RefreshSession(ctx context.Context) error
}

// Snapshotter uploads a backup. Optional.
type Snapshotter interface {
	Run(ctx context.Context) (string, error)
}

// Evicter drops stale cooldown entries. Optional.
type Evicter interface {
	Evict() int
}

// Config holds the cron specs and sweep parameters. Specs use the standard
// five-field cron syntax or the @every shorthand; an empty spec disables the
// job.
type Config struct {
	TimeoutSweepSpec   string
	ExpiredGCSpec      string
	WarnSweepSpec      string
	PanelGCSpec        string
	ReconcileSpec      string
	SessionRefreshSpec string
	BackupSpec         string
	CooldownEvictSpec  string

	ExpiredRetention time.Duration
	TrafficWarnBytes int64
	ExpiryWarnWindow time.Duration
	OrphanGrace      time.Duration

	// ReconcileDrift enables the prune-only drift job. Off by default: a
	// panel outage must not look like mass credential deletion.
	ReconcileDrift bool
}

// Scheduler owns the cron instance and the skip-if-running guards.
type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	engine   OrderSweeper
	panel    PanelMaintainer
	backup   Snapshotter
	cooldown Evicter
	logger   logging.Logger
}

func New(cfg Config, engine OrderSweeper, panel PanelMaintainer, backup Snapshotter,
	cooldown Evicter, logger logging.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		cfg:      cfg,
		engine:   engine,
		panel:    panel,
		backup:   backup,
		cooldown: cooldown,
		logger:   logger.With("module", "scheduler"),
	}
}

// guarded wraps a job so overlapping runs are skipped rather than stacked: a
// slow panel must not pile up sweeps behind the engine lock.
func (s *Scheduler) guarded(name string, job func(ctx context.Context) error) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			s.logger.Warn(context.Background(), "previous run still in progress, skipping", "job", name)
			return
		}
		defer running.Store(false)

		ctx := context.Background()
		if err := job(ctx); err != nil {
			s.logger.Error(ctx, "job failed", "job", name, "error", err)
		}
	}
}

func (s *Scheduler) add(spec, name string, job func(ctx context.Context) error) error {
	if spec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(spec, s.guarded(name, job))
	return err
}

type job struct {
	spec string
	name string
	fn   func(ctx context.Context) error
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	jobs := []job{
		{s.cfg.TimeoutSweepSpec, "timeout_sweep", func(ctx context.Context) error {
			_, err := s.engine.ExpireDueOrders(ctx)
			return err
		}},
		{s.cfg.ExpiredGCSpec, "expired_gc", func(ctx context.Context) error {
			_, err := s.engine.PurgeExpiredBefore(ctx, s.cfg.ExpiredRetention)
			return err
		}},
		{s.cfg.WarnSweepSpec, "warn_sweep", func(ctx context.Context) error {
			_, err := s.engine.WarnNearDepletion(ctx, s.cfg.TrafficWarnBytes, s.cfg.ExpiryWarnWindow)
			return err
		}},
		{s.cfg.PanelGCSpec, "panel_gc", func(ctx context.Context) error {
			return s.panel.PurgeDepleted(ctx)
		}},
		{s.cfg.SessionRefreshSpec, "session_refresh", func(ctx context.Context) error {
			return s.panel.RefreshSession(ctx)
		}},
	}
	if s.cfg.ReconcileDrift {
		jobs = append(jobs, job{s.cfg.ReconcileSpec, "drift_reconcile", func(ctx context.Context) error {
			_, err := s.engine.PruneOrphanVerified(ctx, s.cfg.OrphanGrace)
			return err
		}})
	}
	if s.backup != nil {
		jobs = append(jobs, job{s.cfg.BackupSpec, "backup", func(ctx context.Context) error {
			_, err := s.backup.Run(ctx)
			return err
		}})
	}
	if s.cooldown != nil {
		jobs = append(jobs, job{s.cfg.CooldownEvictSpec, "cooldown_evict", func(ctx context.Context) error {
			s.cooldown.Evict()
			return nil
		}})
	}

	for _, j := range jobs {
		if err := s.add(j.spec, j.name, j.fn); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info(context.Background(), "scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info(context.Background(), "scheduler stopped")
}
