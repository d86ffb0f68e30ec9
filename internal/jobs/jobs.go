// Package jobs runs the periodic housekeeping of the service on a cron
// scheduler: catalog hot reload and purging of spent OTP and rate-limit rows.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/metrics"
	"github.com/soaringjerry/csat/internal/models"
)

const (
	jobCatalog = "catalog_reload"
	jobPurge   = "purge"
)

type CatalogReloader interface {
	Reload() error
	ReloadIfChanged() (bool, error)
	Questions() []models.Question
}

// Purger deletes rows that can no longer influence any decision.
type Purger interface {
	PurgeOTP(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeRateEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

type Options struct {
	CatalogEvery time.Duration
	PurgeEvery   time.Duration
	// OTPRetention is how long past expiry an OTP record is kept.
	OTPRetention time.Duration
	// RateRetention must be at least the rate-limit window.
	RateRetention time.Duration
	PurgeTimeout  time.Duration
}

type Scheduler struct {
	cron    *cron.Cron
	catalog CatalogReloader
	purger  Purger
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// cronLogger routes the scheduler's own messages into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}

func New(catalog CatalogReloader, purger Purger, logger *zap.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CatalogEvery <= 0 {
		opts.CatalogEvery = 30 * time.Second
	}
	if opts.PurgeEvery <= 0 {
		opts.PurgeEvery = 15 * time.Minute
	}
	if opts.OTPRetention <= 0 {
		opts.OTPRetention = 24 * time.Hour
	}
	if opts.RateRetention <= 0 {
		opts.RateRetention = time.Hour
	}
	if opts.PurgeTimeout <= 0 {
		opts.PurgeTimeout = 30 * time.Second
	}
	cl := cronLogger{s: logger.Named("cron").Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		catalog: catalog,
		purger:  purger,
		opts:    opts,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if catalog != nil {
		metrics.CatalogQuestions.Set(float64(len(catalog.Questions())))
		s.cron.Schedule(cron.Every(opts.CatalogEvery), cron.FuncJob(func() { s.ReloadCatalog(false) }))
	}
	if purger != nil {
		s.cron.Schedule(cron.Every(opts.PurgeEvery), cron.FuncJob(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.PurgeTimeout)
			defer cancel()
			_ = s.Purge(ctx)
		}))
	}
	return s
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs or ctx, whichever ends
// first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

// ReloadCatalog polls the catalog file, or rereads it unconditionally when
// force is set (SIGHUP). A failed reload keeps serving the previous snapshot.
func (s *Scheduler) ReloadCatalog(force bool) {
	var (
		changed bool
		err     error
	)
	if force {
		err = s.catalog.Reload()
		changed = err == nil
	} else {
		changed, err = s.catalog.ReloadIfChanged()
	}
	switch {
	case err != nil:
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		metrics.JobRuns.WithLabelValues(jobCatalog, "error").Inc()
		s.logger.Error("catalog reload failed", zap.Error(err))
		return
	case changed:
		metrics.CatalogReloads.WithLabelValues("ok").Inc()
		s.logger.Info("catalog reloaded", zap.Int("questions", len(s.catalog.Questions())))
	}
	metrics.CatalogQuestions.Set(float64(len(s.catalog.Questions())))
	metrics.JobRuns.WithLabelValues(jobCatalog, "ok").Inc()
}

// Purge drops OTP records expired for longer than OTPRetention and rate
// events older than RateRetention.
func (s *Scheduler) Purge(ctx context.Context) error {
	now := s.now()
	otps, err := s.purger.PurgeOTP(ctx, now.Add(-s.opts.OTPRetention))
	if err != nil {
		metrics.JobRuns.WithLabelValues(jobPurge, "error").Inc()
		s.logger.Error("purge otp records failed", zap.Error(err))
		return err
	}
	events, err := s.purger.PurgeRateEvents(ctx, now.Add(-s.opts.RateRetention))
	if err != nil {
		metrics.JobRuns.WithLabelValues(jobPurge, "error").Inc()
		s.logger.Error("purge rate events failed", zap.Error(err))
		return err
	}
	metrics.JobRuns.WithLabelValues(jobPurge, "ok").Inc()
	if otps > 0 || events > 0 {
		s.logger.Info("purged stale rows", zap.Int64("otp_codes", otps), zap.Int64("rate_events", events))
	}
	return nil
}
