package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/monitoring/checks"
	"github.com/charlesng35/tandem/internal/reconcile"
	"github.com/charlesng35/tandem/pkg/logger"
)

// Job names as reported to the monitoring module.
const (
	JobHealth         = "store_health"
	JobReconcile      = "reconcile"
	JobSessionCleanup = "session_cleanup"
	JobResetCleanup   = "reset_cleanup"
	JobCachePurge     = "cache_purge"
	JobBackupGC       = "backup_gc"
)

const (
	defaultHealthSpec    = "@every 30s"
	defaultReconcileSpec = "@every 10m"
	defaultSessionSpec   = "@hourly"
	defaultResetSpec     = "@hourly"
	defaultPurgeSpec     = "@every 1m"
	defaultBackupGCSpec  = "@every 1h"
	defaultJobTimeout    = 5 * time.Minute
)

// HealthChecker probes every registered store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) monitoring.HealthReport
}

// Reconciler runs one cross-store reconciliation pass.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

// Sweeper removes expired records and reports how many were dropped.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Purger drops expired cache entries.
type Purger interface {
	PurgeExpired() int
}

// GarbageCollector compacts an embedded store.
type GarbageCollector interface {
	CollectGarbage() error
}

// Dependencies lists the components driven by the scheduler. A nil dependency disables
// the corresponding job.
type Dependencies struct {
	Stores     HealthChecker
	Reconciler Reconciler
	Sessions   Sweeper
	Resets     Sweeper
	Cache      Purger
	Backup     GarbageCollector
}

// Schedules holds cron specifications per job. Empty values fall back to defaults.
type Schedules struct {
	Health         string
	Reconcile      string
	SessionCleanup string
	ResetCleanup   string
	CachePurge     string
	BackupGC       string
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) (string, error)
}

// Scheduler runs the periodic background work of the process: store health probing,
// reconciliation, session and reset sweeps, cache purging and backup compaction.
type Scheduler struct {
	deps      Dependencies
	schedules Schedules
	cron      *cron.Cron
	timeout   time.Duration
	jobs      []job
	log       *zap.Logger
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedules overrides the cron specifications of individual jobs.
func WithSchedules(schedules Schedules) Option {
	return func(s *Scheduler) {
		s.schedules = mergeSchedules(s.schedules, schedules)
	}
}

// WithJobTimeout bounds a single job execution.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewScheduler constructs a Scheduler with default schedules.
func NewScheduler(deps Dependencies, opts ...Option) *Scheduler {
	s := &Scheduler{
		deps: deps,
		schedules: Schedules{
			Health:         defaultHealthSpec,
			Reconcile:      defaultReconcileSpec,
			SessionCleanup: defaultSessionSpec,
			ResetCleanup:   defaultResetSpec,
			CachePurge:     defaultPurgeSpec,
			BackupGC:       defaultBackupGCSpec,
		},
		timeout: defaultJobTimeout,
		log:     logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}

	s.jobs = s.buildJobs()
	return s
}

func mergeSchedules(base, override Schedules) Schedules {
	pick := func(current, candidate string) string {
		if candidate != "" {
			return candidate
		}
		return current
	}
	return Schedules{
		Health:         pick(base.Health, override.Health),
		Reconcile:      pick(base.Reconcile, override.Reconcile),
		SessionCleanup: pick(base.SessionCleanup, override.SessionCleanup),
		ResetCleanup:   pick(base.ResetCleanup, override.ResetCleanup),
		CachePurge:     pick(base.CachePurge, override.CachePurge),
		BackupGC:       pick(base.BackupGC, override.BackupGC),
	}
}

func (s *Scheduler) buildJobs() []job {
	var jobs []job

	if s.deps.Stores != nil {
		jobs = append(jobs, job{name: JobHealth, spec: s.schedules.Health, run: s.checkStores})
	}
	if s.deps.Reconciler != nil {
		jobs = append(jobs, job{name: JobReconcile, spec: s.schedules.Reconcile, run: s.reconcile})
	}
	if s.deps.Sessions != nil {
		jobs = append(jobs, job{name: JobSessionCleanup, spec: s.schedules.SessionCleanup, run: sweep(s.deps.Sessions)})
	}
	if s.deps.Resets != nil {
		jobs = append(jobs, job{name: JobResetCleanup, spec: s.schedules.ResetCleanup, run: sweep(s.deps.Resets)})
	}
	if s.deps.Cache != nil {
		jobs = append(jobs, job{name: JobCachePurge, spec: s.schedules.CachePurge, run: func(context.Context) (string, error) {
			return strconv.Itoa(s.deps.Cache.PurgeExpired()) + " entries purged", nil
		}})
	}
	if s.deps.Backup != nil {
		jobs = append(jobs, job{name: JobBackupGC, spec: s.schedules.BackupGC, run: func(context.Context) (string, error) {
			return "", s.deps.Backup.CollectGarbage()
		}})
	}

	return jobs
}

// Jobs returns the names of the enabled jobs in registration order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

// Windows derives a staleness window for every enabled job: three schedule intervals plus the
// job timeout. The health job is critical because it fails only when no store is reachable.
func (s *Scheduler) Windows() []checks.JobWindow {
	now := time.Now()
	windows := make([]checks.JobWindow, 0, len(s.jobs))
	for _, j := range s.jobs {
		schedule, err := cron.ParseStandard(j.spec)
		if err != nil {
			continue
		}
		next := schedule.Next(now)
		interval := schedule.Next(next).Sub(next)
		windows = append(windows, checks.JobWindow{
			Job:      j.name,
			MaxAge:   3*interval + s.timeout,
			Critical: j.name == JobHealth,
		})
	}
	return windows
}

// Start registers the enabled jobs with the cron scheduler and launches it.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		return nil
	}

	for _, j := range s.jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() {
			_ = s.execute(context.Background(), j)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s %q: %w", j.name, j.spec, err)
		}
	}

	s.cron.Start()
	s.log.Info("maintenance scheduler started", zap.Strings("jobs", s.Jobs()))
	return nil
}

// Stop halts the underlying scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes every enabled job sequentially and aggregates their errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range s.jobs {
		errs = multierr.Append(errs, s.execute(ctx, j))
	}
	return errs
}

// Run executes a single job by name.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name == name {
			return s.execute(ctx, j)
		}
	}
	return fmt.Errorf("maintenance: unknown job %q", name)
}

func (s *Scheduler) execute(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	message, err := j.run(ctx)
	duration := time.Since(start)

	if err != nil {
		monitoring.RecordMaintenanceRun(j.name, "failure", err.Error(), duration)
		s.log.Warn("maintenance job failed",
			zap.String("job", j.name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", j.name, err)
	}

	monitoring.RecordMaintenanceRun(j.name, "success", message, duration)
	s.log.Debug("maintenance job finished",
		zap.String("job", j.name),
		zap.String("result", message),
		zap.Duration("duration", duration),
	)
	return nil
}

func (s *Scheduler) checkStores(ctx context.Context) (string, error) {
	report := s.deps.Stores.HealthCheck(ctx)
	if !report.Success {
		return "", errors.New("no store reachable")
	}
	return string(report.Status), nil
}

func (s *Scheduler) reconcile(ctx context.Context) (string, error) {
	report, err := s.deps.Reconciler.RunOnce(ctx)
	if err != nil {
		return "", err
	}
	if report.Skipped {
		return "skipped: pass already running", nil
	}
	total := 0
	for _, n := range report.Upserts {
		total += n
	}
	return fmt.Sprintf("%d upserts, %d snapshots", total, len(report.Snapshots)), nil
}

func sweep(sweeper Sweeper) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		removed, err := sweeper.CleanupExpired(ctx)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(removed, 10) + " records removed", nil
	}
}
