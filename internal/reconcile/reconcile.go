package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/pkg/logger"
)

// Report summarises one reconciliation pass.
type Report struct {
	// Upserts counts mirror writes keyed by "<store>/<table>".
	Upserts map[string]int `json:"upserts"`
	// Removals counts mirror copies dropped because the record was deleted mid-pass.
	Removals map[string]int `json:"removals,omitempty"`
	// Snapshots lists the tables whose snapshot changed.
	Snapshots []string      `json:"snapshots"`
	Failures  int           `json:"failures"`
	Skipped   bool          `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// RecordLocker serialises work on one record with the write path's mirror propagation.
type RecordLocker interface {
	LockRecord(table, id string) (unlock func())
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRecordLock makes each mirror repair hold the record lock shared with write propagation.
func WithRecordLock(locker RecordLocker) Option {
	return func(r *Reconciler) {
		if locker != nil {
			r.locker = locker
		}
	}
}

// Reconciler copies every primary-owned record to its mirrors and snapshots critical tables
// into the backup store. Passes never overlap; a pass requested while one runs is skipped.
type Reconciler struct {
	router  *stores.Router
	locker  RecordLocker
	running atomic.Bool
	log     *zap.Logger
}

// New constructs a reconciler over the router's route table.
func New(router *stores.Router, opts ...Option) *Reconciler {
	r := &Reconciler{
		router: router,
		log:    logger.WithModule("reconcile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Running reports whether a pass is in progress.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// RunOnce performs one pass. Mirror failures do not stop the pass; they are aggregated into
// the returned error after every route was visited.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		monitoring.RecordReconcileSkipped()
		r.log.Info("reconcile pass already running, skipping")
		return Report{Skipped: true}, nil
	}
	defer r.running.Store(false)

	start := time.Now()
	report := Report{Upserts: make(map[string]int), Removals: make(map[string]int)}
	var errs error

	for _, route := range r.router.Routes() {
		if route.Owner != stores.Primary || len(route.Mirrors) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if err := r.reconcileRoute(ctx, route, &report); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", route.Table, err))
		}
	}

	report.Duration = time.Since(start)
	fields := []zap.Field{
		zap.Int("failures", report.Failures),
		zap.Strings("snapshots", report.Snapshots),
		zap.Duration("duration", report.Duration),
	}
	if errs != nil {
		r.log.Warn("reconcile pass finished with errors", append(fields, zap.Error(errs))...)
	} else {
		r.log.Info("reconcile pass finished", fields...)
	}
	return report, errs
}

func (r *Reconciler) reconcileRoute(ctx context.Context, route stores.Route, report *Report) error {
	handle, ok := r.router.Registry().Handle(route.Owner)
	if !ok {
		return stores.ErrNotRegistered
	}
	source, ok := handle.(stores.Enumerator)
	if !ok {
		return fmt.Errorf("%w: %s cannot enumerate", stores.ErrUnsupported, route.Owner)
	}
	owner, ok := handle.(stores.Reader)
	if !ok {
		return fmt.Errorf("%w: %s cannot read", stores.ErrUnsupported, route.Owner)
	}

	mirrors := r.router.Mirrors(route)
	snapshotter := r.snapshotter(route)
	if len(mirrors) == 0 && snapshotter == nil {
		return nil
	}

	if _, ok := models.New(route.Entity); !ok {
		return fmt.Errorf("%w: %s", stores.ErrUnknownEntity, route.Entity)
	}
	newEntity := func() models.Entity {
		entity, _ := models.New(route.Entity)
		return entity
	}

	counts := make(map[stores.Name]int, len(mirrors))
	removed := make(map[stores.Name]int)
	var payload bytes.Buffer
	payload.WriteByte('[')
	rows := 0
	var errs error

	err := source.Scan(ctx, route, newEntity, func(scanned models.Entity) error {
		id := scanned.EntityKey()
		unlock := r.lockRecord(route.Table, id)
		defer unlock()

		// The batch may predate a delete or update, so mirrors get the owner's state as of now.
		entity := newEntity()
		if err := owner.Read(ctx, route, id, entity); err != nil {
			if !errors.Is(err, stores.ErrNotFound) {
				return err
			}
			for _, mirror := range mirrors {
				if err := mirror.Remove(ctx, route, id); err != nil {
					report.Failures++
					errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", mirror.Name(), id, err))
					continue
				}
				removed[mirror.Name()]++
			}
			return nil
		}

		for _, mirror := range mirrors {
			if err := mirror.Upsert(ctx, route, entity); err != nil {
				report.Failures++
				errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", mirror.Name(), id, err))
				continue
			}
			counts[mirror.Name()]++
		}
		if snapshotter != nil {
			data, err := json.Marshal(entity)
			if err != nil {
				return err
			}
			if rows > 0 {
				payload.WriteByte(',')
			}
			payload.Write(data)
		}
		rows++
		return nil
	})
	if err != nil {
		return multierr.Append(errs, err)
	}

	for name, n := range removed {
		report.Removals[string(name)+"/"+route.Table] += n
	}
	for name, n := range counts {
		report.Upserts[string(name)+"/"+route.Table] += n
		monitoring.RecordReconcileUpserts(string(name), route.Table, n)
	}

	if snapshotter != nil {
		payload.WriteByte(']')
		written, err := snapshotter.WriteSnapshot(ctx, route.Table, payload.Bytes())
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("snapshot: %w", err))
		}
		if written {
			report.Snapshots = append(report.Snapshots, route.Table)
			monitoring.RecordSnapshot(route.Table)
		}
	}
	return errs
}

func (r *Reconciler) lockRecord(table, id string) func() {
	if r.locker == nil {
		return func() {}
	}
	return r.locker.LockRecord(table, id)
}

func (r *Reconciler) snapshotter(route stores.Route) stores.Snapshotter {
	if !route.Critical || !r.router.Registry().Healthy(stores.Backup) {
		return nil
	}
	handle, ok := r.router.Registry().Handle(stores.Backup)
	if !ok {
		return nil
	}
	snapshotter, _ := handle.(stores.Snapshotter)
	return snapshotter
}
