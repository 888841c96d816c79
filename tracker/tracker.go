// Package tracker runs one scrape, mirror, diff and notify cycle at a time.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/aluiziolira/go-shop-tracker/diff"
	"github.com/aluiziolira/go-shop-tracker/errs"
	"github.com/aluiziolira/go-shop-tracker/models"
	"github.com/aluiziolira/go-shop-tracker/notify"
	"github.com/aluiziolira/go-shop-tracker/pipeline"
)

// LockFile guards the storage directory against concurrent cycles.
const LockFile = "tracker.lock"

const lockRetryDelay = 250 * time.Millisecond

// Outcome names how a successful cycle ended.
type Outcome string

const (
	FirstRun  Outcome = "first_run"
	Unchanged Outcome = "unchanged"
	Notified  Outcome = "notified"
)

// Scraper returns the merged catalog.
type Scraper interface {
	Scrape(ctx context.Context) ([]models.Item, error)
}

// ImageCache mirrors item images and makes its entries durable on Flush.
type ImageCache interface {
	pipeline.Resolver
	Flush(ctx context.Context) error
}

// Snapshots is the persisted latest item set.
type Snapshots interface {
	LoadLatest(ctx context.Context) ([]models.Item, bool, error)
	WriteNew(ctx context.Context, items []models.Item) (string, error)
}

// Metrics receives cycle outcomes. *scraper.Metrics satisfies it.
type Metrics interface {
	IncCycle(outcome string)
	IncError(errorType string)
	MarkSuccess(t time.Time)
}

// Result describes a finished cycle.
type Result struct {
	RunID    string
	Outcome  Outcome
	Items    int
	Diff     diff.Diff
	Snapshot string
	Duration time.Duration
}

// Options configures a Tracker.
type Options struct {
	// StorageDir holds the lock file.
	StorageDir string
	Workers    int
	Metrics    Metrics
	Logger     *slog.Logger
}

// Tracker wires the cycle steps together.
type Tracker struct {
	scraper   Scraper
	cache     ImageCache
	snapshots Snapshots
	notifier  notify.Notifier
	metrics   Metrics
	lockPath  string
	workers   int
	logger    *slog.Logger
}

// New builds a tracker.
func New(s Scraper, cache ImageCache, snapshots Snapshots, notifier notify.Notifier, opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Tracker{
		scraper:   s,
		cache:     cache,
		snapshots: snapshots,
		notifier:  notifier,
		metrics:   opts.Metrics,
		lockPath:  filepath.Join(opts.StorageDir, LockFile),
		workers:   opts.Workers,
		logger:    opts.Logger,
	}
}

// RunCycle performs one full cycle. Any error aborts the cycle before a
// snapshot is written, so the previous snapshot stays the latest.
func (t *Tracker) RunCycle(ctx context.Context) (Result, error) {
	runID := uuid.NewString()
	logger := t.logger.With(slog.String("run_id", runID))
	start := time.Now()

	logger.Info("cycle started")
	res, err := t.runCycle(ctx, logger)
	res.RunID = runID
	res.Duration = time.Since(start)

	if err != nil {
		label := errs.Label(err)
		t.metrics.IncError(label)
		t.metrics.IncCycle("failure")
		logger.Error("cycle failed",
			slog.String("error_type", label),
			slog.Any("error", err),
			slog.Duration("duration", res.Duration),
		)
		return res, err
	}

	t.metrics.IncCycle(string(res.Outcome))
	t.metrics.MarkSuccess(time.Now())
	logger.Info("cycle finished",
		slog.String("outcome", string(res.Outcome)),
		slog.Int("items", res.Items),
		slog.Int("changes", res.Diff.Len()),
		slog.String("snapshot", res.Snapshot),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (t *Tracker) runCycle(ctx context.Context, logger *slog.Logger) (Result, error) {
	var res Result

	unlock, err := t.lock(ctx)
	if err != nil {
		return res, err
	}
	defer unlock()

	scraped, err := t.scraper.Scrape(ctx)
	if err != nil {
		return res, fmt.Errorf("scrape: %w", err)
	}
	logger.Debug("catalog scraped", slog.Int("items", len(scraped)))

	items, err := pipeline.ResolveImages(ctx, t.cache, scraped, t.workers, logger)
	if err != nil {
		return res, fmt.Errorf("mirror images: %w", err)
	}
	if err := t.cache.Flush(ctx); err != nil {
		return res, fmt.Errorf("flush image cache: %w", err)
	}
	res.Items = len(items)

	previous, ok, err := t.snapshots.LoadLatest(ctx)
	if err != nil {
		return res, fmt.Errorf("load previous snapshot: %w", err)
	}
	if !ok {
		logger.Info("no previous snapshot, recording baseline")
		name, err := t.snapshots.WriteNew(ctx, items)
		if err != nil {
			return res, fmt.Errorf("write snapshot: %w", err)
		}
		res.Outcome = FirstRun
		res.Snapshot = name
		return res, nil
	}

	res.Diff = diff.Compute(previous, items)
	if res.Diff.IsEmpty() {
		res.Outcome = Unchanged
		return res, nil
	}

	logger.Info("catalog changed",
		slog.Int("added", len(res.Diff.Added)),
		slog.Int("updated", len(res.Diff.Changed)),
		slog.Int("removed", len(res.Diff.Removed)),
	)
	if err := t.notifier.Notify(ctx, res.Diff); err != nil {
		return res, fmt.Errorf("notify: %w", err)
	}

	name, err := t.snapshots.WriteNew(ctx, items)
	if err != nil {
		return res, fmt.Errorf("write snapshot: %w", err)
	}
	res.Outcome = Notified
	res.Snapshot = name
	return res, nil
}

// lock waits for the storage lock until ctx is done.
func (t *Tracker) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(t.lockPath), 0o755); err != nil {
		return nil, &errs.PersistenceError{Op: "create storage dir", Path: filepath.Dir(t.lockPath), Err: err}
	}

	fl := flock.New(t.lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, &errs.PersistenceError{Op: "lock", Path: t.lockPath, Err: err}
	}
	if !locked {
		t.logger.Info("storage is locked by another process, waiting", slog.String("path", t.lockPath))
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("wait for storage lock: %w", ctx.Err())
			}
			return nil, &errs.PersistenceError{Op: "lock", Path: t.lockPath, Err: err}
		}
		if !locked {
			return nil, &errs.PersistenceError{Op: "lock", Path: t.lockPath, Err: fmt.Errorf("lock not acquired")}
		}
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			t.logger.Warn("release storage lock", slog.Any("error", err))
		}
	}, nil
}

type noopMetrics struct{}

func (noopMetrics) IncCycle(string)       {}
func (noopMetrics) IncError(string)       {}
func (noopMetrics) MarkSuccess(time.Time) {}
