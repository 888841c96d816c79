package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/aluiziolira/go-shop-tracker/diff"
	"github.com/aluiziolira/go-shop-tracker/errs"
	"github.com/aluiziolira/go-shop-tracker/models"
	"github.com/aluiziolira/go-shop-tracker/snapshot"
)

type fakeScraper struct {
	items []models.Item
	err   error
	calls int
}

func (f *fakeScraper) Scrape(ctx context.Context) ([]models.Item, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Item, len(f.items))
	for i, it := range f.items {
		out[i] = it.Clone()
	}
	return out, nil
}

type fakeCache struct {
	mu      sync.Mutex
	fail    error
	flushes int
}

func (f *fakeCache) Resolve(ctx context.Context, key, sourceURL string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	return "https://cdn.example.test/" + key, nil
}

func (f *fakeCache) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

type fakeNotifier struct {
	err   error
	diffs []diff.Diff
}

func (f *fakeNotifier) Notify(ctx context.Context, d diff.Diff) error {
	f.diffs = append(f.diffs, d)
	return f.err
}

type fakeMetrics struct {
	cycles  []string
	errors  []string
	success int
}

func (m *fakeMetrics) IncCycle(outcome string)   { m.cycles = append(m.cycles, outcome) }
func (m *fakeMetrics) IncError(errorType string) { m.errors = append(m.errors, errorType) }
func (m *fakeMetrics) MarkSuccess(time.Time)     { m.success++ }

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

type harness struct {
	dir       string
	scraper   *fakeScraper
	cache     *fakeCache
	notifier  *fakeNotifier
	metrics   *fakeMetrics
	snapshots *snapshot.Store
	tracker   *Tracker
}

func newHarness(t *testing.T, items ...models.Item) *harness {
	t.Helper()
	h := &harness{
		dir:      t.TempDir(),
		scraper:  &fakeScraper{items: items},
		cache:    &fakeCache{},
		notifier: &fakeNotifier{},
		metrics:  &fakeMetrics{},
	}
	h.snapshots = snapshot.New(h.dir, &stepClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})
	h.tracker = New(h.scraper, h.cache, h.snapshots, h.notifier, Options{
		StorageDir: h.dir,
		Workers:    4,
		Metrics:    h.metrics,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func shopItem(id uint64, price uint64) models.Item {
	return models.Item{
		ID:       id,
		Title:    "Item",
		ImageURL: "https://shop.example.test/blobs/a.png",
		ImageKey: "k" + string(rune('a'+id)),
		Prices:   map[models.Region]uint64{models.UnitedStates: price},
	}
}

func (h *harness) snapshotCount(t *testing.T) int {
	t.Helper()
	names, err := h.snapshots.List()
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	return len(names)
}

func TestFirstRunWritesBaselineWithoutNotifying(t *testing.T) {
	h := newHarness(t, shopItem(2, 10), shopItem(1, 5))

	res, err := h.tracker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if res.Outcome != FirstRun || res.Items != 2 || res.RunID == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(h.notifier.diffs) != 0 {
		t.Fatalf("first run should not notify")
	}
	if h.cache.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", h.cache.flushes)
	}

	items, ok, err := h.snapshots.LoadLatest(context.Background())
	if err != nil || !ok || len(items) != 2 {
		t.Fatalf("latest = %d items, %v, %v", len(items), ok, err)
	}
	if items[0].ID != 1 || items[0].ImageURL != "https://cdn.example.test/"+shopItem(1, 5).ImageKey {
		t.Fatalf("snapshot should hold mirrored image URLs: %+v", items[0])
	}
	if len(h.metrics.cycles) != 1 || h.metrics.cycles[0] != "first_run" || h.metrics.success != 1 {
		t.Fatalf("metrics = %+v", h.metrics)
	}
}

func TestUnchangedCycleIsNoop(t *testing.T) {
	h := newHarness(t, shopItem(1, 5))
	if _, err := h.tracker.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	res, err := h.tracker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if res.Outcome != Unchanged {
		t.Fatalf("outcome = %s, want unchanged", res.Outcome)
	}
	if len(h.notifier.diffs) != 0 {
		t.Fatalf("unchanged cycle should not notify")
	}
	if n := h.snapshotCount(t); n != 1 {
		t.Fatalf("snapshots = %d, want 1", n)
	}
}

func TestChangedCycleNotifiesThenPersists(t *testing.T) {
	h := newHarness(t, shopItem(1, 5))
	if _, err := h.tracker.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	h.scraper.items = []models.Item{shopItem(1, 6), shopItem(3, 1)}
	res, err := h.tracker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if res.Outcome != Notified || res.Snapshot == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(h.notifier.diffs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.diffs))
	}
	d := h.notifier.diffs[0]
	if len(d.Added) != 1 || d.Added[0].ID != 3 || len(d.Changed) != 1 || d.Changed[0].New.Prices[models.UnitedStates] != 6 {
		t.Fatalf("diff = %+v", d)
	}
	if n := h.snapshotCount(t); n != 2 {
		t.Fatalf("snapshots = %d, want 2", n)
	}

	items, _, err := h.snapshots.LoadLatest(context.Background())
	if err != nil || len(items) != 2 {
		t.Fatalf("latest = %d items, %v", len(items), err)
	}
}

func TestFailedNotificationKeepsPreviousSnapshot(t *testing.T) {
	h := newHarness(t, shopItem(1, 5))
	if _, err := h.tracker.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	h.scraper.items = []models.Item{shopItem(1, 9)}
	h.notifier.err = &errs.TransportError{Op: "send webhook", URL: "https://hooks.example.test", StatusCode: 500}
	if _, err := h.tracker.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected notification error")
	}

	items, _, err := h.snapshots.LoadLatest(context.Background())
	if err != nil || len(items) != 1 || items[0].Prices[models.UnitedStates] != 5 {
		t.Fatalf("pointer should still name the old snapshot: %+v, %v", items, err)
	}
	if n := h.snapshotCount(t); n != 1 {
		t.Fatalf("snapshots = %d, want 1", n)
	}
	if got := h.metrics.errors; len(got) != 1 || got[0] != "transport" {
		t.Fatalf("error metrics = %v", got)
	}

	// The same change is reported again once delivery works.
	h.notifier.err = nil
	res, err := h.tracker.RunCycle(context.Background())
	if err != nil || res.Outcome != Notified {
		t.Fatalf("retry cycle = %+v, %v", res, err)
	}
}

func TestCycleAbortsBeforeSnapshotOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		label string
	}{
		{
			name: "scrape failure",
			setup: func(h *harness) {
				h.scraper.err = &errs.ExtractionError{Kind: errs.MissingField, Selector: "span.shop-item-card__price"}
			},
			label: "extraction",
		},
		{
			name: "region mismatch",
			setup: func(h *harness) {
				h.scraper.err = &errs.RegionConsistencyError{Want: "EU", Got: "United States"}
			},
			label: "region_consistency",
		},
		{
			name: "upload failure",
			setup: func(h *harness) {
				h.cache.fail = &errs.TransportError{Op: "upload image", URL: "https://cdn.example.test", StatusCode: 502}
			},
			label: "transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, shopItem(1, 5))
			tt.setup(h)

			if _, err := h.tracker.RunCycle(context.Background()); err == nil {
				t.Fatalf("expected error")
			}
			if n := h.snapshotCount(t); n != 0 {
				t.Fatalf("snapshots = %d, want 0", n)
			}
			if h.cache.flushes != 0 {
				t.Fatalf("cache flushed after a failure")
			}
			if len(h.metrics.cycles) != 1 || h.metrics.cycles[0] != "failure" {
				t.Fatalf("cycle metrics = %v", h.metrics.cycles)
			}
			if len(h.metrics.errors) != 1 || h.metrics.errors[0] != tt.label {
				t.Fatalf("error metrics = %v, want %s", h.metrics.errors, tt.label)
			}
		})
	}
}

func TestCycleWaitsForStorageLock(t *testing.T) {
	h := newHarness(t, shopItem(1, 5))

	other := flock.New(filepath.Join(h.dir, LockFile))
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("take lock: %v %v", locked, err)
	}
	t.Cleanup(func() { other.Unlock() })

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = h.tracker.RunCycle(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while the lock is held, got %v", err)
	}
	if h.scraper.calls != 0 {
		t.Fatalf("scrape ran without the lock")
	}

	if err := other.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := h.tracker.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle after unlock: %v", err)
	}
}
