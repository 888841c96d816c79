// Package pipeline resolves item images in parallel and writes item exports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-shop-tracker/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// Resolver maps an image key to a mirrored URL, uploading sourceURL if needed.
type Resolver interface {
	Resolve(ctx context.Context, key, sourceURL string) (string, error)
}

// OutputWriter defines the interface for export output.
type OutputWriter interface {
	Write(items []models.Item) error
	Close() error
	Validate() error
}

// Pipeline fans items out to workers that replace each image URL with its
// mirrored URL. The first failure stops the pipeline; items still queued
// are dropped.
type Pipeline struct {
	ctx      context.Context
	resolver Resolver
	itemCh   chan models.Item

	wg sync.WaitGroup

	resultsMu sync.Mutex
	results   []models.Item

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with a modest in-memory buffer.
func NewPipeline(ctx context.Context, resolver Resolver) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Pipeline{
		ctx:      ctx,
		resolver: resolver,
		itemCh:   make(chan models.Item, 256),
		shutdown: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues items for image resolution.
func (p *Pipeline) Process(items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, item := range items {
		if err := p.enqueue(item); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and returns the resolved items ordered
// by id, or the first error encountered.
func (p *Pipeline) Close() ([]models.Item, error) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.itemCh)
	})

	p.wg.Wait()
	p.signalShutdown()
	if err := p.Err(); err != nil {
		return nil, err
	}

	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	out := make([]models.Item, len(p.results))
	copy(out, p.results)
	models.SortItems(out)
	return out, nil
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				logger.Info("pipeline progress",
					slog.Int64("resolved", metrics["resolved_items"].(int64)),
					slog.Int64("dropped", metrics["dropped_items"].(int64)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for item := range p.itemCh {
		if p.Err() != nil {
			p.metrics.incrementDropped()
			continue
		}
		if err := p.ctx.Err(); err != nil {
			p.setErr(err)
			p.metrics.incrementDropped()
			continue
		}

		resolved, err := p.resolve(item)
		if err != nil {
			p.setErr(err)
			continue
		}

		p.resultsMu.Lock()
		p.results = append(p.results, resolved)
		p.resultsMu.Unlock()
		p.metrics.incrementResolved()
	}
}

func (p *Pipeline) resolve(item models.Item) (models.Item, error) {
	url, err := p.resolver.Resolve(p.ctx, item.ImageKey, item.ImageURL)
	if err != nil {
		return models.Item{}, fmt.Errorf("resolve image of item %d: %w", item.ID, err)
	}
	out := item.Clone()
	out.ImageURL = url
	return out, nil
}

func (p *Pipeline) enqueue(item models.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	if err := p.Err(); err != nil {
		return err
	}
	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.itemCh <- item:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = err
	p.closed = true
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

// progressInterval spaces the progress logs of ResolveImages.
var progressInterval = 10 * time.Second

// ResolveImages runs items through a pipeline with the given number of
// workers and returns them with mirrored image URLs. Progress is logged
// while uploads are running.
func ResolveImages(ctx context.Context, resolver Resolver, items []models.Item, workers int, logger *slog.Logger) ([]models.Item, error) {
	p := NewPipeline(ctx, resolver)
	p.Start(workers)
	p.StartMetricsReporting(progressInterval, logger)
	if err := p.Process(items); err != nil {
		p.Close()
		return nil, err
	}
	out, err := p.Close()
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debug("images resolved", slog.Int64("items", p.GetMetrics()["resolved_items"].(int64)))
	}
	return out, nil
}

type metrics struct {
	mu       sync.Mutex
	resolved int64
	dropped  int64
}

func (m *metrics) incrementResolved() {
	m.mu.Lock()
	m.resolved++
	m.mu.Unlock()
}

func (m *metrics) incrementDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"resolved_items": m.resolved,
		"dropped_items":  m.dropped,
	}
}
