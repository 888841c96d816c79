// Package cdn mirrors storefront images and remembers where each image was
// mirrored to, so every distinct image is uploaded at most once.
package cdn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Store persists image key to URL entries.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, url string) (string, error)
	Flush(ctx context.Context) error
	Close() error
}

// Mirror copies the image at sourceURL somewhere durable and returns its
// public URL.
type Mirror interface {
	Mirror(ctx context.Context, key, sourceURL string) (string, error)
}

// Recorder receives cache and upload counts. *scraper.Metrics satisfies it.
type Recorder interface {
	IncUpload(outcome string)
	IncCacheLookup(result string)
}

// ErrEmptyKey is returned when an item carries no image key.
var ErrEmptyKey = errors.New("empty image key")

// Cache resolves image keys to mirrored URLs. Lookups go memo, then store,
// then a single upload flight per key shared by all concurrent callers.
// Failed flights leave nothing behind, so a later call retries the upload.
type Cache struct {
	store   Store
	mirror  Mirror
	memo    *lru.Cache[string, string]
	flights singleflight.Group
	metrics Recorder
	logger  *slog.Logger
}

// NewCache builds a cache with an in-memory memo of memoSize entries.
func NewCache(store Store, mirror Mirror, memoSize int, metrics Recorder, logger *slog.Logger) (*Cache, error) {
	memo, err := lru.New[string, string](memoSize)
	if err != nil {
		return nil, fmt.Errorf("create memo: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:   store,
		mirror:  mirror,
		memo:    memo,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Lookup returns the stored URL for key without uploading.
func (c *Cache) Lookup(ctx context.Context, key string) (string, bool, error) {
	if url, ok := c.memo.Get(key); ok {
		return url, true, nil
	}
	return c.store.Get(ctx, key)
}

// Resolve returns the mirrored URL for key, uploading sourceURL if no entry
// exists yet.
func (c *Cache) Resolve(ctx context.Context, key, sourceURL string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if url, ok := c.memo.Get(key); ok {
		c.record("memo")
		return url, nil
	}
	url, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		c.memo.Add(key, url)
		c.record("store")
		return url, nil
	}

	v, err, shared := c.flights.Do(key, func() (interface{}, error) {
		return c.upload(ctx, key, sourceURL)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("joined upload flight", slog.String("image_key", key))
	}
	return v.(string), nil
}

func (c *Cache) upload(ctx context.Context, key, sourceURL string) (string, error) {
	// A flight that finished between our store read and Do has already
	// written the entry.
	if url, ok, err := c.store.Get(ctx, key); err != nil {
		return "", err
	} else if ok {
		c.memo.Add(key, url)
		c.record("store")
		return url, nil
	}
	c.record("miss")

	mirrored, err := c.mirror.Mirror(ctx, key, sourceURL)
	if err != nil {
		c.countUpload("failed")
		return "", fmt.Errorf("mirror %s: %w", key, err)
	}
	stored, err := c.store.Put(ctx, key, mirrored)
	if err != nil {
		c.countUpload("failed")
		return "", err
	}
	c.countUpload("uploaded")
	c.memo.Add(key, stored)
	c.logger.Info("image mirrored",
		slog.String("image_key", key),
		slog.String("url", stored),
	)
	return stored, nil
}

// Flush makes every entry written so far durable.
func (c *Cache) Flush(ctx context.Context) error {
	return c.store.Flush(ctx)
}

// Close releases the store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) record(result string) {
	if c.metrics != nil {
		c.metrics.IncCacheLookup(result)
	}
}

func (c *Cache) countUpload(outcome string) {
	if c.metrics != nil {
		c.metrics.IncUpload(outcome)
	}
}
