package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/aluiziolira/go-shop-tracker/cdn"
	"github.com/aluiziolira/go-shop-tracker/config"
	"github.com/aluiziolira/go-shop-tracker/notify"
	"github.com/aluiziolira/go-shop-tracker/scraper"
	"github.com/aluiziolira/go-shop-tracker/snapshot"
)

// Build wires a tracker from configuration. The returned close function
// releases the image cache and the mirror.
func Build(ctx context.Context, cfg *config.Config, metrics *scraper.Metrics, logger *slog.Logger) (*Tracker, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := scraper.NewScraper(cfg, metrics, logger)
	if err != nil {
		return nil, nil, err
	}

	client := cdn.NewRetryClient(cfg.Timeout, cfg.MaxRetries, logger)
	mirror, closeMirror, err := OpenMirror(ctx, cfg, client)
	if err != nil {
		return nil, nil, err
	}

	cache, err := OpenCache(cfg, mirror, metrics, logger)
	if err != nil {
		closeMirror()
		return nil, nil, err
	}

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL, notify.Options{BaseURL: cfg.BaseURL}, client, logger)
	}

	t := New(s, cache, snapshot.New(cfg.StoragePath, nil), notifier, Options{
		StorageDir: cfg.StoragePath,
		Workers:    cfg.Parallelism,
		Metrics:    metrics,
		Logger:     logger,
	})
	closeAll := func() error {
		return errors.Join(cache.Close(), closeMirror())
	}
	return t, closeAll, nil
}

// OpenCache opens the upload cache stored under cfg.StoragePath. mirror
// may be nil for read-only lookups.
func OpenCache(cfg *config.Config, mirror cdn.Mirror, metrics *scraper.Metrics, logger *slog.Logger) (*cdn.Cache, error) {
	store, err := cdn.OpenStore(filepath.Join(cfg.StoragePath, cdn.StoreFile))
	if err != nil {
		return nil, err
	}
	cache, err := cdn.NewCache(store, mirror, cfg.CacheSize, metrics, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return cache, nil
}

// OpenMirror builds the mirror selected by cfg.MirrorBackend.
func OpenMirror(ctx context.Context, cfg *config.Config, client *retryablehttp.Client) (cdn.Mirror, func() error, error) {
	switch cfg.MirrorBackend {
	case config.MirrorHTTP:
		return cdn.NewHTTPMirror(cfg.CDNEndpoint, cfg.CDNToken, client), func() error { return nil }, nil
	case config.MirrorBucket:
		m, err := cdn.OpenBucketMirror(ctx, cfg.MirrorBucketURL, cfg.MirrorPublicURL, client)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown mirror backend %q", cfg.MirrorBackend)
	}
}
