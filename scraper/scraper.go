// Package scraper reads the storefront under every region and merges the
// listings into canonical items.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aluiziolira/go-shop-tracker/config"
	"github.com/aluiziolira/go-shop-tracker/errs"
	"github.com/aluiziolira/go-shop-tracker/models"
	"github.com/aluiziolira/go-shop-tracker/parser"
)

// Fetcher is the storefront transport used by Scraper.
type Fetcher interface {
	FetchShop(ctx context.Context) (string, error)
	SelectRegion(ctx context.Context, region models.Region, csrfToken string) error
}

// Scraper drives one full scrape across all regions.
type Scraper struct {
	fetcher   Fetcher
	extractor *parser.Extractor
	regions   []models.Region
	Metrics   *Metrics
	logger    *slog.Logger
}

// NewScraper builds a scraper backed by a colly session.
func NewScraper(cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*Scraper, error) {
	session, err := NewSession(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return New(session, &parser.Extractor{BaseURL: base}, metrics, logger), nil
}

// New assembles a scraper from its parts.
func New(fetcher Fetcher, extractor *parser.Extractor, metrics *Metrics, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = &parser.Extractor{}
	}
	return &Scraper{
		fetcher:   fetcher,
		extractor: extractor,
		regions:   models.Regions(),
		Metrics:   metrics,
		logger:    logger,
	}
}

// Scrape fetches the CSRF token once, then reads every region in
// enumeration order and merges the result.
func (s *Scraper) Scrape(ctx context.Context) ([]models.Item, error) {
	markup, err := s.fetcher.FetchShop(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch csrf token: %w", err)
	}
	token, err := parser.CSRFToken(markup)
	if err != nil {
		return nil, err
	}

	return Merge(ctx, s.regions, func(ctx context.Context, region models.Region) ([]models.Listing, error) {
		return s.ScrapeRegion(ctx, region, token)
	})
}

// ScrapeRegion selects region, reloads the shop and extracts its cards. The
// page must confirm the selection before any card is read.
func (s *Scraper) ScrapeRegion(ctx context.Context, region models.Region, csrfToken string) ([]models.Listing, error) {
	if err := s.fetcher.SelectRegion(ctx, region, csrfToken); err != nil {
		return nil, err
	}
	markup, err := s.fetcher.FetchShop(ctx)
	if err != nil {
		return nil, err
	}

	selected, err := parser.SelectedRegion(markup)
	if err != nil {
		return nil, err
	}
	if selected != region.String() {
		return nil, &errs.RegionConsistencyError{Want: region.String(), Got: selected}
	}

	listings, err := s.extractor.Extract(markup, region)
	if err != nil {
		return nil, err
	}
	s.Metrics.AddItems(region.Code(), len(listings))
	s.logger.Debug("region scraped",
		slog.String("region", region.Code()),
		slog.Int("items", len(listings)),
	)
	return listings, nil
}
