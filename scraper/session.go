package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-shop-tracker/config"
	"github.com/aluiziolira/go-shop-tracker/errs"
	"github.com/aluiziolira/go-shop-tracker/models"
)

const (
	shopPath         = "shop"
	updateRegionPath = "shop/update_region"
)

// Session fetches storefront pages with the configured session cookie.
// Redirects are never followed, so an expired cookie surfaces as a 302.
type Session struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics
	logger    *slog.Logger
}

// NewSession builds a synchronous collector bound to the shop host.
func NewSession(cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*Session, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Session{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
		logger:    logger,
	}
	s.configureHandlers()
	return s, nil
}

func (s *Session) configureHandlers() {
	s.collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Cookie", s.cfg.Cookie)
		r.Headers.Set("User-Agent", s.cfg.UserAgent)
		r.Ctx.Put("start", time.Now())
		s.metrics.IncRequest(r.Method)
		s.logger.Debug("storefront request",
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
		)
	})

	s.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("status", r.StatusCode)
		r.Ctx.Put("body", r.Body)
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.metrics.ObserveDuration(time.Since(start))
		}
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		if r == nil {
			return
		}
		if r.Ctx != nil {
			r.Ctx.Put("status", r.StatusCode)
		}
		target := ""
		if r.Request != nil && r.Request.URL != nil {
			target = r.Request.URL.String()
		}
		s.logger.Error("storefront request failed",
			slog.String("url", target),
			slog.Int("status", r.StatusCode),
			slog.Any("error", err),
		)
	})
}

// FetchShop returns the markup of the shop page.
func (s *Session) FetchShop(ctx context.Context) (string, error) {
	body, err := s.do(ctx, http.MethodGet, shopPath, nil, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// SelectRegion switches the session's active region.
func (s *Session) SelectRegion(ctx context.Context, region models.Region, csrfToken string) error {
	form := url.Values{"region": {region.Code()}}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	hdr.Set("X-CSRF-Token", csrfToken)
	_, err := s.do(ctx, http.MethodPatch, updateRegionPath, strings.NewReader(form.Encode()), hdr)
	return err
}

func (s *Session) do(ctx context.Context, method, path string, body io.Reader, hdr http.Header) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target := s.cfg.ShopURL(path)
	reqCtx := colly.NewContext()

	err := s.collector.Request(method, target, body, reqCtx, hdr)
	status, _ := reqCtx.GetAny("status").(int)
	if err != nil {
		return nil, &errs.TransportError{Op: method, URL: target, StatusCode: status, Err: err}
	}
	if status != http.StatusOK {
		return nil, &errs.TransportError{Op: method, URL: target, StatusCode: status, Err: fmt.Errorf("unexpected status")}
	}
	raw, _ := reqCtx.GetAny("body").([]byte)
	return raw, nil
}
