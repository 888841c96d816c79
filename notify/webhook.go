package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/aluiziolira/go-shop-tracker/diff"
	"github.com/aluiziolira/go-shop-tracker/errs"
)

// Notifier delivers a non-empty diff.
type Notifier interface {
	Notify(ctx context.Context, d diff.Diff) error
}

// Webhook posts rendered messages to an incoming-webhook URL.
type Webhook struct {
	url    string
	opts   Options
	client *retryablehttp.Client
	logger *slog.Logger
}

// NewWebhook builds a webhook notifier.
func NewWebhook(url string, opts Options, client *retryablehttp.Client, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{url: url, opts: opts, client: client, logger: logger}
}

// Notify renders d and sends it.
func (w *Webhook) Notify(ctx context.Context, d diff.Diff) error {
	for _, item := range d.Added {
		w.logger.Info("notifying new item", slog.Uint64("id", item.ID), slog.String("title", item.Title))
	}
	for _, c := range d.Changed {
		w.logger.Info("notifying updated item", slog.Uint64("id", c.New.ID), slog.String("title", c.New.Title))
	}
	for _, item := range d.Removed {
		w.logger.Info("notifying removed item", slog.Uint64("id", item.ID), slog.String("title", item.Title))
	}
	if err := w.Send(ctx, Render(d, w.opts)); err != nil {
		return err
	}
	w.logger.Info("webhook notification sent", slog.Int("changes", d.Len()))
	return nil
}

// Send posts msg as JSON. Any non-2xx answer is a TransportError.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, payload)
	if err != nil {
		return &errs.TransportError{Op: "build webhook request", URL: w.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &errs.TransportError{Op: "send webhook", URL: w.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &errs.TransportError{
			Op:         "send webhook",
			URL:        w.url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", bytes.TrimSpace(body)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogNotifier writes the diff summary to the log instead of a webhook.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the summary and each changed item.
func (n LogNotifier) Notify(ctx context.Context, d diff.Diff) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(Summary(d),
		slog.Int("added", len(d.Added)),
		slog.Int("updated", len(d.Changed)),
		slog.Int("removed", len(d.Removed)),
	)
	for _, item := range d.Added {
		logger.Debug("new item", slog.Uint64("id", item.ID), slog.String("title", item.Title), slog.String("prices", FormatPrices(item.Prices)))
	}
	for _, c := range d.Changed {
		logger.Debug("updated item", slog.Uint64("id", c.New.ID), slog.String("title", c.New.Title), slog.String("prices", FormatPrices(c.New.Prices)))
	}
	for _, item := range d.Removed {
		logger.Debug("removed item", slog.Uint64("id", item.ID), slog.String("title", item.Title))
	}
	return nil
}
