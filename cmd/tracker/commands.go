package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-shop-tracker/pipeline"
	"github.com/aluiziolira/go-shop-tracker/scraper"
	"github.com/aluiziolira/go-shop-tracker/snapshot"
	"github.com/aluiziolira/go-shop-tracker/tracker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scrape cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		t, closeTracker, err := tracker.Build(ctx, cfg, scraper.NewMetrics(), logger)
		if err != nil {
			return err
		}
		defer closeAndLog(closeTracker)

		res, err := t.RunCycle(ctx)
		if err != nil {
			return err
		}
		printSummary(res)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run cycles on an interval until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		metrics := scraper.NewMetrics()
		t, closeTracker, err := tracker.Build(ctx, cfg, metrics, logger)
		if err != nil {
			return err
		}
		defer closeAndLog(closeTracker)

		if cfg.MetricsAddr != "" {
			srv := &http.Server{
				Addr:    cfg.MetricsAddr,
				Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", slog.Any("error", err))
				}
			}()
			logger.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("metrics server shutdown failed", slog.Any("error", err))
				}
			}()
		}

		logger.Info("watching storefront",
			slog.String("base_url", cfg.BaseURL),
			slog.Duration("interval", cfg.Interval),
		)

		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			// Failed cycles are logged and counted by RunCycle; the next tick retries.
			if _, err := t.RunCycle(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("cycle failed, retrying on next tick", slog.Any("error", err))
			}
			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
				return nil
			case <-ticker.C:
			}
		}
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the latest snapshot as CSV or JSONL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		items, ok, err := snapshot.New(cfg.StoragePath, nil).LoadLatest(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no snapshot in %s yet, run a cycle first", cfg.StoragePath)
		}

		writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
		if err != nil {
			return err
		}
		if err := writer.Write(items); err != nil {
			writer.Close()
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation: %w", err)
		}

		logger.Info("export complete",
			slog.Int("items", len(items)),
			slog.String("format", cfg.OutputFormat),
			slog.String("output", cfg.OutputFile),
		)
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the image upload cache",
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <image-key>",
	Short: "Print the mirrored URL stored for an image key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		cache, err := tracker.OpenCache(cfg, nil, nil, logger)
		if err != nil {
			return err
		}
		defer closeAndLog(cache.Close)

		url, ok, err := cache.Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no cache entry for %q", args[0])
		}
		fmt.Println(url)
		return nil
	},
}

func init() {
	watchCmd.Flags().Duration("interval", 0, "time between cycles (overrides INTERVAL)")
	watchCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address, e.g. :9090")
	mustBind("interval", watchCmd.Flags().Lookup("interval"))
	mustBind("metrics_addr", watchCmd.Flags().Lookup("metrics-addr"))

	exportCmd.Flags().String("format", "", "output format: csv, json or dual")
	exportCmd.Flags().String("output", "", "output file path")
	mustBind("format", exportCmd.Flags().Lookup("format"))
	mustBind("output", exportCmd.Flags().Lookup("output"))

	cacheCmd.AddCommand(cacheGetCmd)
	rootCmd.AddCommand(runCmd, watchCmd, exportCmd, cacheCmd)
}

func closeAndLog(fn func() error) {
	if err := fn(); err != nil {
		logger.Error("close", slog.Any("error", err))
	}
}

func printSummary(res tracker.Result) {
	separator := "--------------------------------------------------"
	fmt.Println(separator)
	fmt.Println("Cycle complete")
	fmt.Printf("  Run ID:    %s\n", res.RunID)
	fmt.Printf("  Outcome:   %s\n", res.Outcome)
	fmt.Printf("  Items:     %d\n", res.Items)
	fmt.Printf("  Added:     %d\n", len(res.Diff.Added))
	fmt.Printf("  Updated:   %d\n", len(res.Diff.Changed))
	fmt.Printf("  Removed:   %d\n", len(res.Diff.Removed))
	if res.Snapshot != "" {
		fmt.Printf("  Snapshot:  %s\n", res.Snapshot)
	}
	fmt.Printf("  Duration:  %v\n", res.Duration)
	fmt.Println(separator)
}
