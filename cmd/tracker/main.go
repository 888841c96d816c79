package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aluiziolira/go-shop-tracker/config"
)

var (
	v       = viper.New()
	logger  = slog.Default()
	envFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "tracker",
	Short:         "Track a storefront's catalog across regions and announce changes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadDotEnv(v, envFile); err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("log-format")
		l, level, err := newLogger(v.GetBool("verbose"), format)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(logger)
		slog.SetLogLoggerLevel(level.Level())
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file with configuration")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("log-format", "auto", "log format: auto, text or json")
	flags.String("storage", "", "storage directory (overrides STORAGE_PATH)")
	mustBind("verbose", flags.Lookup("verbose"))
	mustBind("storage_path", flags.Lookup("storage"))
	v.AutomaticEnv()
}

func mustBind(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// loadConfig reads the configuration. Commands that talk to the storefront
// need the full set; local commands only need storage settings.
func loadConfig(full bool) (*config.Config, error) {
	if full {
		cfg, err := config.Load(v)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Read(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(verbose bool, format string) (*slog.Logger, *slog.LevelVar, error) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "auto":
		if isTerminal(os.Stderr) {
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}

	return slog.New(handler), level, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
