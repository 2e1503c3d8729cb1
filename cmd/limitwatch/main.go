// limitwatch watches market quotes for limit-up moves across named views.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"limitwatch/internal/config"
	"limitwatch/internal/store"
	"limitwatch/internal/util"
	"limitwatch/internal/watchlist"
)

const version = "0.1.0"

var (
	cfgPath       string
	watchlistPath string
	plain         bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "limitwatch",
		Short: "Real-time limit-up watcher",
		Long: `limitwatch subscribes to a market data feed for every symbol in a set of
named views, keeps each view sorted by change percent and flags symbols that
reach the limit-up price before the daily threshold.`,
		SilenceUsage: true,
	}

	defaultCfg := "config/limitwatch.yaml"
	if p := os.Getenv("LIMITWATCH_CONFIG"); p != "" {
		defaultCfg = p
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultCfg, "Config file (YAML or .toml)")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Render tables without colors")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(viewsCmd())
	rootCmd.AddCommand(rememberCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(consoleCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("limitwatch version %s\n", version)
		},
	}
}

// loadConfig reads the config file. A missing file at the default location
// falls back to defaults and the environment, unvalidated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.FromEnv()
	}
	return cfg, err
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	util.SetDefault(logger)
	return logger
}

func openSettings(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.SettingsStore, error) {
	return store.Open(ctx, store.Options{
		Backend:     cfg.Storage.Backend,
		SQLitePath:  cfg.Storage.SQLitePath,
		JSONPath:    cfg.Storage.JSONPath,
		PostgresURL: cfg.Storage.PostgresURL,
	}, logger)
}

func threshold(cfg *config.Config) (*util.TradingCalendar, time.Time, error) {
	cal, err := util.LoadTradingCalendar(cfg.Engine.Timezone, cfg.Engine.ThresholdHour, cfg.Engine.ThresholdMinute)
	if err != nil {
		return nil, time.Time{}, err
	}
	return cal, cal.Threshold(time.Now()), nil
}

func rememberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remember PATH",
		Short: "Save the watchlist path used when run is given none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			path := args[0]
			if _, err := watchlist.Open(path); err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return err
			}

			settings, err := openSettings(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer settings.Close()
			if err := settings.Set(cmd.Context(), store.KeyWatchlistPath, path); err != nil {
				return err
			}
			fmt.Printf("watchlist path saved: %s\n", path)
			return nil
		},
	}
}
