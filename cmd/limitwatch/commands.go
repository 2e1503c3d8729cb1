package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"limitwatch/internal/dashboard"
	"limitwatch/internal/engine"
	"limitwatch/internal/feed"
	"limitwatch/internal/live"
	"limitwatch/internal/metrics"
	"limitwatch/internal/watchlist"
	"limitwatch/pkg/limitwatch"
)

func replayCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Play a recorded feed through the views and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			cal, cutoff, err := threshold(cfg)
			if err != nil {
				return err
			}
			settings, err := openSettings(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer settings.Close()
			specs, err := loadViews(cmd.Context(), cfg, settings, logger)
			if err != nil {
				return err
			}

			opts := engineOptions(cfg, cutoff)
			opts.Reconnect = engine.ReconnectOptions{}
			opts.DrainOnShutdown = true
			client := feed.NewReplayClient(args[0], interval, logger)
			eng, err := engine.New(client, specs, nil, opts, logger, metrics.NopMetrics())
			if err != nil {
				return err
			}
			// The replay ends with a normal disconnect.
			if err := eng.Run(cmd.Context()); err != nil && !errors.Is(err, engine.ErrDisconnected) {
				return err
			}
			model := eng.Model()
			return dashboard.Render(os.Stdout, model.Views(), model.Status(),
				dashboard.Options{Threshold: cutoff, Location: cal.Location(), Plain: plain})
		},
	}
	cmd.Flags().StringVarP(&watchlistPath, "watchlist", "w", "", "Watchlist file (.csv, .xlsx, .yaml or .parquet)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Pause between replayed messages")
	return cmd
}

func viewsCmd() *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "views",
		Short: "List the views of the watchlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			settings, err := openSettings(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer settings.Close()
			specs, err := loadViews(cmd.Context(), cfg, settings, logger)
			if err != nil {
				return err
			}

			if export != "" {
				if err := watchlist.WriteParquet(export, specs); err != nil {
					return err
				}
				fmt.Printf("exported %d views to %s\n", len(specs), export)
				return nil
			}
			for _, s := range specs {
				fmt.Printf("%s (%s)\n", s.Name, dashboard.FormatInt(len(s.Entries)))
				for _, e := range s.Entries {
					fmt.Printf("  %-8s %s\n", e.Symbol, e.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&watchlistPath, "watchlist", "w", "", "Watchlist file (.csv, .xlsx, .yaml or .parquet)")
	cmd.Flags().StringVar(&export, "export", "", "Write the views to a parquet file")
	return cmd
}

func statusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the views of a running limitwatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := limitwatch.NewClient(addr)
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			views, err := c.Views(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("views: %d  subscriptions: %d  readers: %d\n", st.Views, st.Subscriptions, st.Readers)
			return dashboard.Render(os.Stdout, views, st.Status,
				dashboard.Options{Threshold: st.Threshold, Location: st.Threshold.Location(), Plain: plain})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "limitwatch HTTP address")
	return cmd
}

func consoleCmd() *cobra.Command {
	var remote string
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Mirror a running limitwatch over gRPC and redraw its views",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			cal, cutoff, err := threshold(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			model := live.NewModel()
			client := live.NewClient(remote, model, logger)
			errc := make(chan error, 1)
			go func() { errc <- client.Sync(ctx) }()

			opts := dashboard.Options{Threshold: cutoff, Location: cal.Location(), Plain: plain}
			go consoleLoop(ctx, model, refresh, opts, os.Stdout)

			select {
			case <-ctx.Done():
				return nil
			case err := <-errc:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "localhost:50051", "limitwatch gRPC address")
	cmd.Flags().DurationVar(&refresh, "refresh", 2*time.Second, "Redraw interval")
	return cmd
}
