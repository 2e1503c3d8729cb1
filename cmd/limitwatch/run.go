package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"limitwatch/internal/config"
	"limitwatch/internal/dashboard"
	"limitwatch/internal/domain"
	"limitwatch/internal/engine"
	"limitwatch/internal/feed"
	"limitwatch/internal/httpapi"
	"limitwatch/internal/live"
	"limitwatch/internal/metrics"
	"limitwatch/internal/notify"
	"limitwatch/internal/store"
	"limitwatch/internal/subscription"
	"limitwatch/internal/util"
	"limitwatch/internal/watchlist"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the configured feed and serve the views",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&watchlistPath, "watchlist", "w", "", "Watchlist file (.csv, .xlsx, .yaml or .parquet)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)
	cal, cutoff, err := threshold(cfg)
	if err != nil {
		return err
	}

	settings, err := openSettings(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	defer settings.Close()

	specs, err := loadViews(ctx, cfg, settings, logger)
	if err != nil {
		return err
	}

	client, closeFeed, err := newFeed(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeed()

	// Bind the listeners before anything starts so a taken port fails fast.
	var httpLis, grpcLis net.Listener
	if addr := cfg.Server.HTTPAddr; addr != "" {
		if httpLis, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		defer httpLis.Close()
	}
	if addr := cfg.Server.GRPCAddr; addr != "" {
		if grpcLis, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		defer grpcLis.Close()
	}

	m := metrics.PrometheusMetrics("limitwatch")
	model := live.NewModel()
	eng, err := engine.New(client, specs, model, engineOptions(cfg, cutoff), logger, m)
	if err != nil {
		return err
	}
	logger.Info("starting limitwatch",
		"feed", client.Name(), "views", len(specs), "threshold", cutoff.Format(time.RFC3339))
	if now := time.Now(); !cal.IsMarketOpen(now) {
		logger.Info("market closed", "next_open", cal.NextOpen(now).Format(time.RFC3339))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if httpLis != nil {
		srv := &http.Server{
			Handler: httpapi.NewServer(model, eng, settings, cutoff, logger).Handler(),
		}
		g.Go(func() error {
			logger.Info("http listening", "addr", httpLis.Addr().String())
			if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if grpcLis != nil {
		gs := live.NewGRPCServer()
		live.NewServer(model, logger).RegisterGRPC(gs)
		g.Go(func() error {
			logger.Info("grpc listening", "addr", grpcLis.Addr().String())
			return gs.Serve(grpcLis)
		})
		g.Go(func() error {
			<-gctx.Done()
			gs.Stop()
			return nil
		})
	}

	if sinks := alertSinks(cfg, logger); len(sinks) > 0 {
		fwd := notify.NewForwarder(model, sinks, logger, m)
		g.Go(func() error { return fwd.Run(gctx) })
	}

	if cfg.Console.Enabled {
		opts := dashboard.Options{Threshold: cutoff, Location: cal.Location(), Plain: plain}
		g.Go(func() error { return consoleLoop(gctx, model, cfg.Console.Refresh, opts, os.Stdout) })
	}

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("limitwatch stopped")
		return nil
	}
	return err
}

func engineOptions(cfg *config.Config, cutoff time.Time) engine.Options {
	return engine.Options{
		Threshold: cutoff,
		Queue: engine.QueueOptions{
			Policy:    cfg.Engine.QueuePolicy,
			Capacity:  cfg.Engine.QueueCapacity,
			HighWater: cfg.Engine.QueueHighWater,
		},
		Subscription: subscription.Options{
			AckTimeout: cfg.Feed.SubscribeTimeout,
			MaxRetries: cfg.Feed.SubscribeRetries,
		},
		DrainOnShutdown:       cfg.Engine.DrainOnShutdown,
		UnsubscribeOnShutdown: cfg.Engine.UnsubscribeOnShutdown,
		AckCheckInterval:      cfg.Engine.AckCheckPeriod,
		Reconnect: engine.ReconnectOptions{
			MaxAttempts: cfg.Feed.Reconnect.MaxAttempts,
			BaseDelay:   cfg.Feed.Reconnect.BaseDelay,
		},
	}
}

// loadViews resolves the watchlist: Alpaca watchlists when configured,
// otherwise the --watchlist flag, the config path or the saved path, in that
// order. A file that loads is saved for the next start.
func loadViews(ctx context.Context, cfg *config.Config, settings store.SettingsStore, logger *slog.Logger) ([]domain.ViewSpec, error) {
	if cfg.Watchlist.Alpaca {
		src := watchlist.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Watchlist.Names)
		specs, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading alpaca watchlists: %w", err)
		}
		return watchlist.Clean(specs, logger), nil
	}

	path := watchlistPath
	if path == "" {
		path = cfg.Watchlist.Path
	}
	if path == "" {
		saved, err := settings.Get(ctx, store.KeyWatchlistPath)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.New("no watchlist given and none saved; pass --watchlist")
		}
		if err != nil {
			return nil, fmt.Errorf("reading saved watchlist path: %w", err)
		}
		logger.Info("using saved watchlist", "path", saved)
		path = saved
	}

	specs, err := watchlist.Load(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("watchlist %s defines no views", path)
	}
	if err := settings.Set(ctx, store.KeyWatchlistPath, path); err != nil {
		logger.Warn("saving watchlist path", "error", err)
	}
	return specs, nil
}

// newFeed builds the configured feed client. The returned func releases
// resources the client does not own, such as the recording file.
func newFeed(cfg *config.Config, logger *slog.Logger) (feed.Client, func(), error) {
	switch cfg.Feed.Kind {
	case "alpaca":
		return feed.NewAlpacaClient(feed.AlpacaOptions{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			DataURL:   cfg.Alpaca.DataURL,
			StreamURL: cfg.Alpaca.StreamURL,
			Feed:      cfg.Alpaca.Feed,
		}, logger), func() {}, nil
	case "replay":
		return feed.NewReplayClient(cfg.Feed.ReplayPath, cfg.Feed.ReplayInterval, logger), func() {}, nil
	}

	options := []func(*feed.WSClient){
		feed.WithLogger(logger),
		feed.WithPingPeriod(cfg.Feed.PingPeriod),
		feed.WithRateLimiter(util.NewRateLimiter(cfg.Feed.SubscribeRate, 5)),
	}
	if cfg.Feed.APIKey != "" {
		options = append(options, feed.WithAPIKey(cfg.Feed.APIKey))
	}
	closer := func() {}
	if cfg.Feed.RecordPath != "" {
		f, err := os.OpenFile(cfg.Feed.RecordPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening feed recording: %w", err)
		}
		options = append(options, feed.WithRecorder(f))
		closer = func() { f.Close() }
		logger.Info("recording feed", "path", cfg.Feed.RecordPath)
	}
	return feed.NewWSClient(cfg.Feed.URL, options...), closer, nil
}

func alertSinks(cfg *config.Config, logger *slog.Logger) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Alerts.Log {
		sinks = append(sinks, notify.NewLogSink(logger))
	}
	if cfg.Alerts.RedisAddr != "" {
		sinks = append(sinks, notify.NewRedisSink(cfg.Alerts.RedisAddr, cfg.Alerts.RedisDB, cfg.Alerts.RedisTTL))
	}
	if len(cfg.Alerts.KafkaBrokers) > 0 {
		sinks = append(sinks, notify.NewKafkaSink(cfg.Alerts.KafkaBrokers, cfg.Alerts.KafkaTopic))
	}
	return sinks
}

// consoleLoop redraws the views every refresh until ctx is done.
func consoleLoop(ctx context.Context, model *live.Model, refresh time.Duration, opts dashboard.Options, w io.Writer) error {
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(w, "\033[H\033[2J")
			if err := dashboard.Render(w, model.Views(), model.Status(), opts); err != nil {
				return err
			}
		}
	}
}
