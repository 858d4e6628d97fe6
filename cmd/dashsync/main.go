package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/fraudwatch-sync/internal/api"
	"github.com/rickgao/fraudwatch-sync/internal/archive"
	"github.com/rickgao/fraudwatch-sync/internal/config"
	"github.com/rickgao/fraudwatch-sync/internal/connection"
	"github.com/rickgao/fraudwatch-sync/internal/database"
	"github.com/rickgao/fraudwatch-sync/internal/facade"
	"github.com/rickgao/fraudwatch-sync/internal/metrics"
	"github.com/rickgao/fraudwatch-sync/internal/model"
	"github.com/rickgao/fraudwatch-sync/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("dashsync failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load configuration
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadAndValidate(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	// Set up structured logging
	logger := newLogger(cfg.Log, os.Stdout).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting dashsync",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"api_url", cfg.API.BaseURL,
		"ws_url", cfg.Connection.URL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)

	// Transports
	tokens := newTokenSource(cfg.API)
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithTokenSource(tokens),
	)
	dialer := connection.NewWebsocketDialer(websocketConfig(cfg.Connection), tokens, logger.With("component", "websocket"))

	deps := serverDeps{
		gatherer:    reg,
		metricsPath: cfg.HTTP.MetricsPath,
		logger:      logger.With("component", "http"),
	}

	// Optional archive
	var writer *archive.Writer
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Archive.Database.Host,
			"port", cfg.Archive.Database.Port,
			"database", cfg.Archive.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Archive.Database, logger)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer pool.Close()

		if err := archive.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = archive.NewWriter(archiveConfig(cfg.Archive), pool,
			archive.WithMetrics(met),
			archive.WithLogger(logger.With("component", "archive")),
		)
		deps.db = pool
		deps.archive = writer
	}

	sink := facade.EventSinkFunc(func(ev model.LiveEvent) error {
		logger.Info("live event",
			"id", ev.ID,
			"score", ev.Score,
			"risk_level", model.RiskLevel(ev.Score),
			"card_id", ev.CardID,
			"amount", ev.Amount,
			"reasons", ev.TopReasons(3),
		)
		if writer == nil {
			return nil
		}
		return writer.HandleLiveEvent(ev)
	})

	f := facade.New(facadeConfig(cfg), dialer, apiClient,
		facade.WithMetrics(met),
		facade.WithLogger(logger),
		facade.WithEventSink(sink),
	)
	f.Subscribe(func(st facade.State) {
		logger.Debug("state updated",
			"connection", st.ConnectionStatus.State,
			"live_events", len(st.LiveEvents),
			"fetches", len(st.FetchStates),
		)
	})

	deps.state = f
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           newHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if writer != nil {
		if err := writer.Start(gctx); err != nil {
			return fmt.Errorf("start archive writer: %w", err)
		}
	}

	g.Go(func() error {
		logger.Info("starting http server",
			"port", cfg.HTTP.Port,
			"metrics_path", cfg.HTTP.MetricsPath,
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := f.Start(gctx); err != nil {
			return fmt.Errorf("start facade: %w", err)
		}
		logger.Info("dashsync running",
			"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.HTTP.Port),
		)
		return nil
	})

	// Wait for shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := f.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("facade stop: %w", err))
		}
		if writer != nil {
			if err := writer.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("archive stop: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	logger.Info("dashsync stopped")
	return err
}
