package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-adapt/internal/api"
	"github.com/miradorstack/mirador-adapt/internal/config"
	"github.com/miradorstack/mirador-adapt/internal/detector"
	"github.com/miradorstack/mirador-adapt/internal/engine"
	"github.com/miradorstack/mirador-adapt/internal/metrics"
	"github.com/miradorstack/mirador-adapt/internal/utils"
)

func newRunCmd(configPath *string) *cobra.Command {
	var modelPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train on live samples, then monitor and adapt until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if modelPath != "" {
				cfg.Detector.ModelPath = modelPath
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "load the anomaly model from this file instead of training, and save retrained models to it")
	return cmd
}

func newLogger(cfg *config.Config) *slog.Logger {
	return utils.NewLoggerWithOptions(utils.LogOptions{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.JSON,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger(cfg)
	logger.Info("starting mirador-adapt", slog.String("version", version), slog.String("source", cfg.Monitor.Source))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	// server is assigned before any model can be installed.
	var server *api.Server
	opts := []engine.Option{engine.WithTrainedHook(func(meta detector.Metadata) {
		if server != nil {
			server.ModelTrained(meta)
		}
	})}
	var a *app
	if path := cfg.Detector.ModelPath; path != "" {
		opts = append(opts, engine.WithTrainedHook(func(detector.Metadata) {
			if err := saveModelFile(a.pipeline, path); err != nil {
				logger.Warn("model save failed", slog.String("path", path), slog.Any("error", err))
				return
			}
			logger.Info("model saved", slog.String("path", path))
		}))
	}
	a, err = buildApp(ctx, cfg, source, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("export shutdown", slog.Any("error", err))
		}
	}()

	if cfg.Server.Address != "" {
		server, err = api.NewServer(cfg.Server, api.NewStatusService(a.pipeline))
		if err != nil {
			return err
		}
	}
	metricsServer := startMetricsServer(cfg.Server.MetricsAddress, logger, stop)
	defer shutdown(server, metricsServer, cfg.Server.GracefulTimeout, logger)
	if server != nil {
		go func() {
			logger.Info("gRPC server listening", slog.String("address", server.Address()))
			if serveErr := server.Start(); serveErr != nil {
				logger.Error("gRPC server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
	}

	meta, loaded, err := loadModelFile(a.pipeline, cfg.Detector.ModelPath)
	switch {
	case err != nil:
		return err
	case loaded:
		logger.Info("skipping training, model loaded",
			slog.String("path", cfg.Detector.ModelPath),
			slog.Int("samples", meta.SampleCount),
			slog.Time("trained_at", meta.TrainedAt),
		)
		if server != nil {
			server.ModelTrained(meta)
		}
	default:
		if err := a.pipeline.Initialize(ctx, cfg.Pipeline.TrainingDuration); err != nil {
			if ctx.Err() != nil {
				logger.Info("shutdown signal received during training")
				return nil
			}
			return err
		}
	}

	if err := a.pipeline.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown signal received")
	stats := a.pipeline.Statistics()
	logger.Info("mirador-adapt stopped",
		slog.Int("processed", stats.Processed),
		slog.Int("anomalies", stats.Anomalies),
		slog.Int("executions", stats.Executions),
	)
	return nil
}

func startMetricsServer(addr string, logger *slog.Logger, stop context.CancelFunc) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server exited", slog.Any("error", err))
			stop()
		}
	}()
	return srv
}

func shutdown(server *api.Server, metricsServer *http.Server, timeout time.Duration, logger *slog.Logger) {
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		server.Shutdown(ctx)
		cancel()
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancel()
	}
}
