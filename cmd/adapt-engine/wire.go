package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-adapt/internal/cache"
	"github.com/miradorstack/mirador-adapt/internal/config"
	"github.com/miradorstack/mirador-adapt/internal/decision"
	"github.com/miradorstack/mirador-adapt/internal/detector"
	"github.com/miradorstack/mirador-adapt/internal/engine"
	"github.com/miradorstack/mirador-adapt/internal/executor"
	"github.com/miradorstack/mirador-adapt/internal/export"
	"github.com/miradorstack/mirador-adapt/internal/features"
	"github.com/miradorstack/mirador-adapt/internal/monitor"
	"github.com/miradorstack/mirador-adapt/internal/severity"
)

// app holds the assembled pipeline and everything that must be closed with it.
type app struct {
	pipeline   *engine.Pipeline
	executor   *executor.LocalExecutor
	dispatcher *export.Dispatcher
	store      *export.SQLiteStore
}

// Close drains exports and releases sink connections.
func (a *app) Close() error {
	if a.dispatcher == nil {
		return nil
	}
	return a.dispatcher.Close()
}

func newSource(cfg *config.Config, logger *slog.Logger) (monitor.Source, error) {
	switch cfg.Monitor.Source {
	case "host":
		return monitor.NewHostSource(monitor.HostConfig{
			ProcPath:     cfg.Monitor.ProcPath,
			DiskPath:     cfg.Monitor.DiskPath,
			TopProcesses: cfg.Monitor.TopProcesses,
		}, clock.New(), logger)
	case "prometheus":
		return monitor.NewPrometheusSource(monitor.PrometheusConfig{
			URL:      cfg.Monitor.PrometheusURL,
			Instance: cfg.Monitor.Instance,
			Timeout:  cfg.Monitor.QueryTimeout,
		}, clock.New(), logger)
	case "synthetic":
		scenario, err := monitor.ParseScenario(cfg.Monitor.Scenario)
		if err != nil {
			return nil, err
		}
		sc := monitor.DefaultSyntheticConfig(scenario, cfg.Monitor.Seed)
		sc.Interval = cfg.Monitor.Interval
		return monitor.NewSyntheticSource(sc)
	}
	return nil, fmt.Errorf("unknown monitor source %q", cfg.Monitor.Source)
}

// newExportSinks opens every enabled sink. A sink that cannot connect is
// logged and skipped so the pipeline still runs.
func newExportSinks(ctx context.Context, cfg config.ExportConfig, logger *slog.Logger) ([]export.Sink, *export.SQLiteStore) {
	var (
		sinks []export.Sink
		store *export.SQLiteStore
	)
	if cfg.SQLite.Enabled {
		s, err := export.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			logger.Warn("sqlite export unavailable", slog.String("path", cfg.SQLite.Path), slog.Any("error", err))
		} else {
			store = s
			sinks = append(sinks, s)
		}
	}
	if cfg.Kafka.Enabled {
		k, err := export.NewKafkaSink(export.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		if err != nil {
			logger.Warn("kafka export unavailable", slog.Any("error", err))
		} else {
			sinks = append(sinks, k)
		}
	}
	if cfg.Valkey.Enabled {
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:        cfg.Valkey.Addr,
			Username:    cfg.Valkey.Username,
			Password:    cfg.Valkey.Password,
			DB:          cfg.Valkey.DB,
			DialTimeout: cfg.Valkey.DialTimeout,
			TLS:         cfg.Valkey.TLS,
		})
		if err != nil {
			logger.Warn("valkey snapshot unavailable", slog.String("addr", cfg.Valkey.Addr), slog.Any("error", err))
		} else {
			sinks = append(sinks, export.NewSnapshotSink(provider, cfg.Valkey.Key, cfg.Valkey.TTL))
		}
	}
	return sinks, store
}

// buildApp wires config into a ready, untrained pipeline reading from source.
func buildApp(ctx context.Context, cfg *config.Config, source monitor.Source, logger *slog.Logger, opts ...engine.Option) (*app, error) {
	extractor, err := features.NewExtractor(cfg.Pipeline.FeatureWindow)
	if err != nil {
		return nil, err
	}

	scorer, err := detector.NewScorer(detector.Config{
		Trees:              cfg.Detector.Trees,
		MaxSamples:         cfg.Detector.MaxSamples,
		MinSamples:         cfg.Pipeline.MinTrainingSamples,
		Contamination:      cfg.Detector.Contamination,
		AnomalyProbability: cfg.Detector.AnomalyProbability,
		Steepness:          cfg.Detector.Steepness,
		Seed:               cfg.Detector.Seed,
	}, detector.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build scorer: %w", err)
	}

	decider, err := decision.NewEngine(decision.Config{
		Thresholds: severity.Thresholds{
			Warning:   cfg.Severity.Warning,
			Critical:  cfg.Severity.Critical,
			Emergency: cfg.Severity.Emergency,
		},
		Cooldown:             cfg.Decision.Cooldown,
		LearningRate:         cfg.Decision.LearningRate,
		HistorySize:          cfg.Decision.HistorySize,
		NormalConfidence:     cfg.Decision.NormalConfidence,
		CriticalScaleFactor:  cfg.Decision.CriticalScaleFactor,
		EmergencyScaleFactor: cfg.Decision.EmergencyScaleFactor,
		InitialInstances:     cfg.Decision.InitialInstances,
	}, decision.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build decision engine: %w", err)
	}

	a := &app{}
	deps := engine.Dependencies{
		Source:    source,
		Extractor: extractor,
		Scorer:    scorer,
		Decider:   decider,
	}

	if cfg.Executor.Enabled {
		overrides, err := executor.LoadPlans(cfg.Executor.PlansPath, logger)
		if err != nil {
			return nil, err
		}
		exec, err := executor.NewLocalExecutor(executor.LocalConfig{
			InitialInstances: cfg.Decision.InitialInstances,
			MaxInstances:     cfg.Executor.MaxInstances,
			DryRun:           cfg.Executor.DryRun,
		}, executor.NewPlanner(overrides), executor.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("build executor: %w", err)
		}
		a.executor = exec
		deps.Executor = exec
	}

	sinks, store := newExportSinks(ctx, cfg.Export, logger)
	if len(sinks) > 0 {
		a.dispatcher = export.NewDispatcher(cfg.Export.QueueSize, logger, sinks...)
		a.dispatcher.Start()
		a.store = store
		deps.Exporter = a.dispatcher
	}

	pipeline, err := engine.NewPipeline(engine.Config{
		Interval:         cfg.Monitor.Interval,
		TrainingDuration: cfg.Pipeline.TrainingDuration,
		BufferSize:       cfg.Pipeline.BufferSize,
		Contamination:    cfg.Detector.Contamination,
		RetrainInterval:  cfg.Pipeline.RetrainInterval,
	}, deps, append([]engine.Option{engine.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	a.pipeline = pipeline
	return a, nil
}
