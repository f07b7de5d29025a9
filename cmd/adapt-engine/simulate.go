package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-adapt/internal/config"
	"github.com/miradorstack/mirador-adapt/internal/engine"
	"github.com/miradorstack/mirador-adapt/internal/executor"
	"github.com/miradorstack/mirador-adapt/internal/export"
	"github.com/miradorstack/mirador-adapt/internal/models"
	"github.com/miradorstack/mirador-adapt/internal/monitor"
)

type simulateOptions struct {
	scenario string
	seed     int64
	training int
	samples  int
	db       string
	logLevel string
	asJSON   bool
}

// simulationReport summarises one replay of a synthetic scenario.
type simulationReport struct {
	Scenario       string            `json:"scenario"`
	TrainingSize   int               `json:"training_samples"`
	Samples        int               `json:"samples"`
	AnomalyStart   int               `json:"anomaly_start"`
	FirstDetection int               `json:"first_detection"`
	BySeverity     map[string]int    `json:"by_severity"`
	Statistics     engine.Statistics `json:"statistics"`
	Executor       *executor.Stats   `json:"executor,omitempty"`
	Stored         map[string]int    `json:"stored,omitempty"`
}

func newSimulateCmd(configPath *string) *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a synthetic anomaly scenario through the full pipeline",
		Long:  `Trains on synthetic normal load, then streams a scenario (` + scenarioList() + `) through detection, decision and execution without waiting on the wall clock.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			report, err := simulate(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&opts.scenario, "scenario", "s", "cpu_spike", "Scenario to replay")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "Random seed for the synthetic generator")
	cmd.Flags().IntVar(&opts.training, "training", 50, "Number of normal samples to train on")
	cmd.Flags().IntVarP(&opts.samples, "samples", "n", 100, "Number of scenario samples to replay")
	cmd.Flags().StringVar(&opts.db, "db", "", "Also store records in this SQLite file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level during the replay")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func scenarioList() string {
	out := ""
	for i, s := range monitor.Scenarios {
		if i > 0 {
			out += ", "
		}
		out += string(s)
	}
	return out
}

func simulate(ctx context.Context, cfg *config.Config, opts simulateOptions) (*simulationReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	scenario, err := monitor.ParseScenario(opts.scenario)
	if err != nil {
		return nil, err
	}
	if opts.training < cfg.Pipeline.MinTrainingSamples {
		return nil, fmt.Errorf("training needs at least %d samples, got %d", cfg.Pipeline.MinTrainingSamples, opts.training)
	}
	if opts.samples < 1 {
		return nil, fmt.Errorf("samples must be >= 1, got %d", opts.samples)
	}

	cfg.Logging.Level = opts.logLevel
	cfg.Logging.File = ""
	if opts.db != "" {
		cfg.Export.SQLite.Enabled = true
		cfg.Export.SQLite.Path = opts.db
	}
	logger := newLogger(cfg)

	trainCfg := monitor.DefaultSyntheticConfig(monitor.ScenarioNormal, opts.seed)
	trainCfg.Interval = cfg.Monitor.Interval
	trainSrc, err := monitor.NewSyntheticSource(trainCfg)
	if err != nil {
		return nil, err
	}
	training := trainSrc.Take(opts.training)

	replayCfg := monitor.DefaultSyntheticConfig(scenario, opts.seed+1)
	replayCfg.Interval = cfg.Monitor.Interval
	replayCfg.AnomalyStart = min(replayCfg.AnomalyStart, opts.samples/2)
	replayCfg.Length = opts.samples
	replay, err := monitor.NewSyntheticSource(replayCfg)
	if err != nil {
		return nil, err
	}
	replay.ContinueFrom(training[len(training)-1])

	a, err := buildApp(ctx, cfg, replay, logger)
	if err != nil {
		return nil, err
	}
	if err := a.pipeline.TrainFrom(training); err != nil {
		return nil, errors.Join(fmt.Errorf("train: %w", err), a.Close())
	}

	report := &simulationReport{
		Scenario:       string(scenario),
		TrainingSize:   len(training),
		Samples:        opts.samples,
		AnomalyStart:   replayCfg.AnomalyStart,
		FirstDetection: -1,
		BySeverity:     map[string]int{},
	}
	for i, sample := range replay.Take(opts.samples) {
		d, err := a.pipeline.Handle(ctx, sample)
		if err != nil {
			continue
		}
		report.BySeverity[d.Severity.String()]++
		if report.FirstDetection < 0 && d.Severity > models.SeverityNormal {
			report.FirstDetection = i
		}
	}

	if err := a.Close(); err != nil {
		logger.Warn("export shutdown", slog.Any("error", err))
	}
	report.Statistics = a.pipeline.Statistics()
	if a.executor != nil {
		stats := a.executor.Stats()
		report.Executor = &stats
	}
	if a.store != nil {
		// the dispatcher closed the store; reopen read-only counts
		if store, err := export.OpenSQLite(cfg.Export.SQLite.Path); err == nil {
			report.Stored, _ = store.CountBySeverity(ctx)
			_ = store.Close()
		}
	}
	return report, nil
}

func printReport(w io.Writer, r *simulationReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "scenario\t%s\n", r.Scenario)
	fmt.Fprintf(tw, "training samples\t%d\n", r.TrainingSize)
	fmt.Fprintf(tw, "replayed samples\t%d (anomaly from #%d)\n", r.Samples, r.AnomalyStart)
	if r.FirstDetection >= 0 {
		fmt.Fprintf(tw, "first detection\t#%d\n", r.FirstDetection)
	} else {
		fmt.Fprintf(tw, "first detection\tnone\n")
	}
	for _, sev := range []models.Severity{models.SeverityNormal, models.SeverityWarning, models.SeverityCritical, models.SeverityEmergency} {
		fmt.Fprintf(tw, "  %s\t%d\n", sev, r.BySeverity[sev.String()])
	}
	s := r.Statistics
	fmt.Fprintf(tw, "processed / skipped\t%d / %d\n", s.Processed, s.Skipped)
	fmt.Fprintf(tw, "anomalies\t%d\n", s.Anomalies)
	fmt.Fprintf(tw, "executions (failed)\t%d (%d)\n", s.Executions, s.ExecutionFailures)
	fmt.Fprintf(tw, "suppressed by cooldown\t%d\n", s.Decisions.Suppressed)
	fmt.Fprintf(tw, "final thresholds\t%.2f / %.2f / %.2f\n", s.Decisions.Thresholds.Warning, s.Decisions.Thresholds.Critical, s.Decisions.Thresholds.Emergency)
	fmt.Fprintf(tw, "instances\t%d\n", s.Decisions.State.Instances)
	fmt.Fprintf(tw, "latency p50 / p95\t%s / %s\n", s.Latency.P50, s.Latency.P95)
	if r.Executor != nil {
		fmt.Fprintf(tw, "executor success rate\t%.0f%%\n", r.Executor.SuccessRate*100)
	}
	if p := s.Decisions.Policy; p.Judged > 0 {
		fmt.Fprintf(tw, "policy success / precision / recall\t%.0f%% / %.0f%% / %.0f%%\n", p.SuccessRate*100, p.Precision*100, p.Recall*100)
		fmt.Fprintf(tw, "policy recommendations\t%v\n", p.Recommendations)
	}
	return tw.Flush()
}
