package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-adapt/internal/decision"
	"github.com/miradorstack/mirador-adapt/internal/detector"
	"github.com/miradorstack/mirador-adapt/internal/executor"
	"github.com/miradorstack/mirador-adapt/internal/export"
	"github.com/miradorstack/mirador-adapt/internal/features"
	"github.com/miradorstack/mirador-adapt/internal/metrics"
	"github.com/miradorstack/mirador-adapt/internal/models"
	"github.com/miradorstack/mirador-adapt/internal/monitor"
	"github.com/miradorstack/mirador-adapt/internal/utils"
)

// Config holds orchestrator tunables.
type Config struct {
	Interval         time.Duration
	TrainingDuration time.Duration
	BufferSize       int
	Contamination    float64
	// RetrainInterval enables periodic retraining from the buffer when positive.
	RetrainInterval time.Duration
}

// DefaultConfig samples at 1Hz, trains for 30s and keeps 1000 samples.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Second,
		TrainingDuration: 30 * time.Second,
		BufferSize:       1000,
		Contamination:    0.05,
	}
}

// Dependencies are the collaborators a Pipeline drives. Executor and
// Exporter are optional.
type Dependencies struct {
	Source    monitor.Source
	Extractor *features.Extractor
	Scorer    *detector.Scorer
	Decider   *decision.Engine
	Executor  executor.Executor
	Exporter  *export.Dispatcher
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock driving sampling and retraining.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithTrainedHook registers fn to run after every successful model install.
func WithTrainedHook(fn func(detector.Metadata)) Option {
	return func(p *Pipeline) { p.onTrained = append(p.onTrained, fn) }
}

// instanceReporter is implemented by executors that track capacity.
type instanceReporter interface {
	Instances() int
}

// Pipeline wires monitor, features, scorer, classifier and decision engine
// into one FIFO per-sample loop.
type Pipeline struct {
	cfg       Config
	deps      Dependencies
	clock     clock.Clock
	logger    *slog.Logger
	onTrained []func(detector.Metadata)

	// mu serialises sample processing so decisions keep arrival order.
	mu       sync.Mutex
	buffer   []models.RawSample
	last     time.Time
	latency  *utils.LatencyTracker
	counters counters

	retraining  atomic.Bool
	lastTrained atomic.Int64
}

type counters struct {
	processed         int
	skipped           int
	anomalies         int
	pauses            int
	executions        int
	executionFailures int
	exported          int
}

// NewPipeline validates cfg and deps.
func NewPipeline(cfg Config, deps Dependencies, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline requires a monitor source")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline requires a feature extractor")
	case deps.Scorer == nil:
		return nil, errors.New("pipeline requires an anomaly scorer")
	case deps.Decider == nil:
		return nil, errors.New("pipeline requires a decision engine")
	case cfg.Interval <= 0:
		return nil, fmt.Errorf("sampling interval must be positive, got %s", cfg.Interval)
	case cfg.Contamination <= 0 || cfg.Contamination >= 1:
		return nil, fmt.Errorf("contamination must be in (0,1), got %v", cfg.Contamination)
	}
	if cfg.BufferSize < deps.Extractor.Window()+1 {
		cfg.BufferSize = deps.Extractor.Window() + 1
	}

	p := &Pipeline{
		cfg:     cfg,
		deps:    deps,
		clock:   clock.New(),
		logger:  slog.Default(),
		buffer:  make([]models.RawSample, 0, cfg.BufferSize),
		latency: utils.NewLatencyTracker(1024),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Initialize collects samples for duration and trains the first model.
// Any failure is wrapped in InitializationError.
func (p *Pipeline) Initialize(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		duration = p.cfg.TrainingDuration
	}
	p.logger.Info("collecting training samples", slog.Duration("duration", duration), slog.Duration("interval", p.cfg.Interval))

	samples, err := p.collect(ctx, duration)
	if err != nil {
		return &InitializationError{Samples: len(samples), Err: err}
	}
	if err := p.TrainFrom(samples); err != nil {
		return &InitializationError{Samples: len(samples), Err: err}
	}
	return nil
}

func (p *Pipeline) collect(ctx context.Context, duration time.Duration) ([]models.RawSample, error) {
	ticker := p.clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()

	deadline := p.clock.Now().Add(duration)
	var samples []models.RawSample
	for {
		sample, err := p.deps.Source.Sample(ctx)
		switch {
		case err == nil:
			samples = append(samples, sample)
		case errors.Is(err, monitor.ErrSourceUnavailable):
			p.logger.Warn("monitor unavailable during training", slog.Any("error", err))
		default:
			return samples, fmt.Errorf("collect training sample: %w", err)
		}

		if !p.clock.Now().Before(deadline) {
			return samples, nil
		}
		select {
		case <-ctx.Done():
			return samples, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TrainFrom fits a model on samples and installs it atomically. Invalid or
// out-of-order samples are dropped before feature extraction. The trailing
// samples seed the rolling buffer so inference continues their timeline.
func (p *Pipeline) TrainFrom(samples []models.RawSample) error {
	usable := make([]models.RawSample, 0, len(samples))
	var last time.Time
	for _, s := range samples {
		if _, err := p.deps.Extractor.Extract([]models.RawSample{s}); err != nil {
			p.logger.Warn("dropping invalid training sample", slog.Any("error", err))
			continue
		}
		if !last.IsZero() && !s.Timestamp.After(last) {
			p.logger.Warn("dropping out-of-order training sample", slog.Time("timestamp", s.Timestamp))
			continue
		}
		usable = append(usable, s)
		last = s.Timestamp
	}

	vectors, err := p.deps.Extractor.ExtractAll(usable)
	if err == nil {
		err = p.deps.Scorer.Train(vectors, p.cfg.Contamination)
	}
	metrics.ObserveTraining(err)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if len(p.buffer) == 0 {
		start := max(0, len(usable)-p.cfg.BufferSize)
		p.buffer = append(p.buffer[:0], usable[start:]...)
		if len(usable) > 0 {
			p.last = usable[len(usable)-1].Timestamp
		}
	}
	p.mu.Unlock()

	p.lastTrained.Store(p.clock.Now().UnixNano())
	meta, _ := p.deps.Scorer.Metadata()
	for _, fn := range p.onTrained {
		fn(meta)
	}
	return nil
}

// LoadModel installs a model previously written by SaveModel in place of
// training. The model must use the extractor's feature layout. Trained hooks
// are not run; callers that publish model changes use the returned metadata.
func (p *Pipeline) LoadModel(r io.Reader) (detector.Metadata, error) {
	if err := p.deps.Scorer.Load(r, features.Names()); err != nil {
		return detector.Metadata{}, err
	}
	p.lastTrained.Store(p.clock.Now().UnixNano())
	return p.deps.Scorer.Metadata()
}

// SaveModel writes the installed model to w.
func (p *Pipeline) SaveModel(w io.Writer) error {
	return p.deps.Scorer.Save(w)
}

// Result bundles everything produced for one sample.
type Result struct {
	Sample   models.RawSample
	Features models.FeatureVector
	Anomaly  models.AnomalyResult
	Decision models.Decision
}

// ProcessSample runs one sample through features, scoring, classification and
// decision. A failing sample is counted as skipped and leaves the buffer
// untouched.
func (p *Pipeline) ProcessSample(sample models.RawSample) (models.Decision, error) {
	res, err := p.process(sample)
	return res.Decision, err
}

func (p *Pipeline) process(sample models.RawSample) (Result, error) {
	if !p.deps.Scorer.Trained() {
		return Result{}, ErrNotInitialized
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	res, err := p.evaluate(sample)
	elapsed := time.Since(start)
	if err != nil {
		p.counters.skipped++
		metrics.ObserveSample(elapsed, metrics.OutcomeSkipped)
		p.logger.Warn("sample skipped", slog.Time("timestamp", sample.Timestamp), slog.Any("error", err))
		return Result{}, err
	}

	p.counters.processed++
	if res.Anomaly.IsAnomaly {
		p.counters.anomalies++
	}
	p.latency.Observe(elapsed)
	metrics.ObserveSample(elapsed, metrics.OutcomeProcessed)
	metrics.ObserveDecision(res.Decision.Action.String(), res.Decision.Severity.String(), res.Anomaly.Probability)

	if res.Decision.Severity > models.SeverityNormal {
		p.logger.Info("anomaly decision",
			slog.String("severity", res.Decision.Severity.String()),
			slog.String("action", res.Decision.Action.String()),
			slog.Float64("probability", res.Anomaly.Probability),
			slog.Bool("suppressed", res.Decision.Suppressed),
		)
	}
	return res, nil
}

// evaluate must be called with mu held.
func (p *Pipeline) evaluate(sample models.RawSample) (Result, error) {
	if !p.last.IsZero() && !sample.Timestamp.After(p.last) {
		return Result{}, &NonMonotonicSampleError{Previous: p.last, Got: sample.Timestamp}
	}

	window := p.deps.Extractor.Window()
	from := max(0, len(p.buffer)-window)
	history := make([]models.RawSample, 0, len(p.buffer)-from+1)
	history = append(history, p.buffer[from:]...)
	history = append(history, sample)

	vec, err := p.deps.Extractor.Extract(history)
	if err != nil {
		return Result{}, fmt.Errorf("extract features: %w", err)
	}
	anomaly, err := p.deps.Scorer.Score(vec)
	if err != nil {
		return Result{}, fmt.Errorf("score: %w", err)
	}
	sev := p.deps.Decider.Classifier().Classify(anomaly.Probability)
	d, err := p.deps.Decider.DecideAt(anomaly, sev, sample.Timestamp)
	if err != nil {
		return Result{}, fmt.Errorf("decide: %w", err)
	}

	if len(p.buffer) == p.cfg.BufferSize {
		copy(p.buffer, p.buffer[1:])
		p.buffer = p.buffer[:len(p.buffer)-1]
	}
	p.buffer = append(p.buffer, sample)
	p.last = sample.Timestamp

	return Result{Sample: sample, Features: vec, Anomaly: anomaly, Decision: d}, nil
}

// Handle processes sample, forwards actionable decisions to the executor,
// folds the outcome back into the decision engine and emits an export record.
func (p *Pipeline) Handle(ctx context.Context, sample models.RawSample) (models.Decision, error) {
	res, err := p.process(sample)
	if err != nil {
		return models.Decision{}, err
	}

	var execution *executor.Result
	if res.Decision.Actionable() && p.deps.Executor != nil {
		execution = p.execute(ctx, res.Decision)
	}

	if p.deps.Exporter != nil {
		rec := export.NewRecord(res.Sample, res.Features, res.Anomaly, res.Decision)
		rec.Execution = execution
		if p.deps.Exporter.Publish(rec) {
			p.mu.Lock()
			p.counters.exported++
			p.mu.Unlock()
		}
	}
	return res.Decision, nil
}

func (p *Pipeline) execute(ctx context.Context, d models.Decision) *executor.Result {
	outcome := models.Outcome{Decision: d}
	res, err := p.deps.Executor.Execute(ctx, d)

	p.mu.Lock()
	p.counters.executions++
	if err != nil || res.Status != executor.StatusSuccess {
		p.counters.executionFailures++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("executor failed", slog.String("action", d.Action.String()), slog.Any("error", err))
		metrics.ObserveExecution(d.Action.String(), string(executor.StatusFailure))
		outcome.Verdict = models.VerdictNeutral
		outcome.Detail = err.Error()
		res = executor.Result{Status: executor.StatusFailure, Detail: err.Error()}
	} else {
		metrics.ObserveExecution(d.Action.String(), string(res.Status))
		outcome.Verdict = res.Verdict()
		outcome.Detail = res.Detail
	}

	p.deps.Decider.Adapt(outcome)
	metrics.SetSeverityBias(p.deps.Decider.Bias())
	if r, ok := p.deps.Executor.(instanceReporter); ok {
		p.deps.Decider.ObserveInstances(r.Instances())
	}
	return &res
}
