// Package decision turns classified anomalies into mitigation decisions and
// adapts severity cutoffs from observed outcomes.
package decision

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-adapt/internal/features"
	"github.com/miradorstack/mirador-adapt/internal/models"
	"github.com/miradorstack/mirador-adapt/internal/severity"
)

const (
	minCutoff = 0.01
	maxCutoff = 0.99
)

// Config holds decision engine tunables.
type Config struct {
	Thresholds           severity.Thresholds
	Cooldown             time.Duration
	LearningRate         float64
	HistorySize          int
	NormalConfidence     float64
	CriticalScaleFactor  float64
	EmergencyScaleFactor float64
	InitialInstances     int
}

// DefaultConfig returns the reference tunables.
func DefaultConfig() Config {
	return Config{
		Thresholds:           severity.DefaultThresholds(),
		Cooldown:             30 * time.Second,
		LearningRate:         0.1,
		HistorySize:          100,
		NormalConfidence:     1.0,
		CriticalScaleFactor:  1.5,
		EmergencyScaleFactor: 2.0,
		InitialInstances:     1,
	}
}

// InvalidStateError reports a system state the engine refuses to reason about.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return "invalid system state: " + e.Reason
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for cooldown and decision timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine exclusively owns SystemState and the decision history.
type Engine struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu         sync.Mutex
	bias       float64
	classifier *severity.Classifier
	state      models.SystemState
	history    []models.Decision
	stats      counters
}

// NewEngine validates cfg and returns an engine with a fresh state.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	classifier, err := severity.NewClassifier(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	if cfg.Thresholds.Warning < minCutoff || cfg.Thresholds.Emergency > maxCutoff {
		return nil, &severity.InvalidThresholdConfigError{
			Thresholds: cfg.Thresholds,
			Reason:     fmt.Sprintf("adaptive cutoffs must lie within [%.2f, %.2f]", minCutoff, maxCutoff),
		}
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative, got %s", cfg.Cooldown)
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		return nil, fmt.Errorf("learning rate must be in (0,1], got %v", cfg.LearningRate)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.InitialInstances < 0 {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("initial instances %d < 0", cfg.InitialInstances)}
	}

	e := &Engine{
		cfg:        cfg,
		clock:      clock.New(),
		logger:     slog.Default(),
		classifier: classifier,
		state:      models.SystemState{Instances: cfg.InitialInstances},
		history:    make([]models.Decision, 0, cfg.HistorySize),
		stats:      newCounters(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Classifier returns the classifier built from the current, possibly adapted, cutoffs.
func (e *Engine) Classifier() *severity.Classifier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.classifier
}

// Decide chooses an action for an anomaly of the given severity at the
// engine clock's current time.
func (e *Engine) Decide(anomaly models.AnomalyResult, sev models.Severity) (models.Decision, error) {
	return e.DecideAt(anomaly, sev, e.clock.Now())
}

// DecideAt is Decide evaluated at now, typically the sample timestamp, so
// that cooldown follows the observed timeline rather than wall time.
func (e *Engine) DecideAt(anomaly models.AnomalyResult, sev models.Severity, now time.Time) (models.Decision, error) {
	if sev < models.SeverityNormal || sev > models.SeverityEmergency {
		return models.Decision{}, fmt.Errorf("unknown severity %d", int(sev))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateState(e.state); err != nil {
		return models.Decision{}, err
	}

	d := e.propose(anomaly, sev, now)

	if d.Action != models.ActionMonitor && sev != models.SeverityEmergency {
		if remaining := e.cooldownRemaining(now); remaining > 0 {
			d.Reason = fmt.Sprintf("%s suppressed: cooldown active for another %s", d.Reason, remaining.Round(time.Second))
			d.Action = models.ActionMonitor
			d.Target = models.ResourceNone
			d.ScaleFactor = 0
			d.Suppressed = true
		}
	}

	if d.Action != models.ActionMonitor {
		e.state.LastActionTime = now
	}
	e.record(d)
	return d, nil
}

func (e *Engine) propose(anomaly models.AnomalyResult, sev models.Severity, now time.Time) models.Decision {
	d := models.Decision{
		Action:      models.ActionMonitor,
		Severity:    sev,
		Confidence:  e.cfg.NormalConfidence,
		Probability: anomaly.Probability,
		Timestamp:   now,
	}
	if sev >= models.SeverityWarning {
		d.Confidence = anomaly.Probability
	}

	if sev == models.SeverityEmergency {
		e.state.ConsecutiveEmergencies++
	} else {
		e.state.ConsecutiveEmergencies = 0
	}

	switch sev {
	case models.SeverityNormal:
		d.Reason = fmt.Sprintf("system normal (anomaly probability %.2f)", anomaly.Probability)
	case models.SeverityWarning:
		d.Target = dominantResource(anomaly.Contributions)
		d.Action = models.ActionOptimizeMemory
		if d.Target == models.ResourceCPU {
			d.Action = models.ActionOptimizeCPU
		}
		d.Reason = fmt.Sprintf("warning: %s pressure drives anomaly probability %.2f", d.Target, anomaly.Probability)
	case models.SeverityCritical:
		d.Action = models.ActionScaleUp
		d.ScaleFactor = e.cfg.CriticalScaleFactor
		d.Reason = fmt.Sprintf("critical anomaly (probability %.2f): scale up x%.1f", anomaly.Probability, d.ScaleFactor)
	case models.SeverityEmergency:
		d.Action = models.ActionScaleUp
		d.ScaleFactor = e.cfg.EmergencyScaleFactor
		d.Alert = true
		d.AddInstances = max(2, e.state.ConsecutiveEmergencies)
		d.Reason = fmt.Sprintf("emergency anomaly (probability %.2f): scale up x%.1f and alert", anomaly.Probability, d.ScaleFactor)
	}
	return d
}

func (e *Engine) cooldownRemaining(now time.Time) time.Duration {
	if e.state.LastActionTime.IsZero() {
		return 0
	}
	elapsed := now.Sub(e.state.LastActionTime)
	if elapsed >= e.cfg.Cooldown {
		return 0
	}
	return e.cfg.Cooldown - elapsed
}

func (e *Engine) record(d models.Decision) {
	if len(e.history) == e.cfg.HistorySize {
		copy(e.history, e.history[1:])
		e.history = e.history[:len(e.history)-1]
	}
	e.history = append(e.history, d)
	e.stats.add(d)
}

// Adapt folds an outcome into the outcome counters and shifts the severity
// cutoffs by learning_rate x error. Wrong actions raise the cutoffs, missed
// anomalies lower them; neutral and correct outcomes leave them alone.
func (e *Engine) Adapt(outcome models.Outcome) severity.Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()

	acted := outcome.Decision.Action != models.ActionMonitor
	var observedError float64
	switch outcome.Verdict {
	case models.VerdictCorrect:
		if acted {
			e.state.TruePositives++
		} else {
			e.state.TrueNegatives++
		}
	case models.VerdictIncorrect:
		if acted {
			e.state.FalsePositives++
			observedError = 1
		} else {
			e.state.FalseNegatives++
			observedError = -1
		}
	default:
		e.state.NeutralOutcomes++
	}

	if observedError != 0 {
		bias := e.clampBias(e.bias + e.cfg.LearningRate*observedError)
		classifier, err := severity.NewClassifier(e.cfg.Thresholds.Shift(bias))
		if err != nil {
			// keep bias and cutoffs in step: both stay at the last good values
			e.logger.Error("adapted thresholds rejected", slog.Float64("bias", bias), slog.Any("error", err))
			return e.classifier.Thresholds()
		}
		e.bias = bias
		e.classifier = classifier
		e.logger.Info("severity thresholds adapted",
			slog.String("verdict", outcome.Verdict.String()),
			slog.Float64("bias", e.bias),
			slog.Float64("warning", e.classifier.Thresholds().Warning),
		)
	}
	return e.classifier.Thresholds()
}

// clampBias keeps every shifted cutoff inside [minCutoff, maxCutoff].
// NewEngine guarantees lower <= 0 <= upper.
func (e *Engine) clampBias(bias float64) float64 {
	lower := minCutoff - e.cfg.Thresholds.Warning
	upper := maxCutoff - e.cfg.Thresholds.Emergency
	if lower > upper {
		return 0
	}
	return math.Min(math.Max(bias, lower), upper)
}

// ObserveInstances records the instance count reported by the executor.
func (e *Engine) ObserveInstances(n int) {
	e.mu.Lock()
	e.state.Instances = n
	e.mu.Unlock()
}

// State returns a copy of the current system state.
func (e *Engine) State() models.SystemState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns the retained decisions, oldest first.
func (e *Engine) History() []models.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Decision(nil), e.history...)
}

// Bias returns the current cutoff shift.
func (e *Engine) Bias() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bias
}

func validateState(s models.SystemState) error {
	switch {
	case s.Instances < 0:
		return &InvalidStateError{Reason: fmt.Sprintf("instance count %d < 0", s.Instances)}
	case s.TruePositives < 0 || s.FalsePositives < 0 || s.TrueNegatives < 0 || s.FalseNegatives < 0:
		return &InvalidStateError{Reason: "negative outcome counter"}
	}
	return nil
}

// dominantResource picks the resource whose strongest feature deviates most.
// Ties resolve cpu, memory, disk.
func dominantResource(contributions []models.FeatureContribution) models.Resource {
	byFeature := make(map[string]float64, len(contributions))
	for _, c := range contributions {
		byFeature[c.Feature] = c.Deviation
	}

	best := models.ResourceCPU
	bestScore := -1.0
	for _, resource := range []models.Resource{models.ResourceCPU, models.ResourceMemory, models.ResourceDisk} {
		score := 0.0
		for _, name := range features.Groups[resource] {
			score = math.Max(score, byFeature[name])
		}
		if score > bestScore {
			best, bestScore = resource, score
		}
	}
	return best
}
