// Package detector scores feature vectors with an isolation forest trained on
// a window of normal behaviour.
package detector

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// Config tunes the forest and the score-to-probability mapping.
type Config struct {
	Trees              int
	MaxSamples         int
	MinSamples         int
	Contamination      float64
	AnomalyProbability float64
	Steepness          float64
	Seed               int64
}

// DefaultConfig mirrors the reference defaults.
func DefaultConfig() Config {
	return Config{
		Trees:              100,
		MaxSamples:         256,
		MinSamples:         10,
		Contamination:      0.05,
		AnomalyProbability: 0.7,
		Steepness:          3.0,
		Seed:               42,
	}
}

// minScoreSpread keeps the probability curve finite when training scores are identical.
const minScoreSpread = 1e-3

// ModelState is an immutable fitted model. Scorers swap whole states, never fields.
type ModelState struct {
	forest        *isolationForest
	scaler        scaler
	threshold     float64
	spread        float64
	featureNames  []string
	sampleCount   int
	contamination float64
	trainedAt     time.Time
	version       uint64
}

// Metadata describes the installed model.
type Metadata struct {
	Version       uint64    `json:"version"`
	SampleCount   int       `json:"sample_count"`
	FeatureCount  int       `json:"feature_count"`
	Trees         int       `json:"trees"`
	SubSampleSize int       `json:"sub_sample_size"`
	Contamination float64   `json:"contamination"`
	Threshold     float64   `json:"threshold"`
	ScoreSpread   float64   `json:"score_spread"`
	TrainedAt     time.Time `json:"trained_at"`
}

// Option customises a Scorer.
type Option func(*Scorer)

// WithClock overrides the clock used to stamp training time.
func WithClock(c clock.Clock) Option {
	return func(s *Scorer) { s.clock = c }
}

// WithLogger sets the scorer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) { s.logger = logger }
}

// Scorer owns the current ModelState and publishes replacements atomically.
type Scorer struct {
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	state   atomic.Pointer[ModelState]
	version atomic.Uint64
}

// NewScorer validates cfg and returns an untrained scorer.
func NewScorer(cfg Config, opts ...Option) (*Scorer, error) {
	if cfg.Trees < 1 {
		return nil, fmt.Errorf("detector trees must be >= 1, got %d", cfg.Trees)
	}
	if cfg.MinSamples < 2 {
		return nil, fmt.Errorf("detector min samples must be >= 2, got %d", cfg.MinSamples)
	}
	if cfg.AnomalyProbability <= 0 || cfg.AnomalyProbability > 1 {
		return nil, fmt.Errorf("anomaly probability must be in (0,1], got %v", cfg.AnomalyProbability)
	}
	if cfg.Steepness <= 0 {
		cfg.Steepness = DefaultConfig().Steepness
	}
	s := &Scorer{cfg: cfg, clock: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MinSamples is the smallest accepted training set.
func (s *Scorer) MinSamples() int {
	return s.cfg.MinSamples
}

// Trained reports whether a model is installed.
func (s *Scorer) Trained() bool {
	return s.state.Load() != nil
}

// Train fits a new model on vectors and installs it. On failure the previous
// model, if any, stays in place.
func (s *Scorer) Train(vectors []models.FeatureVector, contamination float64) error {
	if len(vectors) < s.cfg.MinSamples {
		return &InsufficientTrainingDataError{Got: len(vectors), Min: s.cfg.MinSamples}
	}
	if contamination <= 0 || contamination >= 1 {
		return fmt.Errorf("contamination must be in (0,1), got %v", contamination)
	}

	width := vectors[0].Len()
	if width == 0 {
		return &FeatureShapeMismatchError{Got: 0, Want: 1}
	}
	rows := make([][]float64, 0, len(vectors))
	for _, vec := range vectors {
		if vec.Len() != width {
			return &FeatureShapeMismatchError{Got: vec.Len(), Want: width}
		}
		rows = append(rows, vec.Values)
	}

	sc := fitScaler(rows)
	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		scaled[i] = sc.transform(row)
	}

	rng := rand.New(rand.NewSource(s.cfg.Seed))
	forest := fitForest(scaled, s.cfg.Trees, s.cfg.MaxSamples, rng)

	scores := make([]float64, len(scaled))
	for i, row := range scaled {
		scores[i] = forest.score(row)
	}
	spread := stdDev(scores)
	if spread < minScoreSpread {
		spread = minScoreSpread
	}

	state := &ModelState{
		forest:        forest,
		scaler:        sc,
		threshold:     percentile(scores, contamination*100),
		spread:        spread,
		featureNames:  append([]string(nil), vectors[0].Names...),
		sampleCount:   len(vectors),
		contamination: contamination,
		trainedAt:     s.clock.Now(),
		version:       s.version.Add(1),
	}
	s.state.Store(state)

	s.logger.Info("anomaly model trained",
		slog.Int("samples", state.sampleCount),
		slog.Int("features", width),
		slog.Float64("threshold", state.threshold),
		slog.Uint64("version", state.version),
	)
	return nil
}

// Score evaluates vec against the model captured at call time.
func (s *Scorer) Score(vec models.FeatureVector) (models.AnomalyResult, error) {
	state := s.state.Load()
	if state == nil {
		return models.AnomalyResult{}, ErrModelNotTrained
	}
	return state.score(vec, s.cfg)
}

// Metadata describes the installed model.
func (s *Scorer) Metadata() (Metadata, error) {
	state := s.state.Load()
	if state == nil {
		return Metadata{}, ErrModelNotTrained
	}
	return Metadata{
		Version:       state.version,
		SampleCount:   state.sampleCount,
		FeatureCount:  len(state.scaler.mean),
		Trees:         len(state.forest.trees),
		SubSampleSize: state.forest.subSampleSize,
		Contamination: state.contamination,
		Threshold:     state.threshold,
		ScoreSpread:   state.spread,
		TrainedAt:     state.trainedAt,
	}, nil
}

func (m *ModelState) score(vec models.FeatureVector, cfg Config) (models.AnomalyResult, error) {
	want := len(m.scaler.mean)
	if vec.Len() != want {
		return models.AnomalyResult{}, &FeatureShapeMismatchError{Got: vec.Len(), Want: want}
	}

	scaled := m.scaler.transform(vec.Values)
	raw := m.forest.score(scaled)
	probability := m.probability(raw, cfg.Steepness)

	return models.AnomalyResult{
		RawScore:      raw,
		Probability:   probability,
		IsAnomaly:     probability >= cfg.AnomalyProbability,
		Threshold:     m.threshold,
		ModelVersion:  m.version,
		Contributions: m.contributions(scaled),
	}, nil
}

// probability is a logistic curve centred on the trained threshold: lower raw
// scores map to higher probabilities and the threshold itself maps to 0.5.
func (m *ModelState) probability(raw, steepness float64) float64 {
	z := steepness * (m.threshold - raw) / m.spread
	p := 1 / (1 + math.Exp(-z))
	return clamp(p, 0, 1)
}

func (m *ModelState) contributions(scaled []float64) []models.FeatureContribution {
	out := make([]models.FeatureContribution, len(scaled))
	for i, z := range scaled {
		name := ""
		if i < len(m.featureNames) {
			name = m.featureNames[i]
		}
		out[i] = models.FeatureContribution{Feature: name, Index: i, Deviation: math.Abs(z)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Deviation > out[j].Deviation })
	return out
}

// percentile interpolates linearly between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := clamp(p, 0, 100) / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := 0.0
	for _, v := range values {
		m += v
	}
	m /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(values)))
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
