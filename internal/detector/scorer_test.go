package detector

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-adapt/internal/features"
	"github.com/miradorstack/mirador-adapt/internal/models"
)

const gib = 1024 * 1024 * 1024

var trainingStart = time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)

func rawSample(ts time.Time, cpu, memPct float64, sent, recv uint64) models.RawSample {
	return models.RawSample{
		Timestamp:        ts,
		CPUPercent:       cpu,
		CPUFrequencyMHz:  2400,
		MemoryUsedBytes:  uint64(memPct / 100 * 16 * gib),
		MemoryTotalBytes: 16 * gib,
		DiskUsedBytes:    250 * gib,
		DiskTotalBytes:   500 * gib,
		NetBytesSent:     sent,
		NetBytesRecv:     recv,
	}
}

// normalHistory returns n samples with CPU in [30,40] and memory in [40,50].
func normalHistory(n int, seed int64) []models.RawSample {
	rng := rand.New(rand.NewSource(seed))
	var sent, recv uint64
	out := make([]models.RawSample, 0, n)
	for i := 0; i < n; i++ {
		sent += uint64(10000 + rng.Intn(10000))
		recv += uint64(10000 + rng.Intn(10000))
		out = append(out, rawSample(trainingStart.Add(time.Duration(i)*time.Second), 30+rng.Float64()*10, 40+rng.Float64()*10, sent, recv))
	}
	return out
}

func vectorsFor(t *testing.T, samples []models.RawSample) []models.FeatureVector {
	t.Helper()
	extractor, err := features.NewExtractor(features.DefaultWindow)
	require.NoError(t, err)
	vectors, err := extractor.ExtractAll(samples)
	require.NoError(t, err)
	return vectors
}

// scoreNext scores a follow-up sample appended to history.
func scoreNext(t *testing.T, scorer *Scorer, history []models.RawSample, cpu, mem float64) models.AnomalyResult {
	t.Helper()
	last := history[len(history)-1]
	next := rawSample(last.Timestamp.Add(time.Second), cpu, mem, last.NetBytesSent+15000, last.NetBytesRecv+15000)
	extractor, _ := features.NewExtractor(features.DefaultWindow)
	vec, err := extractor.Extract(append(append([]models.RawSample(nil), history...), next))
	require.NoError(t, err)
	result, err := scorer.Score(vec)
	require.NoError(t, err)
	return result
}

func trainedScorer(t *testing.T, history []models.RawSample) *Scorer {
	t.Helper()
	scorer, err := NewScorer(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, scorer.Train(vectorsFor(t, history), 0.05))
	return scorer
}

func TestScoreFlagsCPUSpike(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		history := normalHistory(15, seed)
		scorer := trainedScorer(t, history)

		result := scoreNext(t, scorer, history, 85, 45)
		assert.True(t, result.IsAnomaly, "seed %d probability %.3f", seed, result.Probability)
		assert.GreaterOrEqual(t, result.Probability, 0.8, "seed %d", seed)
		assert.Less(t, result.RawScore, result.Threshold)
	}
}

func TestScoreNormalSampleIsNotAnomalous(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		history := normalHistory(15, seed)
		scorer := trainedScorer(t, history)

		result := scoreNext(t, scorer, history, 35, 45)
		assert.False(t, result.IsAnomaly, "seed %d", seed)
		assert.Less(t, result.Probability, 0.7, "seed %d", seed)
	}
}

func TestContributionsRankCPUFirstForSpike(t *testing.T) {
	history := normalHistory(15, 4)
	scorer := trainedScorer(t, history)

	result := scoreNext(t, scorer, history, 85, 45)
	require.Len(t, result.Contributions, features.Count())
	assert.True(t, sort.SliceIsSorted(result.Contributions, func(i, j int) bool {
		return result.Contributions[i].Deviation > result.Contributions[j].Deviation
	}))

	top := result.TopContributors(3)
	cpuGroup := map[string]bool{}
	for _, name := range features.Groups[models.ResourceCPU] {
		cpuGroup[name] = true
	}
	cpuGroup[features.ResourcePressure] = true
	assert.True(t, cpuGroup[top[0].Feature], "top contributor %s", top[0].Feature)
}

func TestProbabilityMonotoneInRawScore(t *testing.T) {
	history := normalHistory(20, 5)
	scorer := trainedScorer(t, history)

	var results []models.AnomalyResult
	for _, cpu := range []float64{31, 35, 39, 45, 55, 70, 90, 100} {
		for _, mem := range []float64{42, 48, 60, 90} {
			results = append(results, scoreNext(t, scorer, history, cpu, mem))
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RawScore < results[j].RawScore })
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Probability, results[i].Probability)
		assert.GreaterOrEqual(t, results[i].Probability, 0.0)
		assert.LessOrEqual(t, results[i].Probability, 1.0)
	}
}

func TestTrainRejectsSmallTrainingSet(t *testing.T) {
	scorer, err := NewScorer(DefaultConfig())
	require.NoError(t, err)

	err = scorer.Train(vectorsFor(t, normalHistory(5, 1)), 0.05)
	var insufficient *InsufficientTrainingDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Got)
	assert.Equal(t, 10, insufficient.Min)
	assert.False(t, scorer.Trained())

	_, err = scorer.Metadata()
	assert.ErrorIs(t, err, ErrModelNotTrained)
}

func TestScoreBeforeTrain(t *testing.T) {
	scorer, err := NewScorer(DefaultConfig())
	require.NoError(t, err)

	_, err = scorer.Score(models.FeatureVector{Values: make([]float64, features.Count())})
	assert.ErrorIs(t, err, ErrModelNotTrained)
}

func TestScoreShapeMismatch(t *testing.T) {
	scorer := trainedScorer(t, normalHistory(15, 1))

	_, err := scorer.Score(models.FeatureVector{Values: []float64{1, 2, 3}})
	var mismatch *FeatureShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 3, mismatch.Got)
	assert.Equal(t, features.Count(), mismatch.Want)
}

func TestFailedRetrainKeepsPreviousModel(t *testing.T) {
	scorer := trainedScorer(t, normalHistory(15, 1))
	before, err := scorer.Metadata()
	require.NoError(t, err)

	require.Error(t, scorer.Train(vectorsFor(t, normalHistory(3, 2)), 0.05))
	after, err := scorer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTrainingIsReproducible(t *testing.T) {
	history := normalHistory(15, 9)
	a := trainedScorer(t, history)
	b := trainedScorer(t, history)

	for _, cpu := range []float64{33, 60, 95} {
		ra := scoreNext(t, a, history, cpu, 45)
		rb := scoreNext(t, b, history, cpu, 45)
		assert.Equal(t, ra.RawScore, rb.RawScore)
		assert.Equal(t, ra.Probability, rb.Probability)
	}
}

func TestMetadataUsesClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	scorer, err := NewScorer(DefaultConfig(), WithClock(mock))
	require.NoError(t, err)
	require.NoError(t, scorer.Train(vectorsFor(t, normalHistory(12, 1)), 0.05))

	meta, err := scorer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, mock.Now(), meta.TrainedAt)
	assert.Equal(t, 12, meta.SampleCount)
	assert.Equal(t, features.Count(), meta.FeatureCount)
	assert.Equal(t, 100, meta.Trees)
	assert.Equal(t, uint64(1), meta.Version)
}

func TestConcurrentScoreDuringRetrain(t *testing.T) {
	history := normalHistory(30, 3)
	scorer := trainedScorer(t, history[:15])
	vectors := vectorsFor(t, history)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			assert.NoError(t, scorer.Train(vectors, 0.05))
		}
	}()
	for i := 0; i < 50; i++ {
		result, err := scorer.Score(vectors[i%len(vectors)])
		require.NoError(t, err)
		assert.NotZero(t, result.ModelVersion)
	}
	wg.Wait()

	meta, err := scorer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), meta.Version)
}

func TestNewScorerValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trees = 0
	if _, err := NewScorer(cfg); err == nil {
		t.Fatalf("expected error for zero trees")
	}
	cfg = DefaultConfig()
	cfg.MinSamples = 1
	if _, err := NewScorer(cfg); err == nil {
		t.Fatalf("expected error for min samples 1")
	}
}
