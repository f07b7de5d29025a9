package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

const gib = 1024 * 1024 * 1024

func sampleAt(ts time.Time, cpu, memPct, diskPct float64, sent, recv uint64) models.RawSample {
	return models.RawSample{
		Timestamp:        ts,
		CPUPercent:       cpu,
		CPUFrequencyMHz:  2400,
		MemoryUsedBytes:  uint64(memPct / 100 * 16 * gib),
		MemoryTotalBytes: 16 * gib,
		DiskUsedBytes:    uint64(diskPct / 100 * 500 * gib),
		DiskTotalBytes:   500 * gib,
		NetBytesSent:     sent,
		NetBytesRecv:     recv,
	}
}

func history(n int) []models.RawSample {
	start := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	out := make([]models.RawSample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sampleAt(start.Add(time.Duration(i)*time.Second), 30+float64(i), 40, 50, uint64(i*1000), uint64(i*2000)))
	}
	return out
}

func TestExtractShapeIsConstant(t *testing.T) {
	extractor, err := NewExtractor(DefaultWindow)
	require.NoError(t, err)

	for n := 1; n <= 12; n++ {
		vec, err := extractor.Extract(history(n))
		require.NoError(t, err)
		require.Equal(t, Count(), vec.Len(), "history of %d", n)
		assert.Equal(t, Names(), vec.Names)
	}
	assert.Equal(t, 21, Count())
}

func TestExtractedNamesAreOwnedByTheVector(t *testing.T) {
	extractor, err := NewExtractor(DefaultWindow)
	require.NoError(t, err)

	first, err := extractor.Extract(history(3))
	require.NoError(t, err)
	first.Names[0] = "overwritten"

	second, err := extractor.Extract(history(3))
	require.NoError(t, err)
	assert.Equal(t, CPUPercent, second.Names[0])
	assert.Equal(t, CPUPercent, Names()[0])
}

func TestExtractSingleSampleDefaultsVolatilityToZero(t *testing.T) {
	extractor, _ := NewExtractor(DefaultWindow)
	vec, err := extractor.Extract(history(1))
	require.NoError(t, err)

	for _, name := range []string{CPUStdDev, MemoryStdDev, DiskStdDev, CPURateOfChange, NetworkSentRate, NetworkActivity} {
		v, ok := vec.Value(name)
		require.True(t, ok)
		assert.Zero(t, v, name)
	}
	cpu, _ := vec.Value(CPUPercent)
	ma, _ := vec.Value(CPUMovingAvg)
	assert.Equal(t, cpu, ma)
}

func TestExtractRollingFeatures(t *testing.T) {
	extractor, _ := NewExtractor(5)
	vec, err := extractor.Extract(history(8))
	require.NoError(t, err)

	// trailing window is cpu 33..37
	ma, _ := vec.Value(CPUMovingAvg)
	assert.InDelta(t, 35.0, ma, 1e-9)
	std, _ := vec.Value(CPUStdDev)
	assert.InDelta(t, math.Sqrt(2.5), std, 1e-9)
	roc, _ := vec.Value(CPURateOfChange)
	assert.InDelta(t, 1.0, roc, 1e-9)

	sent, _ := vec.Value(NetworkSentRate)
	recv, _ := vec.Value(NetworkRecvRate)
	activity, _ := vec.Value(NetworkActivity)
	assert.InDelta(t, 1000.0, sent, 1e-9)
	assert.InDelta(t, 2000.0, recv, 1e-9)
	assert.InDelta(t, 3000.0, activity, 1e-9)

	pressure, _ := vec.Value(ResourcePressure)
	assert.InDelta(t, 0.3*37+0.4*40+0.3*50, pressure, 1e-6)

	hour, _ := vec.Value(HourOfDay)
	minute, _ := vec.Value(MinuteOfHour)
	assert.Equal(t, 14.0, hour)
	assert.Equal(t, 30.0, minute)
}

func TestExtractCounterResetYieldsZeroRate(t *testing.T) {
	extractor, _ := NewExtractor(5)
	h := history(3)
	h[2].NetBytesSent = 10
	vec, err := extractor.Extract(h)
	require.NoError(t, err)
	sent, _ := vec.Value(NetworkSentRate)
	assert.Zero(t, sent)
}

func TestExtractMissingCPU(t *testing.T) {
	extractor, _ := NewExtractor(5)
	h := history(3)
	h[2].CPUPercent = math.NaN()

	_, err := extractor.Extract(h)
	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "cpu_percent", insufficient.Field)
}

func TestExtractEmptyHistory(t *testing.T) {
	extractor, _ := NewExtractor(5)
	_, err := extractor.Extract(nil)
	var insufficient *InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestNewExtractorRejectsZeroWindow(t *testing.T) {
	if _, err := NewExtractor(0); err == nil {
		t.Fatalf("expected error for window 0")
	}
}

func TestExtractAll(t *testing.T) {
	extractor, _ := NewExtractor(5)
	vectors, err := extractor.ExtractAll(history(6))
	require.NoError(t, err)
	require.Len(t, vectors, 6)
	first, _ := vectors[0].Value(CPURateOfChange)
	assert.Zero(t, first)
}
