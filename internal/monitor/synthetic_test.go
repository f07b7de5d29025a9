package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario(t *testing.T) {
	for _, s := range Scenarios {
		got, err := ParseScenario(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseScenario("meteor_strike")
	assert.Error(t, err)
}

func TestSyntheticSourceValidation(t *testing.T) {
	_, err := NewSyntheticSource(SyntheticConfig{Scenario: "bogus", Interval: time.Second})
	assert.Error(t, err)

	_, err = NewSyntheticSource(SyntheticConfig{Scenario: ScenarioNormal})
	assert.Error(t, err)
}

func TestSyntheticSourceTimestampsAndCounters(t *testing.T) {
	src, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioNormal, 7))
	require.NoError(t, err)

	samples := src.Take(20)
	require.Len(t, samples, 20)
	for i := 1; i < len(samples); i++ {
		assert.Equal(t, time.Second, samples[i].Timestamp.Sub(samples[i-1].Timestamp))
		assert.GreaterOrEqual(t, samples[i].NetBytesSent, samples[i-1].NetBytesSent)
		assert.GreaterOrEqual(t, samples[i].NetBytesRecv, samples[i-1].NetBytesRecv)
	}
	for _, s := range samples {
		assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
		assert.LessOrEqual(t, s.CPUPercent, 100.0)
		assert.NotZero(t, s.MemoryTotalBytes)
		assert.NotZero(t, s.DiskTotalBytes)
	}

	next, err := src.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, samples[19].Timestamp.Add(time.Second), next.Timestamp)
}

func TestSyntheticSourceDeterministic(t *testing.T) {
	a, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioCombined, 3))
	require.NoError(t, err)
	b, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioCombined, 3))
	require.NoError(t, err)
	assert.Equal(t, a.Take(80), b.Take(80))
}

func TestSyntheticScenarios(t *testing.T) {
	t.Run("cpu spike", func(t *testing.T) {
		src, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioCPUSpike, 1))
		require.NoError(t, err)
		samples := src.Take(70)
		for i := 50; i < 60; i++ {
			assert.Greater(t, samples[i].CPUPercent, 60.0, "sample %d", i)
		}
	})

	t.Run("memory leak", func(t *testing.T) {
		src, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioMemoryLeak, 1))
		require.NoError(t, err)
		samples := src.Take(200)
		assert.InDelta(t, 70, samples[100].MemoryPercent(), 0.01)
		assert.InDelta(t, 95, samples[199].MemoryPercent(), 0.01)
	})

	t.Run("network burst", func(t *testing.T) {
		src, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioNetworkBurst, 1))
		require.NoError(t, err)
		samples := src.Take(60)
		delta := samples[55].NetBytesSent - samples[54].NetBytesSent
		assert.Greater(t, delta, uint64(1e7))
		quiet := samples[20].NetBytesSent - samples[19].NetBytesSent
		assert.Less(t, quiet, uint64(1e5))
	})

	t.Run("disk full", func(t *testing.T) {
		src, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioDiskFull, 1))
		require.NoError(t, err)
		samples := src.Take(100)
		assert.InDelta(t, 50, samples[0].DiskPercent(), 0.01)
		assert.Greater(t, samples[99].DiskPercent(), 94.0)
	})
}

func TestSyntheticSourceHonoursContext(t *testing.T) {
	src, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioNormal, 1))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticSourceContinueFrom(t *testing.T) {
	train, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioNormal, 3))
	require.NoError(t, err)
	history := train.Take(20)
	last := history[len(history)-1]

	replay, err := NewSyntheticSource(DefaultSyntheticConfig(ScenarioCPUSpike, 4))
	require.NoError(t, err)
	replay.ContinueFrom(last)

	next := replay.Take(2)
	assert.Equal(t, last.Timestamp.Add(time.Second), next[0].Timestamp)
	assert.Greater(t, next[0].NetBytesSent, last.NetBytesSent)
	assert.Greater(t, next[0].NetBytesRecv, last.NetBytesRecv)
	assert.Greater(t, next[1].NetBytesSent, next[0].NetBytesSent)
}
