package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	require.Equal(t, len(durations), tracker.Count())
	assert.GreaterOrEqual(t, tracker.Percentile(95), 40*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, tracker.Percentile(0))
	assert.Equal(t, 50*time.Millisecond, tracker.Percentile(100))
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	require.Equal(t, 3, tracker.Count())

	// only 7, 8 and 9 survive
	assert.Equal(t, 7*time.Millisecond, tracker.Percentile(0))
	assert.Equal(t, 9*time.Millisecond, tracker.Summary().Max)
}

func TestLatencyTrackerEmptySummary(t *testing.T) {
	tracker := NewLatencyTracker(0)
	assert.Equal(t, LatencySummary{}, tracker.Summary())
	assert.Zero(t, tracker.Percentile(50))
}
