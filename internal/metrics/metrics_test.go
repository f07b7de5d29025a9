package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveSampleLabels(t *testing.T) {
	before := testutil.ToFloat64(samplesTotal.WithLabelValues(OutcomeSkipped))
	ObserveSample(-time.Second, OutcomeSkipped)
	ObserveSample(time.Millisecond, "anything-else")

	assert.Equal(t, before+1, testutil.ToFloat64(samplesTotal.WithLabelValues(OutcomeSkipped)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(samplesTotal.WithLabelValues(OutcomeProcessed)), 1.0)
}

func TestObserveDecisionAndTraining(t *testing.T) {
	ObserveDecision("scale_up", "CRITICAL", 0.83)
	assert.Equal(t, 0.83, testutil.ToFloat64(anomalyProbability))
	assert.GreaterOrEqual(t, testutil.ToFloat64(decisionsTotal.WithLabelValues("scale_up", "CRITICAL")), 1.0)

	before := testutil.ToFloat64(modelTrainingsTotal.WithLabelValues(OutcomeError))
	ObserveTraining(errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(modelTrainingsTotal.WithLabelValues(OutcomeError)))

	SetSeverityBias(-0.1)
	assert.Equal(t, -0.1, testutil.ToFloat64(severityBias))
}
