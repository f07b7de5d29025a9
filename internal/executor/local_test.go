package executor

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

func newTestExecutor(t *testing.T, cfg LocalConfig) (*LocalExecutor, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	e, err := NewLocalExecutor(cfg, NewPlanner(nil), WithClock(clk))
	require.NoError(t, err)
	return e, clk
}

func TestNewLocalExecutorValidation(t *testing.T) {
	_, err := NewLocalExecutor(LocalConfig{MaxInstances: 0}, nil)
	assert.Error(t, err)

	_, err = NewLocalExecutor(LocalConfig{InitialInstances: 5, MaxInstances: 2}, nil)
	assert.Error(t, err)
}

func TestLocalExecutorScaleUp(t *testing.T) {
	e, clk := newTestExecutor(t, LocalConfig{InitialInstances: 2, MaxInstances: 10})

	res, err := e.Execute(context.Background(), models.Decision{
		Action:      models.ActionScaleUp,
		Severity:    models.SeverityCritical,
		ScaleFactor: 1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, models.VerdictCorrect, res.Verdict())
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StatusSuccess, res.Steps[0].Status)
	assert.Equal(t, clk.Now(), res.Steps[0].StartedAt)
	assert.Equal(t, 3, e.Instances())
}

func TestLocalExecutorCapacityFailureIsNeutral(t *testing.T) {
	e, _ := newTestExecutor(t, LocalConfig{InitialInstances: 1, MaxInstances: 2})

	res, err := e.Execute(context.Background(), models.Decision{
		Action:       models.ActionScaleUp,
		Severity:     models.SeverityEmergency,
		ScaleFactor:  2.0,
		AddInstances: 2,
		Alert:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, res.Status)
	assert.False(t, res.Misfire)
	assert.Equal(t, models.VerdictNeutral, res.Verdict())
	assert.Equal(t, 1, e.Instances())

	// remaining steps still ran
	require.Len(t, res.Steps, 3)
	assert.Equal(t, StatusFailure, res.Steps[0].Status)
	assert.Equal(t, StatusSuccess, res.Steps[1].Status)
	assert.Equal(t, StatusSuccess, res.Steps[2].Status)
}

func TestLocalExecutorScaleDownMisfire(t *testing.T) {
	e, _ := newTestExecutor(t, LocalConfig{InitialInstances: 1, MaxInstances: 4})

	res, err := e.Execute(context.Background(), models.Decision{Action: models.ActionScaleDown})
	require.NoError(t, err)
	assert.True(t, res.Misfire)
	assert.Equal(t, models.VerdictIncorrect, res.Verdict())
}

func TestLocalExecutorDryRun(t *testing.T) {
	e, _ := newTestExecutor(t, LocalConfig{InitialInstances: 1, MaxInstances: 4, DryRun: true})

	res, err := e.Execute(context.Background(), models.Decision{Action: models.ActionScaleUp, ScaleFactor: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, e.Instances())
}

func TestLocalExecutorMonitorIsNoop(t *testing.T) {
	e, _ := newTestExecutor(t, LocalConfig{MaxInstances: 4})
	res, err := e.Execute(context.Background(), models.Decision{Action: models.ActionMonitor})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.Steps)
	assert.Zero(t, e.Stats().Total)
}

func TestLocalExecutorCancelledContext(t *testing.T) {
	e, _ := newTestExecutor(t, LocalConfig{MaxInstances: 4})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, models.Decision{Action: models.ActionOptimizeCPU})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalExecutorStats(t *testing.T) {
	e, _ := newTestExecutor(t, LocalConfig{InitialInstances: 1, MaxInstances: 2})
	ctx := context.Background()

	_, err := e.Execute(ctx, models.Decision{Action: models.ActionOptimizeCPU})
	require.NoError(t, err)
	_, err = e.Execute(ctx, models.Decision{Action: models.ActionScaleUp, ScaleFactor: 2})
	require.NoError(t, err)
	_, err = e.Execute(ctx, models.Decision{Action: models.ActionScaleUp, ScaleFactor: 2})
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.Equal(t, 2, stats.ByKind[StepScaleUp])
	assert.InDelta(t, 0.5, stats.KindRates[StepScaleUp], 1e-9)
	assert.Equal(t, []StepKind{StepOptimizeCPU, StepScaleUp}, stats.Kinds)
	assert.Equal(t, 2, stats.Instances)
}
