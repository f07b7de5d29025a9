package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

func TestEvaluatePolicyWithoutOutcomes(t *testing.T) {
	ev := EvaluatePolicy(models.SystemState{NeutralOutcomes: 4})
	assert.Zero(t, ev.Judged)
	assert.Zero(t, ev.SuccessRate)
	assert.Empty(t, ev.Recommendations)
}

func TestEvaluatePolicyRates(t *testing.T) {
	ev := EvaluatePolicy(models.SystemState{TruePositives: 6, FalsePositives: 2, TrueNegatives: 10, FalseNegatives: 2, NeutralOutcomes: 7})
	assert.Equal(t, 20, ev.Judged)
	assert.InDelta(t, 16.0/20, ev.SuccessRate, 1e-12)
	assert.InDelta(t, 6.0/8, ev.Precision, 1e-12)
	assert.InDelta(t, 6.0/8, ev.Recall, 1e-12)
	assert.InDelta(t, 2.0/12, ev.FalsePositiveRate, 1e-12)
	assert.Equal(t, 4, ev.NeedsEscalation)
	// exactly at the low bar: no change suggested
	assert.Empty(t, ev.Recommendations)
}

func TestEvaluatePolicyRecommendations(t *testing.T) {
	cases := []struct {
		name  string
		state models.SystemState
		want  []Recommendation
	}{
		{"over-aggressive", models.SystemState{TruePositives: 2, FalsePositives: 5, TrueNegatives: 3}, []Recommendation{RecommendRaiseThresholds}},
		{"missing anomalies", models.SystemState{TruePositives: 2, FalseNegatives: 5, TrueNegatives: 3}, []Recommendation{RecommendLowerThresholds}},
		{"accurate", models.SystemState{TruePositives: 30, TrueNegatives: 69, FalsePositives: 1}, []Recommendation{RecommendOptimiseCosts}},
		{"acceptable", models.SystemState{TruePositives: 9, FalsePositives: 1}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluatePolicy(tc.state).Recommendations)
		})
	}
}

func TestStatisticsCarryPolicyEvaluation(t *testing.T) {
	e, _ := newTestEngine(t)
	scaleUp := models.Decision{Action: models.ActionScaleUp, Timestamp: time.Now()}
	monitor := models.Decision{Action: models.ActionMonitor, Timestamp: time.Now()}

	e.Adapt(models.Outcome{Decision: scaleUp, Verdict: models.VerdictIncorrect})
	e.Adapt(models.Outcome{Decision: scaleUp, Verdict: models.VerdictIncorrect})
	e.Adapt(models.Outcome{Decision: monitor, Verdict: models.VerdictCorrect})
	e.Adapt(models.Outcome{Decision: scaleUp, Verdict: models.VerdictNeutral})

	stats := e.Statistics()
	require.Equal(t, 3, stats.Policy.Judged)
	assert.InDelta(t, 1.0/3, stats.Policy.SuccessRate, 1e-12)
	assert.Equal(t, []Recommendation{RecommendRaiseThresholds}, stats.Policy.Recommendations)
	assert.Equal(t, EvaluatePolicy(stats.State), stats.Policy)
}
