package decision

import "github.com/miradorstack/mirador-adapt/internal/models"

// Recommendation is a suggested change to the adaptive policy.
type Recommendation string

const (
	// RecommendRaiseThresholds: actions are mostly unnecessary.
	RecommendRaiseThresholds Recommendation = "raise_thresholds"
	// RecommendLowerThresholds: anomalies are mostly missed.
	RecommendLowerThresholds Recommendation = "lower_thresholds"
	// RecommendOptimiseCosts: the policy is accurate enough to try running leaner.
	RecommendOptimiseCosts Recommendation = "optimise_costs"
)

const (
	lowSuccessRate  = 0.8
	highSuccessRate = 0.95
)

// PolicyEvaluation grades judged outcomes. Neutral outcomes are excluded from
// every rate. Rates with an empty denominator are zero.
type PolicyEvaluation struct {
	Judged            int              `json:"judged"`
	SuccessRate       float64          `json:"success_rate"`
	Precision         float64          `json:"precision"`
	Recall            float64          `json:"recall"`
	FalsePositiveRate float64          `json:"false_positive_rate"`
	NeedsEscalation   int              `json:"needs_escalation"`
	Recommendations   []Recommendation `json:"recommendations,omitempty"`
}

// EvaluatePolicy derives success rates and recommendations from the outcome
// counters in state.
func EvaluatePolicy(state models.SystemState) PolicyEvaluation {
	tp, fp := state.TruePositives, state.FalsePositives
	tn, fn := state.TrueNegatives, state.FalseNegatives

	ev := PolicyEvaluation{
		Judged:            tp + fp + tn + fn,
		Precision:         ratio(tp, tp+fp),
		Recall:            ratio(tp, tp+fn),
		FalsePositiveRate: ratio(fp, fp+tn),
		NeedsEscalation:   fp + fn,
	}
	if ev.Judged == 0 {
		return ev
	}
	ev.SuccessRate = ratio(tp+tn, ev.Judged)

	switch {
	case ev.SuccessRate < lowSuccessRate && fp >= fn:
		ev.Recommendations = append(ev.Recommendations, RecommendRaiseThresholds)
	case ev.SuccessRate < lowSuccessRate:
		ev.Recommendations = append(ev.Recommendations, RecommendLowerThresholds)
	case ev.SuccessRate > highSuccessRate:
		ev.Recommendations = append(ev.Recommendations, RecommendOptimiseCosts)
	}
	return ev
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
