package models

// FeatureContribution reports how far one feature sat from the training mean,
// in standard deviations.
type FeatureContribution struct {
	Feature   string  `json:"feature"`
	Index     int     `json:"index"`
	Deviation float64 `json:"deviation"`
}

// AnomalyResult is the scorer output for one feature vector.
type AnomalyResult struct {
	RawScore      float64               `json:"raw_score"`
	Probability   float64               `json:"probability"`
	IsAnomaly     bool                  `json:"is_anomaly"`
	Threshold     float64               `json:"threshold"`
	ModelVersion  uint64                `json:"model_version"`
	Contributions []FeatureContribution `json:"contributions"`
}

// TopContributors returns at most n contributions, highest deviation first.
func (r AnomalyResult) TopContributors(n int) []FeatureContribution {
	if n <= 0 || len(r.Contributions) == 0 {
		return nil
	}
	if n > len(r.Contributions) {
		n = len(r.Contributions)
	}
	return r.Contributions[:n]
}
