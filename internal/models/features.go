package models

import "time"

// FeatureVector is an ordered list of named features derived from one sample
// and its trailing window.
type FeatureVector struct {
	Timestamp time.Time `json:"timestamp"`
	Names     []string  `json:"names"`
	Values    []float64 `json:"values"`
}

// Len returns the number of features.
func (v FeatureVector) Len() int {
	return len(v.Values)
}

// Value looks up a feature by name.
func (v FeatureVector) Value(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name && i < len(v.Values) {
			return v.Values[i], true
		}
	}
	return 0, false
}
