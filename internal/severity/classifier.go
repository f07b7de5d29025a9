// Package severity maps anomaly probabilities onto ordered severity levels.
package severity

import (
	"fmt"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// Thresholds are the lower bounds of WARNING, CRITICAL and EMERGENCY.
type Thresholds struct {
	Warning   float64 `yaml:"warning" json:"warning"`
	Critical  float64 `yaml:"critical" json:"critical"`
	Emergency float64 `yaml:"emergency" json:"emergency"`
}

// DefaultThresholds returns 0.70 / 0.80 / 0.90.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.7, Critical: 0.8, Emergency: 0.9}
}

// InvalidThresholdConfigError reports cutoffs that are out of range or not ascending.
type InvalidThresholdConfigError struct {
	Thresholds Thresholds
	Reason     string
}

func (e *InvalidThresholdConfigError) Error() string {
	return fmt.Sprintf("invalid severity thresholds %+v: %s", e.Thresholds, e.Reason)
}

// Validate requires 0 < warning < critical < emergency < 1.
func (t Thresholds) Validate() error {
	switch {
	case !(t.Warning > 0 && t.Warning < 1), !(t.Critical > 0 && t.Critical < 1), !(t.Emergency > 0 && t.Emergency < 1):
		return &InvalidThresholdConfigError{Thresholds: t, Reason: "cutoffs must lie strictly inside (0,1)"}
	case !(t.Warning < t.Critical && t.Critical < t.Emergency):
		return &InvalidThresholdConfigError{Thresholds: t, Reason: "cutoffs must be strictly ascending"}
	}
	return nil
}

// Shift moves every cutoff by delta.
func (t Thresholds) Shift(delta float64) Thresholds {
	return Thresholds{
		Warning:   t.Warning + delta,
		Critical:  t.Critical + delta,
		Emergency: t.Emergency + delta,
	}
}

// Classifier is a pure probability -> severity mapping.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier fails fast on invalid cutoffs.
func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: t}, nil
}

// Thresholds returns the configured cutoffs.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify returns the severity for p. Values outside [0,1] saturate.
func (c *Classifier) Classify(p float64) models.Severity {
	return c.thresholds.Classify(p)
}

// Classify maps p with these cutoffs; each level is inclusive of its lower bound.
func (t Thresholds) Classify(p float64) models.Severity {
	switch {
	case p >= t.Emergency:
		return models.SeverityEmergency
	case p >= t.Critical:
		return models.SeverityCritical
	case p >= t.Warning:
		return models.SeverityWarning
	}
	return models.SeverityNormal
}
