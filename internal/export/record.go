// Package export ships per-sample records to downstream sinks.
package export

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-adapt/internal/executor"
	"github.com/miradorstack/mirador-adapt/internal/models"
)

// Record is the flat per-sample export unit.
type Record struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	Sample    models.RawSample     `json:"sample"`
	Features  models.FeatureVector `json:"features"`
	Anomaly   models.AnomalyResult `json:"anomaly"`
	Decision  models.Decision      `json:"decision"`
	Execution *executor.Result     `json:"execution,omitempty"`
}

// NewRecord stamps a fresh record ID.
func NewRecord(sample models.RawSample, vec models.FeatureVector, anomaly models.AnomalyResult, d models.Decision) Record {
	return Record{
		ID:        uuid.NewString(),
		Timestamp: sample.Timestamp,
		Sample:    sample,
		Features:  vec,
		Anomaly:   anomaly,
		Decision:  d,
	}
}

// Sink receives records from the Dispatcher.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
	Close() error
}
