// Package monitor provides the sample sources that feed the pipeline.
package monitor

import (
	"context"
	"errors"

	"github.com/miradorstack/mirador-adapt/internal/models"
	"github.com/miradorstack/mirador-adapt/internal/utils"
)

// ErrSourceUnavailable marks a retryable failure to obtain a sample.
var ErrSourceUnavailable = errors.New("monitor source unavailable")

// Source yields one raw sample per call.
type Source interface {
	Sample(ctx context.Context) (models.RawSample, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (models.RawSample, error)

// Sample calls f.
func (f SourceFunc) Sample(ctx context.Context) (models.RawSample, error) {
	return f(ctx)
}

func unavailable(op string, err error) error {
	return utils.NewAppError(op, ErrSourceUnavailable, err)
}
