package detector

import (
	"errors"
	"fmt"
)

// ErrModelNotTrained is returned when scoring before any successful Train.
var ErrModelNotTrained = errors.New("anomaly model not trained")

// InsufficientTrainingDataError reports a training set below the configured minimum.
type InsufficientTrainingDataError struct {
	Got int
	Min int
}

func (e *InsufficientTrainingDataError) Error() string {
	return fmt.Sprintf("insufficient training data: got %d samples, need at least %d", e.Got, e.Min)
}

// FeatureShapeMismatchError reports a vector whose length differs from the trained model.
type FeatureShapeMismatchError struct {
	Got  int
	Want int
}

func (e *FeatureShapeMismatchError) Error() string {
	return fmt.Sprintf("feature shape mismatch: got %d features, model expects %d", e.Got, e.Want)
}
