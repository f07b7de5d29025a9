package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotInitialized is returned when samples arrive before a model is trained.
var ErrNotInitialized = errors.New("pipeline not initialized: train a model first")

// InitializationError wraps any failure of the startup training pass.
type InitializationError struct {
	Samples int
	Err     error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("pipeline initialization failed after %d samples: %v", e.Samples, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// NonMonotonicSampleError reports a sample whose timestamp does not advance.
type NonMonotonicSampleError struct {
	Previous time.Time
	Got      time.Time
}

func (e *NonMonotonicSampleError) Error() string {
	return fmt.Sprintf("sample timestamp %s is not after previous %s", e.Got.Format(time.RFC3339Nano), e.Previous.Format(time.RFC3339Nano))
}
