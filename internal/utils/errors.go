package utils

import "fmt"

// AppError tags a failed operation with a sentinel Kind so callers can branch
// on the kind with errors.Is while the cause stays inspectable.
type AppError struct {
	Op   string
	Kind error
	Err  error
}

func (e *AppError) Error() string {
	switch {
	case e.Kind == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *AppError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewAppError constructs an AppError.
func NewAppError(op string, kind, err error) error {
	return &AppError{Op: op, Kind: kind, Err: err}
}
