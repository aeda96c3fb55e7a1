package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates a missing entity (security, spec, run).
// Wrap with context: fmt.Errorf("security %s: %w", id, domain.ErrNotFound).
var ErrNotFound = errors.New("not found")

// ValidationError indicates bad input: invalid tenor, unknown day-count
// convention, missing required field. Fatal at the API boundary, never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CurveUnavailableError indicates a named curve could not be resolved on the
// requested date after all fallbacks. Per-security failure; the run continues.
type CurveUnavailableError struct {
	Name string
	Date time.Time
}

func (e *CurveUnavailableError) Error() string {
	return fmt.Sprintf("curve %q unavailable on %s", e.Name, e.Date.Format("2006-01-02"))
}

// FxUnavailableError indicates an FX rate could not be resolved.
// Per-security failure; the run continues.
type FxUnavailableError struct {
	From string
	To   string
	Date time.Time
}

func (e *FxUnavailableError) Error() string {
	return fmt.Sprintf("fx rate %s->%s unavailable on %s", e.From, e.To, e.Date.Format("2006-01-02"))
}

// ProjectionUnsupportedError indicates the instrument family has no
// cash-flow engine.
type ProjectionUnsupportedError struct {
	InstrumentType InstrumentType
}

func (e *ProjectionUnsupportedError) Error() string {
	return fmt.Sprintf("no cash-flow engine for instrument type %q", e.InstrumentType)
}

// TransientStoreError marks a database failure that is worth one retry with
// backoff at the orchestrator's transactional boundary.
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store failure: %v", e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsTransientStore reports whether err is a TransientStoreError.
func IsTransientStore(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}
