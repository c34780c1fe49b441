package utils

import "errors"

var (
	// ErrNotFound indicates a missing session or organization record
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded indicates insufficient remaining minutes or task generations
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrVersionConflict indicates a conditional write lost the race -
	// the caller must re-read the record and retry or abort
	ErrVersionConflict = errors.New("version conflict")
)

// ErrNonRetryable wraps an error for which a retry can't succeed
// (missing record, exceeded quota, missing configuration)
type ErrNonRetryable struct {
	err error
}

// NewErrNonRetryable creates new error
func NewErrNonRetryable(err error) error {
	return &ErrNonRetryable{err: err}
}

func (e *ErrNonRetryable) Error() string {
	return "non retryable error: " + e.err.Error()
}

func (e *ErrNonRetryable) Unwrap() error {
	return e.err
}

// IsRetryable tells if the job may be redelivered for err
func IsRetryable(err error) bool {
	var nr *ErrNonRetryable
	if errors.As(err, &nr) {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrQuotaExceeded)
}
