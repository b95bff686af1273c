package pipeline

import (
	"errors"
	"fmt"

	"argus-siem/internal/normalize"
)

var (
	// ErrValidation marks a malformed single record or request. Never
	// retried.
	ErrValidation = errors.New("validation failed")
	// ErrFatalParse marks a payload that is unreadable as a whole.
	// Nothing is committed.
	ErrFatalParse = errors.New("payload unreadable")
	// ErrTransient marks an external failure that was retried and still
	// failed.
	ErrTransient = errors.New("transient external failure")
)

// PartialBatchError reports a batch where some records failed. Accepted
// records are committed; it is not an overall failure.
type PartialBatchError struct {
	Accepted int
	Errors   []normalize.RecordError
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("%d records accepted, %d failed", e.Accepted, len(e.Errors))
}

func validationErr(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

func fatalParseErr(err error) error {
	return fmt.Errorf("%w: %v", ErrFatalParse, err)
}
