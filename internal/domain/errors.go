package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline errors for retry and reporting decisions.
type ErrorKind int

const (
	// ErrorKindValidation marks bad client input, rejected synchronously.
	ErrorKindValidation ErrorKind = iota
	// ErrorKindDuplicate marks an idempotent no-op, not a failure.
	ErrorKindDuplicate
	// ErrorKindRetryable marks transient provider or network failures.
	ErrorKindRetryable
	// ErrorKindPermanent marks failures that must not consume retry budget:
	// malformed input, inaccessible source files, provider-reported
	// permanent rejections.
	ErrorKindPermanent
)

// PipelineError carries an error kind, a redacted user-facing message and an
// opaque correlation reference. The wrapped cause is for internal logs only
// and is never surfaced to clients.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Ref     string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (ref=%s): %v", e.Message, e.Ref, e.Err)
	}
	return fmt.Sprintf("%s (ref=%s)", e.Message, e.Ref)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// UserMessage returns the redacted message with the correlation reference
// appended, suitable for end-user display.
func (e *PipelineError) UserMessage() string {
	return fmt.Sprintf("%s (reference: %s)", e.Message, e.Ref)
}

// Retryable creates a PipelineError for a transient failure.
func Retryable(ref, msg string, err error) *PipelineError {
	return &PipelineError{Kind: ErrorKindRetryable, Message: msg, Ref: ref, Err: err}
}

// Permanent creates a PipelineError for a non-retryable failure.
func Permanent(ref, msg string, err error) *PipelineError {
	return &PipelineError{Kind: ErrorKindPermanent, Message: msg, Ref: ref, Err: err}
}

// Validation creates a PipelineError for bad client input.
func Validation(msg string) *PipelineError {
	return &PipelineError{Kind: ErrorKindValidation, Message: msg}
}

// KindOf extracts the error kind from an error chain. Unknown errors are
// treated as retryable so internal faults (I/O, serialization) feed the
// retry machinery instead of propagating out of a worker iteration.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindRetryable
}

// ErrDuplicate indicates content that has already been fully processed for
// the same owner. It is a success from the client's point of view.
var ErrDuplicate = &PipelineError{Kind: ErrorKindDuplicate, Message: "document already processed"}
