package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation and retry decisions.
type Kind string

const (
	// KindTransient marks a failure eligible for retry when its code is in
	// the active policy's retryable set (rate limits, upstream unavailability).
	KindTransient Kind = "transient"

	// KindRetriesExhausted is surfaced once a transient failure has consumed
	// its full retry budget.
	KindRetriesExhausted Kind = "retries_exhausted"

	// KindNonRetryable propagates immediately without retry.
	KindNonRetryable Kind = "non_retryable"

	// KindInvalidResumption rejects a resume call with an unknown, stale or
	// already-consumed invocation id.
	KindInvalidResumption Kind = "invalid_resumption"

	// KindMergeConflict is raised when two parallel siblings wrote the same
	// state key during one fan-out.
	KindMergeConflict Kind = "merge_conflict"

	// KindCancelled marks work aborted by context cancellation, including
	// parallel siblings cancelled by a fail-fast peer.
	KindCancelled Kind = "cancelled"

	// KindDeadline marks a tool invocation that exceeded its overall timeout.
	// Deadline failures are never retried.
	KindDeadline Kind = "deadline"
)

// Failure is the typed error carried by failed Outcomes. Code holds an
// optional numeric status (HTTP-style for remote capabilities) consulted by
// retry policies.
type Failure struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether the failure kind is transient.
func (f *Failure) Retryable() bool { return f.Kind == KindTransient }

// NewFailure builds a Failure of the given kind with a formatted message.
func NewFailure(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Transientf builds a retryable failure carrying a status code.
func Transientf(code int, format string, args ...any) *Failure {
	return &Failure{Kind: KindTransient, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NonRetryablef builds a failure that propagates without retry.
func NonRetryablef(format string, args ...any) *Failure {
	return &Failure{Kind: KindNonRetryable, Message: fmt.Sprintf(format, args...)}
}

// WrapFailure converts an arbitrary error into a Failure, preserving an
// existing Failure unchanged and classifying everything else non-retryable.
func WrapFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindNonRetryable, Message: err.Error(), Err: err}
}

// WithCode returns a copy of the failure carrying the given status code.
func (f *Failure) WithCode(code int) *Failure {
	cp := *f
	cp.Code = code
	return &cp
}

// IsKind reports whether err is (or wraps) a Failure of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}
