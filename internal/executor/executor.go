// Package executor defines the external research capability the scheduler
// invokes, and its error taxonomy. The pipeline treats the executor as
// opaque: it may take minutes per call and fail transiently, so retry
// decisions hinge entirely on the Transient/Fatal split here.
package executor

import (
	"context"
	"errors"
	"fmt"

	"curator/internal/types"
)

// ResearchExecutor performs one research call for a classified request.
type ResearchExecutor interface {
	Execute(ctx context.Context, req *types.ClassifiedRequest) (*types.ResearchResult, error)
	Name() string
}

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// TransientError marks a failure worth retrying (rate limit, network blip,
// provider hiccup).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient executor error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure retries cannot fix (malformed request rejected
// by the provider, missing credentials). The task moves straight to terminal
// Failed.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal executor error: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Transient reports whether err should be retried. Unclassified errors count
// as transient: a provider we cannot diagnose deserves its retry budget.
func Transient(err error) bool {
	var fatal *FatalError
	return err != nil && !errors.As(err, &fatal)
}

// Fatalf builds a FatalError.
func Fatalf(format string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// Transientf builds a TransientError.
func Transientf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}
