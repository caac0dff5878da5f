package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies stage failures. The orchestrator's reaction depends
// only on the kind, never on the concrete error:
//
//	KindTimeout, KindUnavailable  retried with bounded backoff, then defaulted
//	KindInvalid                   replaced by the stage's deterministic default
//	KindFatal                     aborts the whole turn into StageFailed
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota
	KindTimeout
	KindInvalid
	KindFatal
)

// String returns the taxonomy label for logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "upstream_unavailable"
	case KindInvalid:
		return "invalid"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether the orchestrator may retry a failure of this kind.
func (k ErrorKind) Retryable() bool { return k == KindTimeout || k == KindUnavailable }

// StageError wraps a stage failure with its taxonomy kind and origin.
type StageError struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

// NewStageError constructs a classified stage error.
func NewStageError(stage string, kind ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf extracts the taxonomy kind from err. Unclassified errors are
// treated as KindUnavailable; context deadline errors as KindTimeout.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}

// ErrRecursionLimit is returned by the specialist router when the
// per-conversation hand-off counter exceeds its configured ceiling. It
// aborts routing only; the turn still completes with a generic response.
var ErrRecursionLimit = errors.New("specialist hand-off recursion limit exceeded")
