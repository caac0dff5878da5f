package core

import "context"

// Stage is the common capability every pipeline unit implements: given a
// read-only snapshot of the turn, produce a partial update or fail.
//
// Contract:
//   - Run must be side-effect free on shared state; persistence happens
//     only through the orchestrator's write-back after a phase completes.
//   - Run must respect ctx cancellation at every external-call boundary.
//   - Errors should be StageError values carrying a taxonomy kind; plain
//     errors are treated as KindUnavailable by the orchestrator.
//   - A stage is stateless between turns. Anything it needs across turns
//     lives in the external stores and arrives through the TurnView.
type Stage interface {
	// Name returns the stable stage identifier used in logs and metrics.
	Name() string

	// Run produces the stage's contribution for the turn.
	Run(ctx context.Context, view TurnView) (PartialUpdate, error)
}

// Default is implemented by stages that can degrade to a deterministic
// fallback when their upstream returns malformed output (KindInvalid) or
// retries are exhausted. The orchestrator substitutes the default for the
// stage's contribution instead of failing the turn.
type Default interface {
	Default(view TurnView) PartialUpdate
}
