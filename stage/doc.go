// Package stage contains the built-in pipeline stages: safety screening,
// profile loading, the analysis fan-out (emotion, signal extraction,
// alliance, research) and streaming draft generation.
//
// Every stage is stateless between turns, reads only its TurnView snapshot
// and returns a core.PartialUpdate. Stages that can degrade gracefully
// implement core.Default with a deterministic fallback the orchestrator
// substitutes when the model output is malformed or retries are exhausted.
package stage
