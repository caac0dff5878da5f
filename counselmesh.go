// Package counselmesh is a turn orchestration engine for multi-turn
// empathetic legal-help chat. Each user message becomes one turn: the
// engine redacts it, screens it for crisis, fans it out to concurrent
// analysis and drafting stages, routes specialist legal intake with a
// bounded hand-off chain, consults the lawyer matcher under skip rules,
// and streams a composed sequence of frames back to the client.
//
// The top-level packages:
//
//	core       shared contracts: turn state machine, frames, stores
//	engine     the per-turn orchestrator and its configuration
//	stage      the stateless analysis and drafting stages
//	specialist per-topic legal intake variants and the hand-off router
//	match      matcher invocation policy (skip rules, degradation)
//	compose    reply composition: cards, suggestions, reflections
//	redact     PII scrubbing at the input boundary
//	store      in-memory and Redis persistence
//	model      provider-agnostic LLM abstraction (anthropic, openai)
//	transport  HTTP/SSE front end
//
// See cmd/counselmesh for the runnable service.
package counselmesh
