package core

import "context"

// Entity is a PII occurrence replaced during redaction.
type Entity struct {
	Type        string `json:"type"` // "email", "phone", "ssn", "name", ...
	Replacement string `json:"replacement"`
}

// Redactor removes PII from user text before any other component sees it.
// A redaction failure is fatal for the turn: no unredacted text may proceed
// past the orchestrator boundary.
type Redactor interface {
	Redact(ctx context.Context, text string) (redacted string, entities []Entity, err error)
}

// RankedCard is one ranked lawyer recommendation from the matcher.
type RankedCard struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation,omitempty"`
}

// Matcher ranks lawyer candidates against the turn's facts and legal
// intent. The ranking algorithm is an external collaborator; failures
// degrade to "no cards this turn" and never fail the turn.
type Matcher interface {
	Search(ctx context.Context, facts map[string]any, legalIntent []string, limit int) ([]RankedCard, error)
}

// Turnover is the structured result of one specialist step. The engine is
// agnostic to how it was produced (typically an LLM call behind the
// Specialist implementation).
type Turnover struct {
	// NextQuestion is the intake question to weave into the reply; empty
	// when the specialist has nothing to ask this turn.
	NextQuestion string `json:"next_question"`

	// StateTransition is one of "continue", "complete" or
	// "handoff:<topic>". Unknown values degrade to "continue".
	StateTransition string `json:"state_transition"`

	// ExtractedFields are merged null-safely into the turn's facts.
	ExtractedFields map[string]any `json:"extracted_fields"`
}

// Specialist is one pluggable legal-intake strategy. A variant exists per
// legal topic; the router treats every variant opaquely through this
// contract.
type Specialist interface {
	// Topic returns the legal intent tag this variant serves.
	Topic() string

	// Ask advances the intake given the facts captured so far and the
	// recent conversation history.
	Ask(ctx context.Context, facts map[string]any, history []TurnRecord) (Turnover, error)
}

// SearchResult is one hit from the research search index.
type SearchResult struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchIndex backs the optional research stage with topic background
// lookup. Implementations may use keywords, embeddings or anything else.
type SearchIndex interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Store(ctx context.Context, content string, metadata map[string]any) error
}
