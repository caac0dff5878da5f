package specialist

import (
	"context"
	"fmt"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/logging"
)

// Result is the router's contribution to a turn: the intake question to
// weave into the reply plus the fields extracted along the way.
type Result struct {
	// Topic that produced the final turnover of this turn.
	Topic string
	// Question to append to the reply; empty when intake is complete.
	Question string
	// Fields accumulated across every specialist consulted this turn,
	// merged null-safely into the turn's facts by the engine.
	Fields map[string]any
	// Handoffs consumed this turn (already added to the conversation's
	// monotonic counter).
	Handoffs int
	// Completed is true when the final transition ended the topic intake.
	Completed bool
}

// Router dispatches the turn to the specialist variant matching the
// extracted legal intent and follows hand-off transitions until a variant
// settles. The conversation's monotonic hand-off counter bounds the chain:
// exceeding the ceiling aborts routing with core.ErrRecursionLimit, and
// the engine falls back to a generic, non-specialist response.
type Router struct {
	registry *Registry
	limit    int
	logger   logging.Logger
}

// NewRouter creates a router over the registry. limit is the hand-off
// ceiling per conversation (default 100).
func NewRouter(registry *Registry, limit int, logger logging.Logger) *Router {
	if limit <= 0 {
		limit = 100
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Router{registry: registry, limit: limit, logger: logger}
}

// Route runs specialist intake for the turn. A nil Result with nil error
// means no variant serves the conversation's intent and the turn proceeds
// without a specialist. conv is mutated (ActiveTopic, Handoffs) but not
// persisted here; the engine's end-of-turn write-back owns persistence.
func (r *Router) Route(ctx context.Context, view core.TurnView, conv *core.Conversation) (*Result, error) {
	topic := conv.ActiveTopic
	if topic == "" {
		topic = r.pickTopic(view.LegalIntent)
	}
	if topic == "" {
		return nil, nil
	}
	sp, ok := r.registry.Lookup(topic)
	if !ok {
		r.logger.Debug("router: no variant for topic %s", topic)
		return nil, nil
	}

	facts := make(map[string]any, len(view.Facts))
	for k, v := range view.Facts {
		facts[k] = v
	}

	result := &Result{Topic: topic, Fields: map[string]any{}}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		turnover, err := sp.Ask(ctx, facts, view.History)
		if err != nil {
			return nil, fmt.Errorf("specialist %s: %w", topic, err)
		}

		core.MergeFacts(result.Fields, turnover.ExtractedFields)
		core.MergeFacts(facts, turnover.ExtractedFields)
		result.Topic = topic
		result.Question = turnover.NextQuestion

		kind, target := ParseTransition(turnover.StateTransition)
		switch kind {
		case TransitionComplete:
			result.Completed = true
			conv.ActiveTopic = ""
			return result, nil

		case TransitionHandoff:
			conv.Handoffs++
			result.Handoffs++
			if conv.Handoffs > r.limit {
				return nil, fmt.Errorf("%w: %d hand-offs on conversation %s", core.ErrRecursionLimit, conv.Handoffs, conv.ID)
			}
			next, ok := r.registry.Lookup(target)
			if !ok {
				// Unknown target: settle with what the chain produced.
				r.logger.Warn("router: hand-off to unknown topic %s, settling on %s", target, topic)
				conv.ActiveTopic = topic
				return result, nil
			}
			r.logger.Debug("router: hand-off %s -> %s", topic, target)
			topic = target
			sp = next

		default: // TransitionContinue
			conv.ActiveTopic = topic
			return result, nil
		}
	}
}

// pickTopic returns the first extracted intent tag with a registered
// variant, preserving extraction order.
func (r *Router) pickTopic(intents []string) string {
	for _, tag := range intents {
		if _, ok := r.registry.Lookup(tag); ok {
			return tag
		}
	}
	return ""
}
