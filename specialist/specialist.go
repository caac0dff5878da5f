// Package specialist implements the legal-intake strategy layer: a
// registry of per-topic Specialist variants, a generic model-backed
// variant with a statically declared field schema, and the Router that
// dispatches on extracted legal intent with a bounded hand-off counter.
package specialist

import (
	"strings"

	"github.com/counselmesh/counselmesh/core"
)

// TransitionKind classifies a specialist's state_transition value.
type TransitionKind int

const (
	// TransitionContinue keeps the current specialist engaged.
	TransitionContinue TransitionKind = iota
	// TransitionComplete ends intake for the current topic.
	TransitionComplete
	// TransitionHandoff transfers control to another topic's variant.
	TransitionHandoff
)

// ParseTransition interprets a state_transition string. Unknown values
// degrade to continue rather than erroring: a sloppy transition label is
// Invalid-shaped output, and continue is its deterministic default.
func ParseTransition(s string) (TransitionKind, string) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "complete", s == "done", s == "terminal":
		return TransitionComplete, ""
	case strings.HasPrefix(s, "handoff:"):
		target := strings.TrimSpace(strings.TrimPrefix(s, "handoff:"))
		if target == "" {
			return TransitionContinue, ""
		}
		return TransitionHandoff, target
	default:
		return TransitionContinue, ""
	}
}

// Registry holds the capability set of specialist variants keyed by topic.
// Registration happens at wiring time; lookups at turn time are read-only,
// so no locking is needed.
type Registry struct {
	variants map[string]core.Specialist
}

// NewRegistry creates a registry containing the given variants.
func NewRegistry(variants ...core.Specialist) *Registry {
	r := &Registry{variants: map[string]core.Specialist{}}
	for _, v := range variants {
		r.Register(v)
	}
	return r
}

// Register adds (or replaces) a variant under its topic.
func (r *Registry) Register(v core.Specialist) { r.variants[v.Topic()] = v }

// Lookup returns the variant for a topic.
func (r *Registry) Lookup(topic string) (core.Specialist, bool) {
	v, ok := r.variants[topic]
	return v, ok
}

// Topics returns the registered topic tags.
func (r *Registry) Topics() []string {
	out := make([]string, 0, len(r.variants))
	for t := range r.variants {
		out = append(out, t)
	}
	return out
}
