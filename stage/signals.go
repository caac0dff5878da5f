package stage

import (
	"context"
	"regexp"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/model"
)

const signalsInstructions = `You extract structured signals from a message to a legal-help companion.
Respond with a single JSON object:
{"legal_intent": ["<divorce|custody|tenancy|employment|immigration|estate|other>", ...],
 "facts": {"location": "...", "city": "...", "state": "...", "zip": "...", "budget": ..., "urgency": "...", "opposing_party": "..."}}
Include only facts the message actually states. Never guess. Omit unknown keys entirely;
never emit null values.`

var zipPattern = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)

// Signals extracts legal intent tags and structured intake facts. Part of
// the phase-1 analysis fan-out. A deterministic zip-code scan supplements
// the model so a missing location signal is never the model's fault alone.
type Signals struct {
	llm model.Model
}

// NewSignals creates the signal-extraction stage.
func NewSignals(llm model.Model) *Signals { return &Signals{llm: llm} }

// Name implements core.Stage.
func (s *Signals) Name() string { return "signals" }

// Run implements core.Stage.
func (s *Signals) Run(ctx context.Context, view core.TurnView) (core.PartialUpdate, error) {
	text, err := complete(ctx, s.llm, s.Name(), signalsInstructions, view.RedactedText)
	if err != nil {
		return core.PartialUpdate{}, err
	}

	var payload struct {
		LegalIntent []string       `json:"legal_intent"`
		Facts       map[string]any `json:"facts"`
	}
	if err := decode(s.Name(), text, &payload); err != nil {
		return core.PartialUpdate{}, err
	}

	update := core.PartialUpdate{
		LegalIntent: payload.LegalIntent,
		Facts:       payload.Facts,
	}
	s.supplementZip(view.RedactedText, &update)
	return update, nil
}

// Default implements core.Default: no intent, keyword-only facts.
func (s *Signals) Default(view core.TurnView) core.PartialUpdate {
	var update core.PartialUpdate
	s.supplementZip(view.RedactedText, &update)
	return update
}

func (s *Signals) supplementZip(text string, update *core.PartialUpdate) {
	m := zipPattern.FindStringSubmatch(text)
	if m == nil {
		return
	}
	if update.Facts == nil {
		update.Facts = map[string]any{}
	}
	if _, ok := update.Facts["zip"]; !ok {
		update.Facts["zip"] = m[1]
	}
}
