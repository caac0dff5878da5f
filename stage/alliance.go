package stage

import (
	"context"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/model"
)

const allianceInstructions = `You estimate the therapeutic alliance between a legal-help companion and its user.
Given the latest message and recent history, respond with a single JSON object:
{"bond": <0-10>, "goal": <0-10>, "task": <0-10>}
bond = rapport and trust, goal = agreement on what the user wants,
task = agreement on how to get there.`

// Alliance scores the three alliance dimensions each turn. Part of the
// phase-1 analysis fan-out. The engine maintains the cross-turn
// consecutive-low counter from these scores.
type Alliance struct {
	llm model.Model
}

// NewAlliance creates the alliance stage.
func NewAlliance(llm model.Model) *Alliance { return &Alliance{llm: llm} }

// Name implements core.Stage.
func (a *Alliance) Name() string { return "alliance" }

// Run implements core.Stage.
func (a *Alliance) Run(ctx context.Context, view core.TurnView) (core.PartialUpdate, error) {
	input := historyLines(view.History, 6) + "user: " + view.RedactedText
	text, err := complete(ctx, a.llm, a.Name(), allianceInstructions, input)
	if err != nil {
		return core.PartialUpdate{}, err
	}

	var payload struct {
		Bond float64 `json:"bond"`
		Goal float64 `json:"goal"`
		Task float64 `json:"task"`
	}
	if err := decode(a.Name(), text, &payload); err != nil {
		return core.PartialUpdate{}, err
	}

	return core.PartialUpdate{
		AllianceBond: floatPtr(core.ClampScore(payload.Bond)),
		AllianceGoal: floatPtr(core.ClampScore(payload.Goal)),
		AllianceTask: floatPtr(core.ClampScore(payload.Task)),
	}, nil
}

// Default implements core.Default: mid-scale scores neither trip the
// falter rule nor reset an active one.
func (a *Alliance) Default(core.TurnView) core.PartialUpdate {
	return core.PartialUpdate{
		AllianceBond: floatPtr(5),
		AllianceGoal: floatPtr(5),
		AllianceTask: floatPtr(5),
	}
}
