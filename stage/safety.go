package stage

import (
	"context"
	"strings"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/model"
)

const safetyInstructions = `You are a crisis screening assistant for a legal-help companion.
Assess the user's message for emotional crisis. Respond with a single JSON object:
{"distress_score": <0-10>, "crisis_detected": <true|false>, "reason": "<short>"}
Set crisis_detected to true for any indication of self-harm, suicide, or violence toward
the user or others. distress_score 8 or above always means crisis.`

// crisisPhrases is the deterministic keyword fallback scanned locally when
// the model is unavailable, and OR-ed with the model verdict otherwise.
var crisisPhrases = []string{
	"kill myself",
	"end my life",
	"suicide",
	"self harm",
	"self-harm",
	"hurt myself",
	"want to die",
	"threatening me",
	"threatened to hurt",
	"he hit me",
	"she hit me",
	"afraid for my life",
	"afraid for my safety",
}

// Safety screens every turn for crisis signals. It runs first (phase 0),
// is never skipped, and is never retried past one attempt: on model failure
// it degrades to the deterministic keyword scan, failing toward caution
// whenever the scan is positive.
type Safety struct {
	llm model.Model
}

// NewSafety creates the safety stage.
func NewSafety(llm model.Model) *Safety { return &Safety{llm: llm} }

// Name implements core.Stage.
func (s *Safety) Name() string { return "safety" }

// Run implements core.Stage.
func (s *Safety) Run(ctx context.Context, view core.TurnView) (core.PartialUpdate, error) {
	text, err := complete(ctx, s.llm, s.Name(), safetyInstructions, view.RedactedText)
	if err != nil {
		return core.PartialUpdate{}, err
	}

	var payload struct {
		DistressScore  float64 `json:"distress_score"`
		CrisisDetected bool    `json:"crisis_detected"`
	}
	if err := decode(s.Name(), text, &payload); err != nil {
		return core.PartialUpdate{}, err
	}

	score := core.ClampScore(payload.DistressScore)
	crisis := payload.CrisisDetected || score >= 8 || ScanCrisisPhrases(view.RedactedText)

	return core.PartialUpdate{
		DistressScore:  &score,
		CrisisDetected: &crisis,
	}, nil
}

// Default implements core.Default: the non-LLM keyword fallback. A positive
// scan fails safe toward caution with a crisis-level distress score.
func (s *Safety) Default(view core.TurnView) core.PartialUpdate {
	if ScanCrisisPhrases(view.RedactedText) {
		return core.PartialUpdate{
			DistressScore:  floatPtr(8),
			CrisisDetected: boolPtr(true),
		}
	}
	return core.PartialUpdate{
		DistressScore:  floatPtr(0),
		CrisisDetected: boolPtr(false),
	}
}

// ScanCrisisPhrases is the deterministic local scan for self-harm and
// violence phrases. Exported so the composer's crisis variant and tests can
// share the exact pattern set the fallback uses.
func ScanCrisisPhrases(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range crisisPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
