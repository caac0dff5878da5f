package specialist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/internal/util"
	"github.com/counselmesh/counselmesh/model"
)

// FieldKind restricts the type a declared intake field accepts.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
)

// FieldSpec statically declares one optional intake field a variant may
// extract. Anything the model emits outside the declared set is dropped
// rather than parsed ad hoc.
type FieldSpec struct {
	Name string
	Kind FieldKind
}

const modelSpecialistInstructions = `You run legal intake for the topic "{{.topic}}".
{{.guidance}}
Known facts so far:
{{.facts}}
Decide the single most useful next intake question, or whether intake for this
topic is done, or whether another topic should take over.
Respond with one JSON object:
{"next_question": "<question or empty>",
 "state_transition": "<continue|complete|handoff:TOPIC>",
 "extracted_fields": {<only fields the conversation already answered>}}
Declared fields you may extract: {{.fields}}. Never invent values.`

// ModelSpecialist is the generic model-backed intake variant. One instance
// per legal topic, differing only in topic tag, guidance text and declared
// field set; the router treats every instance opaquely.
type ModelSpecialist struct {
	topic    string
	guidance string
	fields   []FieldSpec
	llm      model.Model
}

// NewModelSpecialist builds a variant for a topic.
func NewModelSpecialist(topic, guidance string, fields []FieldSpec, llm model.Model) *ModelSpecialist {
	return &ModelSpecialist{topic: topic, guidance: guidance, fields: fields, llm: llm}
}

// Topic implements core.Specialist.
func (s *ModelSpecialist) Topic() string { return s.topic }

// Ask implements core.Specialist.
func (s *ModelSpecialist) Ask(ctx context.Context, facts map[string]any, history []core.TurnRecord) (core.Turnover, error) {
	instructions, err := s.instructions(facts)
	if err != nil {
		return core.Turnover{}, err
	}

	input := "Continue the intake."
	if len(history) > 0 {
		last := history[len(history)-1]
		input = "Latest exchange:\nuser: " + last.RedactedText + "\nassistant: " + last.ReplyText
	}

	out, errCh := s.llm.Generate(ctx, model.Request{
		Instructions: instructions,
		Messages:     []model.Message{{Role: "user", Text: input}},
	})
	text, err := model.Collect(out, errCh)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.Turnover{}, core.NewStageError("specialist."+s.topic, core.KindTimeout, err)
		}
		return core.Turnover{}, core.NewStageError("specialist."+s.topic, core.KindUnavailable, err)
	}

	var payload struct {
		NextQuestion    string         `json:"next_question"`
		StateTransition string         `json:"state_transition"`
		ExtractedFields map[string]any `json:"extracted_fields"`
	}
	if err := util.DecodePayload(text, &payload); err != nil {
		return core.Turnover{}, core.NewStageError("specialist."+s.topic, core.KindInvalid, err)
	}

	return core.Turnover{
		NextQuestion:    payload.NextQuestion,
		StateTransition: payload.StateTransition,
		ExtractedFields: s.validateFields(payload.ExtractedFields),
	}, nil
}

// validateFields keeps only declared fields whose values coerce to the
// declared kind; everything else is dropped.
func (s *ModelSpecialist) validateFields(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := map[string]any{}
	for _, spec := range s.fields {
		v, ok := raw[spec.Name]
		if !ok || v == nil {
			continue
		}
		switch spec.Kind {
		case FieldString:
			if sv, ok := v.(string); ok && sv != "" {
				out[spec.Name] = sv
			}
		case FieldNumber:
			switch nv := v.(type) {
			case float64:
				out[spec.Name] = nv
			case int:
				out[spec.Name] = float64(nv)
			}
		case FieldBool:
			if bv, ok := v.(bool); ok {
				out[spec.Name] = bv
			}
		}
	}
	return out
}

func (s *ModelSpecialist) instructions(facts map[string]any) (string, error) {
	var factLines strings.Builder
	for k, v := range facts {
		fmt.Fprintf(&factLines, "- %s: %v\n", k, v)
	}
	if factLines.Len() == 0 {
		factLines.WriteString("(none yet)\n")
	}
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return util.RenderTemplate(modelSpecialistInstructions, map[string]any{
		"topic":    s.topic,
		"guidance": s.guidance,
		"facts":    factLines.String(),
		"fields":   strings.Join(names, ", "),
	})
}
