package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/internal/util"
	"github.com/counselmesh/counselmesh/model"
)

const draftInstructions = `You are an empathetic companion for people facing legal problems.
{{if .name}}You are talking to {{.name}}.{{end}}
Reflect what the user is feeling before anything else. Be warm, concrete and brief.
You are not a lawyer and must not give legal advice; acknowledge, normalize, and
prepare the ground for the intake questions the system will append.
Recent conversation:
{{.history}}`

// Draft generates the streamed empathetic reply. It starts as soon as the
// redacted text and profile are available and does not wait for the
// analysis fan-out: early reflection depends on neither facts nor scores.
type Draft struct {
	llm model.Model
}

// NewDraft creates the draft stage.
func NewDraft(llm model.Model) *Draft { return &Draft{llm: llm} }

// Name implements core.Stage.
func (d *Draft) Name() string { return "draft" }

// Stream generates the reply, invoking emit for every fragment as it
// arrives and returning the full accumulated text. A failure after partial
// output returns what was streamed together with the error: a reply
// already in flight is never retracted.
func (d *Draft) Stream(ctx context.Context, view core.TurnView, emit func(delta string) error) (string, error) {
	instructions, err := d.instructions(view)
	if err != nil {
		return "", core.NewStageError(d.Name(), core.KindInvalid, err)
	}

	out, errCh := d.llm.Generate(ctx, model.Request{
		Instructions: instructions,
		Messages:     []model.Message{{Role: "user", Text: view.RedactedText}},
		Stream:       true,
	})

	var sb strings.Builder
	var final string
	for resp := range out {
		if resp.Partial {
			sb.WriteString(resp.Text)
			if err := emit(resp.Text); err != nil {
				return sb.String(), err
			}
			continue
		}
		final = resp.Text
	}
	if err := <-errCh; err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return sb.String(), core.NewStageError(d.Name(), core.KindTimeout, err)
		}
		return sb.String(), core.NewStageError(d.Name(), core.KindUnavailable, err)
	}

	// Providers that only answer non-streaming emit a single final chunk.
	if sb.Len() == 0 && final != "" {
		if err := emit(final); err != nil {
			return final, err
		}
		return final, nil
	}
	if final != "" {
		return final, nil
	}
	return sb.String(), nil
}

// Run implements core.Stage by collecting the stream without fragment
// emission. The engine uses Stream directly; Run exists so the draft stage
// satisfies the uniform contract for tests and alternate schedulers.
func (d *Draft) Run(ctx context.Context, view core.TurnView) (core.PartialUpdate, error) {
	text, err := d.Stream(ctx, view, func(string) error { return nil })
	if err != nil {
		return core.PartialUpdate{DraftDelta: text}, err
	}
	return core.PartialUpdate{DraftDelta: text}, nil
}

func (d *Draft) instructions(view core.TurnView) (string, error) {
	state := map[string]any{
		"history": historyLines(view.History, 8),
	}
	if view.Profile != nil && view.Profile.DisplayName != "" {
		state["name"] = view.Profile.DisplayName
	}
	rendered, err := util.RenderTemplate(draftInstructions, state)
	if err != nil {
		return "", fmt.Errorf("render draft instructions: %w", err)
	}
	return rendered, nil
}
