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

// complete runs one non-streaming model call and classifies failures into
// the stage error taxonomy: context expiry becomes Timeout, everything else
// from the provider becomes UpstreamUnavailable.
func complete(ctx context.Context, llm model.Model, stageName, instructions, input string) (string, error) {
	out, errCh := llm.Generate(ctx, model.Request{
		Instructions: instructions,
		Messages:     []model.Message{{Role: "user", Text: input}},
	})
	text, err := model.Collect(out, errCh)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", core.NewStageError(stageName, core.KindTimeout, err)
		}
		return "", core.NewStageError(stageName, core.KindUnavailable, err)
	}
	return text, nil
}

// decode parses the stage's JSON payload out of the model text; any shape
// problem is Invalid, prompting the orchestrator to fall back to the
// stage's deterministic default.
func decode(stageName, text string, target any) error {
	if err := util.DecodePayload(text, target); err != nil {
		return core.NewStageError(stageName, core.KindInvalid, err)
	}
	return nil
}

// historyLines renders recent turns as compact prompt context.
func historyLines(history []core.TurnRecord, max int) string {
	if len(history) > max {
		history = history[len(history)-max:]
	}
	var sb strings.Builder
	for _, tr := range history {
		fmt.Fprintf(&sb, "user: %s\nassistant: %s\n", tr.RedactedText, tr.ReplyText)
	}
	return sb.String()
}

func sentimentPtr(s core.Sentiment) *core.Sentiment { return &s }

func floatPtr(f float64) *float64 { return &f }

func boolPtr(b bool) *bool { return &b }
