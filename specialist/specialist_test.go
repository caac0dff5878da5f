package specialist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/internal/testutil"
	"github.com/counselmesh/counselmesh/model"
)

func TestParseTransition(t *testing.T) {
	tests := []struct {
		in     string
		kind   TransitionKind
		target string
	}{
		{"continue", TransitionContinue, ""},
		{"", TransitionContinue, ""},
		{"keep going", TransitionContinue, ""},
		{"complete", TransitionComplete, ""},
		{"DONE", TransitionComplete, ""},
		{"terminal", TransitionComplete, ""},
		{"handoff:custody", TransitionHandoff, "custody"},
		{" Handoff: tenancy ", TransitionHandoff, "tenancy"},
		{"handoff:", TransitionContinue, ""},
	}
	for _, tt := range tests {
		kind, target := ParseTransition(tt.in)
		assert.Equal(t, tt.kind, kind, "input %q", tt.in)
		assert.Equal(t, tt.target, target, "input %q", tt.in)
	}
}

func TestRegistry(t *testing.T) {
	a := &testutil.ScriptedSpecialist{TopicTag: "divorce"}
	b := &testutil.ScriptedSpecialist{TopicTag: "custody"}
	reg := NewRegistry(a, b)

	got, ok := reg.Lookup("divorce")
	require.True(t, ok)
	assert.Equal(t, "divorce", got.Topic())

	_, ok = reg.Lookup("maritime")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"divorce", "custody"}, reg.Topics())
}

func TestRouterNoIntent(t *testing.T) {
	reg := NewRegistry(&testutil.ScriptedSpecialist{TopicTag: "divorce"})
	router := NewRouter(reg, 0, nil)
	conv := core.NewConversation("c1", "u1")

	res, err := router.Route(context.Background(), core.TurnView{LegalIntent: []string{"astrology"}}, conv)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestRouterContinueSetsActiveTopic(t *testing.T) {
	sp := &testutil.ScriptedSpecialist{
		TopicTag: "divorce",
		Turnovers: []core.Turnover{{
			NextQuestion:    "How long have you been married?",
			StateTransition: "continue",
			ExtractedFields: map[string]any{"location": "Chicago"},
		}},
	}
	router := NewRouter(NewRegistry(sp), 0, nil)
	conv := core.NewConversation("c1", "u1")

	res, err := router.Route(context.Background(), core.TurnView{LegalIntent: []string{"divorce"}}, conv)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "divorce", res.Topic)
	assert.Equal(t, "How long have you been married?", res.Question)
	assert.Equal(t, "Chicago", res.Fields["location"])
	assert.False(t, res.Completed)
	assert.Equal(t, "divorce", conv.ActiveTopic)
	assert.Equal(t, 1, sp.Calls())
}

func TestRouterCompleteClearsActiveTopic(t *testing.T) {
	sp := &testutil.ScriptedSpecialist{
		TopicTag:  "tenancy",
		Turnovers: []core.Turnover{{StateTransition: "complete"}},
	}
	router := NewRouter(NewRegistry(sp), 0, nil)
	conv := core.NewConversation("c1", "u1")
	conv.ActiveTopic = "tenancy"

	res, err := router.Route(context.Background(), core.TurnView{}, conv)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Completed)
	assert.Empty(t, conv.ActiveTopic)
}

func TestRouterHandoffChainMergesFields(t *testing.T) {
	divorce := &testutil.ScriptedSpecialist{
		TopicTag: "divorce",
		Turnovers: []core.Turnover{{
			StateTransition: "handoff:custody",
			ExtractedFields: map[string]any{"married_years": float64(6)},
		}},
	}
	custody := &testutil.ScriptedSpecialist{
		TopicTag: "custody",
		Turnovers: []core.Turnover{{
			NextQuestion:    "How old are the children?",
			StateTransition: "continue",
			ExtractedFields: map[string]any{"children_count": float64(2)},
		}},
	}
	router := NewRouter(NewRegistry(divorce, custody), 10, nil)
	conv := core.NewConversation("c1", "u1")

	res, err := router.Route(context.Background(), core.TurnView{LegalIntent: []string{"divorce"}}, conv)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "custody", res.Topic)
	assert.Equal(t, "How old are the children?", res.Question)
	assert.Equal(t, float64(6), res.Fields["married_years"])
	assert.Equal(t, float64(2), res.Fields["children_count"])
	assert.Equal(t, 1, res.Handoffs)
	assert.Equal(t, 1, conv.Handoffs)
	assert.Equal(t, "custody", conv.ActiveTopic)
}

func TestRouterHandoffCeiling(t *testing.T) {
	ping := &testutil.ScriptedSpecialist{
		TopicTag:  "divorce",
		Turnovers: []core.Turnover{{StateTransition: "handoff:custody"}},
	}
	pong := &testutil.ScriptedSpecialist{
		TopicTag:  "custody",
		Turnovers: []core.Turnover{{StateTransition: "handoff:divorce"}},
	}
	router := NewRouter(NewRegistry(ping, pong), 3, nil)
	conv := core.NewConversation("c1", "u1")

	res, err := router.Route(context.Background(), core.TurnView{LegalIntent: []string{"divorce"}}, conv)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, core.ErrRecursionLimit))
	assert.Equal(t, 4, conv.Handoffs)
}

func TestRouterCeilingSpansTurns(t *testing.T) {
	sp := &testutil.ScriptedSpecialist{
		TopicTag:  "divorce",
		Turnovers: []core.Turnover{{StateTransition: "handoff:custody"}},
	}
	router := NewRouter(NewRegistry(sp), 5, nil)
	conv := core.NewConversation("c1", "u1")
	conv.Handoffs = 5

	_, err := router.Route(context.Background(), core.TurnView{LegalIntent: []string{"divorce"}}, conv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrRecursionLimit))
}

func TestRouterUnknownHandoffTargetSettles(t *testing.T) {
	sp := &testutil.ScriptedSpecialist{
		TopicTag: "divorce",
		Turnovers: []core.Turnover{{
			NextQuestion:    "Do you share property?",
			StateTransition: "handoff:maritime",
		}},
	}
	router := NewRouter(NewRegistry(sp), 10, nil)
	conv := core.NewConversation("c1", "u1")

	res, err := router.Route(context.Background(), core.TurnView{LegalIntent: []string{"divorce"}}, conv)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "divorce", res.Topic)
	assert.Equal(t, "Do you share property?", res.Question)
	assert.Equal(t, "divorce", conv.ActiveTopic)
	assert.Equal(t, 1, conv.Handoffs)
}

func TestRouterActiveTopicBeatsIntent(t *testing.T) {
	divorce := &testutil.ScriptedSpecialist{TopicTag: "divorce"}
	tenancy := &testutil.ScriptedSpecialist{
		TopicTag:  "tenancy",
		Turnovers: []core.Turnover{{StateTransition: "continue"}},
	}
	router := NewRouter(NewRegistry(divorce, tenancy), 10, nil)
	conv := core.NewConversation("c1", "u1")
	conv.ActiveTopic = "tenancy"

	res, err := router.Route(context.Background(), core.TurnView{LegalIntent: []string{"divorce"}}, conv)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "tenancy", res.Topic)
	assert.Equal(t, 0, divorce.Calls())
	assert.Equal(t, 1, tenancy.Calls())
}

func TestRouterSpecialistError(t *testing.T) {
	sp := &testutil.ScriptedSpecialist{
		TopicTag: "divorce",
		Err:      core.NewStageError("specialist.divorce", core.KindUnavailable, errors.New("boom")),
	}
	router := NewRouter(NewRegistry(sp), 10, nil)
	conv := core.NewConversation("c1", "u1")

	_, err := router.Route(context.Background(), core.TurnView{LegalIntent: []string{"divorce"}}, conv)
	require.Error(t, err)
	assert.Equal(t, core.KindUnavailable, core.KindOf(err))
}

func TestModelSpecialistAsk(t *testing.T) {
	llm := model.NewMock(`Here is my decision:
{"next_question": "Where do you live?",
 "state_transition": "continue",
 "extracted_fields": {"married_years": 6, "has_children": true, "pet_name": "Rex", "budget": "lots"}}`)
	sp := NewModelSpecialist("divorce", "Cover the basics.", []FieldSpec{
		{Name: "married_years", Kind: FieldNumber},
		{Name: "has_children", Kind: FieldBool},
		{Name: "budget", Kind: FieldNumber},
	}, llm)

	turnover, err := sp.Ask(context.Background(), map[string]any{"location": "Chicago"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Where do you live?", turnover.NextQuestion)
	assert.Equal(t, "continue", turnover.StateTransition)
	assert.Equal(t, float64(6), turnover.ExtractedFields["married_years"])
	assert.Equal(t, true, turnover.ExtractedFields["has_children"])
	// Undeclared and mistyped fields are dropped.
	assert.NotContains(t, turnover.ExtractedFields, "pet_name")
	assert.NotContains(t, turnover.ExtractedFields, "budget")

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "divorce")
	assert.Contains(t, reqs[0].Instructions, "location: Chicago")
}

func TestModelSpecialistInvalidPayload(t *testing.T) {
	llm := model.NewMock("I cannot answer in JSON today.")
	sp := NewModelSpecialist("divorce", "", nil, llm)

	_, err := sp.Ask(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, core.KindInvalid, core.KindOf(err))
}

func TestBuiltinRegistryCoversTopics(t *testing.T) {
	reg := BuiltinRegistry(&model.Mock{})
	for _, topic := range []string{"divorce", "custody", "tenancy", "employment", "immigration", "estate"} {
		_, ok := reg.Lookup(topic)
		assert.True(t, ok, "missing %s", topic)
	}
}
