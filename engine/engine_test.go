package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/internal/testutil"
	"github.com/counselmesh/counselmesh/logging"
	"github.com/counselmesh/counselmesh/match"
	"github.com/counselmesh/counselmesh/model"
	"github.com/counselmesh/counselmesh/specialist"
	"github.com/counselmesh/counselmesh/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// routedModel answers each stage by matching a distinctive fragment of
// its instructions, so the concurrent fan-out stays deterministic. With
// block set, every call parks until the context is cancelled.
type routedModel struct {
	mu     sync.Mutex
	routes map[string]string
	block  bool
}

func (m *routedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 8)
	errCh := make(chan error, 1)
	m.mu.Lock()
	block := m.block
	text := "{}"
	for key, resp := range m.routes {
		if strings.Contains(req.Instructions, key) {
			text = resp
			break
		}
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		if block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if req.Stream {
			half := len(text) / 2
			for _, part := range []string{text[:half], text[half:]} {
				if part == "" {
					continue
				}
				select {
				case out <- model.Response{Partial: true, Text: part}:
				case <-ctx.Done():
					return
				}
			}
		}
		select {
		case out <- model.Response{Text: text, FinishReason: "stop"}:
		case <-ctx.Done():
		}
	}()
	return out, errCh
}

func (m *routedModel) Info() model.Info { return model.Info{Name: "routed", Provider: "mock"} }

func (m *routedModel) set(key, resp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[key] = resp
}

func calmRoutes() map[string]string {
	return map[string]string{
		"crisis screening":           `{"distress_score": 2, "crisis_detected": false}`,
		"emotional state":            `{"sentiment": "anxious", "enhanced_sentiment": "anxious", "engagement_level": 7}`,
		"extract structured signals": `{"legal_intent": ["divorce"], "facts": {"city": "Chicago", "zip": "60601"}}`,
		"therapeutic alliance":       `{"bond": 7, "goal": 7, "task": 7}`,
		"empathetic companion":       "That sounds really stressful. Reaching out is a solid first step.",
		"legal intake":               `{"next_question": "How long have you been married?", "state_transition": "continue", "extracted_fields": {}}`,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StageTimeout = Duration(2 * time.Second)
	cfg.DraftTimeout = Duration(2 * time.Second)
	cfg.MatchTimeout = Duration(time.Second)
	cfg.RetryBackoff = Duration(time.Millisecond)
	return cfg
}

func newTestEngine(t *testing.T, llm model.Model, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig())}, opts...)
	e, err := New(llm, opts...)
	require.NoError(t, err)
	return e
}

func runTurn(t *testing.T, e *Engine, conversationID, text string) ([]core.Frame, error) {
	t.Helper()
	_, frames, errCh, err := e.RunTurn(context.Background(), "u1", conversationID, text)
	require.NoError(t, err)
	collected := testutil.CollectFrames(frames)
	return collected, <-errCh
}

func TestRunTurnHappyPath(t *testing.T) {
	mem := store.NewMemoryStore()
	e := newTestEngine(t, &routedModel{routes: calmRoutes()},
		WithMatcher(match.NewStaticMatcher(match.DemoDirectory()...)),
		WithConversationStore(mem),
		WithProfileStore(mem),
	)

	frames, err := runTurn(t, e, "c1", "I need a divorce lawyer in Chicago, zip 60601")
	require.NoError(t, err)

	// Seq is strictly increasing across the whole stream.
	for i := 1; i < len(frames); i++ {
		assert.Equal(t, frames[i-1].Seq+1, frames[i].Seq)
	}

	// Every chunk precedes the completion; cards never precede it.
	completeAt := -1
	for i, f := range frames {
		switch f.Type {
		case core.FrameAIComplete:
			completeAt = i
		case core.FrameAIChunk:
			assert.Equal(t, -1, completeAt, "chunk after completion")
		case core.FrameCards:
			assert.NotEqual(t, -1, completeAt, "cards before completion")
		}
	}
	require.NotEqual(t, -1, completeAt)

	complete, _ := testutil.FrameOfType(frames, core.FrameAIComplete)
	assert.Contains(t, complete.Text, "How long have you been married?")
	assert.False(t, complete.HumanHandoff)

	cards, ok := testutil.FrameOfType(frames, core.FrameCards)
	require.True(t, ok, "expected a cards frame")
	assert.NotEmpty(t, cards.Cards)

	assert.True(t, testutil.HasFrame(frames, core.FrameSuggestions))
	assert.False(t, testutil.HasFrame(frames, core.FrameLocationRequest))
	assert.False(t, testutil.HasFrame(frames, core.FrameError))

	conv, err := mem.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, core.StageCompleted, conv.Turns[0].Stage)
	assert.Equal(t, "divorce", conv.ActiveTopic)
	assert.Equal(t, "Chicago", conv.Facts["city"])
}

func TestRunTurnCrisisHold(t *testing.T) {
	mem := store.NewMemoryStore()
	e := newTestEngine(t, &routedModel{routes: calmRoutes()},
		WithMatcher(match.NewStaticMatcher(match.DemoDirectory()...)),
		WithConversationStore(mem),
		WithProfileStore(mem),
	)

	frames, err := runTurn(t, e, "c1", "My spouse is threatening me and I'm afraid for my safety")
	require.NoError(t, err)

	complete, ok := testutil.FrameOfType(frames, core.FrameAIComplete)
	require.True(t, ok)
	assert.True(t, complete.HumanHandoff)
	assert.Contains(t, complete.Text, "988")

	assert.False(t, testutil.HasFrame(frames, core.FrameCards))
	assert.False(t, testutil.HasFrame(frames, core.FrameSuggestions))

	conv, err := mem.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, core.StageSafetyHold, conv.Turns[0].Stage)
}

func TestRunTurnCrisisFromScore(t *testing.T) {
	routes := calmRoutes()
	routes["crisis screening"] = `{"distress_score": 9, "crisis_detected": false}`
	e := newTestEngine(t, &routedModel{routes: routes})

	frames, err := runTurn(t, e, "c1", "Everything is falling apart")
	require.NoError(t, err)
	complete, ok := testutil.FrameOfType(frames, core.FrameAIComplete)
	require.True(t, ok)
	assert.True(t, complete.HumanHandoff)
}

func TestRunTurnMatcherDegrades(t *testing.T) {
	e := newTestEngine(t, &routedModel{routes: calmRoutes()},
		WithMatcher(&testutil.FailingMatcher{Err: errors.New("matcher down")}),
	)

	frames, err := runTurn(t, e, "c1", "I need a divorce lawyer in Chicago, zip 60601")
	require.NoError(t, err)

	assert.True(t, testutil.HasFrame(frames, core.FrameAIComplete))
	assert.False(t, testutil.HasFrame(frames, core.FrameCards))
	assert.False(t, testutil.HasFrame(frames, core.FrameError))
}

func TestRunTurnLocationRequest(t *testing.T) {
	routes := calmRoutes()
	routes["extract structured signals"] = `{"legal_intent": ["divorce"], "facts": {}}`
	e := newTestEngine(t, &routedModel{routes: routes},
		WithMatcher(match.NewStaticMatcher(match.DemoDirectory()...)),
	)

	frames, err := runTurn(t, e, "c1", "I need a divorce lawyer")
	require.NoError(t, err)

	assert.False(t, testutil.HasFrame(frames, core.FrameCards))
	assert.True(t, testutil.HasFrame(frames, core.FrameLocationRequest))
}

func TestRunTurnRecursionLimitFallsBack(t *testing.T) {
	ping := &testutil.ScriptedSpecialist{
		TopicTag:  "divorce",
		Turnovers: []core.Turnover{{StateTransition: "handoff:custody"}},
	}
	pong := &testutil.ScriptedSpecialist{
		TopicTag:  "custody",
		Turnovers: []core.Turnover{{StateTransition: "handoff:divorce"}},
	}
	cfg := testConfig()
	cfg.HandoffLimit = 2

	mem := store.NewMemoryStore()
	e := newTestEngine(t, &routedModel{routes: calmRoutes()},
		WithConfig(cfg),
		WithSpecialists(specialist.NewRegistry(ping, pong)),
		WithConversationStore(mem),
		WithProfileStore(mem),
	)

	frames, err := runTurn(t, e, "c1", "I need a divorce lawyer in Chicago, zip 60601")
	require.NoError(t, err, "a blown hand-off ceiling must not fail the turn")

	complete, ok := testutil.FrameOfType(frames, core.FrameAIComplete)
	require.True(t, ok)
	assert.NotContains(t, complete.Text, "How long")
	assert.False(t, testutil.HasFrame(frames, core.FrameError))

	conv, err := mem.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Greater(t, conv.Handoffs, cfg.HandoffLimit)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, core.StageCompleted, conv.Turns[0].Stage)
}

func TestRunTurnSuggestionDedupeAcrossTurns(t *testing.T) {
	mem := store.NewMemoryStore()
	e := newTestEngine(t, &routedModel{routes: calmRoutes()},
		WithConversationStore(mem),
		WithProfileStore(mem),
	)

	frames1, err := runTurn(t, e, "c1", "I need a divorce lawyer in Chicago, zip 60601")
	require.NoError(t, err)
	s1, ok := testutil.FrameOfType(frames1, core.FrameSuggestions)
	require.True(t, ok)

	frames2, err := runTurn(t, e, "c1", "What should I do next about the divorce?")
	require.NoError(t, err)
	s2, ok := testutil.FrameOfType(frames2, core.FrameSuggestions)
	require.True(t, ok)

	for _, s := range s2.Suggestions {
		assert.NotContains(t, s1.Suggestions, s)
	}
}

func TestRunTurnAllianceFalterSuppressesAdvice(t *testing.T) {
	routes := calmRoutes()
	routes["therapeutic alliance"] = `{"bond": 3, "goal": 3, "task": 3}`
	mem := store.NewMemoryStore()
	e := newTestEngine(t, &routedModel{routes: routes},
		WithConversationStore(mem),
		WithProfileStore(mem),
	)

	frames1, err := runTurn(t, e, "c1", "This is not helping at all")
	require.NoError(t, err)
	assert.True(t, testutil.HasFrame(frames1, core.FrameSuggestions),
		"one low turn is not yet a streak")

	frames2, err := runTurn(t, e, "c1", "You keep missing the point")
	require.NoError(t, err)
	assert.False(t, testutil.HasFrame(frames2, core.FrameSuggestions),
		"second consecutive low turn suppresses advice")

	conv, err := mem.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.ConsecutiveAllianceLow)
}

func TestRunTurnFalterPersistsUntilBondRecovers(t *testing.T) {
	m := &routedModel{routes: calmRoutes()}
	m.set("therapeutic alliance", `{"bond": 3, "goal": 3, "task": 3}`)
	mem := store.NewMemoryStore()
	e := newTestEngine(t, m,
		WithMatcher(match.NewStaticMatcher(match.DemoDirectory()...)),
		WithConversationStore(mem),
		WithProfileStore(mem),
	)

	msg := "I need a divorce lawyer in Chicago, zip 60601"
	_, err := runTurn(t, e, "c1", msg)
	require.NoError(t, err)
	frames2, err := runTurn(t, e, "c1", msg)
	require.NoError(t, err)
	assert.False(t, testutil.HasFrame(frames2, core.FrameSuggestions))

	// A middling turn is not a recovery; suppression stays latched and
	// matching stays off even with full location and intent facts.
	m.set("therapeutic alliance", `{"bond": 5, "goal": 5, "task": 5}`)
	frames3, err := runTurn(t, e, "c1", msg)
	require.NoError(t, err)
	assert.False(t, testutil.HasFrame(frames3, core.FrameSuggestions))
	assert.False(t, testutil.HasFrame(frames3, core.FrameCards))

	m.set("therapeutic alliance", `{"bond": 7, "goal": 7, "task": 7}`)
	frames4, err := runTurn(t, e, "c1", msg)
	require.NoError(t, err)
	assert.True(t, testutil.HasFrame(frames4, core.FrameSuggestions))
	assert.True(t, testutil.HasFrame(frames4, core.FrameCards))

	conv, err := mem.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, conv.ConsecutiveAllianceLow)
	assert.False(t, conv.AllianceFalter)
}

func TestRunTurnProgressMarkers(t *testing.T) {
	mem := store.NewMemoryStore()
	e := newTestEngine(t, &routedModel{routes: calmRoutes()},
		WithMatcher(match.NewStaticMatcher(match.DemoDirectory()...)),
		WithConversationStore(mem),
		WithProfileStore(mem),
	)

	frames, err := runTurn(t, e, "c1", "I need a divorce lawyer in Chicago, zip 60601")
	require.NoError(t, err)

	rf, ok := testutil.FrameOfType(frames, core.FrameReflection)
	require.True(t, ok, "milestones reached this turn surface as a reflection")
	assert.Contains(t, rf.Reflection, "progress")

	prof, err := mem.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, prof.HasMarker("intent_identified"))
	assert.True(t, prof.HasMarker("location_shared"))
	assert.True(t, prof.HasMarker("match_shown"))
}

func TestRunTurnDraftFailureStillReplies(t *testing.T) {
	routes := calmRoutes()
	routes["empathetic companion"] = ""
	e := newTestEngine(t, &routedModel{routes: routes})

	frames, err := runTurn(t, e, "c1", "I have a tenancy question")
	require.NoError(t, err)
	complete, ok := testutil.FrameOfType(frames, core.FrameAIComplete)
	require.True(t, ok)
	assert.Contains(t, complete.Text, "here with you")
}

func TestRunTurnValidation(t *testing.T) {
	e := newTestEngine(t, &routedModel{routes: calmRoutes()})

	_, _, _, err := e.RunTurn(context.Background(), "", "c1", "hi")
	assert.Error(t, err)
	_, _, _, err = e.RunTurn(context.Background(), "u1", "c1", "")
	assert.Error(t, err)
}

// telemetryLogger records structured telemetry calls; the plain Logger
// methods are no-ops.
type telemetryLogger struct {
	logging.NoOpLogger
	mu     sync.Mutex
	stages []string
	turns  []string
}

func (l *telemetryLogger) LogStage(stage string, _ int, _ time.Duration, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, stage)
}

func (l *telemetryLogger) LogTurn(terminal string, _ int, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, terminal)
}

func TestStructuredTurnTelemetry(t *testing.T) {
	tl := &telemetryLogger{}
	e := newTestEngine(t, &routedModel{routes: calmRoutes()}, WithLogger(tl))

	_, err := runTurn(t, e, "c1", "I need a divorce lawyer in Chicago, zip 60601")
	require.NoError(t, err)

	tl.mu.Lock()
	defer tl.mu.Unlock()
	assert.Equal(t, []string{"completed"}, tl.turns)
	assert.Contains(t, tl.stages, "emotion")
	assert.Contains(t, tl.stages, "signals")
	assert.Contains(t, tl.stages, "alliance")
}

func TestCancelAbortsTurn(t *testing.T) {
	e := newTestEngine(t, &routedModel{routes: calmRoutes(), block: true})

	turnID, frames, errCh, err := e.RunTurn(context.Background(), "u1", "c1", "hello there")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.True(t, e.Cancel(turnID), "turn should be registered as active")

	testutil.CollectFrames(frames)
	err = <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.ActiveTurns())
}

func TestTurnsSerializePerConversation(t *testing.T) {
	mem := store.NewMemoryStore()
	e := newTestEngine(t, &routedModel{routes: calmRoutes()},
		WithConversationStore(mem),
		WithProfileStore(mem),
	)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, frames, errCh, err := e.RunTurn(context.Background(), "u1", "c1", "I need a divorce lawyer in Chicago, zip 60601")
			if !assert.NoError(t, err) {
				return
			}
			testutil.CollectFrames(frames)
			assert.NoError(t, <-errCh)
		}()
	}
	wg.Wait()

	conv, err := mem.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, conv.Turns, 4, "every serialized turn must be recorded")
}
