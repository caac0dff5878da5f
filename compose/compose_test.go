package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/internal/testutil"
	"github.com/counselmesh/counselmesh/match"
)

func newTurn(t *testing.T) *core.TurnContext {
	t.Helper()
	tc := core.NewTurnContext("u1", "c1", "raw")
	tc.DraftText = "That sounds really difficult."
	tc.AllianceBond = 7
	return tc
}

func TestComposeOrderAndReply(t *testing.T) {
	c := New()
	tc := newTurn(t)
	conv := core.NewConversation("c1", "u1")
	outcome := match.Outcome{Cards: []core.RankedCard{{ID: "lw-001", Name: "Alvarez Family Law", Score: 9}}}

	frames, reply := c.Compose(tc, conv, outcome, "divorce", "How long have you been married?")

	types := testutil.FrameTypes(frames)
	assert.Equal(t, []core.FrameType{
		core.FrameAIChunk,
		core.FrameAIComplete,
		core.FrameCards,
		core.FrameSuggestions,
	}, types)

	assert.Equal(t, "That sounds really difficult.\n\nHow long have you been married?", reply)
	complete, ok := testutil.FrameOfType(frames, core.FrameAIComplete)
	require.True(t, ok)
	assert.Equal(t, reply, complete.Text)
	assert.False(t, complete.HumanHandoff)

	cards, ok := testutil.FrameOfType(frames, core.FrameCards)
	require.True(t, ok)
	require.Len(t, cards.Cards, 1)
	assert.Equal(t, "lw-001", cards.Cards[0].ID)
}

func TestComposeSuggestionDedupe(t *testing.T) {
	c := New()
	conv := core.NewConversation("c1", "u1")

	frames1, _ := c.Compose(newTurn(t), conv, match.Outcome{}, "tenancy", "")
	s1, ok := testutil.FrameOfType(frames1, core.FrameSuggestions)
	require.True(t, ok)
	require.Len(t, s1.Suggestions, 3)

	frames2, _ := c.Compose(newTurn(t), conv, match.Outcome{}, "tenancy", "")
	s2, ok := testutil.FrameOfType(frames2, core.FrameSuggestions)
	require.True(t, ok)
	for _, s := range s2.Suggestions {
		assert.NotContains(t, s1.Suggestions, s)
	}
}

func TestComposeSuggestionPoolExhaustionResets(t *testing.T) {
	c := New()
	conv := core.NewConversation("c1", "u1")
	for _, s := range poolFor("estate") {
		conv.MarkShown([]string{s})
	}

	frames, _ := c.Compose(newTurn(t), conv, match.Outcome{}, "estate", "")
	sf, ok := testutil.FrameOfType(frames, core.FrameSuggestions)
	require.True(t, ok)
	assert.NotEmpty(t, sf.Suggestions)
}

func TestComposeAllianceSuppression(t *testing.T) {
	c := New()
	conv := core.NewConversation("c1", "u1")
	conv.ConsecutiveAllianceLow = 2

	tc := newTurn(t)
	tc.AllianceBond = 4
	frames, _ := c.Compose(tc, conv, match.Outcome{}, "divorce", "")
	assert.False(t, testutil.HasFrame(frames, core.FrameSuggestions))

	// Bond recovery lifts the suppression even while the streak stands.
	tc2 := newTurn(t)
	tc2.AllianceBond = 6.5
	frames2, _ := c.Compose(tc2, conv, match.Outcome{}, "divorce", "")
	assert.True(t, testutil.HasFrame(frames2, core.FrameSuggestions))
}

func TestComposeFalterSuppressesCards(t *testing.T) {
	c := New()
	conv := core.NewConversation("c1", "u1")
	conv.AllianceFalter = true

	tc := newTurn(t)
	tc.AllianceBond = 5
	outcome := match.Outcome{Cards: []core.RankedCard{{ID: "lw-001", Name: "Alvarez Family Law", Score: 9}}}

	frames, _ := c.Compose(tc, conv, outcome, "divorce", "")
	assert.False(t, testutil.HasFrame(frames, core.FrameCards))
	assert.False(t, testutil.HasFrame(frames, core.FrameSuggestions))
	assert.True(t, testutil.HasFrame(frames, core.FrameAIComplete))
}

func TestComposeLocationRequest(t *testing.T) {
	c := New()
	conv := core.NewConversation("c1", "u1")

	frames, _ := c.Compose(newTurn(t), conv, match.Outcome{Skip: match.SkipNoLocation}, "divorce", "")
	lf, ok := testutil.FrameOfType(frames, core.FrameLocationRequest)
	require.True(t, ok)
	assert.Contains(t, lf.Text, "city or zip")
	assert.False(t, testutil.HasFrame(frames, core.FrameCards))
}

func TestComposeReflectionFromResearch(t *testing.T) {
	c := New()
	conv := core.NewConversation("c1", "u1")
	tc := newTurn(t)
	tc.ResearchNotes = []string{"Illinois allows no-fault divorce filings."}

	frames, _ := c.Compose(tc, conv, match.Outcome{}, "divorce", "")
	rf, ok := testutil.FrameOfType(frames, core.FrameReflection)
	require.True(t, ok)
	assert.Equal(t, "Illinois allows no-fault divorce filings.", rf.Reflection)
}

func TestCrisisFrames(t *testing.T) {
	c := New()
	tc := newTurn(t)

	frames, reply := c.Crisis(tc)
	require.Len(t, frames, 2)
	assert.Equal(t, core.FrameAIChunk, frames[0].Type)
	assert.Equal(t, core.FrameAIComplete, frames[1].Type)
	assert.True(t, frames[1].HumanHandoff)
	assert.Contains(t, reply, "988")
	assert.False(t, testutil.HasFrame(frames, core.FrameCards))
	assert.False(t, testutil.HasFrame(frames, core.FrameSuggestions))
}

func TestSuppressedPredicate(t *testing.T) {
	c := New()
	conv := core.NewConversation("c1", "u1")
	tc := newTurn(t)

	tc.AllianceBond = 3
	conv.ConsecutiveAllianceLow = 1
	assert.False(t, c.Suppressed(tc, conv), "one low turn is not a streak")

	conv.ConsecutiveAllianceLow = 2
	assert.True(t, c.Suppressed(tc, conv))

	tc.AllianceBond = 6
	assert.False(t, c.Suppressed(tc, conv), "bond at recovery threshold lifts suppression")

	// Once latched, the falter outlives the streak until the bond recovers.
	conv.ConsecutiveAllianceLow = 0
	conv.AllianceFalter = true
	tc.AllianceBond = 5
	assert.True(t, c.Suppressed(tc, conv), "bond 5 is not a recovery")

	tc.AllianceBond = 6
	assert.False(t, c.Suppressed(tc, conv))
}
