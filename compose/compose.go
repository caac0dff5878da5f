// Package compose assembles the ordered tail of a turn's frame stream
// from the finished turn context: the completed reply, lawyer cards,
// deduplicated suggestion prompts, reflections and location requests.
// It also owns the crisis reply used on safety-hold turns.
package compose

import (
	"strings"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/match"
)

// Options tunes the composer's policy thresholds.
type Options struct {
	// SuggestionCount is the number of prompts per suggestions frame.
	// Default 3.
	SuggestionCount int
	// BondRecovery is the alliance bond score at which suppressed advice
	// resumes. Default 6.
	BondRecovery float64
	// AllianceLowTurns is the number of consecutive low-alliance turns
	// that triggers advice suppression. Default 2.
	AllianceLowTurns int
}

// Composer turns a finished TurnContext into the ordered frames that
// follow the streamed reply. Composer is stateless; all cross-turn state
// lives on the Conversation.
type Composer struct {
	opts Options
}

// New creates a Composer.
func New(optFns ...func(*Options)) *Composer {
	opts := Options{SuggestionCount: 3, BondRecovery: 6, AllianceLowTurns: 2}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Composer{opts: opts}
}

// Suppressed reports whether the alliance-falter rule is holding back
// advice and matching for this turn: the falter latch is set (or the
// low-alliance streak reached the trigger) and the bond has not yet
// recovered. A latched falter outlives the streak, so a turn that is
// merely not-low does not lift it.
func (c *Composer) Suppressed(tc *core.TurnContext, conv *core.Conversation) bool {
	if tc.AllianceBond >= c.opts.BondRecovery {
		return false
	}
	return conv.AllianceFalter || conv.ConsecutiveAllianceLow >= c.opts.AllianceLowTurns
}

// Compose builds the post-stream frames for a completed turn, in emission
// order. question is the specialist's next intake question (empty when no
// specialist is engaged); it is appended to the reply as a trailing chunk
// so the client renders it inline. The returned reply text is what the
// turn record persists.
func (c *Composer) Compose(tc *core.TurnContext, conv *core.Conversation, outcome match.Outcome, topic, question string) ([]core.Frame, string) {
	var frames []core.Frame
	reply := tc.DraftText
	suppressed := c.Suppressed(tc, conv)

	if question != "" {
		tail := question
		if reply != "" {
			tail = "\n\n" + question
		}
		reply += tail
		frames = append(frames, core.NewChunkFrame(tc.TurnID, tail))
	}

	complete := core.NewFrame(core.FrameAIComplete, tc.TurnID)
	complete.Text = reply
	frames = append(frames, complete)

	// Faltering alliance holds back everything transactional, cards
	// included, not just suggestion prompts.
	if len(outcome.Cards) > 0 && !suppressed {
		cards := core.NewFrame(core.FrameCards, tc.TurnID)
		cards.Cards = outcome.Cards
		frames = append(frames, cards)
	}

	if !suppressed {
		if picked := c.pickSuggestions(conv, topic); len(picked) > 0 {
			sf := core.NewFrame(core.FrameSuggestions, tc.TurnID)
			sf.Suggestions = picked
			frames = append(frames, sf)
		}
	}

	if reflection := reflectionText(tc); reflection != "" {
		rf := core.NewFrame(core.FrameReflection, tc.TurnID)
		rf.Reflection = reflection
		frames = append(frames, rf)
	}

	if outcome.WantsLocation() {
		lf := core.NewFrame(core.FrameLocationRequest, tc.TurnID)
		lf.Text = "To connect you with lawyers nearby, could you share your city or zip code?"
		frames = append(frames, lf)
	}

	return frames, reply
}

const crisisReply = "I'm really concerned about your safety right now, and I want you to know you don't have to face this alone. " +
	"If you are in immediate danger, please call 911. " +
	"You can reach the Suicide & Crisis Lifeline any time by calling or texting 988, " +
	"and the National Domestic Violence Hotline at 1-800-799-7233. " +
	"I'm connecting you with a person who can help right now."

// Crisis builds the full frame stream for a safety-hold turn: the
// grounding reply followed by a human-handoff completion. No cards,
// suggestions or intake questions are ever emitted on this path.
func (c *Composer) Crisis(tc *core.TurnContext) ([]core.Frame, string) {
	chunk := core.NewChunkFrame(tc.TurnID, crisisReply)
	complete := core.NewFrame(core.FrameAIComplete, tc.TurnID)
	complete.Text = crisisReply
	complete.HumanHandoff = true
	return []core.Frame{chunk, complete}, crisisReply
}

// pickSuggestions selects unseen prompts from the topic pool, resetting
// the shown set when the pool is exhausted, and marks the picks as shown.
func (c *Composer) pickSuggestions(conv *core.Conversation, topic string) []string {
	pool := poolFor(topic)
	unseen := make([]string, 0, len(pool))
	for _, s := range pool {
		if !conv.WasShown(s) {
			unseen = append(unseen, s)
		}
	}
	if len(unseen) == 0 {
		if len(pool) == 0 {
			return nil
		}
		conv.ResetShown()
		unseen = pool
	}
	if len(unseen) > c.opts.SuggestionCount {
		unseen = unseen[:c.opts.SuggestionCount]
	}
	picked := append([]string(nil), unseen...)
	conv.MarkShown(picked)
	return picked
}

// reflectionText derives an optional reflection from research notes or
// newly recorded progress markers.
func reflectionText(tc *core.TurnContext) string {
	if len(tc.ResearchNotes) > 0 {
		return tc.ResearchNotes[0]
	}
	if len(tc.ProgressMarkers) > 0 {
		return "You've already made progress here: " + strings.Join(tc.ProgressMarkers, ", ") + "."
	}
	return ""
}
