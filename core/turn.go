package core

import (
	"time"

	"github.com/google/uuid"
)

// TurnStage enumerates the states of the per-turn state machine. A turn
// starts in StageReceived and ends in exactly one of the terminal states
// StageCompleted, StageSafetyHold or StageFailed.
type TurnStage string

const (
	StageReceived         TurnStage = "received"
	StageSafetyCheck      TurnStage = "safety_check"
	StageParallelAnalysis TurnStage = "parallel_analysis"
	StageDrafting         TurnStage = "drafting"
	StageLegalRouting     TurnStage = "legal_routing"
	StageMatching         TurnStage = "matching"
	StageComposing        TurnStage = "composing"
	StageStreaming        TurnStage = "streaming"
	StagePostTurn         TurnStage = "post_turn"
	StageCompleted        TurnStage = "completed"
	StageSafetyHold       TurnStage = "safety_hold"
	StageFailed           TurnStage = "failed"
)

// Terminal reports whether the stage is terminal for the turn.
func (s TurnStage) Terminal() bool {
	return s == StageCompleted || s == StageSafetyHold || s == StageFailed
}

// Sentiment is a categorical tag describing the emotional tone of a user
// message. EnhancedSentiment refines the base tag with the same value set.
type Sentiment string

const (
	SentimentNeutral    Sentiment = "neutral"
	SentimentPositive   Sentiment = "positive"
	SentimentNegative   Sentiment = "negative"
	SentimentAnxious    Sentiment = "anxious"
	SentimentDistressed Sentiment = "distressed"
)

// TurnContext is the per-turn data carrier. It is constructed by the
// orchestrator on message arrival, owned exclusively by the orchestrator for
// the lifetime of one turn, and discarded on completion or failure.
//
// Stages never mutate a TurnContext directly: they receive a TurnView
// snapshot and return a PartialUpdate which the orchestrator merges back
// single-threaded after each phase join. Once Stage reaches a terminal
// value the context is immutable.
type TurnContext struct {
	TurnID         string
	UserID         string
	ConversationID string

	Stage TurnStage

	RawText      string
	RedactedText string

	// DraftText accumulates streamed reply fragments; append-only while
	// the turn is in StageDrafting or later.
	DraftText string

	Sentiment         Sentiment
	EnhancedSentiment Sentiment

	// DistressScore and EngagementLevel are clamped to [0,10] on every
	// merge; see PartialUpdate.ApplyTo.
	DistressScore   float64
	EngagementLevel float64

	AllianceBond float64
	AllianceGoal float64
	AllianceTask float64

	CrisisDetected bool

	// LegalIntent is the set of intent tags written by signal extraction
	// and read by the specialist router.
	LegalIntent []string

	// Facts maps extracted structured fields (location, budget, ...).
	// Keys are never deleted and never overwritten with nils; downstream
	// stages treat omission as unknown, not false.
	Facts map[string]any

	ProgressMarkers []string

	// ResearchNotes carries optional background snippets gathered by the
	// research stage for the composer's reflection prompt.
	ResearchNotes []string

	// Profile is the user profile loaded by the profile stage in phase 0,
	// read-only for every later phase.
	Profile *Profile

	Received time.Time
}

// NewTurnContext creates a TurnContext in StageReceived for the given user
// message.
func NewTurnContext(userID, conversationID, rawText string) *TurnContext {
	return &TurnContext{
		TurnID:         uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Stage:          StageReceived,
		RawText:        rawText,
		Sentiment:      SentimentNeutral,
		Facts:          map[string]any{},
		Received:       time.Now().UTC(),
	}
}

// HasIntent reports whether the given intent tag was extracted this turn.
func (tc *TurnContext) HasIntent(tag string) bool {
	for _, t := range tc.LegalIntent {
		if t == tag {
			return true
		}
	}
	return false
}

// HasLocation reports whether any location signal is present in a fact
// map. The matcher requires at least one of these keys.
func HasLocation(facts map[string]any) bool {
	for _, k := range []string{"location", "city", "state", "zip"} {
		if v, ok := facts[k]; ok && v != nil && v != "" {
			return true
		}
	}
	return false
}

// LocationKnown reports whether any location signal has been captured in
// Facts.
func (tc *TurnContext) LocationKnown() bool {
	return HasLocation(tc.Facts)
}

// AddMarker records a progress milestone tag, once.
func (tc *TurnContext) AddMarker(tag string) {
	tc.ProgressMarkers = mergeSet(tc.ProgressMarkers, []string{tag})
}

// View returns a read-only snapshot of the fields stages are allowed to
// depend on. Maps and slices are copied so concurrent stages of one phase
// can never observe each other's writes.
func (tc *TurnContext) View() TurnView {
	v := TurnView{
		TurnID:          tc.TurnID,
		UserID:          tc.UserID,
		ConversationID:  tc.ConversationID,
		RedactedText:    tc.RedactedText,
		Sentiment:       tc.Sentiment,
		DistressScore:   tc.DistressScore,
		EngagementLevel: tc.EngagementLevel,
		Facts:           make(map[string]any, len(tc.Facts)),
	}
	for k, val := range tc.Facts {
		v.Facts[k] = val
	}
	v.LegalIntent = append(v.LegalIntent, tc.LegalIntent...)
	v.Profile = tc.Profile
	return v
}

// TurnView is the immutable per-stage input snapshot. Profile and History
// are populated by the orchestrator once phase 0 completes; stages must not
// mutate either.
type TurnView struct {
	TurnID         string
	UserID         string
	ConversationID string

	RedactedText string

	Sentiment       Sentiment
	DistressScore   float64
	EngagementLevel float64

	LegalIntent []string
	Facts       map[string]any

	Profile *Profile
	History []TurnRecord
}
