package core

import "time"

// FrameType identifies one discrete message unit sent to the client over
// the transport layer.
type FrameType string

const (
	FrameAIChunk         FrameType = "ai_chunk"
	FrameAIComplete      FrameType = "ai_complete"
	FrameCards           FrameType = "cards"
	FrameSuggestions     FrameType = "suggestions"
	FrameReflection      FrameType = "reflection"
	FrameLocationRequest FrameType = "location_request"
	FrameError           FrameType = "error"
	FrameHeartbeat       FrameType = "heartbeat"
	FrameSessionEnd      FrameType = "session_end"
)

// Frame is the unit of the ordered per-turn stream delivered to clients.
// The transport assumes at-least-once delivery; clients dedupe by
// (TurnID, Seq). Only the fields matching Type are populated.
//
// Ordering guarantees per turn: no cards frame before ai_chunk streaming
// begins, suggestions only after composing completes, and a crisis turn
// carries no cards or suggestions at all.
type Frame struct {
	Type   FrameType `json:"type"`
	TurnID string    `json:"turn_id"`
	Seq    int       `json:"seq"`

	Text        string       `json:"text,omitempty"`
	Cards       []RankedCard `json:"cards,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
	Reflection  string       `json:"reflection,omitempty"`

	// ErrorCode and Retryable are set on FrameError frames only.
	ErrorCode string `json:"error_code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// HumanHandoff flags a safety-hold turn that should be escalated to a
	// human responder. Set on the ai_complete frame of a crisis reply.
	HumanHandoff bool `json:"human_handoff,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewFrame constructs a frame of the given type bound to a turn. Seq is
// assigned by the orchestrator at emission time.
func NewFrame(t FrameType, turnID string) Frame {
	return Frame{Type: t, TurnID: turnID, Timestamp: time.Now().UTC()}
}

// NewChunkFrame builds an ai_chunk frame carrying a reply fragment.
func NewChunkFrame(turnID, text string) Frame {
	f := NewFrame(FrameAIChunk, turnID)
	f.Text = text
	return f
}

// NewErrorFrame builds an error frame for a failed turn.
func NewErrorFrame(turnID, code string, retryable bool) Frame {
	f := NewFrame(FrameError, turnID)
	f.ErrorCode = code
	f.Retryable = retryable
	return f
}
