package core

import (
	"context"
	"sync"
	"time"
)

// TurnRecord is the append-only per-turn trace persisted on the
// conversation: the redacted input, the composed reply and the metrics a
// later turn (or an operator) may need. Raw text is never recorded.
type TurnRecord struct {
	TurnID        string    `json:"turn_id"`
	RedactedText  string    `json:"redacted_text"`
	ReplyText     string    `json:"reply_text"`
	Stage         TurnStage `json:"stage"`
	Sentiment     Sentiment `json:"sentiment"`
	DistressScore float64   `json:"distress_score"`
	AllianceBond  float64   `json:"alliance_bond"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Conversation is the long-lived record owning the only cross-turn mutable
// state: the shown-suggestion set, the alliance-low counter and the
// specialist hand-off counter. It is loaded at turn start and written back
// in a single store update at turn end; per-conversation turn serialization
// in the engine makes that safe without locking in the store.
type Conversation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// ShownSuggestions grows monotonically; the composer never emits a
	// member again unless the pool for the current topic is exhausted.
	ShownSuggestions map[string]bool `json:"shown_suggestions"`

	// ConsecutiveAllianceLow counts consecutive turns where any alliance
	// dimension was <= the configured low watermark. Two consecutive low
	// turns set the alliance-falter suppression consumed by the composer.
	ConsecutiveAllianceLow int `json:"consecutive_alliance_low"`

	// AllianceFalter latches once the low streak reaches the trigger and
	// clears only when a turn reports a recovered bond. It holds advice
	// suppression across turns that are neither low nor recovered.
	AllianceFalter bool `json:"alliance_falter,omitempty"`

	// Handoffs is the monotonically increasing specialist hand-off counter
	// guarded by the router's recursion ceiling.
	Handoffs int `json:"handoffs"`

	// Facts accumulates intake facts across turns (null-safe merge).
	Facts map[string]any `json:"facts"`

	// ActiveTopic is the specialist topic currently driving intake, empty
	// when no specialist has claimed the conversation yet.
	ActiveTopic string `json:"active_topic,omitempty"`

	Turns []TurnRecord `json:"turns"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	mu sync.RWMutex
}

// NewConversation creates an empty conversation record.
func NewConversation(id, userID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:               id,
		UserID:           userID,
		ShownSuggestions: map[string]bool{},
		Facts:            map[string]any{},
		Created:          now,
		Updated:          now,
	}
}

// MarkShown records suggestions as emitted.
func (c *Conversation) MarkShown(suggestions []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range suggestions {
		c.ShownSuggestions[s] = true
	}
	c.Updated = time.Now().UTC()
}

// ResetShown clears the shown set; used when a suggestion pool is exhausted.
func (c *Conversation) ResetShown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ShownSuggestions = map[string]bool{}
	c.Updated = time.Now().UTC()
}

// WasShown reports whether a suggestion has already been emitted.
func (c *Conversation) WasShown(s string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ShownSuggestions[s]
}

// AppendTurn adds a turn record to the history.
func (c *Conversation) AppendTurn(tr TurnRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Turns = append(c.Turns, tr)
	c.Updated = time.Now().UTC()
}

// RecentTurns returns up to n most recent turn records, oldest first.
func (c *Conversation) RecentTurns(n int) []TurnRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || n > len(c.Turns) {
		n = len(c.Turns)
	}
	out := make([]TurnRecord, n)
	copy(out, c.Turns[len(c.Turns)-n:])
	return out
}

// Clone returns a deep copy safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Conversation{
		ID:                     c.ID,
		UserID:                 c.UserID,
		ShownSuggestions:       make(map[string]bool, len(c.ShownSuggestions)),
		ConsecutiveAllianceLow: c.ConsecutiveAllianceLow,
		AllianceFalter:         c.AllianceFalter,
		Handoffs:               c.Handoffs,
		Facts:                  make(map[string]any, len(c.Facts)),
		ActiveTopic:            c.ActiveTopic,
		Turns:                  make([]TurnRecord, len(c.Turns)),
		Created:                c.Created,
		Updated:                c.Updated,
	}
	for k, v := range c.ShownSuggestions {
		clone.ShownSuggestions[k] = v
	}
	for k, v := range c.Facts {
		clone.Facts[k] = v
	}
	copy(clone.Turns, c.Turns)
	return clone
}

// ConversationStore persists conversations. Get creates lazily; Put
// replaces the stored record with the given snapshot. The engine performs
// exactly one Put per turn after the terminal stage is reached.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*Conversation, error)
	Put(ctx context.Context, conv *Conversation) error
}
