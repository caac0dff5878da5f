// Package model defines the normalized language-model abstraction used by
// every analysis and generation stage. Provider adapters (see the anthropic
// and openai subpackages) translate Request/Response to vendor APIs; stages
// stay provider-agnostic.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one role-tagged turn of conversational input.
type Message struct {
	Role string `json:"role"` // "user", "assistant"
	Text string `json:"text"`
}

// Request captures the normalized model input produced by stages.
type Request struct {
	// Instructions is the system prompt for this call.
	Instructions string `json:"instructions"`
	// Messages is the ordered conversational input.
	Messages []Message `json:"messages"`
	// Stream requests incremental Response chunks instead of one final one.
	Stream bool `json:"stream,omitempty"`
	// MaxTokens caps the completion length; 0 uses the adapter default.
	MaxTokens int64 `json:"max_tokens,omitempty"`
}

// TokenUsage captures token statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. For streaming
// calls, partial chunks carry deltas and the final chunk carries the full
// accumulated text.
type Response struct {
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the minimal interface required by stages to drive generation.
// Both channels are closed when the call completes; the error channel is
// buffered size 1 and carries at most one terminal error.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Limiter enforces a maximum number of model calls per turn.
type Limiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewLimiter creates a limiter; max == 0 allows unlimited calls.
func NewLimiter(max int) *Limiter { return &Limiter{max: max} }

// Increment increases the call counter, failing once the limit is exceeded.
func (l *Limiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("exceeded max model calls: %d", l.max)
	}
	return nil
}

// Count returns the number of calls made so far.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Mock is a scripted in-memory Model for tests. Responses are consumed in
// FIFO order; when the queue is empty Fallback (or an empty completion) is
// returned. With Err set, every call fails with that error instead.
type Mock struct {
	mu        sync.Mutex
	queue     []string
	Fallback  string
	Err       error
	ChunkSize int // streaming chunk length, default 16 runes
	requests  []Request
}

// NewMock creates a mock that replies with the given responses in order.
func NewMock(responses ...string) *Mock {
	return &Mock{queue: append([]string(nil), responses...)}
}

// Enqueue appends scripted responses.
func (m *Mock) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// Calls returns the number of Generate invocations observed.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns the requests passed to Generate, in call order.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate implements Model.
func (m *Mock) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 32)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	text := m.Fallback
	if len(m.queue) > 0 {
		text = m.queue[0]
		m.queue = m.queue[1:]
	}
	err := m.Err
	chunkSize := m.ChunkSize
	m.mu.Unlock()

	if chunkSize <= 0 {
		chunkSize = 16
	}

	go func() {
		defer close(out)
		defer close(errCh)
		if err != nil {
			errCh <- err
			return
		}
		if req.Stream {
			runes := []rune(text)
			for i := 0; i < len(runes); i += chunkSize {
				end := i + chunkSize
				if end > len(runes) {
					end = len(runes)
				}
				select {
				case <-ctx.Done():
					return
				case out <- Response{Partial: true, Text: string(runes[i:end])}:
				}
			}
		}
		select {
		case <-ctx.Done():
		case out <- Response{Text: text, FinishReason: "stop"}:
		}
	}()

	return out, errCh
}

// Info implements Model.
func (m *Mock) Info() Info { return Info{Name: "mock", Provider: "mock"} }

// Collect drains a Generate call into the final text, concatenating partial
// chunks when no final response is observed. Convenience for non-streaming
// stage calls.
func Collect(out <-chan Response, errCh <-chan error) (string, error) {
	var sb strings.Builder
	var final string
	for resp := range out {
		if resp.Partial {
			sb.WriteString(resp.Text)
			continue
		}
		final = resp.Text
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	if final != "" {
		return final, nil
	}
	return sb.String(), nil
}
