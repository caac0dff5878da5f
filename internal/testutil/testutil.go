// Package testutil provides shared builders and fakes for package tests:
// scripted specialists, frame collection helpers and failing collaborators.
package testutil

import (
	"context"
	"sync"

	"github.com/counselmesh/counselmesh/core"
)

// ScriptedSpecialist replays queued turnovers in order; the last one
// repeats once the queue is exhausted. With Err set every call fails.
type ScriptedSpecialist struct {
	TopicTag  string
	Turnovers []core.Turnover
	Err       error

	mu    sync.Mutex
	calls int
}

// Topic implements core.Specialist.
func (s *ScriptedSpecialist) Topic() string { return s.TopicTag }

// Ask implements core.Specialist.
func (s *ScriptedSpecialist) Ask(_ context.Context, _ map[string]any, _ []core.TurnRecord) (core.Turnover, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return core.Turnover{}, s.Err
	}
	if len(s.Turnovers) == 0 {
		return core.Turnover{StateTransition: "continue"}, nil
	}
	idx := s.calls
	if idx >= len(s.Turnovers) {
		idx = len(s.Turnovers) - 1
	}
	s.calls++
	return s.Turnovers[idx], nil
}

// Calls returns the number of Ask invocations observed.
func (s *ScriptedSpecialist) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// CollectFrames drains a frame channel into a slice.
func CollectFrames(ch <-chan core.Frame) []core.Frame {
	var frames []core.Frame
	for f := range ch {
		frames = append(frames, f)
	}
	return frames
}

// FrameTypes projects a frame slice onto its type sequence.
func FrameTypes(frames []core.Frame) []core.FrameType {
	types := make([]core.FrameType, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}

// HasFrame reports whether any frame has the given type.
func HasFrame(frames []core.Frame, t core.FrameType) bool {
	for _, f := range frames {
		if f.Type == t {
			return true
		}
	}
	return false
}

// FrameOfType returns the first frame of the given type.
func FrameOfType(frames []core.Frame, t core.FrameType) (core.Frame, bool) {
	for _, f := range frames {
		if f.Type == t {
			return f, true
		}
	}
	return core.Frame{}, false
}

// FailingMatcher always errors; used for degradation tests.
type FailingMatcher struct{ Err error }

// Search implements core.Matcher.
func (m *FailingMatcher) Search(context.Context, map[string]any, []string, int) ([]core.RankedCard, error) {
	return nil, m.Err
}
