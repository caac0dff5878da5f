package engine

import (
	"context"
	"sync"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/metrics"
)

// emitter stamps per-turn sequence numbers and delivers frames in order.
// Seq assignment and the channel send share one critical section so two
// goroutines (draft streaming and the composer tail) can never reorder.
type emitter struct {
	ctx     context.Context
	ch      chan<- core.Frame
	metrics *metrics.Metrics

	mu  sync.Mutex
	seq int
}

func newEmitter(ctx context.Context, ch chan<- core.Frame, m *metrics.Metrics) *emitter {
	return &emitter{ctx: ctx, ch: ch, metrics: m}
}

// emit assigns the next sequence number and sends the frame, failing when
// the turn context is cancelled.
func (em *emitter) emit(f core.Frame) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	f.Seq = em.seq
	select {
	case em.ch <- f:
		em.seq++
		em.metrics.FrameEmitted(f.Type)
		return nil
	case <-em.ctx.Done():
		return em.ctx.Err()
	}
}

// emitted returns the number of frames delivered so far.
func (em *emitter) emitted() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.seq
}

// emitAll emits frames in order, stopping at the first failure.
func (em *emitter) emitAll(frames []core.Frame) error {
	for _, f := range frames {
		if err := em.emit(f); err != nil {
			return err
		}
	}
	return nil
}
