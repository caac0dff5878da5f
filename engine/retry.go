package engine

import (
	"context"
	"time"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/logging"
	"github.com/counselmesh/counselmesh/model"
)

// runStage executes one analysis stage under the retry policy: each
// attempt gets its own timeout, Timeout and UpstreamUnavailable failures
// are retried with linear backoff up to the configured attempt budget,
// Invalid failures skip straight to the stage's deterministic default,
// and Fatal failures propagate to abort the turn.
func (e *Engine) runStage(ctx context.Context, limiter *model.Limiter, st core.Stage, view core.TurnView) (core.PartialUpdate, error) {
	attempts := e.cfg.StageAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return core.PartialUpdate{}, ctx.Err()
		}
		if attempt > 0 {
			e.metrics.StageRetried(st.Name())
			select {
			case <-ctx.Done():
				return core.PartialUpdate{}, ctx.Err()
			case <-time.After(e.cfg.RetryBackoff.Std() * time.Duration(attempt)):
			}
		}
		if limiter != nil {
			if err := limiter.Increment(); err != nil {
				e.logger.Warn("stage %s skipped: %v", st.Name(), err)
				lastErr = err
				break
			}
			e.metrics.ModelCalled(e.provider)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout.Std())
		start := time.Now()
		update, err := st.Run(callCtx, view)
		cancel()
		e.metrics.ObserveStage(st.Name(), time.Since(start), err)
		if obs, ok := e.logger.(logging.StageObserver); ok {
			obs.LogStage(st.Name(), attempt+1, time.Since(start), err)
		} else {
			e.logger.Debug("stage %s attempt %d in %s: %v", st.Name(), attempt+1, time.Since(start), err)
		}

		if err == nil {
			return update, nil
		}
		lastErr = err

		kind := core.KindOf(err)
		if kind == core.KindFatal {
			return core.PartialUpdate{}, err
		}
		if !kind.Retryable() {
			break
		}
	}

	if d, ok := st.(core.Default); ok {
		e.metrics.StageDefaulted(st.Name())
		e.logger.Warn("stage %s defaulted after %v", st.Name(), lastErr)
		return d.Default(view), nil
	}
	e.logger.Warn("stage %s failed with no default: %v", st.Name(), lastErr)
	return core.PartialUpdate{}, nil
}
