package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/logging"
	"github.com/counselmesh/counselmesh/match"
	"github.com/counselmesh/counselmesh/model"
)

// fallbackReply is streamed when drafting produced nothing at all. A turn
// never ends without some reply text.
const fallbackReply = "I'm here with you. Tell me a bit more about what's going on, and we'll work through it together."

// run drives one turn through the stage state machine. It owns the
// TurnContext exclusively and is the only writer of the conversation
// record; per-conversation locking serializes competing turns.
func (e *Engine) run(ctx context.Context, tc *core.TurnContext, frames chan<- core.Frame, errCh chan<- error) {
	start := time.Now()
	e.metrics.TurnStarted()

	lock := e.convLock(tc.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	em := newEmitter(ctx, frames, e.metrics)
	limiter := model.NewLimiter(e.cfg.MaxModelCallsPerTurn)

	fail := func(err error, code string) {
		tc.Stage = core.StageFailed
		kind := core.KindOf(err)
		_ = em.emit(core.NewErrorFrame(tc.TurnID, code, kind.Retryable()))
		errCh <- err
		e.metrics.TurnFinished(core.StageFailed, time.Since(start))
		e.logger.Error("turn %s failed at %s: %v", tc.TurnID, code, err)
	}

	// Redaction is the hard boundary: no unredacted text may reach a
	// stage, a store or a model. Failure here is fatal for the turn.
	redacted, entities, err := e.redactor.Redact(ctx, tc.RawText)
	if err != nil {
		fail(core.NewStageError("redact", core.KindFatal, err), "redaction_failed")
		return
	}
	tc.RedactedText = redacted
	if len(entities) > 0 {
		e.logger.Debug("turn %s redacted %d entities", tc.TurnID, len(entities))
	}

	conv, err := e.convStore.Get(ctx, tc.ConversationID)
	if err != nil {
		fail(err, "store_unavailable")
		return
	}
	if conv.UserID == "" {
		conv.UserID = tc.UserID
	}
	core.MergeFacts(tc.Facts, conv.Facts)

	// Phase 0: safety screen and profile load, in parallel. The safety
	// stage gets a single attempt; on any failure its keyword default
	// decides, because waiting on retries would delay the crisis gate.
	tc.Stage = core.StageSafetyCheck
	if err := e.phaseZero(ctx, tc, conv, limiter); err != nil {
		fail(err, "analysis_failed")
		return
	}
	if tc.DistressScore < e.cfg.DistressFloor {
		tc.DistressScore = e.cfg.DistressFloor
	}

	if tc.CrisisDetected || tc.DistressScore >= e.cfg.CrisisThreshold {
		e.safetyHold(ctx, tc, conv, em, errCh, start)
		return
	}

	// Phase 1: the draft stream races the analysis fan-out. Fragments go
	// to the client as they arrive; analysis updates merge at the join.
	tc.Stage = core.StageParallelAnalysis
	if err := e.phaseOne(ctx, tc, conv, em, limiter); err != nil {
		fail(err, "drafting_failed")
		return
	}
	if ctx.Err() != nil {
		fail(ctx.Err(), "cancelled")
		return
	}

	e.updateAllianceStreak(tc, conv)

	// Specialist routing. A blown recursion ceiling or a failed variant
	// degrades to a generic reply; the turn still completes.
	tc.Stage = core.StageLegalRouting
	topic, question := e.route(ctx, tc, conv)
	if ctx.Err() != nil {
		fail(ctx.Err(), "cancelled")
		return
	}

	tc.Stage = core.StageMatching
	var outcome match.Outcome
	if e.composer.Suppressed(tc, conv) {
		outcome = match.Outcome{Skip: match.SkipAllianceFalter}
	} else {
		outcome = e.invoker.Invoke(ctx, e.view(tc, conv))
	}
	e.metrics.MatchOutcome(matchLabel(outcome))
	e.deriveMarkers(tc, outcome)

	tc.Stage = core.StageComposing
	tail, reply := e.composer.Compose(tc, conv, outcome, topic, question)

	tc.Stage = core.StageStreaming
	if err := em.emitAll(tail); err != nil {
		fail(err, "cancelled")
		return
	}

	tc.Stage = core.StagePostTurn
	e.postTurn(ctx, tc, conv, reply, core.StageCompleted)

	tc.Stage = core.StageCompleted
	e.metrics.TurnFinished(core.StageCompleted, time.Since(start))
	e.logTurnEnd(tc, em, core.StageCompleted, time.Since(start))
}

// logTurnEnd reports the terminal outcome, structured when the logger
// supports it.
func (e *Engine) logTurnEnd(tc *core.TurnContext, em *emitter, terminal core.TurnStage, d time.Duration) {
	if obs, ok := e.logger.(logging.StageObserver); ok {
		obs.LogTurn(string(terminal), em.emitted(), d)
		return
	}
	e.logger.Info("turn %s finished %s in %s", tc.TurnID, terminal, d)
}

// phaseZero runs the safety screen and the profile load concurrently and
// merges both updates. The safety stage gets exactly one attempt: on any
// failure its deterministic keyword default decides, so the crisis gate
// is never delayed by retries.
func (e *Engine) phaseZero(ctx context.Context, tc *core.TurnContext, conv *core.Conversation, limiter *model.Limiter) error {
	view := e.view(tc, conv)

	var safetyUpdate, profileUpdate core.PartialUpdate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, e.cfg.StageTimeout.Std())
		defer cancel()
		start := time.Now()
		var err error
		if lerr := limiter.Increment(); lerr != nil {
			err = lerr
		} else {
			e.metrics.ModelCalled(e.provider)
			safetyUpdate, err = e.safety.Run(callCtx, view)
		}
		e.metrics.ObserveStage(e.safety.Name(), time.Since(start), err)
		if err != nil {
			e.metrics.StageDefaulted(e.safety.Name())
			e.logger.Warn("safety screen defaulted: %v", err)
			safetyUpdate = e.safety.Default(view)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		profileUpdate, err = e.runStage(gctx, nil, e.profile, view)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	safetyUpdate.ApplyTo(tc)
	profileUpdate.ApplyTo(tc)
	return nil
}

// phaseOne streams the draft while the analysis stages run, then applies
// every update at the join. Only a fatal stage failure aborts the turn.
func (e *Engine) phaseOne(ctx context.Context, tc *core.TurnContext, conv *core.Conversation, em *emitter, limiter *model.Limiter) error {
	view := e.view(tc, conv)

	analysis := []core.Stage{e.emotion, e.signals, e.alliance}
	if e.research != nil {
		analysis = append(analysis, e.research)
	}

	updates := make([]core.PartialUpdate, len(analysis))
	errs := make([]error, len(analysis))

	var wg sync.WaitGroup
	wg.Add(len(analysis))
	for i, st := range analysis {
		go func(i int, st core.Stage) {
			defer wg.Done()
			lim := limiter
			if st.Name() == "research" {
				lim = nil
			}
			updates[i], errs[i] = e.runStage(ctx, lim, st, view)
		}(i, st)
	}

	var draftText string
	var draftErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		draftCtx, cancel := context.WithTimeout(ctx, e.cfg.DraftTimeout.Std())
		defer cancel()
		start := time.Now()
		if lerr := limiter.Increment(); lerr != nil {
			draftErr = lerr
			return
		}
		e.metrics.ModelCalled(e.provider)
		draftText, draftErr = e.draft.Stream(draftCtx, view, func(delta string) error {
			return em.emit(core.NewChunkFrame(tc.TurnID, delta))
		})
		e.metrics.ObserveStage(e.draft.Name(), time.Since(start), draftErr)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil && core.KindOf(err) == core.KindFatal {
			return err
		}
		updates[i].ApplyTo(tc)
	}

	// A failed draft keeps whatever was already streamed; an empty draft
	// falls back to a fixed empathetic line so the reply is never blank.
	if draftErr != nil {
		e.logger.Warn("draft degraded for turn %s: %v", tc.TurnID, draftErr)
	}
	if draftText == "" {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		draftText = fallbackReply
		if err := em.emit(core.NewChunkFrame(tc.TurnID, fallbackReply)); err != nil {
			return err
		}
	}
	tc.DraftText = draftText
	return nil
}

// safetyHold short-circuits the turn with the crisis reply: grounding
// resources, a human hand-off flag, and nothing transactional at all.
func (e *Engine) safetyHold(ctx context.Context, tc *core.TurnContext, conv *core.Conversation, em *emitter, errCh chan<- error, start time.Time) {
	tc.Stage = core.StageSafetyHold
	e.logger.Warn("turn %s on safety hold, distress %.1f", tc.TurnID, tc.DistressScore)

	crisisFrames, reply := e.composer.Crisis(tc)
	if err := em.emitAll(crisisFrames); err != nil {
		errCh <- err
		e.metrics.TurnFinished(core.StageFailed, time.Since(start))
		return
	}

	e.postTurn(ctx, tc, conv, reply, core.StageSafetyHold)
	e.metrics.TurnFinished(core.StageSafetyHold, time.Since(start))
	e.logTurnEnd(tc, em, core.StageSafetyHold, time.Since(start))
}

// updateAllianceStreak maintains the consecutive-low counter and the
// falter latch. Any dimension at or below the watermark counts the turn
// as low; once the streak reaches the trigger the latch holds until a
// turn reports the bond at or above the recovery threshold, so a merely
// not-low turn in between does not resume advice.
func (e *Engine) updateAllianceStreak(tc *core.TurnContext, conv *core.Conversation) {
	w := e.cfg.AllianceLowWatermark
	if tc.AllianceBond <= w || tc.AllianceGoal <= w || tc.AllianceTask <= w {
		conv.ConsecutiveAllianceLow++
		if conv.ConsecutiveAllianceLow >= e.cfg.AllianceLowTurns {
			conv.AllianceFalter = true
		}
		return
	}
	if tc.AllianceBond >= e.cfg.BondRecovery {
		conv.ConsecutiveAllianceLow = 0
		conv.AllianceFalter = false
		return
	}
	if !conv.AllianceFalter {
		conv.ConsecutiveAllianceLow = 0
	}
}

// deriveMarkers records this turn's milestone tags once matching has
// resolved, so the composed reflection can reference them and postTurn
// can persist them on the profile.
func (e *Engine) deriveMarkers(tc *core.TurnContext, outcome match.Outcome) {
	if len(tc.LegalIntent) > 0 {
		tc.AddMarker("intent_identified")
	}
	if tc.LocationKnown() {
		tc.AddMarker("location_shared")
	}
	if len(outcome.Cards) > 0 {
		tc.AddMarker("match_shown")
	}
}

// route runs specialist intake and folds the result into the turn.
// Routing failures never fail the turn.
func (e *Engine) route(ctx context.Context, tc *core.TurnContext, conv *core.Conversation) (topic, question string) {
	res, err := e.router.Route(ctx, e.view(tc, conv), conv)
	if err != nil {
		if errors.Is(err, core.ErrRecursionLimit) {
			e.logger.Warn("turn %s: %v, falling back to generic reply", tc.TurnID, err)
		} else {
			e.logger.Warn("turn %s: routing degraded: %v", tc.TurnID, err)
		}
		return "", ""
	}
	if res == nil {
		return "", ""
	}
	core.MergeFacts(tc.Facts, res.Fields)
	if res.Handoffs > 0 {
		e.metrics.HandoffsObserved(res.Handoffs)
	}
	return res.Topic, res.Question
}

// postTurn performs the end-of-turn bookkeeping: the single conversation
// write-back and the profile trend update. Failures are logged, never
// surfaced; the reply has already been streamed.
func (e *Engine) postTurn(ctx context.Context, tc *core.TurnContext, conv *core.Conversation, reply string, terminal core.TurnStage) {
	core.MergeFacts(conv.Facts, tc.Facts)
	conv.AppendTurn(core.TurnRecord{
		TurnID:        tc.TurnID,
		RedactedText:  tc.RedactedText,
		ReplyText:     reply,
		Stage:         terminal,
		Sentiment:     tc.Sentiment,
		DistressScore: tc.DistressScore,
		AllianceBond:  tc.AllianceBond,
		CompletedAt:   time.Now().UTC(),
	})

	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.convStore.Put(putCtx, conv); err != nil {
		e.logger.Error("turn %s: conversation write-back failed: %v", tc.TurnID, err)
	}

	prof := tc.Profile
	if prof == nil {
		return
	}
	a := e.cfg.EngagementSmoothing
	if a > 0 && terminal == core.StageCompleted {
		prof.EngagementTrend = core.ClampScore((1-a)*prof.EngagementTrend + a*tc.EngagementLevel)
	}
	for _, m := range tc.ProgressMarkers {
		prof.AddMarker(m)
	}
	if loc, ok := tc.Facts["location"].(string); ok && loc != "" {
		prof.Notes["location"] = loc
		prof.AddMarker("location_shared")
	} else if city, ok := tc.Facts["city"].(string); ok && city != "" {
		prof.Notes["location"] = city
		prof.AddMarker("location_shared")
	}
	if conv.ActiveTopic == "" && len(tc.LegalIntent) > 0 && terminal == core.StageCompleted {
		prof.AddMarker("intake_" + tc.LegalIntent[0])
	}
	prof.Updated = time.Now().UTC()
	if err := e.profileStore.Save(putCtx, prof); err != nil {
		e.logger.Error("turn %s: profile save failed: %v", tc.TurnID, err)
	}
}

// view snapshots the turn for stage consumption, attaching recent history
// from the conversation.
func (e *Engine) view(tc *core.TurnContext, conv *core.Conversation) core.TurnView {
	v := tc.View()
	v.History = conv.RecentTurns(e.cfg.HistoryTurns)
	return v
}

func matchLabel(o match.Outcome) string {
	switch {
	case o.Degraded:
		return "degraded"
	case o.Skip != match.SkipNone:
		return string(o.Skip)
	case len(o.Cards) > 0:
		return "matched"
	default:
		return "no_cards"
	}
}
