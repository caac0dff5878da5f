// Package match decides when and how the lawyer matcher is consulted
// during a turn. The matcher is an external collaborator behind the
// core.Matcher interface; this package owns the skip rules and the
// degradation policy around it.
package match

import (
	"context"
	"time"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/logging"
)

// SkipReason names why a turn did not consult the matcher.
type SkipReason string

const (
	// SkipNone means the matcher was (or would have been) consulted.
	SkipNone SkipReason = ""
	// SkipHighDistress suppresses transactional matching while the user is
	// in acute distress. Emotional support comes first.
	SkipHighDistress SkipReason = "high_distress"
	// SkipNoLocation means no location fact has been captured yet; the
	// reply carries a location request instead of cards.
	SkipNoLocation SkipReason = "no_location"
	// SkipNoIntent means no legal intent has been extracted yet.
	SkipNoIntent SkipReason = "no_intent"
	// SkipAllianceFalter suppresses matching while the alliance-falter rule
	// is active; rapport repair comes before recommendations.
	SkipAllianceFalter SkipReason = "alliance_falter"
)

// Outcome is the matching contribution to a turn. A skipped or degraded
// outcome is not an error: the turn completes without cards either way.
type Outcome struct {
	Cards    []core.RankedCard
	Skip     SkipReason
	Degraded bool
}

// WantsLocation reports whether the reply should ask the user where they
// are, so a future turn can match.
func (o Outcome) WantsLocation() bool { return o.Skip == SkipNoLocation }

// Options configures an Invoker.
type Options struct {
	// DistressCeiling is the distress score above which matching is
	// skipped. Default 6.
	DistressCeiling float64
	// Limit caps the number of cards requested. Default 3.
	Limit int
	// Timeout bounds a single matcher call. Default 3s.
	Timeout time.Duration
	// Logger receives skip and degradation events.
	Logger logging.Logger
}

// Invoker wraps a core.Matcher with the per-turn policy: skip rules
// first, then a bounded call whose failure degrades to an empty result.
type Invoker struct {
	matcher core.Matcher
	opts    Options
}

// NewInvoker creates an Invoker. A nil matcher is allowed and behaves as
// a permanently degraded one.
func NewInvoker(matcher core.Matcher, optFns ...func(*Options)) *Invoker {
	opts := Options{
		DistressCeiling: 6,
		Limit:           3,
		Timeout:         3 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Invoker{matcher: matcher, opts: opts}
}

// Invoke applies the skip rules and, when they pass, consults the
// matcher. Matcher failures never propagate: the outcome degrades to no
// cards and the turn goes on.
func (i *Invoker) Invoke(ctx context.Context, view core.TurnView) Outcome {
	if view.DistressScore > i.opts.DistressCeiling {
		i.opts.Logger.Debug("match: skipped, distress %.1f above ceiling", view.DistressScore)
		return Outcome{Skip: SkipHighDistress}
	}
	if len(view.LegalIntent) == 0 {
		return Outcome{Skip: SkipNoIntent}
	}
	if !core.HasLocation(view.Facts) {
		i.opts.Logger.Debug("match: skipped, no location fact for turn %s", view.TurnID)
		return Outcome{Skip: SkipNoLocation}
	}
	if i.matcher == nil {
		return Outcome{Degraded: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	cards, err := i.matcher.Search(callCtx, view.Facts, view.LegalIntent, i.opts.Limit)
	if err != nil {
		i.opts.Logger.Warn("match: degraded for turn %s: %v", view.TurnID, err)
		return Outcome{Degraded: true}
	}
	if len(cards) > i.opts.Limit {
		cards = cards[:i.opts.Limit]
	}
	return Outcome{Cards: cards}
}
