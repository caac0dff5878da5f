// Package engine implements the per-turn orchestrator: it fans the
// redacted user message out to the analysis and drafting stages, applies
// the safety and alliance policies, routes specialist intake, invokes the
// matcher and streams the composed frame sequence back to the caller.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/counselmesh/counselmesh/compose"
	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/logging"
	"github.com/counselmesh/counselmesh/match"
	"github.com/counselmesh/counselmesh/metrics"
	"github.com/counselmesh/counselmesh/model"
	"github.com/counselmesh/counselmesh/redact"
	"github.com/counselmesh/counselmesh/specialist"
	"github.com/counselmesh/counselmesh/stage"
	"github.com/counselmesh/counselmesh/store"
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithRedactor replaces the default pattern redactor.
func WithRedactor(r core.Redactor) Option { return func(e *Engine) { e.redactor = r } }

// WithMatcher sets the lawyer matcher. Without one, every turn degrades
// to no cards.
func WithMatcher(m core.Matcher) Option { return func(e *Engine) { e.matcher = m } }

// WithSearchIndex enables the research stage over the given index.
func WithSearchIndex(idx core.SearchIndex) Option { return func(e *Engine) { e.index = idx } }

// WithSpecialists replaces the builtin specialist registry.
func WithSpecialists(r *specialist.Registry) Option { return func(e *Engine) { e.registry = r } }

// WithConversationStore sets the conversation store.
func WithConversationStore(s core.ConversationStore) Option {
	return func(e *Engine) { e.convStore = s }
}

// WithProfileStore sets the profile store.
func WithProfileStore(s core.ProfileStore) Option { return func(e *Engine) { e.profileStore = s } }

// Engine is the turn orchestrator. One Engine serves many conversations;
// turns within a conversation are serialized, turns across conversations
// run concurrently up to the configured cap.
type Engine struct {
	cfg      Config
	llm      model.Model
	provider string

	redactor     core.Redactor
	convStore    core.ConversationStore
	profileStore core.ProfileStore
	matcher      core.Matcher
	index        core.SearchIndex
	registry     *specialist.Registry

	safety   *stage.Safety
	profile  *stage.Profile
	emotion  *stage.Emotion
	signals  *stage.Signals
	alliance *stage.Alliance
	research *stage.Research
	draft    *stage.Draft

	router   *specialist.Router
	invoker  *match.Invoker
	composer *compose.Composer

	logger  logging.Logger
	metrics *metrics.Metrics

	sem chan struct{}

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	convLocks map[string]*sync.Mutex
}

// New creates an Engine around a language model. Defaults: in-memory
// stores, the pattern redactor, the builtin specialist registry, no
// matcher and no research index.
func New(llm model.Model, opts ...Option) (*Engine, error) {
	if llm == nil {
		return nil, errors.New("engine: model is required")
	}
	e := &Engine{
		cfg:       DefaultConfig(),
		llm:       llm,
		provider:  llm.Info().Provider,
		logger:    logging.NoOpLogger{},
		active:    map[string]context.CancelFunc{},
		convLocks: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.redactor == nil {
		e.redactor = redact.New()
	}
	if e.convStore == nil || e.profileStore == nil {
		mem := store.NewMemoryStore()
		if e.convStore == nil {
			e.convStore = mem
		}
		if e.profileStore == nil {
			e.profileStore = mem
		}
	}
	if e.registry == nil {
		e.registry = specialist.BuiltinRegistry(llm)
	}

	e.safety = stage.NewSafety(llm)
	e.profile = stage.NewProfile(e.profileStore)
	e.emotion = stage.NewEmotion(llm)
	e.signals = stage.NewSignals(llm)
	e.alliance = stage.NewAlliance(llm)
	e.draft = stage.NewDraft(llm)
	if e.index != nil {
		e.research = stage.NewResearch(e.index, e.cfg.MatchLimit)
	}

	e.router = specialist.NewRouter(e.registry, e.cfg.HandoffLimit, e.logger)
	e.invoker = match.NewInvoker(e.matcher, func(o *match.Options) {
		o.DistressCeiling = e.cfg.MatchDistressCeiling
		o.Limit = e.cfg.MatchLimit
		o.Timeout = e.cfg.MatchTimeout.Std()
		o.Logger = e.logger
	})
	e.composer = compose.New(func(o *compose.Options) {
		o.SuggestionCount = e.cfg.SuggestionCount
		o.BondRecovery = e.cfg.BondRecovery
		o.AllianceLowTurns = e.cfg.AllianceLowTurns
	})

	if e.cfg.MaxConcurrentTurns > 0 {
		e.sem = make(chan struct{}, e.cfg.MaxConcurrentTurns)
	}
	return e, nil
}

// RunTurn starts processing one user message. It returns the turn id, a
// frame channel carrying the ordered reply stream, and an error channel
// that delivers at most one terminal error. Both channels are closed when
// the turn reaches a terminal stage. The call itself only fails on
// invalid input or when the concurrency cap cannot be acquired.
func (e *Engine) RunTurn(ctx context.Context, userID, conversationID, text string) (string, <-chan core.Frame, <-chan error, error) {
	if userID == "" || conversationID == "" {
		return "", nil, nil, errors.New("engine: user and conversation ids are required")
	}
	if text == "" {
		return "", nil, nil, errors.New("engine: empty message")
	}

	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return "", nil, nil, ctx.Err()
		}
	}

	tc := core.NewTurnContext(userID, conversationID, text)
	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.active[tc.TurnID] = cancel
	e.mu.Unlock()

	frames := make(chan core.Frame, e.cfg.FrameBuffer)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.active, tc.TurnID)
			e.mu.Unlock()
			if e.sem != nil {
				<-e.sem
			}
			close(frames)
			close(errCh)
		}()
		e.run(runCtx, tc, frames, errCh)
	}()

	return tc.TurnID, frames, errCh, nil
}

// Cancel aborts an in-flight turn. It reports whether the turn was known.
func (e *Engine) Cancel(turnID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[turnID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveTurns returns the ids of turns currently in flight.
func (e *Engine) ActiveTurns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// convLock returns the serialization lock for a conversation.
func (e *Engine) convLock(conversationID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.convLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		e.convLocks[conversationID] = lock
	}
	return lock
}
