// Package session is the public surface of an agentic search: Search,
// Reset, Cancel, IsSearching and the snapshot hooks. A Controller owns
// one live session at a time. Every Search bumps a generation token and
// clears the previous state before any new data is accepted; frames and
// failures of older generations are dropped.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/agentic"
	"sales-intel-be/pkg/agentic/connection"
	"sales-intel-be/pkg/agentic/fallback"
	"sales-intel-be/pkg/agentic/state"
)

const module = "SessionController"

var tracer = otel.Tracer("sales-intel-be/pkg/agentic/session")

// Channel opens and closes the streaming channel of a generation.
// *connection.Manager implements it.
type Channel interface {
	Open(ctx context.Context, req agentic.SearchRequest, generation uint64, h connection.Handler)
	Close()
}

// FallbackResolver recovers partner suggestions after completion.
// *fallback.Coordinator implements it.
type FallbackResolver interface {
	Resolve(ctx context.Context, s agentic.SessionState, opts agentic.SearchOptions) fallback.Outcome
	Remember(ctx context.Context, suggestions []agentic.PartnerSuggestion)
}

// Hooks are called outside the controller lock, in the order the state
// changed. A hook may call back into the controller.
type Hooks struct {
	OnSnapshot    func(s agentic.SessionState)
	OnPhaseChange func(from, to agentic.Phase)
	OnComplete    func(s agentic.SessionState)
	OnError       func(s agentic.SessionState, err *agentic.SessionError)
	OnFallback    func(s agentic.SessionState, out fallback.Outcome)
}

type Config struct {
	// IdleTimeout fails a session when no frame arrives for this long.
	IdleTimeout time.Duration
}

const DefaultIdleTimeout = 30 * time.Second

type Controller struct {
	channel  Channel
	fallback FallbackResolver
	logger   logger.ILogger
	hooks    Hooks
	cfg      Config
	baseCtx  context.Context
	now      func() time.Time

	// chMu serializes channel Open and Close. It is taken before mu, never
	// while holding it, so a slow peer cannot stall frames or hooks.
	chMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	session    *agentic.SearchSession
	state      agentic.SessionState
	completed  bool
	idle       *time.Timer
	span       trace.Span

	qmu      sync.Mutex
	queue    []func()
	draining bool
}

// NewController wires a controller. fb may be nil to disable the
// fallback. ctx bounds every session the controller runs.
func NewController(ctx context.Context, channel Channel, fb FallbackResolver, log logger.ILogger, cfg Config, hooks Hooks) *Controller {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Controller{
		channel:  channel,
		fallback: fb,
		logger:   log,
		hooks:    hooks,
		cfg:      cfg,
		baseCtx:  ctx,
		now:      time.Now,
		state:    state.Reset(),
	}
}

// Search starts a new session and returns its generation. An empty query
// is a no-op and returns false. Callers driving Search from keystrokes
// debounce before calling it.
func (c *Controller) Search(query string, opts agentic.SearchOptions) (uint64, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return 0, false
	}
	opts = opts.WithDefaults()

	c.mu.Lock()
	prev := c.state.Phase
	c.generation++
	gen := c.generation
	c.teardownLocked("superseded")

	now := c.now()
	req := agentic.NewSearchRequest(q, opts, now)
	c.session = &agentic.SearchSession{
		Generation: gen,
		Query:      q,
		Options:    opts,
		Phase:      agentic.PhaseConnecting,
		StartedAt:  now,
	}
	c.state = state.Begin(gen, q)
	c.state.RequestID = req.RequestID
	c.completed = false

	_, c.span = tracer.Start(c.baseCtx, "agentic.session", trace.WithAttributes(
		attribute.Int64("search.generation", int64(gen)),
		attribute.String("search.request_id", req.RequestID),
		attribute.Int("search.limit", opts.Limit),
		attribute.Bool("search.include_partner_suggestions", opts.IncludePartnerSuggestions),
	))
	c.armIdleLocked(gen)

	snap := c.state.Clone()
	c.enqueueLocked(c.snapshotNote(snap))
	if prev != agentic.PhaseConnecting {
		c.enqueueLocked(c.phaseNote(prev, agentic.PhaseConnecting))
	}
	c.mu.Unlock()
	c.openChannel(req, gen)
	c.drain()

	c.logger.Info(module, "Search started", map[string]interface{}{
		"generation": gen,
		"request_id": req.RequestID,
		"query_len":  len(q),
	})
	return gen, true
}

// Reset closes any open channel and returns to idle with nothing
// accumulated. It is safe from any phase and idempotent.
func (c *Controller) Reset() {
	c.mu.Lock()
	prev := c.state.Phase
	wasEmpty := c.session == nil && prev == agentic.PhaseIdle && len(c.state.Companies) == 0
	c.generation++
	gen := c.generation
	c.teardownLocked("reset")
	c.session = nil
	c.state = state.Reset()
	c.completed = false
	if !wasEmpty {
		c.enqueueLocked(c.snapshotNote(c.state.Clone()))
		if prev != agentic.PhaseIdle {
			c.enqueueLocked(c.phaseNote(prev, agentic.PhaseIdle))
		}
	}
	c.mu.Unlock()
	c.closeChannel(gen)
	c.drain()
}

// Cancel stops the running session and goes back to idle while keeping
// whatever results already arrived.
func (c *Controller) Cancel() {
	c.mu.Lock()
	res := state.Cancel(c.state)
	if res.Ignored {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	c.teardownLocked("cancelled")
	c.state = res.State
	if c.session != nil {
		c.session.Phase = res.To
	}
	c.enqueueLocked(c.snapshotNote(c.state.Clone()))
	c.enqueueLocked(c.phaseNote(res.From, res.To))
	c.mu.Unlock()
	c.closeChannel(gen)
	c.drain()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() agentic.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Session returns the live session, if any.
func (c *Controller) Session() (agentic.SearchSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return agentic.SearchSession{}, false
	}
	return *c.session, true
}

func (c *Controller) IsSearching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase.IsSearching()
}

func (c *Controller) Phase() agentic.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase
}

// Generation is the token of the latest Search, Reset or Cancel.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// sink adapts the controller to connection.Handler without exporting the
// handler methods.
type sink struct{ c *Controller }

func (s sink) HandleFrame(frame agentic.Frame) { s.c.handleFrame(frame) }

func (s sink) HandleFailure(generation uint64, err *agentic.SessionError) {
	s.c.fail(generation, err)
}

func (c *Controller) handleFrame(frame agentic.Frame) {
	c.mu.Lock()
	if c.session == nil || frame.Generation != c.generation {
		c.mu.Unlock()
		c.logger.Debug(module, "Dropped stale frame", map[string]interface{}{"generation": frame.Generation, "type": frame.Type})
		return
	}

	res := state.Reduce(c.state, frame, state.Context{
		Options: c.session.Options,
		Elapsed: c.now().Sub(c.session.StartedAt),
	})
	if res.Ignored {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.state = res.State
	c.session.Phase = res.To
	if res.Completed() && c.fallback != nil && fallback.ShouldRun(c.session.Options, c.state) {
		c.state.FallbackPending = true
	}

	if !res.To.IsTerminal() {
		c.armIdleLocked(gen)
	}

	snap := c.state.Clone()
	c.enqueueLocked(c.snapshotNote(snap))
	if res.PhaseChanged() {
		c.enqueueLocked(c.phaseNote(res.From, res.To))
	}

	failed := res.Failed()
	switch {
	case res.Completed():
		c.completeLocked(gen, snap)
	case failed:
		c.failedLocked(snap, agentic.NewSessionError(res.State.ErrorKind, res.State.Error, nil))
	}
	c.mu.Unlock()
	if failed {
		c.closeChannel(gen)
	}
	c.drain()
}

// fail moves generation's session into error unless it already ended.
func (c *Controller) fail(generation uint64, err *agentic.SessionError) {
	c.mu.Lock()
	if c.session == nil || generation != c.generation {
		c.mu.Unlock()
		return
	}
	res := state.Fail(c.state, err)
	if res.Ignored {
		c.mu.Unlock()
		return
	}
	c.state = res.State
	c.session.Phase = res.To
	snap := c.state.Clone()
	c.enqueueLocked(c.snapshotNote(snap))
	c.enqueueLocked(c.phaseNote(res.From, res.To))
	c.failedLocked(snap, err)
	c.mu.Unlock()
	c.closeChannel(generation)
	c.drain()
}

func (c *Controller) completeLocked(gen uint64, snap agentic.SessionState) {
	c.stopIdleLocked()
	if c.completed {
		return
	}
	c.completed = true
	c.endSpanLocked(nil)

	c.logger.Info(module, "Search complete", map[string]interface{}{
		"generation":          gen,
		"companies":           len(snap.Companies),
		"partner_suggestions": len(snap.PartnerSuggestions),
		"total_results":       snap.TotalResults,
		"search_time_ms":      snap.SearchTimeMs,
	})
	if c.hooks.OnComplete != nil {
		hook := c.hooks.OnComplete
		c.enqueueLocked(func() { hook(snap) })
	}

	if c.fallback == nil {
		return
	}
	if snap.FallbackPending {
		go c.runFallback(gen, snap, c.session.Options)
	} else if len(snap.PartnerSuggestions) > 0 {
		suggestions := snap.PartnerSuggestions
		go c.fallback.Remember(c.baseCtx, suggestions)
	}
}

func (c *Controller) failedLocked(snap agentic.SessionState, err *agentic.SessionError) {
	c.stopIdleLocked()
	c.session.Err = err
	c.endSpanLocked(err)

	c.logger.Warn(module, "Search failed", map[string]interface{}{
		"generation": snap.Generation,
		"kind":       err.Kind,
		"error":      err.Error(),
		"companies":  len(snap.Companies),
	})
	if c.hooks.OnError != nil {
		hook := c.hooks.OnError
		c.enqueueLocked(func() { hook(snap, err) })
	}
}

func (c *Controller) runFallback(gen uint64, snap agentic.SessionState, opts agentic.SearchOptions) {
	out := c.fallback.Resolve(c.baseCtx, snap, opts)

	c.mu.Lock()
	var res state.Result
	if gen == c.generation {
		res = state.ApplyFallback(c.state, out.Suggestions, out.Source)
	}
	if gen != c.generation || res.Ignored {
		if gen == c.generation {
			c.state.FallbackPending = false
			c.enqueueLocked(c.snapshotNote(c.state.Clone()))
		}
		// The completed session still gets its OnFallback so listeners
		// waiting on it can finish with the snapshot it completed with.
		out.Dropped = true
		done := snap
		done.FallbackPending = false
		c.logger.Debug(module, "Dropped stale fallback", map[string]interface{}{"generation": gen, "source": out.Source})
		if c.hooks.OnFallback != nil {
			hook := c.hooks.OnFallback
			c.enqueueLocked(func() { hook(done, out) })
		}
		c.mu.Unlock()
		c.drain()
		return
	}
	c.state = res.State
	merged := c.state.Clone()
	c.enqueueLocked(c.snapshotNote(merged))
	if c.hooks.OnFallback != nil {
		hook := c.hooks.OnFallback
		c.enqueueLocked(func() { hook(merged, out) })
	}
	c.mu.Unlock()
	c.drain()
}

// openChannel closes the previous channel and opens gen's, unless a newer
// Search, Reset or Cancel took over meanwhile.
func (c *Controller) openChannel(req agentic.SearchRequest, gen uint64) {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.Generation() != gen {
		return
	}
	c.channel.Close()
	c.channel.Open(c.baseCtx, req, gen, sink{c: c})
}

// closeChannel closes the channel when gen is still the latest generation.
// A newer Search closes it itself before opening its own.
func (c *Controller) closeChannel(gen uint64) {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.Generation() != gen {
		return
	}
	c.channel.Close()
}

// teardownLocked ends whatever the previous generation left running. The
// channel is closed by the caller once mu is released.
func (c *Controller) teardownLocked(reason string) {
	c.stopIdleLocked()
	if c.span != nil {
		c.span.SetAttributes(attribute.String("search.end_reason", reason))
		c.span.End()
		c.span = nil
	}
}

func (c *Controller) endSpanLocked(err *agentic.SessionError) {
	if c.span == nil {
		return
	}
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, string(err.Kind))
	} else {
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()
	c.span = nil
}

func (c *Controller) armIdleLocked(gen uint64) {
	c.stopIdleLocked()
	timeout := c.cfg.IdleTimeout
	c.idle = time.AfterFunc(timeout, func() {
		c.fail(gen, agentic.NewSessionError(agentic.KindTimeout, "No response from search service within "+timeout.String()+".", nil))
	})
}

func (c *Controller) stopIdleLocked() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}

func (c *Controller) snapshotNote(snap agentic.SessionState) func() {
	hook := c.hooks.OnSnapshot
	if hook == nil {
		return nil
	}
	return func() { hook(snap) }
}

func (c *Controller) phaseNote(from, to agentic.Phase) func() {
	hook := c.hooks.OnPhaseChange
	if hook == nil {
		return nil
	}
	return func() { hook(from, to) }
}

// enqueueLocked must be called with mu held so the queue order matches
// the order of state changes.
func (c *Controller) enqueueLocked(note func()) {
	if note == nil {
		return
	}
	c.qmu.Lock()
	c.queue = append(c.queue, note)
	c.qmu.Unlock()
}

// drain runs queued hooks. A nested call, from a hook or another
// goroutine, leaves the work to the goroutine already draining.
func (c *Controller) drain() {
	c.qmu.Lock()
	if c.draining {
		c.qmu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		note := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()
		note()
		c.qmu.Lock()
	}
	c.draining = false
	c.qmu.Unlock()
}
