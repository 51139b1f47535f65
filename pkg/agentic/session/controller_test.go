package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/agentic"
	"sales-intel-be/pkg/agentic/connection"
	"sales-intel-be/pkg/agentic/fallback"
)

type fakeChannel struct {
	mu      sync.Mutex
	handler connection.Handler
	opened  []agentic.SearchRequest
	gens    []uint64
	closes  int
}

func (f *fakeChannel) Open(_ context.Context, req agentic.SearchRequest, generation uint64, h connection.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.opened = append(f.opened, req)
	f.gens = append(f.gens, generation)
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeChannel) deliver(generation uint64, frames ...agentic.Frame) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	for _, fr := range frames {
		fr.Generation = generation
		h.HandleFrame(fr)
	}
}

type events struct {
	mu        sync.Mutex
	phases    []agentic.Phase
	completes []agentic.SessionState
	errors    []*agentic.SessionError
	snapshots int
}

func (e *events) hooks() Hooks {
	return Hooks{
		OnSnapshot: func(agentic.SessionState) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.snapshots++
		},
		OnPhaseChange: func(_, to agentic.Phase) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.phases = append(e.phases, to)
		},
		OnComplete: func(s agentic.SessionState) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.completes = append(e.completes, s)
		},
		OnError: func(_ agentic.SessionState, err *agentic.SessionError) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.errors = append(e.errors, err)
		},
	}
}

func (e *events) completeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.completes)
}

func (e *events) errorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errors)
}

func newTestController(t *testing.T, fb FallbackResolver, cfg Config, h Hooks) (*Controller, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{}
	c := NewController(context.Background(), ch, fb, logger.NewNop(), cfg, h)
	t.Cleanup(c.Reset)
	return c, ch
}

func intPtr(v int) *int { return &v }

func companies(n int) []agentic.CompanyResult {
	out := make([]agentic.CompanyResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, agentic.CompanyResult{
			CompanyID:     int64(i + 1),
			Domain:        fmt.Sprintf("company%d.com", i),
			RawMatchScore: 0.9,
		})
	}
	return out
}

func suggestions(n int) []agentic.PartnerSuggestion {
	out := make([]agentic.PartnerSuggestion, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, agentic.PartnerSuggestion{PartnerID: int64(i + 1), Slug: fmt.Sprintf("p%d", i), RawMatchScore: 0.7})
	}
	return out
}

func fullSequence(suggestionCount int) []agentic.Frame {
	return []agentic.Frame{
		{Type: agentic.PhaseConnecting},
		{Type: agentic.PhaseInterpreting, Interpretation: &agentic.Interpretation{Keywords: []string{"B2B", "SaaS", "healthcare"}}},
		{Type: agentic.PhaseResults, Companies: companies(5)},
		{Type: agentic.PhasePartnerSuggestion, Suggestions: suggestions(suggestionCount)},
		{Type: agentic.PhaseSuggestionsComplete},
		{Type: agentic.PhaseComplete, TotalResults: intPtr(42)},
	}
}

func TestSearch_EmptyQueryIsNoop(t *testing.T) {
	ev := &events{}
	c, ch := newTestController(t, nil, Config{}, ev.hooks())

	for _, q := range []string{"", "   ", "\t\n"} {
		gen, ok := c.Search(q, agentic.DefaultSearchOptions())
		assert.False(t, ok)
		assert.Zero(t, gen)
	}

	assert.Equal(t, agentic.PhaseIdle, c.Phase())
	assert.False(t, c.IsSearching())
	assert.Empty(t, ch.opened)
	assert.Zero(t, ev.snapshots)
}

func TestSearch_FullSequence(t *testing.T) {
	ev := &events{}
	c, ch := newTestController(t, nil, Config{}, ev.hooks())

	gen, ok := c.Search("B2B SaaS healthcare", agentic.DefaultSearchOptions())
	require.True(t, ok)
	assert.True(t, c.IsSearching())
	require.Len(t, ch.opened, 1)
	assert.Equal(t, "B2B SaaS healthcare", ch.opened[0].Query)

	ch.deliver(gen, fullSequence(3)...)

	s := c.Snapshot()
	assert.Equal(t, agentic.PhaseComplete, s.Phase)
	assert.Len(t, s.Companies, 5)
	assert.Equal(t, 42, s.TotalResults)
	assert.Len(t, s.PartnerSuggestions, 3)
	assert.False(t, c.IsSearching())

	assert.Equal(t, []agentic.Phase{
		agentic.PhaseConnecting,
		agentic.PhaseInterpreting,
		agentic.PhaseResults,
		agentic.PhasePartnerSuggestion,
		agentic.PhaseSuggestionsComplete,
		agentic.PhaseComplete,
	}, ev.phases)
	require.Equal(t, 1, ev.completeCount())
	assert.Len(t, ev.completes[0].Companies, 5)

	sess, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, gen, sess.Generation)
	assert.Equal(t, agentic.PhaseComplete, sess.Phase)
}

func TestSearch_SupersedesPreviousGeneration(t *testing.T) {
	c, ch := newTestController(t, nil, Config{}, Hooks{})

	first, _ := c.Search("first", agentic.DefaultSearchOptions())
	ch.deliver(first, agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2)})
	closesBefore := ch.closeCount()

	second, _ := c.Search("second", agentic.DefaultSearchOptions())
	assert.Greater(t, second, first)
	assert.Greater(t, ch.closeCount(), closesBefore, "prior channel is closed")

	s := c.Snapshot()
	assert.Equal(t, "second", s.Query)
	assert.Equal(t, agentic.PhaseConnecting, s.Phase)
	assert.Empty(t, s.Companies, "state cleared before new data")

	ch.deliver(first,
		agentic.Frame{Type: agentic.PhaseResults, Companies: companies(4)},
		agentic.Frame{Type: agentic.PhaseComplete, TotalResults: intPtr(4)},
	)

	s = c.Snapshot()
	assert.Empty(t, s.Companies)
	assert.Equal(t, agentic.PhaseConnecting, s.Phase)
	assert.Equal(t, second, s.Generation)
}

func TestReset_FromAnyPhase(t *testing.T) {
	tests := []struct {
		name   string
		frames []agentic.Frame
	}{
		{name: "in flight", frames: []agentic.Frame{{Type: agentic.PhaseResults, Companies: companies(3)}}},
		{name: "complete", frames: fullSequence(2)},
		{name: "error", frames: []agentic.Frame{
			{Type: agentic.PhaseResults, Companies: companies(3)},
			{Type: agentic.PhaseError, Message: "boom"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ch := newTestController(t, nil, Config{}, Hooks{})
			gen, _ := c.Search("query", agentic.DefaultSearchOptions())
			ch.deliver(gen, tt.frames...)

			c.Reset()

			s := c.Snapshot()
			assert.Equal(t, agentic.PhaseIdle, s.Phase)
			assert.Empty(t, s.Companies)
			assert.Empty(t, s.PartnerSuggestions)
			assert.Empty(t, s.Partners)
			assert.Empty(t, s.SuggestedQueries)
			assert.Nil(t, s.Interpretation)
			assert.Empty(t, s.Error)
			_, ok := c.Session()
			assert.False(t, ok)

			ch.deliver(gen, agentic.Frame{Type: agentic.PhaseResults, Companies: companies(1)})
			assert.Empty(t, c.Snapshot().Companies)

			c.Reset()
			assert.Equal(t, agentic.PhaseIdle, c.Phase())
		})
	}
}

func TestOnComplete_ExactlyOnce(t *testing.T) {
	ev := &events{}
	c, ch := newTestController(t, nil, Config{}, ev.hooks())

	gen, _ := c.Search("query", agentic.DefaultSearchOptions())
	ch.deliver(gen, fullSequence(1)...)
	ch.deliver(gen,
		agentic.Frame{Type: agentic.PhaseComplete, TotalResults: intPtr(99)},
		agentic.Frame{Type: agentic.PhaseError, Message: "late"},
	)

	assert.Equal(t, 1, ev.completeCount())
	assert.Zero(t, ev.errorCount())
	assert.Equal(t, 42, c.Snapshot().TotalResults)
}

func TestOnComplete_NeverOnError(t *testing.T) {
	ev := &events{}
	c, ch := newTestController(t, nil, Config{}, ev.hooks())

	gen, _ := c.Search("query", agentic.DefaultSearchOptions())
	ch.deliver(gen,
		agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2)},
		agentic.Frame{Type: agentic.PhaseError, Message: "index unavailable"},
		agentic.Frame{Type: agentic.PhaseComplete},
	)

	assert.Zero(t, ev.completeCount())
	require.Equal(t, 1, ev.errorCount())
	assert.Equal(t, agentic.KindBackend, ev.errors[0].Kind)

	s := c.Snapshot()
	assert.Equal(t, agentic.PhaseError, s.Phase)
	assert.Equal(t, "index unavailable", s.Error)
	assert.Len(t, s.Companies, 2)

	sess, _ := c.Session()
	require.NotNil(t, sess.Err)
	assert.Equal(t, agentic.KindBackend, sess.Err.Kind)
}

func TestHandleFailure_ConnectionError(t *testing.T) {
	ev := &events{}
	c, ch := newTestController(t, nil, Config{}, ev.hooks())

	gen, _ := c.Search("query", agentic.DefaultSearchOptions())
	ch.mu.Lock()
	h := ch.handler
	ch.mu.Unlock()

	h.HandleFailure(gen-1, agentic.NewSessionError(agentic.KindConnection, "stale", nil))
	assert.Equal(t, agentic.PhaseConnecting, c.Phase())

	h.HandleFailure(gen, agentic.NewSessionError(agentic.KindConnection, "Connection error. Please try again.", nil))
	s := c.Snapshot()
	assert.Equal(t, agentic.PhaseError, s.Phase)
	assert.Equal(t, agentic.KindConnection, s.ErrorKind)
	assert.Equal(t, 1, ev.errorCount())
}

func TestIdleTimeout(t *testing.T) {
	ev := &events{}
	c, ch := newTestController(t, nil, Config{IdleTimeout: 40 * time.Millisecond}, ev.hooks())

	gen, _ := c.Search("query", agentic.DefaultSearchOptions())
	ch.deliver(gen, agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2)})

	assert.Eventually(t, func() bool { return c.Phase() == agentic.PhaseError }, 2*time.Second, 5*time.Millisecond)

	s := c.Snapshot()
	assert.Equal(t, agentic.KindTimeout, s.ErrorKind)
	assert.Len(t, s.Companies, 2)
	assert.Eventually(t, func() bool { return ev.errorCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestIdleTimeout_NotAfterComplete(t *testing.T) {
	c, ch := newTestController(t, nil, Config{IdleTimeout: 30 * time.Millisecond}, Hooks{})

	gen, _ := c.Search("query", agentic.DefaultSearchOptions())
	ch.deliver(gen, fullSequence(1)...)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, agentic.PhaseComplete, c.Phase())
}

func TestCancel_KeepsResults(t *testing.T) {
	c, ch := newTestController(t, nil, Config{}, Hooks{})

	gen, _ := c.Search("query", agentic.DefaultSearchOptions())
	ch.deliver(gen, agentic.Frame{Type: agentic.PhaseResults, Companies: companies(3)})

	c.Cancel()

	s := c.Snapshot()
	assert.Equal(t, agentic.PhaseIdle, s.Phase)
	assert.Len(t, s.Companies, 3)
	assert.False(t, c.IsSearching())

	ch.deliver(gen, agentic.Frame{Type: agentic.PhaseResults, Companies: companies(5)})
	assert.Len(t, c.Snapshot().Companies, 3)
}

func TestFallback_RESTMergedAfterComplete(t *testing.T) {
	var mu sync.Mutex
	var gotDomains []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Domains []string `json:"domains"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		gotDomains = body.Domains
		mu.Unlock()
		_, _ = w.Write([]byte(`[{"partner":{"id":5,"name":"CloudCo","slug":"cloudco"},"match_score":0.77,"match_reasons":["aws"],"industry_overlap":["cloud"]}]`))
	}))
	defer srv.Close()

	coord := fallback.NewCoordinator(
		fallback.NewRESTClient(srv.URL, time.Second, nil),
		fallback.NewMemoryDirectory(time.Hour),
		logger.NewNop(),
		fallback.DefaultConfig(),
	)
	ev := &events{}
	c, ch := newTestController(t, coord, Config{}, ev.hooks())

	gen, _ := c.Search("B2B SaaS healthcare", agentic.DefaultSearchOptions())
	ch.deliver(gen, fullSequence(0)...)

	require.Eventually(t, func() bool { return ev.completeCount() == 1 }, time.Second, 5*time.Millisecond)
	ev.mu.Lock()
	assert.Empty(t, ev.completes[0].PartnerSuggestions)
	ev.mu.Unlock()

	assert.Eventually(t, func() bool {
		return len(c.Snapshot().PartnerSuggestions) == 1
	}, 2*time.Second, 5*time.Millisecond)

	s := c.Snapshot()
	assert.Equal(t, agentic.PhaseComplete, s.Phase)
	assert.Equal(t, agentic.OriginREST, s.FallbackSource)
	assert.Equal(t, "cloudco", s.PartnerSuggestions[0].Slug)
	assert.Equal(t, 77, s.PartnerSuggestions[0].MatchScore)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"company0.com", "company1.com", "company2.com", "company3.com", "company4.com"}, gotDomains)
	assert.Equal(t, 1, ev.completeCount())
}

type stubResolver struct {
	mu         sync.Mutex
	resolved   int
	remembered [][]agentic.PartnerSuggestion
	release    chan struct{}
}

func (r *stubResolver) Resolve(_ context.Context, _ agentic.SessionState, _ agentic.SearchOptions) fallback.Outcome {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	r.resolved++
	r.mu.Unlock()
	return fallback.Outcome{
		Suggestions: []agentic.PartnerSuggestion{{Slug: "h1", RawMatchScore: 95}},
		Source:      agentic.OriginHeuristic,
	}
}

func (r *stubResolver) Remember(_ context.Context, s []agentic.PartnerSuggestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remembered = append(r.remembered, s)
}

func TestFallback_SkippedWhenSuggestionsStreamed(t *testing.T) {
	res := &stubResolver{}
	c, ch := newTestController(t, res, Config{}, Hooks{})

	gen, _ := c.Search("query", agentic.DefaultSearchOptions())
	ch.deliver(gen, fullSequence(2)...)

	assert.Eventually(t, func() bool {
		res.mu.Lock()
		defer res.mu.Unlock()
		return len(res.remembered) == 1
	}, 2*time.Second, 5*time.Millisecond)

	res.mu.Lock()
	defer res.mu.Unlock()
	assert.Zero(t, res.resolved)
	assert.Len(t, c.Snapshot().PartnerSuggestions, 2)
}

func TestFallback_DroppedAfterNewSearch(t *testing.T) {
	type fallbackCall struct {
		state agentic.SessionState
		out   fallback.Outcome
	}
	calls := make(chan fallbackCall, 2)
	var completed agentic.SessionState
	hooks := Hooks{
		OnComplete: func(s agentic.SessionState) { completed = s },
		OnFallback: func(s agentic.SessionState, out fallback.Outcome) { calls <- fallbackCall{s, out} },
	}
	res := &stubResolver{release: make(chan struct{})}
	c, ch := newTestController(t, res, Config{}, hooks)

	gen, _ := c.Search("first", agentic.DefaultSearchOptions())
	ch.deliver(gen, fullSequence(0)...)
	assert.True(t, completed.FallbackPending)
	assert.True(t, c.Snapshot().FallbackPending)

	c.Search("second", agentic.DefaultSearchOptions())
	close(res.release)

	select {
	case call := <-calls:
		assert.True(t, call.out.Dropped)
		assert.Equal(t, "first", call.state.Query)
		assert.Equal(t, gen, call.state.Generation)
		assert.Equal(t, agentic.PhaseComplete, call.state.Phase)
		assert.False(t, call.state.FallbackPending)
		assert.Len(t, call.state.Companies, 5)
		assert.Empty(t, call.state.PartnerSuggestions)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded session never reported its fallback")
	}

	s := c.Snapshot()
	assert.Equal(t, "second", s.Query)
	assert.Empty(t, s.PartnerSuggestions)
	assert.False(t, s.FallbackPending)
	assert.Empty(t, calls)
}

func TestFallback_MergedClearsPending(t *testing.T) {
	calls := make(chan fallback.Outcome, 1)
	res := &stubResolver{}
	c, ch := newTestController(t, res, Config{}, Hooks{
		OnFallback: func(_ agentic.SessionState, out fallback.Outcome) { calls <- out },
	})

	gen, _ := c.Search("query", agentic.DefaultSearchOptions())
	ch.deliver(gen, fullSequence(0)...)

	select {
	case out := <-calls:
		assert.False(t, out.Dropped)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback never landed")
	}
	s := c.Snapshot()
	assert.False(t, s.FallbackPending)
	assert.Equal(t, agentic.OriginHeuristic, s.FallbackSource)
	assert.Len(t, s.PartnerSuggestions, 1)
}

// stallingChannel blocks Close once armed, like a peer that never answers
// the close handshake.
type stallingChannel struct {
	fakeChannel
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *stallingChannel) Close() {
	s.fakeChannel.Close()
	if s.armed.Load() {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.release
	}
}

func TestSearch_SlowCloseDoesNotHoldState(t *testing.T) {
	ch := &stallingChannel{entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := NewController(context.Background(), ch, nil, logger.NewNop(), Config{}, Hooks{})

	first, _ := c.Search("first", agentic.DefaultSearchOptions())
	ch.armed.Store(true)

	done := make(chan uint64, 1)
	go func() {
		gen, _ := c.Search("second", agentic.DefaultSearchOptions())
		done <- gen
	}()

	select {
	case <-ch.entered:
	case <-time.After(time.Second):
		t.Fatal("previous channel was never closed")
	}

	snapshot := make(chan agentic.SessionState, 1)
	go func() {
		ch.deliver(first, agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2)})
		snapshot <- c.Snapshot()
	}()
	select {
	case s := <-snapshot:
		assert.Equal(t, "second", s.Query)
		assert.Empty(t, s.Companies)
	case <-time.After(time.Second):
		t.Fatal("controller blocked behind a slow close")
	}

	close(ch.release)
	select {
	case second := <-done:
		ch.mu.Lock()
		assert.Equal(t, []uint64{first, second}, ch.gens)
		ch.mu.Unlock()
	case <-time.After(time.Second):
		t.Fatal("search never returned")
	}
	c.Reset()
}

func TestHooks_MayReenterController(t *testing.T) {
	var c *Controller
	var again uint64
	hooks := Hooks{
		OnComplete: func(s agentic.SessionState) {
			if s.Query == "first" {
				again, _ = c.Search("follow up", agentic.DefaultSearchOptions())
			}
		},
	}
	c, ch := newTestController(t, nil, Config{}, hooks)

	gen, _ := c.Search("first", agentic.DefaultSearchOptions())
	ch.deliver(gen, fullSequence(1)...)

	assert.NotZero(t, again)
	assert.Equal(t, "follow up", c.Snapshot().Query)
	assert.Equal(t, agentic.PhaseConnecting, c.Phase())
}
