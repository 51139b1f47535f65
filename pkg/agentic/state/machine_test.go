package state

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-intel-be/pkg/agentic"
)

func intPtr(v int) *int { return &v }

func companies(n int, prefix string) []agentic.CompanyResult {
	out := make([]agentic.CompanyResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, agentic.CompanyResult{
			CompanyID:     int64(i + 1),
			Domain:        fmt.Sprintf("%s%d.com", prefix, i),
			Name:          fmt.Sprintf("Company %d", i),
			RawMatchScore: 0.9 - float64(i)*0.1,
		})
	}
	return out
}

func suggestions(n int) []agentic.PartnerSuggestion {
	out := make([]agentic.PartnerSuggestion, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, agentic.PartnerSuggestion{
			PartnerID:     int64(i + 1),
			Slug:          fmt.Sprintf("partner-%d", i),
			Name:          fmt.Sprintf("Partner %d", i),
			RawMatchScore: 0.8,
		})
	}
	return out
}

func run(t *testing.T, opts agentic.SearchOptions, frames ...agentic.Frame) agentic.SessionState {
	t.Helper()
	s := Begin(1, "b2b saas healthcare")
	for _, f := range frames {
		s = Reduce(s, f, Context{Options: opts, Elapsed: 1500 * time.Millisecond}).State
	}
	return s
}

func TestReduce_FullSequence(t *testing.T) {
	opts := agentic.DefaultSearchOptions()
	s := run(t, opts,
		agentic.Frame{Type: agentic.PhaseConnecting, RequestID: "search-1"},
		agentic.Frame{Type: agentic.PhaseInterpreting, Interpretation: &agentic.Interpretation{Keywords: []string{"B2B", "SaaS", "healthcare"}}},
		agentic.Frame{Type: agentic.PhaseResults, Companies: companies(5, "co")},
		agentic.Frame{Type: agentic.PhasePartnerSuggestion, Suggestions: suggestions(3)},
		agentic.Frame{Type: agentic.PhaseSuggestionsComplete},
		agentic.Frame{Type: agentic.PhaseComplete, TotalResults: intPtr(42)},
	)

	assert.Equal(t, agentic.PhaseComplete, s.Phase)
	assert.Len(t, s.Companies, 5)
	assert.Equal(t, 42, s.TotalResults)
	assert.Len(t, s.PartnerSuggestions, 3)
	assert.Equal(t, "search-1", s.RequestID)
	require.NotNil(t, s.Interpretation)
	assert.Equal(t, []string{"B2B", "SaaS", "healthcare"}, s.Interpretation.Keywords)
	assert.Equal(t, int64(1500), s.SearchTimeMs)
	for _, sg := range s.PartnerSuggestions {
		assert.Equal(t, 80, sg.MatchScore)
		assert.Equal(t, agentic.OriginStream, sg.Origin)
	}
}

func TestReduce_NoDuplicateDomains(t *testing.T) {
	batchA := []agentic.CompanyResult{
		{Domain: "Acme.io", RawMatchScore: 0.5},
		{Domain: "globex.com", RawMatchScore: 0.4},
	}
	batchB := []agentic.CompanyResult{
		{Domain: "acme.IO", Name: "Acme Updated", RawMatchScore: 0.7},
		{Domain: "initech.com", RawMatchScore: 0.3},
		{Domain: "GLOBEX.COM", RawMatchScore: 0.45},
	}
	s := run(t, agentic.DefaultSearchOptions(),
		agentic.Frame{Type: agentic.PhaseSearching, Companies: batchA},
		agentic.Frame{Type: agentic.PhaseRanking, Companies: batchB},
		agentic.Frame{Type: agentic.PhaseResults, Companies: batchA},
	)

	seen := map[string]bool{}
	for _, c := range s.Companies {
		key := strings.ToLower(c.Domain)
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
	}
	assert.Len(t, s.Companies, 3)
	assert.Equal(t, "acme.io", strings.ToLower(s.Companies[0].Domain))
	assert.Equal(t, 50, s.Companies[0].MatchScore)
	assert.Equal(t, "initech.com", s.Companies[2].Domain)
}

func TestMergeCompanies_RankOrder(t *testing.T) {
	existing := []agentic.CompanyResult{
		{Domain: "a.com"},
		{Domain: "b.com", Rank: intPtr(3)},
	}
	batch := []agentic.CompanyResult{
		{Domain: "c.com", Rank: intPtr(1)},
		{Domain: "d.com", Rank: intPtr(2)},
	}

	out := MergeCompanies(existing, batch)

	domains := make([]string, 0, len(out))
	for _, c := range out {
		domains = append(domains, c.Domain)
	}
	assert.Equal(t, []string{"c.com", "d.com", "b.com", "a.com"}, domains)
	assert.Equal(t, "a.com", existing[0].Domain, "input must not be modified")
}

func TestMergeCompanies_FirstSeenOrderWithoutRank(t *testing.T) {
	out := MergeCompanies(companies(2, "x"), []agentic.CompanyResult{{Domain: "y.com"}, {Domain: "x0.com", Name: "again"}})
	require.Len(t, out, 3)
	assert.Equal(t, "x0.com", out[0].Domain)
	assert.Equal(t, "again", out[0].Name)
	assert.Equal(t, "y.com", out[2].Domain)
}

func TestMergePartnerSuggestions_KeyBySlugOrID(t *testing.T) {
	existing := []agentic.PartnerSuggestion{{PartnerID: 1, Slug: "a", RawMatchScore: 0.5}}
	batch := []agentic.PartnerSuggestion{
		{PartnerID: 1, Slug: "a", RawMatchScore: 0.9},
		{PartnerID: 2, RawMatchScore: 70},
		{PartnerID: 2, RawMatchScore: 75},
	}
	out := MergePartnerSuggestions(existing, batch)
	require.Len(t, out, 2)
	assert.Equal(t, 90, out[0].MatchScore)
	assert.Equal(t, "2", out[1].Key())
	assert.Equal(t, 75, out[1].MatchScore)
}

func TestReduce_TerminalStateIsFrozen(t *testing.T) {
	opts := agentic.DefaultSearchOptions()
	s := run(t, opts,
		agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2, "a")},
		agentic.Frame{Type: agentic.PhaseComplete, TotalResults: intPtr(2)},
	)

	for _, f := range []agentic.Frame{
		{Type: agentic.PhaseResults, Companies: companies(4, "b")},
		{Type: agentic.PhaseComplete, TotalResults: intPtr(99)},
		{Type: agentic.PhaseError, Message: "late"},
	} {
		res := Reduce(s, f, Context{Options: opts})
		assert.True(t, res.Ignored)
		assert.False(t, res.Completed())
		assert.Equal(t, s, res.State)
	}
}

func TestReduce_PhaseNeverRegresses(t *testing.T) {
	s := run(t, agentic.DefaultSearchOptions(),
		agentic.Frame{Type: agentic.PhaseInsights, Insights: &agentic.Insights{Observation: "o"}},
		agentic.Frame{Type: agentic.PhaseResults, Companies: companies(1, "late")},
	)
	assert.Equal(t, agentic.PhaseInsights, s.Phase)
	assert.Len(t, s.Companies, 1)
}

func TestReduce_ErrorFrameKeepsResults(t *testing.T) {
	s := Begin(1, "q")
	s = Reduce(s, agentic.Frame{Type: agentic.PhaseResults, Companies: companies(3, "c")}, Context{}).State

	res := Reduce(s, agentic.Frame{Type: agentic.PhaseError, Message: "index unavailable"}, Context{})

	assert.True(t, res.Failed())
	assert.Equal(t, agentic.PhaseError, res.State.Phase)
	assert.Equal(t, "index unavailable", res.State.Error)
	assert.Equal(t, agentic.KindBackend, res.State.ErrorKind)
	assert.Len(t, res.State.Companies, 3)
}

func TestReduce_UnknownFrameTypeIsProtocolError(t *testing.T) {
	res := Reduce(Begin(1, "q"), agentic.Frame{Type: agentic.Phase("teleporting")}, Context{})
	assert.True(t, res.Failed())
	assert.Equal(t, agentic.KindProtocol, res.State.ErrorKind)
}

func TestReduce_IdleIgnoresFrames(t *testing.T) {
	res := Reduce(Reset(), agentic.Frame{Type: agentic.PhaseResults, Companies: companies(1, "c")}, Context{})
	assert.True(t, res.Ignored)
	assert.Empty(t, res.State.Companies)
}

func TestReduce_SuggestionsNotRequested(t *testing.T) {
	opts := agentic.DefaultSearchOptions()
	opts.IncludePartnerSuggestions = false

	s := run(t, opts,
		agentic.Frame{Type: agentic.PhasePartnerSuggestion, Suggestions: suggestions(2)},
		agentic.Frame{Type: agentic.PhaseComplete, Suggestions: suggestions(1)},
	)
	assert.Equal(t, agentic.PhaseComplete, s.Phase)
	assert.Empty(t, s.PartnerSuggestions)
}

func TestReduceComplete_Totals(t *testing.T) {
	opts := agentic.DefaultSearchOptions()

	t.Run("complete overrides provisional total", func(t *testing.T) {
		s := run(t, opts,
			agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2, "a"), TotalResults: intPtr(10)},
			agentic.Frame{Type: agentic.PhaseComplete, TotalResults: intPtr(42)},
		)
		assert.Equal(t, 42, s.TotalResults)
	})

	t.Run("provisional total never becomes final", func(t *testing.T) {
		s := run(t, opts,
			agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2, "a"), TotalResults: intPtr(10)},
		)
		assert.Equal(t, 10, s.ProvisionalTotal)
		assert.Zero(t, s.TotalResults)

		s = run(t, opts,
			agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2, "a"), TotalResults: intPtr(10)},
			agentic.Frame{Type: agentic.PhaseComplete},
		)
		assert.Equal(t, 2, s.TotalResults)
		assert.Equal(t, 10, s.ProvisionalTotal)
	})

	t.Run("falls back to accumulated count", func(t *testing.T) {
		s := run(t, opts,
			agentic.Frame{Type: agentic.PhaseResults, Companies: companies(4, "a"), Partners: []agentic.PartnerResult{{Slug: "p"}}},
			agentic.Frame{Type: agentic.PhaseComplete},
		)
		assert.Equal(t, 4, s.TotalResults)
		assert.Equal(t, 1, s.PartnerResults)
	})

	t.Run("search time from frame", func(t *testing.T) {
		ms := int64(321)
		s := run(t, opts, agentic.Frame{Type: agentic.PhaseComplete, SearchTimeMs: &ms})
		assert.Equal(t, int64(321), s.SearchTimeMs)
	})
}

func TestReduceComplete_MergesExtras(t *testing.T) {
	s := run(t, agentic.DefaultSearchOptions(),
		agentic.Frame{Type: agentic.PhaseInsights, Insights: &agentic.Insights{Observation: "first"}, RefinementTips: []string{"tip"}},
		agentic.Frame{
			Type:             agentic.PhaseComplete,
			Suggestions:      suggestions(2),
			SuggestedQueries: []string{"next"},
			Insights:         &agentic.Insights{Observation: "final"},
		},
	)
	assert.Len(t, s.PartnerSuggestions, 2)
	assert.Equal(t, []string{"next"}, s.SuggestedQueries)
	assert.Equal(t, []string{"tip"}, s.RefinementTips)
	require.NotNil(t, s.Insights)
	assert.Equal(t, "final", s.Insights.Observation)
}

func TestCancelAndApplyFallback(t *testing.T) {
	s := run(t, agentic.DefaultSearchOptions(), agentic.Frame{Type: agentic.PhaseResults, Companies: companies(2, "a")})

	res := Cancel(s)
	assert.Equal(t, agentic.PhaseIdle, res.State.Phase)
	assert.Len(t, res.State.Companies, 2)
	assert.True(t, Cancel(res.State).Ignored)

	done := run(t, agentic.DefaultSearchOptions(), agentic.Frame{Type: agentic.PhaseComplete})
	applied := ApplyFallback(done, suggestions(2), agentic.OriginREST)
	assert.False(t, applied.Ignored)
	assert.Len(t, applied.State.PartnerSuggestions, 2)
	assert.Equal(t, agentic.OriginREST, applied.State.FallbackSource)

	assert.True(t, ApplyFallback(applied.State, suggestions(1), agentic.OriginHeuristic).Ignored)
	assert.True(t, ApplyFallback(s, suggestions(1), agentic.OriginREST).Ignored)
}
