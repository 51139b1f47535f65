// Package state holds the session state machine: pure reducers keyed by
// frame type over an explicit agentic.SessionState, and the accumulator
// that merges streamed batches. Nothing here knows about transports or
// goroutines, so synthetic frame sequences are enough to test it.
package state

import (
	"time"

	"sales-intel-be/pkg/agentic"
)

// Context is the per-session input a reducer may read.
type Context struct {
	Options agentic.SearchOptions
	Elapsed time.Duration
}

// Result describes what a reduction did.
type Result struct {
	State   agentic.SessionState
	From    agentic.Phase
	To      agentic.Phase
	Ignored bool
}

// Completed is true only for the transition into complete.
func (r Result) Completed() bool {
	return !r.Ignored && r.From != agentic.PhaseComplete && r.To == agentic.PhaseComplete
}

// Failed is true only for the transition into error.
func (r Result) Failed() bool {
	return !r.Ignored && r.From != agentic.PhaseError && r.To == agentic.PhaseError
}

func (r Result) PhaseChanged() bool {
	return !r.Ignored && r.From != r.To
}

type reducer func(s agentic.SessionState, f agentic.Frame, c Context) agentic.SessionState

var reducers = map[agentic.Phase]reducer{
	agentic.PhaseConnecting:          reduceConnecting,
	agentic.PhaseInterpreting:        reduceInterpreting,
	agentic.PhaseSearching:           reduceCompanies,
	agentic.PhaseRanking:             reduceCompanies,
	agentic.PhaseResults:             reduceCompanies,
	agentic.PhaseSuggesting:          reduceSuggestions,
	agentic.PhasePartnerSuggestion:   reduceSuggestions,
	agentic.PhaseSuggestionsComplete: reduceSuggestionsComplete,
	agentic.PhaseInsights:            reduceInsights,
	agentic.PhaseComplete:            reduceComplete,
}

// Begin returns the empty state of a new session in the connecting phase.
func Begin(generation uint64, query string) agentic.SessionState {
	s := agentic.IdleState()
	s.Generation = generation
	s.Query = query
	s.Phase = agentic.PhaseConnecting
	return s
}

// Reset returns the idle state.
func Reset() agentic.SessionState {
	return agentic.IdleState()
}

// Reduce applies one frame. Frames arriving in a terminal or idle phase
// are ignored. The phase never moves backwards: a late batch of an
// earlier phase is merged while the phase stays where it is.
func Reduce(s agentic.SessionState, f agentic.Frame, c Context) Result {
	res := Result{State: s, From: s.Phase, To: s.Phase}
	if s.Phase.IsTerminal() || s.Phase == agentic.PhaseIdle {
		res.Ignored = true
		return res
	}

	if f.Type == agentic.PhaseError {
		return Fail(s, agentic.NewSessionError(agentic.KindBackend, f.Message, nil))
	}

	r, ok := reducers[f.Type]
	if !ok {
		return Fail(s, agentic.NewSessionError(agentic.KindProtocol, "unexpected frame type "+f.Type.String(), nil))
	}

	next := r(s, f, c)
	next.Phase = agentic.Max(s.Phase, f.Type)
	res.State = next
	res.To = next.Phase
	return res
}

// Fail moves a non-terminal state into error. Accumulated results stay.
func Fail(s agentic.SessionState, err *agentic.SessionError) Result {
	res := Result{State: s, From: s.Phase, To: s.Phase}
	if s.Phase.IsTerminal() || s.Phase == agentic.PhaseIdle {
		res.Ignored = true
		return res
	}
	s.Phase = agentic.PhaseError
	s.Error = err.Message
	s.ErrorKind = err.Kind
	res.State = s
	res.To = agentic.PhaseError
	return res
}

// Cancel stops a running session without discarding what arrived so far.
func Cancel(s agentic.SessionState) Result {
	res := Result{State: s, From: s.Phase, To: s.Phase}
	if !s.Phase.IsSearching() {
		res.Ignored = true
		return res
	}
	s.Phase = agentic.PhaseIdle
	res.State = s
	res.To = agentic.PhaseIdle
	return res
}

// ApplyFallback merges suggestions recovered after completion. It only
// applies to a completed state that has no suggestions yet.
func ApplyFallback(s agentic.SessionState, suggestions []agentic.PartnerSuggestion, source agentic.SuggestionOrigin) Result {
	res := Result{State: s, From: s.Phase, To: s.Phase}
	if s.Phase != agentic.PhaseComplete || len(s.PartnerSuggestions) > 0 {
		res.Ignored = true
		return res
	}
	s.PartnerSuggestions = MergePartnerSuggestions(s.PartnerSuggestions, suggestions)
	s.FallbackSource = source
	s.FallbackPending = false
	res.State = s
	return res
}

func reduceConnecting(s agentic.SessionState, f agentic.Frame, _ Context) agentic.SessionState {
	if f.RequestID != "" {
		s.RequestID = f.RequestID
	}
	return s
}

func reduceInterpreting(s agentic.SessionState, f agentic.Frame, _ Context) agentic.SessionState {
	if f.Interpretation != nil {
		in := *f.Interpretation
		s.Interpretation = &in
	}
	return s
}

func reduceCompanies(s agentic.SessionState, f agentic.Frame, _ Context) agentic.SessionState {
	if len(f.Companies) > 0 {
		s.Companies = MergeCompanies(s.Companies, f.Companies)
	}
	if len(f.Partners) > 0 {
		s.Partners = MergePartners(s.Partners, f.Partners)
	}
	if f.TotalResults != nil {
		s.ProvisionalTotal = *f.TotalResults
	}
	return s
}

func reduceSuggestions(s agentic.SessionState, f agentic.Frame, c Context) agentic.SessionState {
	if c.Options.IncludePartnerSuggestions && len(f.Suggestions) > 0 {
		s.PartnerSuggestions = MergePartnerSuggestions(s.PartnerSuggestions, f.Suggestions)
	}
	return s
}

func reduceSuggestionsComplete(s agentic.SessionState, f agentic.Frame, _ Context) agentic.SessionState {
	if f.InterestSummary != nil {
		s.InterestSummary = append([]agentic.InterestFrequency{}, f.InterestSummary...)
	}
	return s
}

func reduceInsights(s agentic.SessionState, f agentic.Frame, _ Context) agentic.SessionState {
	if f.Insights != nil {
		ins := *f.Insights
		s.Insights = &ins
	}
	if f.SuggestedQueries != nil {
		s.SuggestedQueries = append([]string{}, f.SuggestedQueries...)
	}
	if f.RefinementTips != nil {
		s.RefinementTips = append([]string{}, f.RefinementTips...)
	}
	if f.InterestSummary != nil {
		s.InterestSummary = append([]agentic.InterestFrequency{}, f.InterestSummary...)
	}
	return s
}

func reduceComplete(s agentic.SessionState, f agentic.Frame, c Context) agentic.SessionState {
	if f.TotalResults != nil {
		s.TotalResults = *f.TotalResults
	} else {
		s.TotalResults = len(s.Companies)
	}
	if f.PartnerResults != nil {
		s.PartnerResults = *f.PartnerResults
	} else {
		s.PartnerResults = len(s.Partners)
	}
	if f.SearchTimeMs != nil {
		s.SearchTimeMs = *f.SearchTimeMs
	} else {
		s.SearchTimeMs = c.Elapsed.Milliseconds()
	}

	if c.Options.IncludePartnerSuggestions && len(f.Suggestions) > 0 {
		s.PartnerSuggestions = MergePartnerSuggestions(s.PartnerSuggestions, f.Suggestions)
	}
	if f.SuggestedQueries != nil {
		s.SuggestedQueries = append([]string{}, f.SuggestedQueries...)
	}
	if f.RefinementTips != nil {
		s.RefinementTips = append([]string{}, f.RefinementTips...)
	}
	if f.InterestSummary != nil {
		s.InterestSummary = append([]agentic.InterestFrequency{}, f.InterestSummary...)
	}
	if f.Insights != nil && f.Insights.Observation != "" {
		ins := agentic.Insights{}
		if s.Insights != nil {
			ins = *s.Insights
		}
		ins.Observation = f.Insights.Observation
		s.Insights = &ins
	}
	return s
}
