package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"sales-intel-be/pkg/agentic"
	"sales-intel-be/pkg/events"
)

var (
	phaseColor = color.New(color.FgCyan)
	titleColor = color.New(color.FgWhite, color.Bold)
	scoreColor = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
	dimColor   = color.New(color.Faint)
)

var phaseLabels = map[agentic.Phase]string{
	agentic.PhaseConnecting:          "Connecting",
	agentic.PhaseInterpreting:        "Understanding your query",
	agentic.PhaseSearching:           "Searching companies",
	agentic.PhaseRanking:             "Ranking",
	agentic.PhaseResults:             "Results",
	agentic.PhaseSuggesting:          "Finding partners",
	agentic.PhasePartnerSuggestion:   "Partner suggestion",
	agentic.PhaseSuggestionsComplete: "Partner suggestions ready",
	agentic.PhaseInsights:            "Insights",
	agentic.PhaseComplete:            "Complete",
	agentic.PhaseError:               "Error",
	agentic.PhaseIdle:                "Idle",
}

func printPhase(w io.Writer, p agentic.Phase) {
	label, ok := phaseLabels[p]
	if !ok {
		label = string(p)
	}
	phaseColor.Fprintf(w, "› %s\n", label)
}

func printWarn(w io.Writer, msg string) {
	warnColor.Fprintf(w, "! %s\n", msg)
}

// renderState prints the final state of a session.
func renderState(w io.Writer, s agentic.SessionState) {
	fmt.Fprintln(w)
	if s.Phase == agentic.PhaseError {
		errColor.Fprintf(w, "Search failed (%s): %s\n", s.ErrorKind, s.Error)
		if len(s.Companies) == 0 {
			return
		}
		dimColor.Fprintln(w, "Partial results:")
	}

	if s.Interpretation != nil && s.Interpretation.Intent != "" {
		dimColor.Fprintf(w, "Intent: %s\n", s.Interpretation.Intent)
	}

	titleColor.Fprintf(w, "Companies (%d of %d, %dms)\n", len(s.Companies), s.TotalResults, s.SearchTimeMs)
	for i, c := range s.Companies {
		scoreColor.Fprintf(w, "%3d ", c.MatchScore)
		fmt.Fprintf(w, "%2d. %s", i+1, c.Name)
		if c.Domain != "" {
			dimColor.Fprintf(w, " (%s)", c.Domain)
		}
		fmt.Fprintln(w)
	}

	if len(s.PartnerSuggestions) > 0 {
		fmt.Fprintln(w)
		title := "Partner suggestions"
		if s.FallbackSource != "" {
			title += " [" + string(s.FallbackSource) + "]"
		}
		titleColor.Fprintln(w, title)
		for _, p := range s.PartnerSuggestions {
			scoreColor.Fprintf(w, "%3d ", p.MatchScore)
			fmt.Fprintf(w, "%s", p.Name)
			if interests := matchedInterests(p); interests != "" {
				dimColor.Fprintf(w, " - %s", interests)
			}
			fmt.Fprintln(w)
		}
	}

	if len(s.SuggestedQueries) > 0 {
		fmt.Fprintln(w)
		titleColor.Fprintln(w, "Try also")
		for _, q := range s.SuggestedQueries {
			fmt.Fprintf(w, "  %s\n", q)
		}
	}
}

func matchedInterests(p agentic.PartnerSuggestion) string {
	names := make([]string, 0, len(p.MatchedInterests))
	for _, mi := range p.MatchedInterests {
		names = append(names, mi.Interest)
	}
	return strings.Join(names, ", ")
}

func printEvent(w io.Writer, evt events.Event) {
	p := evt.Payload()
	ts := evt.Timestamp().Local().Format("15:04:05")
	switch evt.EventType() {
	case events.TypeSearchFailed:
		errColor.Fprintf(w, "%s %-16s", ts, evt.EventType())
		fmt.Fprintf(w, " user=%v query=%q %v: %v\n", p["user_id"], p["query"], p["error_kind"], p["error"])
	case events.TypeSearchCompleted:
		scoreColor.Fprintf(w, "%s %-16s", ts, evt.EventType())
		fmt.Fprintf(w, " user=%v query=%q results=%v time=%vms", p["user_id"], p["query"], p["total_results"], p["search_time_ms"])
		if src, ok := p["fallback_source"]; ok {
			fmt.Fprintf(w, " fallback=%v", src)
		}
		fmt.Fprintln(w)
	default:
		dimColor.Fprintf(w, "%s %-16s %v\n", ts, evt.EventType(), p)
	}
}
