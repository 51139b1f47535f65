package agentic

// Phase is a named stage of the streaming search protocol.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseConnecting          Phase = "connecting"
	PhaseInterpreting        Phase = "interpreting"
	PhaseSearching           Phase = "searching"
	PhaseRanking             Phase = "ranking"
	PhaseResults             Phase = "results"
	PhaseSuggesting          Phase = "suggesting"
	PhasePartnerSuggestion   Phase = "partner_suggestion"
	PhaseSuggestionsComplete Phase = "suggestions_complete"
	PhaseInsights            Phase = "insights"
	PhaseComplete            Phase = "complete"
	PhaseError               Phase = "error"
)

var phaseOrder = map[Phase]int{
	PhaseIdle:                0,
	PhaseConnecting:          1,
	PhaseInterpreting:        2,
	PhaseSearching:           3,
	PhaseRanking:             4,
	PhaseResults:             5,
	PhaseSuggesting:          6,
	PhasePartnerSuggestion:   7,
	PhaseSuggestionsComplete: 8,
	PhaseInsights:            9,
	PhaseComplete:            10,
}

// Rank returns the position of p in the protocol order. Error and unknown
// phases return -1.
func (p Phase) Rank() int {
	if r, ok := phaseOrder[p]; ok {
		return r
	}
	return -1
}

// Valid reports whether p is a known phase, error included.
func (p Phase) Valid() bool {
	return p == PhaseError || p.Rank() >= 0
}

func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// IsSearching is true for every phase except idle and the terminal ones.
func (p Phase) IsSearching() bool {
	return p != PhaseIdle && !p.IsTerminal()
}

// Max returns the later of two ordered phases.
func Max(a, b Phase) Phase {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func (p Phase) String() string {
	return string(p)
}
