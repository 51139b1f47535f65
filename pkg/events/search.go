package events

import (
	"time"

	"sales-intel-be/pkg/agentic"
)

const (
	TypeSearchCompleted = "SEARCH_COMPLETED"
	TypeSearchFailed    = "SEARCH_FAILED"
)

// SearchOutcome is what downstream consumers learn about a finished
// session. Full result lists stay in the dashboard; only identities and
// counts travel on the bus.
type SearchOutcome struct {
	UserID             string                   `json:"user_id"`
	Generation         uint64                   `json:"generation"`
	RequestID          string                   `json:"request_id"`
	Query              string                   `json:"query"`
	Phase              agentic.Phase            `json:"phase"`
	CompanyDomains     []string                 `json:"company_domains"`
	PartnerSuggestions []string                 `json:"partner_suggestions"`
	TotalResults       int                      `json:"total_results"`
	SearchTimeMs       int64                    `json:"search_time_ms"`
	FallbackSource     agentic.SuggestionOrigin `json:"fallback_source,omitempty"`
	ErrorKind          agentic.ErrorKind        `json:"error_kind,omitempty"`
	Error              string                   `json:"error,omitempty"`
	OccurredAt         time.Time                `json:"occurred_at"`
}

// NewSearchOutcome summarises s for userID.
func NewSearchOutcome(userID string, s agentic.SessionState, at time.Time) SearchOutcome {
	slugs := make([]string, 0, len(s.PartnerSuggestions))
	for _, p := range s.PartnerSuggestions {
		slugs = append(slugs, p.Key())
	}
	return SearchOutcome{
		UserID:             userID,
		Generation:         s.Generation,
		RequestID:          s.RequestID,
		Query:              s.Query,
		Phase:              s.Phase,
		CompanyDomains:     s.CompanyDomains(0),
		PartnerSuggestions: slugs,
		TotalResults:       s.TotalResults,
		SearchTimeMs:       s.SearchTimeMs,
		FallbackSource:     s.FallbackSource,
		ErrorKind:          s.ErrorKind,
		Error:              s.Error,
		OccurredAt:         at,
	}
}

// EventType maps the outcome's phase to its event code.
func (o SearchOutcome) EventType() string {
	if o.Phase == agentic.PhaseError {
		return TypeSearchFailed
	}
	return TypeSearchCompleted
}

// Event wraps the outcome for the NATS publisher.
func (o SearchOutcome) Event() BaseEvent {
	data := map[string]interface{}{
		"user_id":             o.UserID,
		"generation":          o.Generation,
		"request_id":          o.RequestID,
		"query":               o.Query,
		"company_domains":     o.CompanyDomains,
		"partner_suggestions": o.PartnerSuggestions,
		"total_results":       o.TotalResults,
		"search_time_ms":      o.SearchTimeMs,
		"entity_type":         "search",
		"entity_id":           o.RequestID,
	}
	if o.FallbackSource != "" {
		data["fallback_source"] = o.FallbackSource
	}
	if o.ErrorKind != "" {
		data["error_kind"] = o.ErrorKind
		data["error"] = o.Error
	}
	return BaseEvent{Type: o.EventType(), Data: data, OccurredAt: o.OccurredAt}
}
