// Package agentic holds the shared types of the agentic search session:
// phases, wire frames, results, the canonical score scale and the error
// taxonomy. The components that drive a session live in sub packages.
package agentic

import (
	"strconv"
	"strings"
	"time"
)

// Entity types accepted by the search endpoint.
const (
	EntityCompanies = "companies"
	EntityPartners  = "partners"
)

// SearchOptions are the request parameters sent with every search.
type SearchOptions struct {
	EntityTypes               []string       `json:"entity_types"`
	Limit                     int            `json:"limit"`
	IncludePartnerSuggestions bool           `json:"include_partner_suggestions"`
	PartnerSuggestionLimit    int            `json:"partner_suggestion_limit"`
	ProductID                 *int64         `json:"product_id,omitempty"`
	Context                   map[string]any `json:"context,omitempty"`
}

// DefaultSearchOptions mirrors the defaults the dashboard has always sent.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		EntityTypes:               []string{EntityCompanies, EntityPartners},
		Limit:                     20,
		IncludePartnerSuggestions: true,
		PartnerSuggestionLimit:    5,
	}
}

// WithDefaults fills zero values from DefaultSearchOptions.
func (o SearchOptions) WithDefaults() SearchOptions {
	d := DefaultSearchOptions()
	if len(o.EntityTypes) == 0 {
		o.EntityTypes = d.EntityTypes
	}
	if o.Limit <= 0 {
		o.Limit = d.Limit
	}
	if o.PartnerSuggestionLimit <= 0 {
		o.PartnerSuggestionLimit = d.PartnerSuggestionLimit
	}
	return o
}

// SearchRequest is the first message written on a freshly opened channel.
type SearchRequest struct {
	Query     string `json:"query"`
	RequestID string `json:"request_id"`
	SearchOptions
}

// NewSearchRequest builds the wire request for query.
func NewSearchRequest(query string, opts SearchOptions, now time.Time) SearchRequest {
	return SearchRequest{
		Query:         query,
		RequestID:     "search-" + strconv.FormatInt(now.UnixMilli(), 10),
		SearchOptions: opts,
	}
}

// SearchSession describes the live search owned by a controller.
type SearchSession struct {
	Generation uint64        `json:"generation"`
	Query      string        `json:"query"`
	Options    SearchOptions `json:"options"`
	Phase      Phase         `json:"phase"`
	StartedAt  time.Time     `json:"started_at"`
	Err        *SessionError `json:"error,omitempty"`
}

type CompanyResult struct {
	CompanyID     int64    `json:"company_id"`
	Domain        string   `json:"domain"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Industry      string   `json:"industry,omitempty"`
	EmployeeCount *int     `json:"employee_count,omitempty"`
	Logo          string   `json:"logo_base64,omitempty"`
	RawMatchScore float64  `json:"raw_match_score"`
	MatchScore    int      `json:"match_score"`
	Rank          *int     `json:"rank,omitempty"`
	MatchReasons  []string `json:"match_reasons,omitempty"`
	KeyEmployees  []string `json:"key_employees,omitempty"`
}

// Key is the case-insensitive identity of a company within a session.
// Companies without a domain fall back to their id.
func (c CompanyResult) Key() string {
	if d := strings.ToLower(strings.TrimSpace(c.Domain)); d != "" {
		return d
	}
	return "id:" + strconv.FormatInt(c.CompanyID, 10)
}

type MatchedInterest struct {
	Interest       string   `json:"interest"`
	Reasoning      string   `json:"reasoning,omitempty"`
	Certifications []string `json:"certifications,omitempty"`
}

// SuggestionOrigin records where a partner suggestion came from.
type SuggestionOrigin string

const (
	OriginStream    SuggestionOrigin = "stream"
	OriginREST      SuggestionOrigin = "rest"
	OriginHeuristic SuggestionOrigin = "heuristic"
)

type PartnerSuggestion struct {
	PartnerID        int64             `json:"partner_id"`
	Slug             string            `json:"slug"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	LogoURL          string            `json:"logo_url,omitempty"`
	RawMatchScore    float64           `json:"raw_match_score"`
	MatchScore       int               `json:"match_score"`
	MatchedInterests []MatchedInterest `json:"matched_interests"`
	InterestCoverage float64           `json:"interest_coverage"`
	Origin           SuggestionOrigin  `json:"origin"`
}

// Key is the slug, or the stringified partner id when the slug is empty.
func (p PartnerSuggestion) Key() string {
	return partnerKey(p.Slug, p.PartnerID)
}

// PartnerResult is a partner entity returned by the search itself, as
// opposed to a suggestion derived from company interests.
type PartnerResult struct {
	PartnerID     int64   `json:"partner_id"`
	Slug          string  `json:"slug"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Website       string  `json:"website,omitempty"`
	LogoURL       string  `json:"logo_url,omitempty"`
	RawMatchScore float64 `json:"raw_match_score"`
	MatchScore    int     `json:"match_score"`
}

func (p PartnerResult) Key() string {
	return partnerKey(p.Slug, p.PartnerID)
}

func partnerKey(slug string, id int64) string {
	if s := strings.TrimSpace(slug); s != "" {
		return s
	}
	return strconv.FormatInt(id, 10)
}

type Interpretation struct {
	Intent        string   `json:"intent"`
	SemanticQuery string   `json:"semantic_query"`
	Keywords      []string `json:"keywords"`
}

type InterestFrequency struct {
	Interest  string `json:"interest"`
	Frequency int    `json:"frequency"`
}

type Insights struct {
	Observation      string              `json:"observation,omitempty"`
	SuggestedQueries []string            `json:"suggested_queries"`
	RefinementTips   []string            `json:"refinement_tips"`
	InterestSummary  []InterestFrequency `json:"interest_summary"`
}

// SessionState is the single aggregate the UI renders.
type SessionState struct {
	Generation         uint64              `json:"generation"`
	Query              string              `json:"query"`
	RequestID          string              `json:"request_id,omitempty"`
	Phase              Phase               `json:"phase"`
	Companies          []CompanyResult     `json:"companies"`
	Partners           []PartnerResult     `json:"partners"`
	PartnerSuggestions []PartnerSuggestion `json:"partner_suggestions"`
	Interpretation     *Interpretation     `json:"interpretation"`
	Insights           *Insights           `json:"insights"`
	SuggestedQueries   []string            `json:"suggested_queries"`
	RefinementTips     []string            `json:"refinement_tips"`
	InterestSummary    []InterestFrequency `json:"interest_summary"`
	TotalResults       int                 `json:"total_results"`
	PartnerResults     int                 `json:"partner_results"`
	// ProvisionalTotal is the backend's estimate while results stream.
	// TotalResults is only set by the complete frame.
	ProvisionalTotal int              `json:"provisional_total,omitempty"`
	SearchTimeMs     int64            `json:"search_time_ms"`
	Error            string           `json:"error,omitempty"`
	ErrorKind        ErrorKind        `json:"error_kind,omitempty"`
	FallbackSource   SuggestionOrigin `json:"fallback_source,omitempty"`
	// FallbackPending is set on completion when partner suggestions are
	// still being recovered and cleared once they are merged.
	FallbackPending bool `json:"fallback_pending,omitempty"`
}

// IdleState is the state of a controller with no session.
func IdleState() SessionState {
	return SessionState{
		Phase:              PhaseIdle,
		Companies:          []CompanyResult{},
		Partners:           []PartnerResult{},
		PartnerSuggestions: []PartnerSuggestion{},
		SuggestedQueries:   []string{},
		RefinementTips:     []string{},
		InterestSummary:    []InterestFrequency{},
	}
}

// IsSearching mirrors Phase.IsSearching.
func (s SessionState) IsSearching() bool {
	return s.Phase.IsSearching()
}

// Clone returns a copy that shares no slices with s, so a published
// snapshot cannot observe later merges.
func (s SessionState) Clone() SessionState {
	out := s
	out.Companies = append([]CompanyResult(nil), s.Companies...)
	out.Partners = append([]PartnerResult(nil), s.Partners...)
	out.PartnerSuggestions = append([]PartnerSuggestion(nil), s.PartnerSuggestions...)
	out.SuggestedQueries = append([]string(nil), s.SuggestedQueries...)
	out.RefinementTips = append([]string(nil), s.RefinementTips...)
	out.InterestSummary = append([]InterestFrequency(nil), s.InterestSummary...)
	if s.Interpretation != nil {
		in := *s.Interpretation
		in.Keywords = append([]string(nil), in.Keywords...)
		out.Interpretation = &in
	}
	if s.Insights != nil {
		ins := *s.Insights
		ins.SuggestedQueries = append([]string(nil), ins.SuggestedQueries...)
		ins.RefinementTips = append([]string(nil), ins.RefinementTips...)
		ins.InterestSummary = append([]InterestFrequency(nil), ins.InterestSummary...)
		out.Insights = &ins
	}
	if out.Companies == nil {
		out.Companies = []CompanyResult{}
	}
	if out.Partners == nil {
		out.Partners = []PartnerResult{}
	}
	if out.PartnerSuggestions == nil {
		out.PartnerSuggestions = []PartnerSuggestion{}
	}
	if out.SuggestedQueries == nil {
		out.SuggestedQueries = []string{}
	}
	if out.RefinementTips == nil {
		out.RefinementTips = []string{}
	}
	if out.InterestSummary == nil {
		out.InterestSummary = []InterestFrequency{}
	}
	return out
}

// CompanyDomains returns up to limit domains in accumulated order.
func (s SessionState) CompanyDomains(limit int) []string {
	n := len(s.Companies)
	if limit > 0 && n > limit {
		n = limit
	}
	domains := make([]string, 0, n)
	for _, c := range s.Companies[:n] {
		domains = append(domains, c.Domain)
	}
	return domains
}
