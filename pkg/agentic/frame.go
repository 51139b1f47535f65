package agentic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame is a decoded, validated inbound message. Type is the phase the
// frame belongs to, or PhaseError for backend error frames.
type Frame struct {
	Generation uint64
	Type       Phase
	RequestID  string
	Message    string

	Interpretation *Interpretation
	Companies      []CompanyResult
	Partners       []PartnerResult
	Suggestions    []PartnerSuggestion
	Insights       *Insights

	SuggestedQueries []string
	RefinementTips   []string
	InterestSummary  []InterestFrequency

	TotalResults   *int
	PartnerResults *int
	SearchTimeMs   *int64
}

// Envelope types of the original wire dialect.
const (
	envelopeAck    = "ack"
	envelopeResult = "result"
)

type wireInterpretation struct {
	Intent        string   `json:"intent"`
	SemanticQuery string   `json:"semantic_query"`
	Keywords      []string `json:"keywords"`
}

type wireCompany struct {
	CompanyID     int64    `json:"company_id"`
	Domain        string   `json:"domain"`
	Name          string   `json:"name"`
	Description   *string  `json:"description"`
	Industry      *string  `json:"industry"`
	EmployeeCount *int     `json:"employee_count"`
	LogoBase64    *string  `json:"logo_base64"`
	Logo          *string  `json:"logo"`
	MatchScore    float64  `json:"match_score"`
	Rank          *int     `json:"rank"`
	MatchReasons  []string `json:"match_reasons"`
	KeyEmployees  []string `json:"key_employees"`
}

type wirePartner struct {
	EntityType  string  `json:"entity_type"`
	PartnerID   int64   `json:"partner_id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Website     *string `json:"website"`
	LogoURL     *string `json:"logo_url"`
	MatchScore  float64 `json:"match_score"`
}

type wireMatchedInterest struct {
	Interest       string   `json:"interest"`
	Reasoning      string   `json:"reasoning"`
	Certifications []string `json:"certifications"`
}

type wireSuggestion struct {
	PartnerID        int64                 `json:"partner_id"`
	Slug             string                `json:"slug"`
	Name             string                `json:"name"`
	Description      *string               `json:"description"`
	LogoURL          *string               `json:"logo_url"`
	MatchScore       float64               `json:"match_score"`
	InterestCoverage float64               `json:"interest_coverage"`
	MatchedInterests []wireMatchedInterest `json:"matched_interests"`
}

type wireInsights struct {
	Observation      string              `json:"observation"`
	SuggestedQueries []string            `json:"suggested_queries"`
	RefinementTips   []string            `json:"refinement_tips"`
	InterestSummary  []InterestFrequency `json:"interest_summary"`
}

type wireFrame struct {
	Type      string  `json:"type"`
	Phase     string  `json:"phase"`
	RequestID string  `json:"request_id"`
	Message   *string `json:"message"`

	Interpretation *wireInterpretation `json:"interpretation"`
	Companies      []wireCompany       `json:"companies"`
	Company        *wireCompany        `json:"company"`
	Partners       []wirePartner       `json:"partners"`
	Partner        json.RawMessage     `json:"partner"`
	Suggestions    []wireSuggestion    `json:"suggestions"`
	// complete frames of the original dialect carry the full list here
	PartnerSuggestions []wireSuggestion `json:"partner_suggestions"`
	Insights           *wireInsights    `json:"insights"`

	Observation       *string             `json:"observation"`
	SuggestedQueries  []string            `json:"suggested_queries"`
	RefinementTips    []string            `json:"refinement_tips"`
	InterestSummary   []InterestFrequency `json:"interest_summary"`
	BasedOnInterests  []InterestFrequency `json:"based_on_interests"`
	SuggestionSummary *struct {
		BasedOnInterests []InterestFrequency `json:"based_on_interests"`
	} `json:"partner_suggestion_summary"`

	TotalResults   *int     `json:"total_results"`
	PartnerResults *int     `json:"partner_results"`
	SearchTimeMs   *float64 `json:"search_time_ms"`
}

// DecodeFrame parses and validates one inbound message. Malformed JSON,
// an unknown type or a missing required field yield a protocol
// SessionError.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, NewSessionError(KindProtocol, "malformed frame", err)
	}

	typ, strict, err := classify(w)
	if err != nil {
		return Frame{}, err
	}

	f := Frame{
		Type:             typ,
		RequestID:        w.RequestID,
		SuggestedQueries: w.SuggestedQueries,
		RefinementTips:   w.RefinementTips,
		TotalResults:     w.TotalResults,
		PartnerResults:   w.PartnerResults,
	}
	if w.Message != nil {
		f.Message = *w.Message
	}
	if w.SearchTimeMs != nil {
		ms := int64(*w.SearchTimeMs)
		f.SearchTimeMs = &ms
	}
	f.InterestSummary = firstNonNil(w.InterestSummary, w.BasedOnInterests)
	if w.SuggestionSummary != nil && f.InterestSummary == nil {
		f.InterestSummary = w.SuggestionSummary.BasedOnInterests
	}

	switch typ {
	case PhaseInterpreting:
		if w.Interpretation == nil {
			if strict {
				return Frame{}, missingField(typ, "interpretation")
			}
			break
		}
		f.Interpretation = &Interpretation{
			Intent:        w.Interpretation.Intent,
			SemanticQuery: w.Interpretation.SemanticQuery,
			Keywords:      append([]string{}, w.Interpretation.Keywords...),
		}

	case PhaseSearching, PhaseRanking, PhaseResults:
		companies := w.Companies
		if w.Company != nil {
			companies = append(companies, *w.Company)
		}
		partners := w.Partners
		if p, ok, err := decodePartnerResult(w.Partner); err != nil {
			return Frame{}, err
		} else if ok {
			partners = append(partners, p)
		}
		if strict && companies == nil && partners == nil {
			return Frame{}, missingField(typ, "companies")
		}
		f.Companies = toCompanies(companies)
		f.Partners = toPartners(partners)

	case PhaseSuggesting, PhasePartnerSuggestion:
		suggestions := w.Suggestions
		if len(w.Partner) > 0 && string(w.Partner) != "null" {
			var s wireSuggestion
			if err := json.Unmarshal(w.Partner, &s); err != nil {
				return Frame{}, NewSessionError(KindProtocol, "malformed partner suggestion", err)
			}
			suggestions = append(suggestions, s)
		}
		if strict && suggestions == nil && typ == PhasePartnerSuggestion {
			return Frame{}, missingField(typ, "suggestions")
		}
		f.Suggestions = toSuggestions(suggestions)

	case PhaseInsights:
		ins := &Insights{
			SuggestedQueries: w.SuggestedQueries,
			RefinementTips:   w.RefinementTips,
			InterestSummary:  f.InterestSummary,
		}
		if w.Observation != nil {
			ins.Observation = *w.Observation
		}
		if w.Insights != nil {
			ins.Observation = w.Insights.Observation
			ins.SuggestedQueries = firstNonNil(w.Insights.SuggestedQueries, ins.SuggestedQueries)
			ins.RefinementTips = firstNonNil(w.Insights.RefinementTips, ins.RefinementTips)
			ins.InterestSummary = firstNonNil(w.Insights.InterestSummary, ins.InterestSummary)
		}
		f.Insights = ins
		f.SuggestedQueries = ins.SuggestedQueries
		f.RefinementTips = ins.RefinementTips
		f.InterestSummary = ins.InterestSummary

	case PhaseComplete:
		if w.PartnerSuggestions != nil {
			f.Suggestions = toSuggestions(w.PartnerSuggestions)
		}
		if w.Observation != nil {
			f.Insights = &Insights{Observation: *w.Observation}
		}

	case PhaseError:
		if strings.TrimSpace(f.Message) == "" {
			f.Message = "search failed"
		}
	}

	return f, nil
}

// classify resolves the frame's phase. strict is false for the original
// "result" envelope, whose status frames may carry no payload.
func classify(w wireFrame) (Phase, bool, error) {
	name := strings.TrimSpace(w.Type)
	strict := true
	switch name {
	case envelopeAck:
		return PhaseConnecting, false, nil
	case envelopeResult:
		name = strings.TrimSpace(w.Phase)
		strict = false
	case "":
		name = strings.TrimSpace(w.Phase)
	}
	if name == "" {
		return "", false, NewSessionError(KindProtocol, "frame has no type", nil)
	}
	p := Phase(name)
	if !p.Valid() || p == PhaseIdle {
		return "", false, NewSessionError(KindProtocol, fmt.Sprintf("unknown frame type %q", name), nil)
	}
	return p, strict, nil
}

func missingField(p Phase, field string) error {
	return NewSessionError(KindProtocol, fmt.Sprintf("%s frame missing %s", p, field), nil)
}

func decodePartnerResult(raw json.RawMessage) (wirePartner, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return wirePartner{}, false, nil
	}
	var p wirePartner
	if err := json.Unmarshal(raw, &p); err != nil {
		return wirePartner{}, false, NewSessionError(KindProtocol, "malformed partner result", err)
	}
	if p.EntityType != "" && p.EntityType != "partner" {
		return wirePartner{}, false, nil
	}
	return p, true, nil
}

func toCompanies(in []wireCompany) []CompanyResult {
	if in == nil {
		return nil
	}
	out := make([]CompanyResult, 0, len(in))
	for _, c := range in {
		logo := deref(c.LogoBase64)
		if logo == "" {
			logo = deref(c.Logo)
		}
		out = append(out, CompanyResult{
			CompanyID:     c.CompanyID,
			Domain:        c.Domain,
			Name:          c.Name,
			Description:   deref(c.Description),
			Industry:      deref(c.Industry),
			EmployeeCount: c.EmployeeCount,
			Logo:          logo,
			RawMatchScore: c.MatchScore,
			MatchScore:    NormalizeScore(c.MatchScore),
			Rank:          c.Rank,
			MatchReasons:  c.MatchReasons,
			KeyEmployees:  c.KeyEmployees,
		})
	}
	return out
}

func toPartners(in []wirePartner) []PartnerResult {
	if in == nil {
		return nil
	}
	out := make([]PartnerResult, 0, len(in))
	for _, p := range in {
		out = append(out, PartnerResult{
			PartnerID:     p.PartnerID,
			Slug:          p.Slug,
			Name:          p.Name,
			Description:   deref(p.Description),
			Website:       deref(p.Website),
			LogoURL:       deref(p.LogoURL),
			RawMatchScore: p.MatchScore,
			MatchScore:    NormalizeScore(p.MatchScore),
		})
	}
	return out
}

func toSuggestions(in []wireSuggestion) []PartnerSuggestion {
	if in == nil {
		return nil
	}
	out := make([]PartnerSuggestion, 0, len(in))
	for _, s := range in {
		interests := make([]MatchedInterest, 0, len(s.MatchedInterests))
		for _, mi := range s.MatchedInterests {
			interests = append(interests, MatchedInterest{
				Interest:       mi.Interest,
				Reasoning:      mi.Reasoning,
				Certifications: mi.Certifications,
			})
		}
		out = append(out, PartnerSuggestion{
			PartnerID:        s.PartnerID,
			Slug:             s.Slug,
			Name:             s.Name,
			Description:      deref(s.Description),
			LogoURL:          deref(s.LogoURL),
			RawMatchScore:    s.MatchScore,
			MatchScore:       NormalizeScore(s.MatchScore),
			MatchedInterests: interests,
			InterestCoverage: s.InterestCoverage,
			Origin:           OriginStream,
		})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonNil[T any](a, b []T) []T {
	if a != nil {
		return a
	}
	return b
}
