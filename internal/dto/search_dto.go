package dto

import "sales-intel-be/pkg/agentic"

// StartSearchRequest is the body of POST /api/search. Omitted fields take
// the dashboard defaults.
type StartSearchRequest struct {
	Query                     string         `json:"query" validate:"max=500"`
	EntityTypes               []string       `json:"entity_types" validate:"omitempty,dive,oneof=companies partners"`
	Limit                     int            `json:"limit" validate:"omitempty,min=1,max=100"`
	IncludePartnerSuggestions *bool          `json:"include_partner_suggestions"`
	PartnerSuggestionLimit    int            `json:"partner_suggestion_limit" validate:"omitempty,min=1,max=20"`
	ProductID                 *int64         `json:"product_id" validate:"omitempty,min=1"`
	Context                   map[string]any `json:"context"`
}

// Options resolves the request against the configured defaults.
func (r StartSearchRequest) Options(defaults agentic.SearchOptions) agentic.SearchOptions {
	opts := defaults
	if len(r.EntityTypes) > 0 {
		opts.EntityTypes = r.EntityTypes
	}
	if r.Limit > 0 {
		opts.Limit = r.Limit
	}
	if r.IncludePartnerSuggestions != nil {
		opts.IncludePartnerSuggestions = *r.IncludePartnerSuggestions
	}
	if r.PartnerSuggestionLimit > 0 {
		opts.PartnerSuggestionLimit = r.PartnerSuggestionLimit
	}
	opts.ProductID = r.ProductID
	opts.Context = r.Context
	return opts.WithDefaults()
}

type StartSearchResponse struct {
	Generation uint64        `json:"generation"`
	Started    bool          `json:"started"`
	Phase      agentic.Phase `json:"phase"`
}
