package agentic

// ChoiceKind tags a PartnerChoice.
type ChoiceKind string

const (
	ChoiceSuggested ChoiceKind = "suggested"
	ChoicePlain     ChoiceKind = "plain"
)

// Partner is the identity part shared by every partner the UI can select.
type Partner struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
}

// SelectionKey is the trimmed slug, or the stringified id when the slug is
// blank. It matches PartnerSuggestion.Key so both de-duplicate alike.
func (p Partner) SelectionKey() string {
	return partnerKey(p.Slug, p.ID)
}

// MatchInfo is only present on suggested choices.
type MatchInfo struct {
	MatchScore       int               `json:"match_score"`
	MatchReasons     []string          `json:"match_reasons"`
	IndustryOverlap  []string          `json:"industry_overlap"`
	InterestCoverage float64           `json:"interest_coverage"`
	Origin           SuggestionOrigin  `json:"origin"`
	MatchedInterests []MatchedInterest `json:"matched_interests,omitempty"`
}

// PartnerChoice is either {Kind: suggested, Partner, Match} or
// {Kind: plain, Partner}. Match is nil exactly when Kind is plain.
type PartnerChoice struct {
	Kind    ChoiceKind `json:"kind"`
	Partner Partner    `json:"partner"`
	Match   *MatchInfo `json:"match_info,omitempty"`
}

// SuggestedChoice wraps a suggestion, whatever its origin.
func SuggestedChoice(s PartnerSuggestion) PartnerChoice {
	reasons := make([]string, 0, len(s.MatchedInterests))
	overlap := make([]string, 0, len(s.MatchedInterests))
	for _, mi := range s.MatchedInterests {
		if mi.Reasoning != "" {
			reasons = append(reasons, mi.Reasoning)
		}
		overlap = append(overlap, mi.Interest)
	}
	return PartnerChoice{
		Kind: ChoiceSuggested,
		Partner: Partner{
			ID:          s.PartnerID,
			Slug:        s.Slug,
			Name:        s.Name,
			Description: s.Description,
			LogoURL:     s.LogoURL,
		},
		Match: &MatchInfo{
			MatchScore:       s.MatchScore,
			MatchReasons:     reasons,
			IndustryOverlap:  overlap,
			InterestCoverage: s.InterestCoverage,
			Origin:           s.Origin,
			MatchedInterests: s.MatchedInterests,
		},
	}
}

func PlainChoice(p Partner) PartnerChoice {
	return PartnerChoice{Kind: ChoicePlain, Partner: p}
}

// Score returns the match score of a suggested choice and 0 for plain.
func (c PartnerChoice) Score() int {
	if c.Kind == ChoiceSuggested && c.Match != nil {
		return c.Match.MatchScore
	}
	return 0
}

// Selection is the partner list offered to the user with the ids that are
// pre-selected.
type Selection struct {
	Choices  []PartnerChoice `json:"choices"`
	Selected []string        `json:"selected"`
}

// SelectPartners lists suggested choices first, then plain partners that
// were not suggested, and pre-selects the first autoSelect suggestions.
func SelectPartners(suggestions []PartnerSuggestion, plain []Partner, autoSelect int) Selection {
	sel := Selection{Choices: []PartnerChoice{}, Selected: []string{}}
	seen := make(map[string]bool, len(suggestions)+len(plain))
	for _, s := range suggestions {
		c := SuggestedChoice(s)
		key := c.Partner.SelectionKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		sel.Choices = append(sel.Choices, c)
		if len(sel.Selected) < autoSelect {
			sel.Selected = append(sel.Selected, key)
		}
	}
	for _, p := range plain {
		key := p.SelectionKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		sel.Choices = append(sel.Choices, PlainChoice(p))
	}
	return sel
}
