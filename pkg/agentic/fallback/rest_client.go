package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sales-intel-be/pkg/agentic"
)

const suggestPath = "/api/v1/partners/suggest_for_companies"

// APIError carries the status and the detail message of a failed call.
type APIError struct {
	Status     int
	StatusText string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("API Error: %d %s", e.Status, e.StatusText)
}

// TokenSource returns the bearer token to attach, or "" for none.
type TokenSource func(ctx context.Context) (string, error)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
}

func NewRESTClient(baseURL string, timeout time.Duration, token TokenSource) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
	}
}

type suggestRequest struct {
	Domains []string `json:"domains"`
	Limit   int      `json:"limit,omitempty"`
}

type restPartner struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Slug        string  `json:"slug"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
	LogoURL     *string `json:"logo_url"`
}

type restSuggestion struct {
	Partner         restPartner `json:"partner"`
	MatchScore      float64     `json:"match_score"`
	MatchReasons    []string    `json:"match_reasons"`
	IndustryOverlap []string    `json:"industry_overlap"`
}

// SuggestForCompanies posts the domains and reshapes the answer into the
// streamed suggestion shape.
func (c *RESTClient) SuggestForCompanies(ctx context.Context, domains []string, limit int) ([]agentic.PartnerSuggestion, error) {
	body, err := json.Marshal(suggestRequest{Domains: domains, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal suggestion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+suggestPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp, raw)
	}

	var result []restSuggestion
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}
	return reshape(result), nil
}

func newAPIError(resp *http.Response, raw []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if d, ok := body.Detail.(string); ok {
			apiErr.Detail = d
		} else if body.Message != "" {
			apiErr.Detail = body.Message
		}
	}
	return apiErr
}

// reshape converts REST suggestions into PartnerSuggestion. Overlapping
// industries become matched interests, paired with the reason at the same
// index.
func reshape(in []restSuggestion) []agentic.PartnerSuggestion {
	out := make([]agentic.PartnerSuggestion, 0, len(in))
	for _, s := range in {
		n := len(s.IndustryOverlap)
		if len(s.MatchReasons) > n {
			n = len(s.MatchReasons)
		}
		interests := make([]agentic.MatchedInterest, 0, n)
		for i := 0; i < n; i++ {
			mi := agentic.MatchedInterest{}
			if i < len(s.IndustryOverlap) {
				mi.Interest = s.IndustryOverlap[i]
			}
			if i < len(s.MatchReasons) {
				mi.Reasoning = s.MatchReasons[i]
			}
			interests = append(interests, mi)
		}

		p := agentic.PartnerSuggestion{
			PartnerID:        s.Partner.ID,
			Slug:             s.Partner.Slug,
			Name:             s.Partner.Name,
			RawMatchScore:    s.MatchScore,
			MatchScore:       agentic.NormalizeScore(s.MatchScore),
			MatchedInterests: interests,
			Origin:           agentic.OriginREST,
		}
		if s.Partner.Description != nil {
			p.Description = *s.Partner.Description
		}
		if s.Partner.LogoURL != nil {
			p.LogoURL = *s.Partner.LogoURL
		}
		out = append(out, p)
	}
	return out
}
