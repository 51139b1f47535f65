// Package fallback recovers partner suggestions when a streamed search
// completes without any. It asks the REST suggestion endpoint for the
// accumulated company domains and, when that fails, degrades to the
// partners seen most often before. It never fails the session.
package fallback

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/agentic"
)

const module = "FallbackCoordinator"

var tracer = otel.Tracer("sales-intel-be/pkg/agentic/fallback")

// SuggestionClient is the REST partner-suggestion endpoint.
type SuggestionClient interface {
	SuggestForCompanies(ctx context.Context, domains []string, limit int) ([]agentic.PartnerSuggestion, error)
}

// Directory remembers partners across sessions.
type Directory interface {
	Known(ctx context.Context, limit int) ([]agentic.Partner, error)
	Remember(ctx context.Context, partners []agentic.Partner) error
}

type Config struct {
	// DomainLimit caps the company domains sent to the REST endpoint.
	DomainLimit int
	// HeuristicLimit is the number of known partners used when REST fails.
	HeuristicLimit int
	Timeout        time.Duration
}

func DefaultConfig() Config {
	return Config{DomainLimit: 20, HeuristicLimit: 3, Timeout: 15 * time.Second}
}

// Outcome is what the coordinator recovered. Err is informational only.
type Outcome struct {
	Suggestions []agentic.PartnerSuggestion
	Source      agentic.SuggestionOrigin
	Err         *agentic.SessionError
	// Dropped is set when a newer Search, Reset or Cancel superseded the
	// session before the outcome could be merged.
	Dropped bool
}

type Coordinator struct {
	client    SuggestionClient
	directory Directory
	logger    logger.ILogger
	cfg       Config
}

func NewCoordinator(client SuggestionClient, directory Directory, log logger.ILogger, cfg Config) *Coordinator {
	d := DefaultConfig()
	if cfg.DomainLimit <= 0 {
		cfg.DomainLimit = d.DomainLimit
	}
	if cfg.HeuristicLimit <= 0 {
		cfg.HeuristicLimit = d.HeuristicLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	return &Coordinator{client: client, directory: directory, logger: log, cfg: cfg}
}

// ShouldRun reports whether a session needs the fallback: suggestions
// were requested, the search completed and none arrived.
func ShouldRun(opts agentic.SearchOptions, s agentic.SessionState) bool {
	return opts.IncludePartnerSuggestions &&
		s.Phase == agentic.PhaseComplete &&
		len(s.PartnerSuggestions) == 0
}

// Resolve fetches suggestions for the first DomainLimit companies of s.
func (c *Coordinator) Resolve(ctx context.Context, s agentic.SessionState, opts agentic.SearchOptions) Outcome {
	ctx, span := tracer.Start(ctx, "agentic.fallback")
	defer span.End()

	domains := s.CompanyDomains(c.cfg.DomainLimit)
	limit := opts.PartnerSuggestionLimit
	span.SetAttributes(
		attribute.Int64("search.generation", int64(s.Generation)),
		attribute.Int("fallback.domains", len(domains)),
		attribute.Int("fallback.limit", limit),
	)
	details := map[string]interface{}{"generation": s.Generation, "domains": len(domains), "limit": limit}

	var restErr error
	if c.client != nil && len(domains) > 0 {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		suggestions, err := c.client.SuggestForCompanies(reqCtx, domains, limit)
		cancel()
		if err == nil {
			for i := range suggestions {
				suggestions[i].Origin = agentic.OriginREST
			}
			c.remember(ctx, suggestions)
			span.SetAttributes(attribute.String("fallback.source", string(agentic.OriginREST)))
			c.logger.Info(module, "Recovered partner suggestions over REST", mergeDetails(details, "suggestions", len(suggestions)))
			return Outcome{Suggestions: suggestions, Source: agentic.OriginREST}
		}
		restErr = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "rest fallback failed")
		c.logger.Warn(module, "REST partner suggestion failed, using known partners", mergeDetails(details, "error", err.Error()))
	}

	out := Outcome{
		Suggestions: c.heuristic(ctx),
		Source:      agentic.OriginHeuristic,
	}
	if restErr != nil {
		out.Err = agentic.NewSessionError(agentic.KindFallback, "partner suggestion endpoint unavailable", restErr)
	}
	span.SetAttributes(attribute.String("fallback.source", string(agentic.OriginHeuristic)))
	return out
}

// Remember records suggestions that arrived over the stream so later
// heuristics can draw on them.
func (c *Coordinator) Remember(ctx context.Context, suggestions []agentic.PartnerSuggestion) {
	c.remember(ctx, suggestions)
}

// Known returns the directory's top partners, used for plain choices.
func (c *Coordinator) Known(ctx context.Context, limit int) []agentic.Partner {
	if c.directory == nil {
		return nil
	}
	partners, err := c.directory.Known(ctx, limit)
	if err != nil {
		c.logger.Warn(module, "Known partner lookup failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return partners
}

// AutoSelect is the number of suggested partners pre-selected for the user.
const AutoSelect = 3

// Select builds the partner choices offered after a search: the session's
// suggestions first, then up to plainLimit known partners as plain choices.
func (c *Coordinator) Select(ctx context.Context, s agentic.SessionState, plainLimit int) agentic.Selection {
	var plain []agentic.Partner
	if plainLimit > 0 {
		plain = c.Known(ctx, plainLimit)
	}
	return agentic.SelectPartners(s.PartnerSuggestions, plain, AutoSelect)
}

// heuristic scores the known partners 95, 90, 85 ... in directory order.
func (c *Coordinator) heuristic(ctx context.Context) []agentic.PartnerSuggestion {
	known := c.Known(ctx, c.cfg.HeuristicLimit)
	out := make([]agentic.PartnerSuggestion, 0, len(known))
	for i, p := range known {
		score := float64(95 - i*5)
		if score < 1 {
			score = 1
		}
		out = append(out, agentic.PartnerSuggestion{
			PartnerID:        p.ID,
			Slug:             p.Slug,
			Name:             p.Name,
			Description:      p.Description,
			LogoURL:          p.LogoURL,
			RawMatchScore:    score,
			MatchScore:       agentic.NormalizeScore(score),
			MatchedInterests: []agentic.MatchedInterest{},
			Origin:           agentic.OriginHeuristic,
		})
	}
	return out
}

func (c *Coordinator) remember(ctx context.Context, suggestions []agentic.PartnerSuggestion) {
	if c.directory == nil || len(suggestions) == 0 {
		return
	}
	partners := make([]agentic.Partner, 0, len(suggestions))
	for _, s := range suggestions {
		partners = append(partners, agentic.Partner{
			ID:          s.PartnerID,
			Slug:        s.Slug,
			Name:        s.Name,
			Description: s.Description,
			LogoURL:     s.LogoURL,
		})
	}
	if err := c.directory.Remember(ctx, partners); err != nil {
		c.logger.Warn(module, "Failed to remember partners", map[string]interface{}{"error": err.Error(), "count": len(partners)})
	}
}

func mergeDetails(details map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
