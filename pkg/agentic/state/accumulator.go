package state

import (
	"sort"

	"sales-intel-be/pkg/agentic"
)

// MergeCompanies upserts batch into existing by case-insensitive domain.
// Known companies keep their position and take the newer fields; new ones
// are appended in arrival order. When any company carries an explicit rank
// the combined list is re-sorted by rank, unranked entries last.
// existing is never modified.
func MergeCompanies(existing, batch []agentic.CompanyResult) []agentic.CompanyResult {
	out := make([]agentic.CompanyResult, len(existing), len(existing)+len(batch))
	copy(out, existing)
	if len(batch) == 0 {
		return out
	}

	index := make(map[string]int, len(out)+len(batch))
	for i, c := range out {
		index[c.Key()] = i
	}
	for _, c := range batch {
		c.MatchScore = agentic.NormalizeScore(c.RawMatchScore)
		key := c.Key()
		if i, ok := index[key]; ok {
			out[i] = c
			continue
		}
		index[key] = len(out)
		out = append(out, c)
	}

	ranked := false
	for _, c := range out {
		if c.Rank != nil {
			ranked = true
			break
		}
	}
	if ranked {
		sort.SliceStable(out, func(i, j int) bool {
			return rankLess(out[i].Rank, out[j].Rank)
		})
	}
	return out
}

func rankLess(a, b *int) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a < *b
	}
}

// MergePartnerSuggestions upserts by slug, or stringified id when the slug
// is empty. Matched interests and coverage are kept exactly as received.
func MergePartnerSuggestions(existing, batch []agentic.PartnerSuggestion) []agentic.PartnerSuggestion {
	out := make([]agentic.PartnerSuggestion, len(existing), len(existing)+len(batch))
	copy(out, existing)

	index := make(map[string]int, len(out)+len(batch))
	for i, s := range out {
		index[s.Key()] = i
	}
	for _, s := range batch {
		s.MatchScore = agentic.NormalizeScore(s.RawMatchScore)
		if s.Origin == "" {
			s.Origin = agentic.OriginStream
		}
		key := s.Key()
		if i, ok := index[key]; ok {
			out[i] = s
			continue
		}
		index[key] = len(out)
		out = append(out, s)
	}
	return out
}

// MergePartners upserts partner entity results the same way.
func MergePartners(existing, batch []agentic.PartnerResult) []agentic.PartnerResult {
	out := make([]agentic.PartnerResult, len(existing), len(existing)+len(batch))
	copy(out, existing)

	index := make(map[string]int, len(out)+len(batch))
	for i, p := range out {
		index[p.Key()] = i
	}
	for _, p := range batch {
		p.MatchScore = agentic.NormalizeScore(p.RawMatchScore)
		key := p.Key()
		if i, ok := index[key]; ok {
			out[i] = p
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	return out
}
