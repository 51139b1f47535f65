package agentic

import "math"

// NormalizeScore maps a backend match score onto the 0-100 scale used by
// the REST API. Scores above 1 are already on that scale and are only
// rounded. A raw score of exactly 1 is a fraction and maps to 100.
func NormalizeScore(raw float64) int {
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	if raw > 1 {
		return int(math.Round(raw))
	}
	return int(math.Round(raw * 100))
}
