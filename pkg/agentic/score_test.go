package agentic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeScore(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want int
	}{
		{name: "zero", raw: 0, want: 0},
		{name: "negative", raw: -0.4, want: 0},
		{name: "nan", raw: math.NaN(), want: 0},
		{name: "fraction", raw: 0.87, want: 87},
		{name: "fraction rounds half up", raw: 0.875, want: 88},
		{name: "exactly one is a fraction", raw: 1, want: 100},
		{name: "percentage", raw: 87, want: 87},
		{name: "percentage rounds", raw: 86.6, want: 87},
		{name: "just above one", raw: 1.4, want: 1},
		{name: "42 stays 42", raw: 42, want: 42},
		{name: "0.42 becomes 42", raw: 0.42, want: 42},
		{name: "100 stays 100", raw: 100, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeScore(tt.raw))
		})
	}
}

func TestNormalizeScore_StableOnPercentages(t *testing.T) {
	for _, raw := range []float64{0.05, 0.5, 0.87, 0.99, 2, 42, 99.5} {
		once := NormalizeScore(raw)
		if once > 1 {
			assert.Equal(t, once, NormalizeScore(float64(once)), "raw=%v", raw)
		}
		assert.GreaterOrEqual(t, once, 0)
		assert.LessOrEqual(t, once, 100)
	}
}

func TestPhaseOrder(t *testing.T) {
	assert.Equal(t, PhaseResults, Max(PhaseResults, PhaseSearching))
	assert.Equal(t, PhaseInsights, Max(PhaseResults, PhaseInsights))
	assert.Equal(t, PhaseConnecting, Max(PhaseConnecting, PhaseError))

	assert.True(t, PhaseError.Valid())
	assert.False(t, Phase("bogus").Valid())

	assert.True(t, PhaseComplete.IsTerminal())
	assert.True(t, PhaseError.IsTerminal())
	assert.False(t, PhaseIdle.IsSearching())
	assert.True(t, PhaseConnecting.IsSearching())
	assert.True(t, PhaseInsights.IsSearching())
	assert.False(t, PhaseComplete.IsSearching())
}
