package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestRateDeal_RangeBoundaries(t *testing.T) {
	low, high, fpp := intPtr(20000), intPtr(22000), intPtr(21000)

	tests := []struct {
		price    int
		expected Deal
	}{
		{18999, DealGreat},
		{19000, DealGood},
		{19999, DealGood},
		{20000, DealFair},
		{22000, DealFair},
		{22001, DealPoor},
		{23000, DealPoor},
		{23001, DealBad},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected), func(t *testing.T) {
			got, mode := RateDeal(tt.price, 21000, fpp, low, high)
			assert.Equal(t, tt.expected, got, "price %d", tt.price)
			assert.Equal(t, ModeRange, mode)
		})
	}
}

func TestRateDeal_RangeNeedsLocalComparePrice(t *testing.T) {
	// compare price came from national fpp, so the range is not used
	_, mode := RateDeal(21000, 21500, intPtr(21000), intPtr(20000), intPtr(22000))
	assert.Equal(t, ModeRatio, mode)

	_, mode = RateDeal(21000, 21000, intPtr(21000), nil, intPtr(22000))
	assert.Equal(t, ModeRatio, mode, "incomplete range")
}

func TestRateDeal_RatioBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		price    int
		compare  int
		expected Deal
	}{
		{"delta beyond -2000", 27900, 30000, DealGreat},
		{"delta exactly -2000", 28000, 30000, DealGood},
		{"at compare price", 30000, 30000, DealFair},
		{"delta +1000 is fair", 31000, 30000, DealFair},
		{"delta +2000 is poor", 32000, 30000, DealPoor},
		{"delta +2001 ratio 1.067 still poor", 32001, 30000, DealPoor},
		{"ratio 1.072 is bad", 53600, 50000, DealBad},
		{"ratio alone makes great", 9300, 10000, DealGreat},
		{"ratio alone makes good", 9500, 10000, DealGood},
		{"small delta wins over poor ratio", 10400, 10000, DealFair},
		{"delta 2100 on small price", 12100, 10000, DealBad},
		{"end to end scenario", 32500, 35000, DealGreat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, mode := RateDeal(tt.price, tt.compare, nil, nil, nil)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, ModeRatio, mode)
		})
	}
}

func TestRateDeal_ZeroPrice(t *testing.T) {
	got, mode := RateDeal(0, 30000, intPtr(30000), intPtr(29000), intPtr(31000))
	assert.Equal(t, DealNoPrice, got)
	assert.Equal(t, ModeNone, mode)
}

func TestDeviationPct(t *testing.T) {
	pct, ok := DeviationPct(32500, 35000)
	require.True(t, ok)
	assert.InDelta(t, -7.142857, pct, 1e-6)

	pct, ok = DeviationPct(33000, 30000)
	require.True(t, ok)
	assert.InDelta(t, 10.0, pct, 1e-9)

	_, ok = DeviationPct(30000, 0)
	assert.False(t, ok)
	_, ok = DeviationPct(0, 30000)
	assert.False(t, ok)
}
