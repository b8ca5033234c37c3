package outliers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/scoring"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/valuation"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func rated(id string, dev *float64) scoring.Rated {
	return scoring.Rated{
		Listing: listing.Listing{
			ID:        id,
			VIN:       "1C6SRFJT5PN" + id,
			Condition: listing.ConditionUsed,
			Price:     intPtr(30000),
		},
		Deal:        scoring.DealFair,
		Deviation:   dev,
		Risk:        scoring.LevelLow,
		Uncertainty: scoring.LevelLow,
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		p        float64
		expected float64
	}{
		{"inclusive linear", []float64{10, 20, 30, 40}, 0.25, 17.5},
		{"unsorted input", []float64{40, 10, 30, 20}, 0.25, 17.5},
		{"median", []float64{10, 20, 30, 40}, 0.5, 25},
		{"minimum", []float64{10, 20, 30, 40}, 0, 10},
		{"maximum", []float64{10, 20, 30, 40}, 1, 40},
		{"single", []float64{5}, 0.85, 5},
		{"empty", nil, 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Percentile(tt.values, tt.p), 1e-9)
		})
	}
}

func TestPercentile_DoesNotReorderInput(t *testing.T) {
	in := []float64{40, 10, 30}
	Percentile(in, 0.5)
	assert.Equal(t, []float64{40, 10, 30}, in)
}

func TestLabel(t *testing.T) {
	r := rated("123456", floatPtr(-15))
	r.Title = " 2024 RAM 1500 Laramie "
	assert.Equal(t, "123456 · 23456 · 2024 RAM 1500 Laramie", Label(r))
	assert.Equal(t, "123456 · 23456 · 2024 RAM 1500 Laramie — Used — -15.0%", Label(r, "Used", "-15.0%"))

	r.Title = ""
	r.VIN = "AB1"
	assert.Equal(t, "123456 · AB1", Label(r))
}

func TestSummarize_StrongUnderAndOver(t *testing.T) {
	listings := []scoring.Rated{
		rated("00001", floatPtr(-11)),
		rated("00002", floatPtr(-9.9)),
		rated("00003", floatPtr(-15)),
		rated("00004", floatPtr(10)),
		rated("00005", floatPtr(-10)),
		rated("00006", floatPtr(12.3)),
		rated("00007", nil),
		rated("00008", floatPtr(-30)),
	}

	s := Summarize(listings)

	assert.Equal(t, 4, s.StrongUnderpriced.Count)
	assert.Equal(t, []string{
		"00008 · 00008 — -30.0%",
		"00003 · 00003 — -15.0%",
		"00001 · 00001 — -11.0%",
	}, s.StrongUnderpriced.Examples, "most negative first, capped")

	assert.Equal(t, 2, s.StrongOverpriced.Count)
	assert.Equal(t, []string{"00006 · 00006 — +12.3%", "00004 · 00004 — +10.0%"}, s.StrongOverpriced.Examples)
}

func TestSummarize_CondPriceMismatch(t *testing.T) {
	certifiedCheap := rated("00001", floatPtr(-7))
	certifiedCheap.Condition = listing.ConditionCertified

	certifiedFair := rated("00002", floatPtr(-6.9))
	certifiedFair.Condition = listing.ConditionCertified

	certifiedBad := rated("00003", floatPtr(9))
	certifiedBad.Condition = listing.ConditionCertified
	certifiedBad.Deal = scoring.DealBad

	newCheap := rated("00004", floatPtr(-3))
	newCheap.Condition = listing.ConditionNew
	newCheap.Price = intPtr(28000)
	newCheap.Valuation = &valuation.TrimValuation{FPPLocal: intPtr(30000)}

	newNormal := rated("00005", floatPtr(-4.6))
	newNormal.Condition = listing.ConditionNew
	newNormal.Price = intPtr(28600)
	newNormal.Valuation = &valuation.TrimValuation{FPPLocal: intPtr(30000)}

	newNoValuation := rated("00006", nil)
	newNoValuation.Condition = listing.ConditionNew
	newNoValuation.Deal = scoring.DealNoPrice

	usedCheap := rated("00007", floatPtr(-20))

	s := Summarize([]scoring.Rated{certifiedCheap, certifiedFair, certifiedBad, newCheap, newNormal, newNoValuation, usedCheap})

	assert.Equal(t, 3, s.CondPriceMismatch.Count)
	assert.Equal(t, []string{
		"00001 · 00001 — Certified — -7.0%",
		"00004 · 00004 — New — -3.0%",
		"00003 · 00003 — Certified — +9.0%",
	}, s.CondPriceMismatch.Examples)
}

func TestSummarize_MilesPriceTension(t *testing.T) {
	withMiles := func(id string, miles int, dev *float64) scoring.Rated {
		r := rated(id, dev)
		r.Mileage = intPtr(miles)
		return r
	}
	// cutoffs over {5000, 10000, 20000, 30000, 40000, 40000}: 8750 and 40000
	listings := []scoring.Rated{
		withMiles("00001", 10000, floatPtr(-5)),
		withMiles("00002", 40000, floatPtr(2)),
		withMiles("00003", 20000, floatPtr(0)),
		withMiles("00004", 5000, floatPtr(-3)),
		withMiles("00005", 30000, floatPtr(4)),
		withMiles("00006", 40000, nil),
	}

	s := Summarize(listings)

	assert.Equal(t, 2, s.MilesPriceTension.Count)
	assert.Equal(t, []string{"00004 · 00004 — 5,000 mi", "00002 · 00002 — 40,000 mi"}, s.MilesPriceTension.Examples)
}

func TestSummarize_MilesPriceTension_NoMileage(t *testing.T) {
	s := Summarize([]scoring.Rated{rated("00001", floatPtr(-50))})
	assert.Equal(t, 0, s.MilesPriceTension.Count)
	assert.Empty(t, s.MilesPriceTension.Examples)
}

func TestSummarize_PriceWhiplash(t *testing.T) {
	withChange := func(id string, changes ...int) scoring.Rated {
		r := rated(id, floatPtr(0))
		for _, c := range changes {
			r.PriceHistory = append(r.PriceHistory, listing.PriceChange{Change: intPtr(c)})
		}
		return r
	}
	listings := []scoring.Rated{
		withChange("00001", 0, -2500),
		withChange("00002", -2000),
		withChange("00003", 3000, -5000),
		withChange("00004"),
	}
	noPrice := withChange("00005", -9000)
	noPrice.Price = nil
	listings = append(listings, noPrice)

	s := Summarize(listings)

	assert.Equal(t, 2, s.PriceWhiplash.Count)
	assert.Equal(t, []string{"00003 · 00003 — Δ$3,000", "00001 · 00001 — Δ$2,500"}, s.PriceWhiplash.Examples,
		"most recent non-zero change counts; largest swing first")
}

func TestSummarize_HighriskBargains(t *testing.T) {
	riskyGood := rated("00001", floatPtr(-4))
	riskyGood.Risk = scoring.LevelHigh
	riskyGood.Deal = scoring.DealGood

	uncertainCheap := rated("00002", floatPtr(-8))
	uncertainCheap.Uncertainty = scoring.LevelHigh

	riskyFair := rated("00003", floatPtr(-3))
	riskyFair.Risk = scoring.LevelHigh

	safeGreat := rated("00004", floatPtr(-12))
	safeGreat.Deal = scoring.DealGreat

	s := Summarize([]scoring.Rated{riskyGood, uncertainCheap, riskyFair, safeGreat})

	assert.Equal(t, 2, s.HighriskBargains.Count)
	assert.Equal(t, []string{
		"00002 · 00002 — High uncertainty — -8.0%",
		"00001 · 00001 — High risk — -4.0%",
	}, s.HighriskBargains.Examples)
}

func TestSummarize_StableOrder(t *testing.T) {
	s := Summarize([]scoring.Rated{
		rated("00001", floatPtr(-12)),
		rated("00002", floatPtr(-12)),
		rated("00003", floatPtr(-12)),
	})
	assert.Equal(t, []string{
		"00001 · 00001 — -12.0%",
		"00002 · 00002 — -12.0%",
		"00003 · 00003 — -12.0%",
	}, s.StrongUnderpriced.Examples)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	assert.Equal(t, Thresholds{UnderPct: -10, OverPct: 10, DropUSD: 0.07}, s.Thresholds)
	for _, rule := range Rules {
		g, ok := s.Group(rule)
		require.True(t, ok, rule)
		assert.Equal(t, 0, g.Count, rule)
		assert.NotNil(t, g.Examples, rule)
	}
	_, ok := s.Group("unknown")
	assert.False(t, ok)
}
