package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
)

func TestRateUncertainty(t *testing.T) {
	tests := []struct {
		name                      string
		report, sticker, warranty bool
		expected                  Level
	}{
		{"nothing", false, false, false, LevelHigh},
		{"sticker and warranty without report", false, true, true, LevelSome},
		{"report only", true, false, false, LevelLow},
		{"sticker only", false, true, false, LevelLow},
		{"everything", true, true, true, LevelLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RateUncertainty(tt.report, tt.sticker, tt.warranty))
		})
	}
}

func TestRateUncertaintyMarket(t *testing.T) {
	tests := []struct {
		name                      string
		report, sticker, warranty bool
		dom                       int
		expected                  Level
	}{
		{"nothing", false, false, false, 0, LevelHigh},
		{"report and sticker, typical age", true, true, false, 10, LevelLow},
		{"report and warranty, at the limit", true, false, true, -30, LevelLow},
		{"stale listing", true, true, true, 31, LevelSome},
		{"report alone", true, false, false, 0, LevelSome},
		{"no report", false, true, true, 0, LevelSome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RateUncertaintyMarket(tt.report, tt.sticker, tt.warranty, tt.dom))
		})
	}
}

func TestListingUncertainty_SelectsRule(t *testing.T) {
	l := listing.Listing{ReportPresent: true}
	assert.Equal(t, LevelLow, ListingUncertainty(l), "coarse rule without market data")

	l.MarketVelocity = &listing.MarketVelocity{AvgDaysOnMarket: intPtr(40), ThisVehicleDays: intPtr(45)}
	assert.Equal(t, LevelSome, ListingUncertainty(l), "market rule needs a sticker or warranty")

	l.WindowStickerPresent = true
	assert.Equal(t, LevelLow, ListingUncertainty(l))
}
