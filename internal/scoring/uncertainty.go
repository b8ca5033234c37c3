package scoring

import "github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"

// Level is an uncertainty or risk rating.
type Level string

const (
	LevelLow     Level = "Low"
	LevelSome    Level = "Some"
	LevelHigh    Level = "High"
	LevelUnknown Level = "Unknown"
)

// MaxDaysOnMarketDelta bounds how far a listing's days on market may sit from
// the market average and still rate Low uncertainty.
const MaxDaysOnMarketDelta = 30

// RateUncertainty is the coarse rule over three document flags: High with no
// documents at all, Some when only the report is missing, Low otherwise.
func RateUncertainty(report, sticker, warranty bool) Level {
	switch {
	case !report && !sticker && !warranty:
		return LevelHigh
	case !report && sticker && warranty:
		return LevelSome
	default:
		return LevelLow
	}
}

// RateUncertaintyMarket also weighs time on market. Low needs a report, a
// sticker or warranty information, and a days-on-market delta within
// MaxDaysOnMarketDelta of the average.
func RateUncertaintyMarket(report, sticker, warranty bool, domDelta int) Level {
	switch {
	case !report && !sticker && !warranty:
		return LevelHigh
	case report && (warranty || sticker) && abs(domDelta) <= MaxDaysOnMarketDelta:
		return LevelLow
	default:
		return LevelSome
	}
}

// ListingUncertainty uses the market-aware rule when the listing carries
// market velocity figures and the coarse rule otherwise.
func ListingUncertainty(l listing.Listing) Level {
	if delta, ok := l.DaysOnMarketDelta(); ok {
		return RateUncertaintyMarket(l.ReportPresent, l.WindowStickerPresent, l.WarrantyInfoPresent, delta)
	}
	return RateUncertainty(l.ReportPresent, l.WindowStickerPresent, l.WarrantyInfoPresent)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
