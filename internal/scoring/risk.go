package scoring

import (
	"math"
	"time"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
)

// MilesPerYear is the assumed annual usage.
const MilesPerYear = 13500

const (
	highMileageRatio = 1.35
	someMileageRatio = 1.2
	overpricedRatio  = 1.1
)

// ExpectedMileage is whole days since January 1 of the model year times the
// average daily usage. It is zero or negative for future model years.
func ExpectedMileage(year int, asOf time.Time) float64 {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, asOf.Location())
	days := math.Floor(asOf.Sub(start).Hours() / 24)
	return days * MilesPerYear / 365
}

// RateRisk is the simple mileage and price risk. High when mileage reaches
// 1.35x expected, or 1.2x expected while priced 10% over fmv. Some when either
// condition holds alone. A zero price is Unknown. Without a mileage reading, or
// for a model year that has not started, only the price rule applies.
func RateRisk(year int, mileage *int, price, fmv int, asOf time.Time) Level {
	if price == 0 {
		return LevelUnknown
	}

	expected := ExpectedMileage(year, asOf)
	var veryHigh, high bool
	if mileage != nil && expected > 0 {
		m := float64(*mileage)
		veryHigh = m >= expected*highMileageRatio
		high = m >= expected*someMileageRatio
	}
	overpriced := fmv > 0 && float64(price) >= float64(fmv)*overpricedRatio

	switch {
	case veryHigh || (high && overpriced):
		return LevelHigh
	case high || overpriced:
		return LevelSome
	default:
		return LevelLow
	}
}

// ListingRisk applies RateRisk to a listing.
func ListingRisk(l listing.Listing, price, fmv int, asOf time.Time) Level {
	return RateRisk(l.Year, l.Mileage, price, fmv, asOf)
}
