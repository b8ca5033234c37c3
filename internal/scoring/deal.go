// Package scoring rates listings: deal quality against a comparison price,
// uncertainty from the documents a listing carries, and risk from mileage,
// price and vehicle history.
package scoring

// Deal is a deal-quality bucket.
type Deal string

const (
	DealGreat   Deal = "Great"
	DealGood    Deal = "Good"
	DealFair    Deal = "Fair"
	DealPoor    Deal = "Poor"
	DealBad     Deal = "Bad"
	DealNoPrice Deal = "No price"
)

// DealOrder is the canonical bucket order, best first.
var DealOrder = []Deal{DealGreat, DealGood, DealFair, DealPoor, DealBad}

// Ratio-mode thresholds.
const (
	greatDelta = -2000
	goodDelta  = -1000
	fairDelta  = 1000
	poorDelta  = 2000

	greatRatio = 0.93
	goodRatio  = 0.97
	fairRatio  = 1.03
	poorRatio  = 1.07
)

// Mode names how a deal was rated.
type Mode string

const (
	ModeRange Mode = "range"
	ModeRatio Mode = "ratio"
	ModeNone  Mode = "none"
)

// RateDeal buckets price against comparePrice. Range mode applies when the
// comparison price is the local fair purchase price and the fair-market range
// is known; otherwise the dollar delta and price ratio tests are OR'd per
// bucket. A zero price is DealNoPrice.
func RateDeal(price, comparePrice int, fppLocal, fmrLow, fmrHigh *int) (Deal, Mode) {
	if price == 0 {
		return DealNoPrice, ModeNone
	}

	if fppLocal != nil && fmrLow != nil && fmrHigh != nil && comparePrice == *fppLocal {
		return rateRange(price, *fppLocal, *fmrLow, *fmrHigh), ModeRange
	}
	return rateRatio(price, comparePrice), ModeRatio
}

func rateRange(price, fppLocal, low, high int) Deal {
	increment := high - fppLocal
	switch {
	case price < low-increment:
		return DealGreat
	case price < low:
		return DealGood
	case price <= high:
		return DealFair
	case price <= high+increment:
		return DealPoor
	default:
		return DealBad
	}
}

func rateRatio(price, compare int) Deal {
	delta := price - compare
	p := float64(price)
	c := float64(compare)
	switch {
	case delta < greatDelta || p <= c*greatRatio:
		return DealGreat
	case (delta >= greatDelta && delta < goodDelta) || (p > c*greatRatio && p <= c*goodRatio):
		return DealGood
	case (delta >= goodDelta && delta <= fairDelta) || (p > c*goodRatio && p < c*fairRatio):
		return DealFair
	case (delta > fairDelta && delta <= poorDelta) || (p >= c*fairRatio && p < c*poorRatio):
		return DealPoor
	default:
		return DealBad
	}
}

// DeviationPct is the signed percentage of price above (positive) or below
// (negative) comparePrice. ok is false when there is nothing to compare.
func DeviationPct(price, comparePrice int) (pct float64, ok bool) {
	if comparePrice <= 0 || price <= 0 {
		return 0, false
	}
	return float64(price-comparePrice) / float64(comparePrice) * 100, true
}
