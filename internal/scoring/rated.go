package scoring

import (
	"time"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/valuation"
)

// Rated is a listing with everything classification attaches to it.
type Rated struct {
	listing.Listing

	CacheKey     string                   `json:"cache_key"`
	Valuation    *valuation.TrimValuation `json:"valuation,omitempty"`
	ComparePrice int                      `json:"compare_price"`
	PriceSource  valuation.PriceSource    `json:"price_source,omitempty"`
	PriceDelta   int                      `json:"price_delta"`

	Deal        Deal     `json:"deal_rating"`
	Mode        Mode     `json:"mode"`
	Deviation   *float64 `json:"deviation_pct"`
	Uncertainty Level    `json:"uncertainty"`
	Risk        Level    `json:"risk"`

	TitleRisk *TitleRisk `json:"title_risk,omitempty"`
}

// Classify rates one listing against its valuation. A listing without a price
// or a valuation without any comparable price is rated DealNoPrice with
// Unknown risk; it never fails.
func Classify(l listing.Listing, cacheKey string, v *valuation.TrimValuation, asOf time.Time) Rated {
	r := Rated{
		Listing:     l,
		CacheKey:    cacheKey,
		Valuation:   v,
		Uncertainty: ListingUncertainty(l),
	}

	price := l.PriceValue()
	var compare int
	if v != nil {
		if c, source, err := v.ComparePrice(); err == nil {
			compare, r.PriceSource = c, source
		}
	}
	if price <= 0 || compare <= 0 {
		r.Deal, r.Mode = DealNoPrice, ModeNone
		r.Risk = LevelUnknown
		return r
	}

	r.ComparePrice = compare
	r.PriceDelta = price - compare
	r.Deal, r.Mode = RateDeal(price, compare, v.FPPLocal, v.FMRLow, v.FMRHigh)
	if pct, ok := DeviationPct(price, compare); ok {
		r.Deviation = &pct
	}
	r.Risk = ListingRisk(l, price, compare, asOf)

	if l.History != nil {
		tr := ScoreTitleRisk(TitleRiskInputFor(l, asOf))
		r.TitleRisk = &tr
	}
	return r
}

// DeviationValue returns the deviation or zero.
func (r Rated) DeviationValue() float64 {
	if r.Deviation == nil {
		return 0
	}
	return *r.Deviation
}

// HasPrice is false for DealNoPrice listings.
func (r Rated) HasPrice() bool {
	return r.Deal != DealNoPrice
}
