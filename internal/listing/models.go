// Package listing defines the marketplace listing record and the ingest of
// raw scraper documents into it.
package listing

import (
	"strings"
	"unicode"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/history"
)

// Condition is the marketplace condition of a vehicle.
type Condition string

const (
	ConditionNew       Condition = "New"
	ConditionCertified Condition = "Certified"
	ConditionUsed      Condition = "Used"
)

// ConditionOrder is the canonical display order of conditions.
var ConditionOrder = []Condition{ConditionNew, ConditionCertified, ConditionUsed}

// ParseCondition maps free text onto a Condition. Unknown values are Used.
func ParseCondition(s string) Condition {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new":
		return ConditionNew
	case "certified", "certified pre-owned", "cpo":
		return ConditionCertified
	default:
		return ConditionUsed
	}
}

// badStrings are placeholder values scrapers emit for missing fields.
var badStrings = map[string]struct{}{
	"":              {},
	"unavailable":   {},
	"n/a":           {},
	"none":          {},
	"null":          {},
	"-":             {},
	"not specified": {},
}

// IsTrimVersionValid reports whether a trim version string carries information.
func IsTrimVersionValid(tv string) bool {
	if _, bad := badStrings[strings.ToLower(strings.TrimSpace(tv))]; bad {
		return false
	}
	for _, r := range tv {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// PriceChange is one point of a listing's price history.
type PriceChange struct {
	Date    string `json:"date"`
	Price   *int   `json:"price"`
	Change  *int   `json:"price_change"`
	Mileage *int   `json:"mileage"`
	Lowest  bool   `json:"lowest"`
}

// WarrantyCoverage is one warranty coverage line shown on the listing.
type WarrantyCoverage struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	TimeLeft   string `json:"time_left"`
	TimeTotal  string `json:"time_total"`
	MilesLeft  string `json:"miles_left"`
	MilesTotal string `json:"miles_total"`
}

// MarketVelocity holds the marketplace's days-on-market metrics.
type MarketVelocity struct {
	VehiclesSold14d *int     `json:"vehicles_sold_14d"`
	AvgDaysOnMarket *int     `json:"avg_days_on_market"`
	ThisVehicleDays *int     `json:"this_vehicle_days"`
	SellChance7d    *float64 `json:"sell_chance_7d"`
}

// Listing is one scraped marketplace entry after ingest.
type Listing struct {
	ID          string    `json:"id"`
	VIN         string    `json:"vin"`
	Title       string    `json:"title"`
	Year        int       `json:"year"`
	Make        string    `json:"make"`
	Model       string    `json:"model"`
	Trim        string    `json:"trim"`
	TrimVersion string    `json:"trim_version"`
	Condition   Condition `json:"condition"`
	Price       *int      `json:"price"`
	Mileage     *int      `json:"mileage"`
	ListingURL  string    `json:"listing_url,omitempty"`

	// IsHybrid and IsPlugin are nil when the fuel type was not reported.
	IsHybrid *bool `json:"is_hybrid"`
	IsPlugin *bool `json:"is_plugin"`

	ReportPresent        bool `json:"report_present"`
	WindowStickerPresent bool `json:"window_sticker_present"`
	WarrantyInfoPresent  bool `json:"warranty_info_present"`

	PriceHistory   []PriceChange      `json:"price_history,omitempty"`
	Warranty       []WarrantyCoverage `json:"warranty,omitempty"`
	MarketVelocity *MarketVelocity    `json:"market_velocity,omitempty"`
	History        *history.Report    `json:"history,omitempty"`
}

// BaseTrim is the trim text used for valuation matching: the trim version
// when it carries information, else the plain trim.
func (l Listing) BaseTrim() string {
	if IsTrimVersionValid(l.TrimVersion) {
		return l.TrimVersion
	}
	return l.Trim
}

// PriceValue returns the price, or zero when the listing has none.
func (l Listing) PriceValue() int {
	if l.Price == nil {
		return 0
	}
	return *l.Price
}

// DaysOnMarketDelta is this vehicle's days on market minus the market
// average. ok is false when either figure is missing.
func (l Listing) DaysOnMarketDelta() (delta int, ok bool) {
	mv := l.MarketVelocity
	if mv == nil || mv.AvgDaysOnMarket == nil || mv.ThisVehicleDays == nil {
		return 0, false
	}
	return *mv.ThisVehicleDays - *mv.AvgDaysOnMarket, true
}

// RecentPriceChange returns the most recent recorded price change. The
// history is ordered most recent first, as the marketplace shows it.
func (l Listing) RecentPriceChange() (int, bool) {
	for _, pc := range l.PriceHistory {
		if pc.Change != nil && *pc.Change != 0 {
			return *pc.Change, true
		}
	}
	return 0, false
}

// LastVIN5 returns the last five characters of the VIN.
func (l Listing) LastVIN5() string {
	if len(l.VIN) <= 5 {
		return l.VIN
	}
	return l.VIN[len(l.VIN)-5:]
}
