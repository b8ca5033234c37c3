package listing

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/titanous/json5"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/history"
)

// Vehicle identifies the make/model a search was run for.
type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

// Filters are the search filters the scraper applied.
type Filters struct {
	Years     []string `json:"years,omitempty"`
	Trims     []string `json:"trims,omitempty"`
	Condition []string `json:"condition,omitempty"`
	MinPrice  int      `json:"min_price,omitempty"`
	MaxPrice  int      `json:"max_price,omitempty"`
	MinMiles  int      `json:"min_miles,omitempty"`
	MaxMiles  int      `json:"max_miles,omitempty"`
	Sort      string   `json:"sort"`
}

// Metadata is the run metadata that accompanies a scrape.
type Metadata struct {
	Vehicle Vehicle `json:"vehicle"`
	Filters Filters `json:"filters"`
}

// Document is an ingested scraper output file.
type Document struct {
	Metadata Metadata
	Listings []Listing
}

type rawDocument struct {
	Metadata Metadata     `json:"metadata"`
	Listings []rawListing `json:"listings"`
}

type rawWarranty struct {
	OverallStatus interface{}   `json:"overall_status"`
	Coverages     []interface{} `json:"coverages"`
}

type rawListing struct {
	ID             interface{}            `json:"id"`
	VIN            string                 `json:"vin"`
	Title          string                 `json:"title"`
	Year           interface{}            `json:"year"`
	Make           string                 `json:"make"`
	Model          string                 `json:"model"`
	Trim           string                 `json:"trim"`
	Condition      string                 `json:"condition"`
	Price          interface{}            `json:"price"`
	Mileage        interface{}            `json:"mileage"`
	ListingURL     string                 `json:"listing_url"`
	Specs          map[string]interface{} `json:"specs"`
	AdditionalDocs map[string]interface{} `json:"additional_docs"`
	Warranty       *rawWarranty           `json:"warranty"`
	PriceHistory   interface{}            `json:"price_history"`
	MarketVelocity interface{}            `json:"market_velocity"`
	History        interface{}            `json:"history"`
}

// Decode reads a raw scraper document. The scraper output is decoded
// leniently: it may contain comments, unquoted keys and trailing commas.
func Decode(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read listings document: %w", err)
	}

	var raw rawDocument
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse listings document: %w", err)
	}

	doc := &Document{Metadata: raw.Metadata}
	for i, rl := range raw.Listings {
		l, err := slim(rl, raw.Metadata.Vehicle, i+1)
		if err != nil {
			return nil, fmt.Errorf("listing %d: %w", i+1, err)
		}
		doc.Listings = append(doc.Listings, l)
	}
	return doc, nil
}

// slim converts a raw scraped listing into the typed Listing. seq is used as
// the synthetic ID when the scraper did not assign one.
func slim(rl rawListing, vehicle Vehicle, seq int) (Listing, error) {
	l := Listing{
		ID:         idString(rl.ID, seq),
		VIN:        strings.TrimSpace(rl.VIN),
		Title:      strings.TrimSpace(rl.Title),
		Make:       firstNonEmpty(rl.Make, vehicle.Make),
		Model:      firstNonEmpty(rl.Model, vehicle.Model),
		Trim:       strings.TrimSpace(rl.Trim),
		Condition:  ParseCondition(rl.Condition),
		Price:      ToInt(rl.Price),
		Mileage:    ToInt(rl.Mileage),
		ListingURL: rl.ListingURL,
	}

	if y := ToInt(rl.Year); y != nil {
		l.Year = *y
	} else if len(l.Title) >= 4 {
		if y, err := strconv.Atoi(l.Title[:4]); err == nil {
			l.Year = y
		}
	}
	if l.Year == 0 {
		return Listing{}, fmt.Errorf("missing model year for %q", l.Title)
	}

	docs := rl.AdditionalDocs
	l.ReportPresent = URLPresent(docs["carfax_url"]) || URLPresent(docs["autocheck_url"])
	l.WindowStickerPresent = URLPresent(docs["window_sticker_url"])

	fuelType := strings.ToLower(strings.TrimSpace(specString(rl.Specs, "Fuel Type")))
	l.IsHybrid, l.IsPlugin = detectElectrified(fuelType, strings.ToLower(rl.ListingURL))

	if tv := specString(rl.Specs, "Trim Version"); IsTrimVersionValid(tv) {
		l.TrimVersion = strings.TrimSpace(tv)
	}

	if w := rl.Warranty; w != nil {
		status := strings.ToLower(strings.TrimSpace(fmt.Sprint(nilToEmpty(w.OverallStatus))))
		_, unknown := map[string]struct{}{"": {}, "unknown": {}, "n/a": {}, "none": {}}[status]
		l.WarrantyInfoPresent = len(w.Coverages) > 0 || !unknown
		if err := rehydrate(w.Coverages, &l.Warranty); err != nil {
			return Listing{}, fmt.Errorf("warranty coverages: %w", err)
		}
	}

	// price_history starts life as an empty object until the detail page is scraped
	if _, isList := rl.PriceHistory.([]interface{}); isList {
		if err := rehydrate(rl.PriceHistory, &l.PriceHistory); err != nil {
			return Listing{}, fmt.Errorf("price history: %w", err)
		}
	}
	if rl.MarketVelocity != nil {
		l.MarketVelocity = &MarketVelocity{}
		if err := rehydrate(rl.MarketVelocity, l.MarketVelocity); err != nil {
			return Listing{}, fmt.Errorf("market velocity: %w", err)
		}
	}
	if rl.History != nil {
		l.History = &history.Report{}
		if err := rehydrate(rl.History, l.History); err != nil {
			return Listing{}, fmt.Errorf("history report: %w", err)
		}
	}

	return l, nil
}

func detectElectrified(fuelType, url string) (hybrid, plugin *bool) {
	t, f := true, false
	switch {
	case strings.Contains(fuelType, "hybrid") || strings.Contains(url, "hybrid"):
		if strings.Contains(fuelType, "plug") || strings.Contains(url, "plug") {
			return &t, &t
		}
		return &t, &f
	case fuelType == "" || fuelType == "not specified":
		return nil, nil
	default:
		return &f, &f
	}
}

// ToInt extracts the digits of a scraped numeric value such as "$32,500" or
// "52,025 mi". Returns nil when no digits are present.
func ToInt(v interface{}) *int {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		i := int(n)
		return &i
	case int:
		return &n
	}
	var b strings.Builder
	for _, r := range fmt.Sprint(v) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	i, err := strconv.Atoi(b.String())
	if err != nil {
		return nil
	}
	return &i
}

// URLPresent reports whether a scraped URL field holds a usable value.
func URLPresent(v interface{}) bool {
	if v == nil {
		return false
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	switch s {
	case "", "unavailable", "n/a", "none", "null":
		return false
	}
	return true
}

func idString(v interface{}, seq int) string {
	switch id := v.(type) {
	case nil:
		return strconv.Itoa(seq)
	case float64:
		return strconv.Itoa(int(id))
	case string:
		if strings.TrimSpace(id) == "" {
			return strconv.Itoa(seq)
		}
		return id
	default:
		return fmt.Sprint(id)
	}
}

func specString(specs map[string]interface{}, key string) string {
	if v, ok := specs[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func nilToEmpty(v interface{}) interface{} {
	if v == nil {
		return ""
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// rehydrate converts a loosely decoded value into its typed form.
func rehydrate(in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
