// Package report aggregates rated listings into the run report: deal bins,
// the deal by condition matrix, summary percentages and skipped listings.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/filters"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/outliers"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/scoring"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/valuation"
)

// ErrNoRatedListings is returned when no listing landed in a deal bin.
var ErrNoRatedListings = errors.New("no listings have been rated")

// DefaultSkipReason is used when a listing could not be matched to any
// reference trim.
const DefaultSkipReason = "Could not map KBB trim to Visor trim."

// DealBin is one deal bucket with its summary figures.
type DealBin struct {
	Category        scoring.Deal              `json:"category"`
	Count           int                       `json:"count"`
	AvgDeviationPct *float64                  `json:"avg_deviation_pct"`
	ConditionCounts map[listing.Condition]int `json:"condition_counts"`
	PercentOfTotal  float64                   `json:"percent_of_total"`
	Listings        []scoring.Rated           `json:"listings"`
}

// Crosstab counts listings per deal bin and condition.
type Crosstab map[scoring.Deal]map[listing.Condition]int

// Skip is a listing left out of rating and why.
type Skip struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Report is the aggregated result of one run, handed to rendering.
type Report struct {
	RunID       string    `json:"run_id"`
	Make        string    `json:"make"`
	Model       string    `json:"model"`
	Sort        string    `json:"sort"`
	GeneratedAt time.Time `json:"generated_at"`
	Summary     string    `json:"summary"`

	DealBins            []DealBin `json:"deal_bins"`
	NoPriceBin          DealBin   `json:"no_price_bin"`
	DealConditionMatrix Crosstab  `json:"deal_condition_matrix"`

	GoodGreatCount int     `json:"good_great_count"`
	GoodGreatPct   float64 `json:"good_great_pct"`
	FairCount      int     `json:"fair_count"`
	FairPct        float64 `json:"fair_pct"`
	PoorBadCount   int     `json:"poor_bad_count"`
	PoorBadPct     float64 `json:"poor_bad_pct"`

	ConditionDistribution map[listing.Condition]int `json:"condition_distribution"`

	SkippedListings []Skip   `json:"skipped_listings"`
	SkippedCount    int      `json:"skipped_count"`
	SkipMessages    []string `json:"skip_messages"`

	Outliers       outliers.Summary                    `json:"outliers"`
	VisibleEntries map[string]*valuation.TrimValuation `json:"visible_entries"`
}

// Bin returns the bin for a category.
func (r *Report) Bin(d scoring.Deal) (DealBin, bool) {
	if d == scoring.DealNoPrice {
		return r.NoPriceBin, true
	}
	for _, b := range r.DealBins {
		if b.Category == d {
			return b, true
		}
	}
	return DealBin{}, false
}

// Input is everything Build needs for one run.
type Input struct {
	RunID       string
	Make        string
	Model       string
	Search      filters.Search
	Rated       []scoring.Rated
	Skipped     []Skip
	GeneratedAt time.Time
}

// Build aggregates a run. It fails with ErrNoRatedListings when every
// listing was skipped or unpriced.
func Build(in Input) (*Report, error) {
	bins, crosstab := BuildBins(in.Rated)

	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %d listings skipped", ErrNoRatedListings, len(in.Skipped))
	}

	r := &Report{
		RunID:                 in.RunID,
		Make:                  in.Make,
		Model:                 in.Model,
		Sort:                  in.Search.Sort,
		GeneratedAt:           in.GeneratedAt,
		Summary:               ParameterSummary(in.Search),
		DealBins:              bins,
		NoPriceBin:            NoPriceBin(in.Rated),
		DealConditionMatrix:   crosstab,
		ConditionDistribution: ConditionDistribution(in.Rated),
		SkippedListings:       append([]Skip{}, in.Skipped...),
		SkippedCount:          len(in.Skipped),
		SkipMessages:          SkipMessages(in.Skipped),
		Outliers:              outliers.Summarize(in.Rated),
		VisibleEntries:        VisibleEntries(in.Rated),
	}
	for _, b := range bins {
		switch b.Category {
		case scoring.DealGreat, scoring.DealGood:
			r.GoodGreatCount += b.Count
		case scoring.DealFair:
			r.FairCount += b.Count
		case scoring.DealPoor, scoring.DealBad:
			r.PoorBadCount += b.Count
		}
	}
	r.GoodGreatPct = pct(r.GoodGreatCount, total)
	r.FairPct = pct(r.FairCount, total)
	r.PoorBadPct = pct(r.PoorBadCount, total)
	return r, nil
}

// BuildBins groups priced listings into the five deal bins, in order, and
// counts them per condition. Unpriced listings are left out of both.
func BuildBins(rated []scoring.Rated) ([]DealBin, Crosstab) {
	crosstab := Crosstab{}
	byDeal := map[scoring.Deal][]scoring.Rated{}
	for _, d := range scoring.DealOrder {
		crosstab[d] = emptyConditionCounts()
	}

	total := 0
	for _, r := range rated {
		counts, ok := crosstab[r.Deal]
		if !ok {
			continue
		}
		total++
		byDeal[r.Deal] = append(byDeal[r.Deal], r)
		if _, known := counts[r.Condition]; known {
			counts[r.Condition]++
		}
	}

	bins := make([]DealBin, 0, len(scoring.DealOrder))
	for _, d := range scoring.DealOrder {
		items := byDeal[d]
		b := DealBin{
			Category:        d,
			Count:           len(items),
			ConditionCounts: copyCounts(crosstab[d]),
			PercentOfTotal:  pct(len(items), total),
			Listings:        append([]scoring.Rated{}, items...),
		}
		var sum float64
		var n int
		for _, r := range items {
			if r.Deviation != nil {
				sum += *r.Deviation
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			b.AvgDeviationPct = &avg
		}
		bins = append(bins, b)
	}
	return bins, crosstab
}

// NoPriceBin collects the listings that could not be compared.
func NoPriceBin(rated []scoring.Rated) DealBin {
	b := DealBin{
		Category:        scoring.DealNoPrice,
		ConditionCounts: emptyConditionCounts(),
		Listings:        []scoring.Rated{},
	}
	for _, r := range rated {
		if r.Deal != scoring.DealNoPrice {
			continue
		}
		b.Listings = append(b.Listings, r)
		b.ConditionCounts[conditionOrUsed(r.Condition)]++
	}
	b.Count = len(b.Listings)
	return b
}

// ConditionDistribution counts every listing, priced or not, per condition.
// Unknown conditions count as Used.
func ConditionDistribution(rated []scoring.Rated) map[listing.Condition]int {
	counts := emptyConditionCounts()
	for _, r := range rated {
		counts[conditionOrUsed(r.Condition)]++
	}
	return counts
}

// SkipMessages summarizes skipped listings as "{title}: {reason} ({count})",
// ordered by title then reason.
func SkipMessages(skipped []Skip) []string {
	byTitle := map[string]map[string]int{}
	for _, s := range skipped {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = "Unknown"
		}
		reason := s.Reason
		if reason == "" {
			reason = DefaultSkipReason
		}
		if byTitle[title] == nil {
			byTitle[title] = map[string]int{}
		}
		byTitle[title][reason]++
	}

	titles := make([]string, 0, len(byTitle))
	for t := range byTitle {
		titles = append(titles, t)
	}
	sort.Strings(titles)

	out := []string{}
	for _, t := range titles {
		reasons := make([]string, 0, len(byTitle[t]))
		for reason := range byTitle[t] {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			out = append(out, fmt.Sprintf("%s: %s (%d)", t, reason, byTitle[t][reason]))
		}
	}
	return out
}

// VisibleEntries returns the valuations the rated listings actually used,
// keyed by cache key.
func VisibleEntries(rated []scoring.Rated) map[string]*valuation.TrimValuation {
	out := map[string]*valuation.TrimValuation{}
	for _, r := range rated {
		if r.CacheKey == "" || r.Valuation == nil {
			continue
		}
		out[r.CacheKey] = r.Valuation
	}
	return out
}

// ParameterSummary describes the search a report was built from.
func ParameterSummary(s filters.Search) string {
	var b strings.Builder
	b.WriteString("This report reflects")
	b.WriteString(conditionPhrase(s.Conditions))
	b.WriteString("listings retrieved using the ")
	b.WriteString(s.Sort)
	b.WriteString(" sort option")

	if !s.HasPriceOrMileage() {
		b.WriteString(" with no additional price or mileage filters applied.")
		return b.String()
	}

	var phrases []string
	switch {
	case s.MinPrice > 0 && s.MaxPrice > 0:
		phrases = append(phrases, fmt.Sprintf("priced between %s and %s", dollars(s.MinPrice), dollars(s.MaxPrice)))
	case s.MinPrice > 0:
		phrases = append(phrases, "priced over "+dollars(s.MinPrice))
	case s.MaxPrice > 0:
		phrases = append(phrases, "priced below "+dollars(s.MaxPrice))
	}
	switch {
	case s.MinMiles > 0 && s.MaxMiles > 0:
		phrases = append(phrases, fmt.Sprintf("with between %s and %s miles", humanize.Comma(int64(s.MinMiles)), humanize.Comma(int64(s.MaxMiles))))
	case s.MinMiles > 0:
		phrases = append(phrases, fmt.Sprintf("with more than %s miles", humanize.Comma(int64(s.MinMiles))))
	case s.MaxMiles > 0:
		phrases = append(phrases, fmt.Sprintf("with fewer than %s miles", humanize.Comma(int64(s.MaxMiles))))
	}

	b.WriteString(", filtered to vehicles ")
	b.WriteString(strings.Join(phrases, " and "))
	b.WriteString(".")
	return b.String()
}

func conditionPhrase(conditions []string) string {
	switch len(conditions) {
	case 0:
		return " "
	case 1:
		return " " + conditions[0] + " "
	case 2:
		sorted := append([]string(nil), conditions...)
		sort.Strings(sorted)
		return " " + sorted[0] + " and " + sorted[1] + " "
	default:
		return " New, Used, and Certified "
	}
}

func dollars(v int) string {
	return "$" + humanize.Comma(int64(v))
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func emptyConditionCounts() map[listing.Condition]int {
	counts := make(map[listing.Condition]int, len(listing.ConditionOrder))
	for _, c := range listing.ConditionOrder {
		counts[c] = 0
	}
	return counts
}

func copyCounts(in map[listing.Condition]int) map[listing.Condition]int {
	out := make(map[listing.Condition]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func conditionOrUsed(c listing.Condition) listing.Condition {
	switch c {
	case listing.ConditionNew, listing.ConditionCertified:
		return c
	}
	return listing.ConditionUsed
}
