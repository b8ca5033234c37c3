// Package outliers surfaces notable subsets of a classified listing set:
// strong under and over pricing, condition mismatches, mileage/price
// tension, recent price swings and risky bargains.
package outliers

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/scoring"
)

// Rule thresholds.
const (
	UnderPct     = -10.0
	OverPct      = 10.0
	DropFraction = 0.07
	LowPctl      = 0.15
	HighPctl     = 0.85
	ExampleLimit = 3

	// deviation at or below which a certified car or a risky listing counts
	// as a bargain
	bargainPct = -7.0
	// share of local FPP under which a new car is suspiciously cheap
	newCarFloor = 0.95
)

// Rule names, in output order.
const (
	RuleStrongUnderpriced = "strong_underpriced"
	RuleStrongOverpriced  = "strong_overpriced"
	RuleCondPriceMismatch = "cond_price_mismatch"
	RuleMilesPriceTension = "miles_price_tension"
	RulePriceWhiplash     = "price_whiplash"
	RuleHighriskBargains  = "highrisk_bargains"
)

// Rules lists every rule name in output order.
var Rules = []string{
	RuleStrongUnderpriced,
	RuleStrongOverpriced,
	RuleCondPriceMismatch,
	RuleMilesPriceTension,
	RulePriceWhiplash,
	RuleHighriskBargains,
}

// Group is one rule's result: how many listings matched and up to
// ExampleLimit labels for the most notable ones.
type Group struct {
	Count    int      `json:"count"`
	Examples []string `json:"examples"`
}

// Thresholds echoes the constants a summary was built with.
type Thresholds struct {
	UnderPct float64 `json:"under_pct"`
	OverPct  float64 `json:"over_pct"`
	DropUSD  float64 `json:"drop_usd"`
}

// Summary is the outlier section of a report.
type Summary struct {
	Thresholds        Thresholds `json:"thresholds"`
	StrongUnderpriced Group      `json:"strong_underpriced"`
	StrongOverpriced  Group      `json:"strong_overpriced"`
	CondPriceMismatch Group      `json:"cond_price_mismatch"`
	MilesPriceTension Group      `json:"miles_price_tension"`
	PriceWhiplash     Group      `json:"price_whiplash"`
	HighriskBargains  Group      `json:"highrisk_bargains"`
}

// Group returns the group for a rule name.
func (s *Summary) Group(rule string) (Group, bool) {
	switch rule {
	case RuleStrongUnderpriced:
		return s.StrongUnderpriced, true
	case RuleStrongOverpriced:
		return s.StrongOverpriced, true
	case RuleCondPriceMismatch:
		return s.CondPriceMismatch, true
	case RuleMilesPriceTension:
		return s.MilesPriceTension, true
	case RulePriceWhiplash:
		return s.PriceWhiplash, true
	case RuleHighriskBargains:
		return s.HighriskBargains, true
	}
	return Group{}, false
}

// Percentile interpolates linearly between the two closest ranks
// (inclusive definition). p is a fraction in [0, 1]. An empty input is 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	if len(s) == 1 {
		return s[0]
	}
	i := p * float64(len(s)-1)
	lo := int(i)
	if lo < 0 {
		lo = 0
	}
	if lo > len(s)-1 {
		lo = len(s) - 1
	}
	hi := lo + 1
	if hi > len(s)-1 {
		hi = len(s) - 1
	}
	frac := i - float64(lo)
	return s[lo]*(1-frac) + s[hi]*frac
}

// Summarize runs every rule over listings. Each rule sees the full set and
// sorts its matches stably, so equal keys keep input order.
func Summarize(listings []scoring.Rated) Summary {
	var under, over, cond, whiplash, risky []scoring.Rated
	for _, r := range listings {
		if r.Deviation != nil && *r.Deviation <= UnderPct {
			under = append(under, r)
		}
		if r.Deviation != nil && *r.Deviation >= OverPct {
			over = append(over, r)
		}
		if isCondMismatch(r) {
			cond = append(cond, r)
		}
		if isWhiplash(r) {
			whiplash = append(whiplash, r)
		}
		if isRiskyBargain(r) {
			risky = append(risky, r)
		}
	}
	tension := milesPriceTension(listings)

	sort.SliceStable(under, func(i, j int) bool { return under[i].DeviationValue() < under[j].DeviationValue() })
	sort.SliceStable(over, func(i, j int) bool { return over[i].DeviationValue() > over[j].DeviationValue() })
	sort.SliceStable(cond, func(i, j int) bool { return cond[i].DeviationValue() < cond[j].DeviationValue() })
	sort.SliceStable(tension, func(i, j int) bool {
		return math.Abs(tension[i].DeviationValue()) > math.Abs(tension[j].DeviationValue())
	})
	sort.SliceStable(whiplash, func(i, j int) bool {
		return absInt(recentChange(whiplash[i])) > absInt(recentChange(whiplash[j]))
	})
	sort.SliceStable(risky, func(i, j int) bool { return risky[i].DeviationValue() < risky[j].DeviationValue() })

	return Summary{
		Thresholds:        Thresholds{UnderPct: UnderPct, OverPct: OverPct, DropUSD: DropFraction},
		StrongUnderpriced: group(under, deviationExtras),
		StrongOverpriced:  group(over, deviationExtras),
		CondPriceMismatch: group(cond, condExtras),
		MilesPriceTension: group(tension, milesExtras),
		PriceWhiplash:     group(whiplash, whiplashExtras),
		HighriskBargains:  group(risky, riskExtras),
	}
}

func isCondMismatch(r scoring.Rated) bool {
	switch r.Condition {
	case listing.ConditionCertified:
		return r.DeviationValue() <= bargainPct || r.Deal == scoring.DealBad
	case listing.ConditionNew:
		if !r.HasPrice() || r.Valuation == nil || r.Valuation.FPPLocal == nil || *r.Valuation.FPPLocal <= 0 {
			return false
		}
		return float64(r.PriceValue()) < newCarFloor*float64(*r.Valuation.FPPLocal)
	}
	return false
}

func isWhiplash(r scoring.Rated) bool {
	price := r.PriceValue()
	if price <= 0 {
		return false
	}
	return float64(absInt(recentChange(r)))/float64(price) >= DropFraction
}

func isRiskyBargain(r scoring.Rated) bool {
	if r.Risk != scoring.LevelHigh && r.Uncertainty != scoring.LevelHigh {
		return false
	}
	return r.Deal == scoring.DealGreat || r.Deal == scoring.DealGood || r.DeviationValue() <= bargainPct
}

// milesPriceTension flags low-mileage cars priced at or under value and
// high-mileage cars priced at or over it, using the 15th and 85th mileage
// percentiles of the set as cutoffs.
func milesPriceTension(listings []scoring.Rated) []scoring.Rated {
	var miles []float64
	for _, r := range listings {
		if r.Mileage != nil {
			miles = append(miles, float64(*r.Mileage))
		}
	}
	if len(miles) == 0 {
		return nil
	}
	lowCut := Percentile(miles, LowPctl)
	highCut := Percentile(miles, HighPctl)

	var out []scoring.Rated
	for _, r := range listings {
		if r.Mileage == nil || r.Deviation == nil {
			continue
		}
		m, dev := float64(*r.Mileage), *r.Deviation
		if (m <= lowCut && dev <= 0) || (m >= highCut && dev >= 0) {
			out = append(out, r)
		}
	}
	return out
}

func recentChange(r scoring.Rated) int {
	c, _ := r.RecentPriceChange()
	return c
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func group(matches []scoring.Rated, extras func(scoring.Rated) []string) Group {
	g := Group{Count: len(matches), Examples: []string{}}
	for i, r := range matches {
		if i == ExampleLimit {
			break
		}
		g.Examples = append(g.Examples, Label(r, extras(r)...))
	}
	return g
}

// Label formats an example as "{id} · {last5} · {title}", followed by any
// extras joined with " — ".
func Label(r scoring.Rated, extras ...string) string {
	var b strings.Builder
	b.WriteString(r.ID)
	b.WriteString(" · ")
	b.WriteString(r.LastVIN5())
	if title := strings.TrimSpace(r.Title); title != "" {
		b.WriteString(" · ")
		b.WriteString(title)
	}
	for _, e := range extras {
		b.WriteString(" — ")
		b.WriteString(e)
	}
	return b.String()
}

func formatDeviation(r scoring.Rated) []string {
	if r.Deviation == nil {
		return nil
	}
	return []string{fmt.Sprintf("%+.1f%%", *r.Deviation)}
}

func deviationExtras(r scoring.Rated) []string {
	return formatDeviation(r)
}

func condExtras(r scoring.Rated) []string {
	return append([]string{string(r.Condition)}, formatDeviation(r)...)
}

func milesExtras(r scoring.Rated) []string {
	if r.Mileage == nil {
		return nil
	}
	return []string{humanize.Comma(int64(*r.Mileage)) + " mi"}
}

func whiplashExtras(r scoring.Rated) []string {
	c, ok := r.RecentPriceChange()
	if !ok {
		return nil
	}
	return []string{"Δ$" + humanize.Comma(int64(absInt(c)))}
}

func riskExtras(r scoring.Rated) []string {
	label := "High uncertainty"
	if r.Risk == scoring.LevelHigh {
		label = "High risk"
	}
	return append([]string{label}, formatDeviation(r)...)
}
