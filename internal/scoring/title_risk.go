package scoring

import (
	"math"
	"time"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/history"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
)

// Composite risk curve constants. They are tuned values; keep them exact.
const (
	maxScore = 10.0

	severityMinor    = 1.0
	severityModerate = 2.5
	severitySevere   = 4.0

	repeatBase = 1.1
	repeatStep = 0.05

	cleanDamagedBase  = 2.0
	cleanDamagedSpan  = 5.5
	brandedCleanScore = 7.0
	brandedDamageBase = 4.0
	brandedDamageSpan = 5.0
	titleExponent     = 0.78

	structuralBase     = 1.2
	structuralSpan     = 1.3
	structuralExponent = 1.05
	possibleDamping    = 0.7

	airbagAddend = 2.5

	lowUseCredit      = 1.0
	highUsePenaltyMax = 2.5
	highUseExponent   = 0.78

	warrantyCreditMax   = 2.0
	warrantyFullMonths  = 36.0
	warrantyFullMileage = 36000.0

	compositeHigh = 7.0
	compositeSome = 4.0
)

// TitleRiskInput holds the facts the composite score is built from.
type TitleRiskInput struct {
	Branded         bool
	TotalLoss       bool
	Severities      []history.DamageSeverity
	Structural      history.StructuralStatus
	AirbagsDeployed bool

	Mileage         *int
	ExpectedMileage float64

	WarrantyMonths int
	WarrantyMiles  int
}

// TitleRisk is the composite score and its parts.
type TitleRisk struct {
	Damage      float64 `json:"damage"`
	Title       float64 `json:"title"`
	Structural  float64 `json:"structural"`
	Airbags     float64 `json:"airbags"`
	Base        float64 `json:"base"`
	MileageMod  float64 `json:"mileage_mod"`
	WarrantyMod float64 `json:"warranty_mod"`
	Composite   float64 `json:"composite"`
	Level       Level   `json:"level"`
}

// TitleRiskInputFor collects the composite inputs of a listing. Listings
// without a history report only contribute mileage.
func TitleRiskInputFor(l listing.Listing, asOf time.Time) TitleRiskInput {
	in := TitleRiskInput{
		Mileage:         l.Mileage,
		ExpectedMileage: ExpectedMileage(l.Year, asOf),
		Structural:      history.StructuralNone,
	}
	if h := l.History; h != nil {
		in.Branded = h.IsBranded()
		in.TotalLoss = h.IsTotalLoss()
		in.Severities = h.DamageSeverities()
		in.Structural = h.StructuralStatus()
		in.AirbagsDeployed = h.AirbagsDeployed()
		in.WarrantyMonths, in.WarrantyMiles = h.RemainingWarranty()
	}
	return in
}

// ScoreTitleRisk computes the composite 0-10 risk score.
func ScoreTitleRisk(in TitleRiskInput) TitleRisk {
	var r TitleRisk
	r.Damage = DamageScore(in.Severities)
	r.Title = titleScore(in.Branded || in.TotalLoss, r.Damage)
	r.Structural = structuralScore(in.Structural, r.Damage)
	if in.AirbagsDeployed {
		r.Airbags = airbagAddend
	}
	r.Base = clamp(r.Title + r.Structural + r.Airbags)
	r.MileageMod = MileageModifier(in.Mileage, in.ExpectedMileage)
	r.WarrantyMod = WarrantyModifier(in.WarrantyMonths, in.WarrantyMiles)
	r.Composite = clamp(r.Base + r.MileageMod + r.WarrantyMod)

	switch {
	case r.Composite >= compositeHigh:
		r.Level = LevelHigh
	case r.Composite >= compositeSome:
		r.Level = LevelSome
	default:
		r.Level = LevelLow
	}
	return r
}

// DamageScore accumulates event severities in report order. The first event
// counts at full weight; event n (n >= 2) is multiplied by 1.1 + 0.05*(n-2).
func DamageScore(severities []history.DamageSeverity) float64 {
	score := 0.0
	for i, s := range severities {
		w := severityWeight(s)
		if n := i + 1; n >= 2 {
			w *= repeatBase + repeatStep*float64(n-2)
		}
		score += w
	}
	return math.Min(score, maxScore)
}

func severityWeight(s history.DamageSeverity) float64 {
	switch s {
	case history.SeveritySevere:
		return severitySevere
	case history.SeverityModerate:
		return severityModerate
	default:
		return severityMinor
	}
}

func titleScore(branded bool, damage float64) float64 {
	curve := math.Pow(damage/maxScore, titleExponent)
	switch {
	case branded && damage > 0:
		return brandedDamageBase + brandedDamageSpan*curve
	case branded:
		return brandedCleanScore
	case damage > 0:
		return cleanDamagedBase + cleanDamagedSpan*curve
	default:
		return 0
	}
}

func structuralScore(status history.StructuralStatus, damage float64) float64 {
	full := structuralBase + structuralSpan*math.Pow(damage/maxScore, structuralExponent)
	switch status {
	case history.StructuralConfirmed:
		return full
	case history.StructuralPossible:
		return full * possibleDamping
	default:
		return 0
	}
}

// MileageModifier credits light use down to -1.0 and penalizes heavy use up
// to +2.5, relative to expected mileage.
func MileageModifier(mileage *int, expected float64) float64 {
	if mileage == nil || expected <= 0 {
		return 0
	}
	r := float64(*mileage) / expected
	if r <= 1 {
		return -lowUseCredit * (1 - r)
	}
	return math.Min(highUsePenaltyMax, highUsePenaltyMax*math.Pow(r-1, highUseExponent))
}

// WarrantyModifier credits remaining basic warranty, reaching -2.0 at 36
// months or 36,000 miles.
func WarrantyModifier(months, miles int) float64 {
	share := math.Max(float64(months)/warrantyFullMonths, float64(miles)/warrantyFullMileage)
	if share <= 0 {
		return 0
	}
	return -warrantyCreditMax * math.Min(1, share)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(maxScore, v))
}
