// Package valuation turns cached pricing entries into typed trim valuations
// and resolves marketplace listings against them.
package valuation

import (
	"errors"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
)

// ErrNoComparePrice means a valuation has none of the prices a deal can be
// rated against.
var ErrNoComparePrice = errors.New("valuation has no comparison price")

// PriceSource names the field a comparison price was taken from.
type PriceSource string

const (
	SourceFPPLocal PriceSource = "fpp_local"
	SourceFPPNatl  PriceSource = "fpp_natl"
	SourceFMV      PriceSource = "fmv"
	SourceMSRP     PriceSource = "msrp"
)

// TrimValuation is one reference pricing record for a model and reference trim.
type TrimValuation struct {
	CacheKey string `json:"cache_key"`
	Model    string `json:"model,omitempty"`
	KBBTrim  string `json:"kbb_trim,omitempty"`

	MSRP     *int `json:"msrp"`
	FPPNatl  *int `json:"fpp_natl"`
	FMRLow   *int `json:"fmr_low"`
	FMRHigh  *int `json:"fmr_high"`
	FPPLocal *int `json:"fpp_local"`
	FMV      *int `json:"fmv"`

	NatlSource  string `json:"natl_source,omitempty"`
	LocalSource string `json:"local_source,omitempty"`
}

// FromEntry copies a cache entry into a valuation. Non-positive prices are
// treated as unknown and an inverted fair-market range is dropped.
func FromEntry(key string, e *pricing.Entry) TrimValuation {
	v := TrimValuation{CacheKey: key}
	if e == nil {
		return v
	}
	v.Model = deref(e.Model)
	v.KBBTrim = deref(e.KBBTrim)
	v.MSRP = positive(e.MSRP)
	v.FPPNatl = positive(e.FPPNatl)
	v.FMRLow = positive(e.FMRLow)
	v.FMRHigh = positive(e.FMRHigh)
	v.FPPLocal = positive(e.FPPLocal)
	v.FMV = positive(e.FMV)
	v.NatlSource = deref(e.NatlSource)
	v.LocalSource = deref(e.LocalSource)

	if v.FMRLow != nil && v.FMRHigh != nil && *v.FMRLow > *v.FMRHigh {
		v.FMRLow, v.FMRHigh = nil, nil
	}
	return v
}

// ComparePrice picks the price a listing is rated against: local fair
// purchase price, then national fair purchase price, then fair market value,
// then MSRP.
func (v TrimValuation) ComparePrice() (int, PriceSource, error) {
	switch {
	case v.FPPLocal != nil:
		return *v.FPPLocal, SourceFPPLocal, nil
	case v.FPPNatl != nil:
		return *v.FPPNatl, SourceFPPNatl, nil
	case v.FMV != nil:
		return *v.FMV, SourceFMV, nil
	case v.MSRP != nil:
		return *v.MSRP, SourceMSRP, nil
	}
	return 0, "", ErrNoComparePrice
}

// HasRange reports whether a complete fair-market range is known.
func (v TrimValuation) HasRange() bool {
	return v.FMRLow != nil && v.FMRHigh != nil
}

// IsEmpty is true when no price field is known.
func (v TrimValuation) IsEmpty() bool {
	return v.MSRP == nil && v.FPPNatl == nil && v.FMRLow == nil &&
		v.FMRHigh == nil && v.FPPLocal == nil && v.FMV == nil
}

func positive(p *int) *int {
	if p == nil || *p <= 0 {
		return nil
	}
	v := *p
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
