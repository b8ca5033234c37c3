package pricing

import (
	"strings"
	"time"
)

// NationalTTL is how long national values (MSRP, national FPP) stay fresh.
const NationalTTL = 7 * 24 * time.Hour

// IsNationalFresh reports whether national values were fetched within NationalTTL.
func IsNationalFresh(e *Entry, now time.Time) bool {
	if e == nil || e.NatlTimestamp == nil {
		return false
	}
	return now.Sub(e.NatlTimestamp.Time) < NationalTTL
}

// IsLocalFresh reports whether local values were fetched in the current
// calendar month. Age alone does not matter: a value fetched on the 31st is
// stale on the 1st.
func IsLocalFresh(e *Entry, now time.Time) bool {
	if e == nil || e.LocalTimestamp == nil {
		return false
	}
	return sameMonth(e.LocalTimestamp.Time, now)
}

// IsPricingFresh applies the calendar month rule to the single-timestamp
// entry layout.
func IsPricingFresh(e *Entry, now time.Time) bool {
	if e == nil || e.PricingTimestamp == nil {
		return false
	}
	return sameMonth(e.PricingTimestamp.Time, now)
}

// IsEntryFresh is true when both national and local values are fresh. Entries
// that only carry a pricing timestamp use the month rule on that instead.
func IsEntryFresh(e *Entry, now time.Time) bool {
	if e == nil {
		return false
	}
	if e.NatlTimestamp == nil && e.LocalTimestamp == nil && e.PricingTimestamp != nil {
		return IsPricingFresh(e, now)
	}
	return IsNationalFresh(e, now) && IsLocalFresh(e, now)
}

func sameMonth(ts, now time.Time) bool {
	ts = ts.In(now.Location())
	return ts.Year() == now.Year() && ts.Month() == now.Month()
}

// CoversAll reports whether doc already holds everything a run for make needs:
// a slug for every "{year} {model}" variant, trim options for every requested
// year of every model, and at least one entry per variant with all of those
// entries fresh. It never mutates doc.
func CoversAll(make string, variants, years []string, doc *Document, now time.Time) bool {
	if doc == nil || len(doc.Entries) == 0 {
		return false
	}
	for _, v := range variants {
		year, model, ok := strings.Cut(strings.TrimSpace(v), " ")
		if !ok || model == "" {
			return false
		}
		if _, ok := doc.ModelSlugs[VehicleKey(year, make, model)]; !ok {
			return false
		}
		byYear, ok := doc.TrimOptions[MakeModelKey(make, model)]
		if !ok {
			return false
		}
		for _, y := range years {
			if _, ok := byYear[y]; !ok {
				return false
			}
		}
		relevant := doc.RelevantEntries(year, make, model)
		if len(relevant) == 0 {
			return false
		}
		for _, e := range relevant {
			if !IsEntryFresh(e, now) {
				return false
			}
		}
	}
	return true
}
