// Package filters parses the search filters a run was scraped with: model
// years, price and mileage ranges, conditions and sort order.
package filters

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
)

// ErrInvalidRange is returned for malformed or reversed year and numeric ranges.
var ErrInvalidRange = errors.New("invalid range")

// Search is the filter set of one scrape, as recorded in its metadata.
// Zero bounds are unset.
type Search struct {
	Sort       string   `json:"sort" yaml:"sort"`
	Conditions []string `json:"condition,omitempty" yaml:"condition"`
	Years      []int    `json:"years,omitempty" yaml:"years"`
	MinPrice   int      `json:"min_price,omitempty" yaml:"min_price"`
	MaxPrice   int      `json:"max_price,omitempty" yaml:"max_price"`
	MinMiles   int      `json:"min_miles,omitempty" yaml:"min_miles"`
	MaxMiles   int      `json:"max_miles,omitempty" yaml:"max_miles"`
}

// HasPriceOrMileage reports whether any price or mileage bound is set.
func (s Search) HasPriceOrMileage() bool {
	return s.MinPrice > 0 || s.MaxPrice > 0 || s.MinMiles > 0 || s.MaxMiles > 0
}

// YearStrings returns the years as strings, the form cache keys use.
func (s Search) YearStrings() []string {
	out := make([]string, len(s.Years))
	for i, y := range s.Years {
		out[i] = strconv.Itoa(y)
	}
	return out
}

// Matches reports whether a listing falls inside the search. Listings
// without a price or mileage are kept so they reach the no-price bin.
func (s Search) Matches(l listing.Listing) bool {
	if len(s.Years) > 0 && !containsInt(s.Years, l.Year) {
		return false
	}
	if len(s.Conditions) > 0 {
		ok := false
		for _, c := range s.Conditions {
			if listing.ParseCondition(c) == l.Condition {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if l.Price != nil && !within(*l.Price, s.MinPrice, s.MaxPrice) {
		return false
	}
	if l.Mileage != nil && !within(*l.Mileage, s.MinMiles, s.MaxMiles) {
		return false
	}
	return true
}

func within(v, lo, hi int) bool {
	return (lo <= 0 || v >= lo) && (hi <= 0 || v <= hi)
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// NormalizeYears expands year arguments into a sorted, de-duplicated list.
// Entries may be comma separated, and each is a year or an inclusive
// "start-end" range. Two-digit years of 50 and above are 19xx, the rest 20xx.
func NormalizeYears(raw []string) ([]int, error) {
	seen := map[int]struct{}{}
	for _, arg := range raw {
		for _, entry := range strings.Split(arg, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			if start, end, ok := strings.Cut(entry, "-"); ok {
				from, err := convertYear(start)
				if err != nil {
					return nil, err
				}
				to, err := convertYear(end)
				if err != nil {
					return nil, err
				}
				if from > to {
					return nil, fmt.Errorf("%w: start year %d is after end year %d", ErrInvalidRange, from, to)
				}
				for y := from; y <= to; y++ {
					seen[y] = struct{}{}
				}
				continue
			}
			y, err := convertYear(entry)
			if err != nil {
				return nil, err
			}
			seen[y] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: no valid years provided", ErrInvalidRange)
	}

	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

func convertYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	y, err := strconv.Atoi(s)
	if err != nil || y < 0 {
		return 0, fmt.Errorf("%w: year %q", ErrInvalidRange, s)
	}
	switch {
	case len(s) == 4:
		return y, nil
	case y >= 50:
		return 1900 + y, nil
	default:
		return 2000 + y, nil
	}
}

// FormatYears collapses consecutive years: 2017, 2020, 2023–2025.
func FormatYears(years []int) string {
	if len(years) == 0 {
		return ""
	}
	s := append([]int(nil), years...)
	sort.Ints(s)

	var parts []string
	start, prev := s[0], s[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d–%d", start, prev))
		}
	}
	for _, y := range s[1:] {
		if y == prev {
			continue
		}
		if y == prev+1 {
			prev = y
			continue
		}
		flush()
		start, prev = y, y
	}
	flush()
	return strings.Join(parts, ", ")
}

var nonRangeChars = regexp.MustCompile(`[^\d\-]`)

// ParseRange parses "min-max", "min-", "-max" or a bare minimum. Currency
// symbols, commas and spaces are ignored. Zero means unbounded.
func ParseRange(name, raw string) (lo, hi int, err error) {
	cleaned := nonRangeChars.ReplaceAllString(raw, "")
	parts := strings.Split(cleaned, "-")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return 0, 0, fmt.Errorf("%w: %s range cannot be empty", ErrInvalidRange, name)
		}
		lo, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %s %q", ErrInvalidRange, name, raw)
		}
		return lo, 0, nil
	case 2:
	default:
		return 0, 0, fmt.Errorf("%w: too many hyphens in %s %q", ErrInvalidRange, name, raw)
	}

	if parts[0] == "" && parts[1] == "" {
		return 0, 0, fmt.Errorf("%w: %s range cannot be empty", ErrInvalidRange, name)
	}
	if parts[0] != "" {
		if lo, err = strconv.Atoi(parts[0]); err != nil {
			return 0, 0, fmt.Errorf("%w: %s %q", ErrInvalidRange, name, raw)
		}
	}
	if parts[1] != "" {
		if hi, err = strconv.Atoi(parts[1]); err != nil {
			return 0, 0, fmt.Errorf("%w: %s %q", ErrInvalidRange, name, raw)
		}
	}
	if lo > 0 && hi > 0 && lo > hi {
		return 0, 0, fmt.Errorf("%w: %s start %d exceeds end %d", ErrInvalidRange, name, lo, hi)
	}
	return lo, hi, nil
}
