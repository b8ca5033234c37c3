// Package variant assigns listings to the reference source's model variants
// ("1500", "1500 Classic", "Camry Hybrid") year by year.
package variant

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
)

// Map buckets listings by "{year} {make} {variant}". Every input listing is
// in exactly one bucket. Listings that could not be matched directly are
// placed by majority inheritance and are also reported in Inherited; those
// assignments are approximate.
type Map struct {
	Buckets   map[string][]listing.Listing
	Inherited []listing.Listing

	make     string
	variants map[string]string
	byID     map[string]string
}

// Keys returns bucket keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.Buckets))
	for k := range m.Buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyFor returns the bucket holding the listing.
func (m *Map) KeyFor(l listing.Listing) (string, bool) {
	k, ok := m.byID[l.ID]
	return k, ok
}

// VariantFor returns the variant model name the listing was assigned to.
func (m *Map) VariantFor(l listing.Listing) (string, bool) {
	k, ok := m.byID[l.ID]
	if !ok {
		return "", false
	}
	return m.variants[k], true
}

// IsInherited reports whether a listing was placed by majority inheritance.
func (m *Map) IsInherited(l listing.Listing) bool {
	for _, in := range m.Inherited {
		if in.ID == l.ID {
			return true
		}
	}
	return false
}

// Len is the number of listings across all buckets.
func (m *Map) Len() int {
	n := 0
	for _, b := range m.Buckets {
		n += len(b)
	}
	return n
}

func (m *Map) add(year, variant string, l listing.Listing) string {
	key := year + " " + m.make + " " + variant
	m.Buckets[key] = append(m.Buckets[key], l)
	m.variants[key] = variant
	m.byID[l.ID] = key
	return key
}

// CandidateVariants keeps the variants whose name overlaps model in either
// direction, with and without hyphens, ignoring case.
func CandidateVariants(model string, variants []string) []string {
	m := strings.ToLower(model)
	stripped := strings.ReplaceAll(m, "-", "")
	var out []string
	for _, v := range variants {
		lv := strings.ToLower(v)
		if strings.Contains(lv, m) || strings.Contains(m, lv) ||
			strings.Contains(lv, stripped) || strings.Contains(stripped, lv) {
			out = append(out, v)
		}
	}
	return out
}

// Build assigns every listing to a variant bucket. variantsByYear holds the
// reference variants per model year; a year without overlapping variants
// reuses the previous year's candidates.
func Build(vehicleMake, model string, listings []listing.Listing, variantsByYear map[string][]string) *Map {
	m := &Map{
		Buckets:  map[string][]listing.Listing{},
		make:     vehicleMake,
		variants: map[string]string{},
		byID:     map[string]string{},
	}

	yearSet := map[string]struct{}{}
	for _, l := range listings {
		yearSet[strconv.Itoa(l.Year)] = struct{}{}
	}
	years := make([]string, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Strings(years)

	candidates := map[string][]string{}
	prev := ""
	for _, y := range years {
		c := CandidateVariants(model, variantsByYear[y])
		if len(c) == 0 {
			c = candidates[prev]
		}
		candidates[y] = c
		prev = y
	}

	var deferred []listing.Listing
	for _, l := range listings {
		year := strconv.Itoa(l.Year)
		c := candidates[year]
		switch len(c) {
		case 0:
			deferred = append(deferred, l)
		case 1:
			m.add(year, c[0], l)
		default:
			selected, ok := BestModelMatch(vehicleMake, model, l, c)
			if !ok {
				deferred = append(deferred, l)
				continue
			}
			m.add(year, selected, l)
		}
	}

	majority, hasMajority := m.majorityVariant()
	for _, l := range deferred {
		year := strconv.Itoa(l.Year)
		c := candidates[year]
		switch {
		case hasMajority && (len(c) == 0 || contains(c, majority)):
			m.add(year, majority, l)
		case len(c) > 0:
			m.add(year, c[0], l)
		default:
			m.add(year, model, l)
		}
		m.Inherited = append(m.Inherited, l)
	}
	return m
}

// majorityVariant returns the variant of the most populated bucket, the
// lexicographically smallest key winning ties.
func (m *Map) majorityVariant() (string, bool) {
	best := ""
	bestN := 0
	for _, k := range m.Keys() {
		if n := len(m.Buckets[k]); n > bestN {
			best, bestN = k, n
		}
	}
	if best == "" {
		return "", false
	}
	return m.variants[best], true
}

// BestModelMatch picks a variant for a listing among several candidates.
// Hybrid and plug-in listings prefer variants named that way; otherwise an
// exact model name wins, then the variant sharing the most tokens with the
// listing's trim version.
func BestModelMatch(make, model string, l listing.Listing, candidates []string) (string, bool) {
	if l.IsHybrid != nil && *l.IsHybrid {
		if l.IsPlugin != nil && *l.IsPlugin {
			for _, c := range candidates {
				lc := strings.ToLower(c)
				if strings.Contains(lc, "plug") || strings.Contains(lc, "phev") {
					return c, true
				}
			}
		}
		for _, c := range candidates {
			if strings.Contains(strings.ToLower(c), "hybrid") {
				return c, true
			}
		}
	}

	strippedModel := strings.ReplaceAll(model, "-", "")
	for _, c := range candidates {
		if c == model || c == strippedModel {
			return c, true
		}
	}

	if l.TrimVersion == "" {
		return "", false
	}
	tv := l.TrimVersion
	for _, s := range []string{make, model, strings.ReplaceAll(make, "-", ""), strippedModel} {
		if s != "" {
			tv = strings.ReplaceAll(tv, s, "")
		}
	}
	want := lowerSet(tv)

	best := ""
	bestScore := 0
	for _, c := range candidates {
		stripped := strings.ReplaceAll(strings.ReplaceAll(c, model, ""), strippedModel, "")
		score := 0
		for t := range lowerSet(stripped) {
			if _, ok := want[t]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, best != ""
}

func lowerSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range strings.Fields(strings.ToLower(s)) {
		set[t] = struct{}{}
	}
	return set
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
