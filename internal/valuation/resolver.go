package valuation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/trim"
)

// Method records which matching rule resolved a listing.
type Method string

const (
	MethodExact           Method = "exact"
	MethodNormalized      Method = "normalized"
	MethodCaseInsensitive Method = "case_insensitive"
	MethodUnresolved      Method = "unresolved"
)

// Resolution is the outcome of a lookup. When unresolved, Key holds the raw
// target string and Entry is nil.
type Resolution struct {
	Key    string
	Method Method
	Entry  *pricing.Entry
}

// Resolved reports whether an entry was found.
func (r Resolution) Resolved() bool {
	return r.Method != MethodUnresolved && r.Entry != nil
}

// Valuation returns the typed valuation of a resolved entry.
func (r Resolution) Valuation() (TrimValuation, bool) {
	if !r.Resolved() {
		return TrimValuation{}, false
	}
	return FromEntry(r.Key, r.Entry), true
}

// Resolver matches listings to cache entries. It is a pure lookup.
type Resolver struct {
	normalizer *trim.Normalizer
}

// NewResolver returns a resolver; a nil normalizer uses the default patterns.
func NewResolver(n *trim.Normalizer) *Resolver {
	if n == nil {
		n = trim.NewNormalizer(nil)
	}
	return &Resolver{normalizer: n}
}

// Resolve looks up the entry for a listing.
func (r *Resolver) Resolve(l listing.Listing, entries map[string]*pricing.Entry) Resolution {
	return r.ResolveKey(strconv.Itoa(l.Year), l.Make, l.Model, l.Trim, entries)
}

// ResolveKey tries, in order: the exact canonical key, entries under the same
// year/make/model whose trim normalizes equal to the target trim (smallest
// key first), and a case-insensitive comparison of whole keys.
func (r *Resolver) ResolveKey(year, make, model, trimText string, entries map[string]*pricing.Entry) Resolution {
	target := pricing.CacheKey(year, make, model, trimText)

	if e, ok := entries[target]; ok && e != nil {
		return Resolution{Key: target, Method: MethodExact, Entry: e}
	}

	prefix := pricing.VehicleKey(year, make, model)
	want := r.normalizer.KeyFor(trimText, model)
	for _, key := range sortedKeys(entries) {
		var tail string
		switch {
		case key == prefix:
		case strings.HasPrefix(key, prefix+" "):
			tail = key[len(prefix)+1:]
		default:
			continue
		}
		if r.normalizer.KeyFor(tail, model) == want {
			return Resolution{Key: key, Method: MethodNormalized, Entry: entries[key]}
		}
	}

	for _, key := range sortedKeys(entries) {
		if strings.EqualFold(key, target) {
			return Resolution{Key: key, Method: MethodCaseInsensitive, Entry: entries[key]}
		}
	}

	return Resolution{Key: target, Method: MethodUnresolved}
}

func sortedKeys(entries map[string]*pricing.Entry) []string {
	keys := make([]string, 0, len(entries))
	for k, e := range entries {
		if e != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
