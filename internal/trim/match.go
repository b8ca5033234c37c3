package trim

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// FindVisorKey maps a normalized reference trim onto one of the listing-side
// trim keys. It returns false when no rule applies and the trim could not be
// classified.
func FindVisorKey(normalized string, candidates []string, model string) (string, bool) {
	return defaultNormalizer.FindVisorKey(normalized, candidates, model)
}

// FindVisorKey maps normalized onto candidates using, in order: empty trim to
// Base, model name to Base, case-insensitive equality, then a tail match that
// ignores one leading token on either side.
func (n *Normalizer) FindVisorKey(normalized string, candidates []string, model string) (string, bool) {
	target := strings.TrimSpace(normalized)
	tokens := strings.Fields(strings.ToLower(target))

	if len(tokens) == 0 || (model != "" && strings.EqualFold(target, strings.TrimSpace(model))) {
		for _, c := range candidates {
			if strings.EqualFold(c, Base) {
				return c, true
			}
		}
		return "", false
	}

	for _, c := range candidates {
		if strings.EqualFold(c, target) || strings.EqualFold(n.Normalize(c), target) {
			return c, true
		}
	}

	for _, c := range candidates {
		ct := strings.Fields(strings.ToLower(n.Normalize(c)))
		if len(ct) == 0 {
			continue
		}
		if len(ct) > 1 && equalTokens(ct[1:], tokens) {
			return c, true
		}
		if len(tokens) > 1 && equalTokens(tokens[1:], ct) {
			return c, true
		}
	}
	return "", false
}

// BestTrimMatch picks the reference trim that best matches a listing trim.
// "base" selects the first candidate, which the pricing source lists
// cheapest first. Otherwise an exact case-insensitive match wins, then the
// highest token score, with sequence similarity breaking ties.
func BestTrimMatch(target string, candidates []string) (string, bool) {
	return DefaultPatterns().BestTrimMatch(target, candidates)
}

// BestTrimMatch is BestTrimMatch over an explicit pattern table.
func (p *Patterns) BestTrimMatch(target string, candidates []string) (string, bool) {
	if strings.TrimSpace(target) == "" || len(candidates) == 0 {
		return "", false
	}
	if strings.EqualFold(strings.TrimSpace(target), Base) {
		return candidates[0], true
	}
	for _, c := range candidates {
		if strings.EqualFold(c, target) {
			return c, true
		}
	}

	want := p.Profile(target)
	profiles := make([]Profile, len(candidates))
	for i, c := range candidates {
		profiles[i] = p.Profile(c)
	}
	flags := varyingAttributes(profiles)

	best := ""
	bestScore := -1
	bestRatio := -1.0
	for _, cand := range profiles {
		score := tokenScore(want, cand, flags)
		switch {
		case score > bestScore:
			bestScore = score
			bestRatio = sequenceScore(want, cand, flags)
			best = cand.FullTrim
		case score == bestScore:
			if ratio := sequenceScore(want, cand, flags); ratio > bestRatio {
				bestRatio = ratio
				best = cand.FullTrim
			}
		}
	}
	return best, best != ""
}

type compareFlags struct {
	engine, drivetrain, body, bed bool
}

// varyingAttributes enables an attribute comparison only when candidates
// disagree on it.
func varyingAttributes(profiles []Profile) compareFlags {
	engines := map[string]struct{}{}
	drives := map[string]struct{}{}
	bodies := map[string]struct{}{}
	beds := map[string]struct{}{}
	for _, pr := range profiles {
		engines[pr.Engine] = struct{}{}
		drives[pr.Drivetrain] = struct{}{}
		bodies[pr.BodyStyle] = struct{}{}
		beds[pr.BedLength] = struct{}{}
	}
	return compareFlags{
		engine:     len(engines) > 1,
		drivetrain: len(drives) > 1,
		body:       len(bodies) > 1,
		bed:        len(beds) > 1,
	}
}

func tokenScore(a, b Profile, f compareFlags) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range a.Tokens {
		seen[t] = struct{}{}
	}
	counted := map[string]struct{}{}
	for _, t := range b.Tokens {
		if _, ok := seen[t]; ok {
			if _, dup := counted[t]; !dup {
				counted[t] = struct{}{}
				score++
			}
		}
	}
	if f.engine && a.Engine != "" && a.Engine == b.Engine {
		score++
	}
	if f.drivetrain && a.Drivetrain != "" && a.Drivetrain == b.Drivetrain {
		score++
	}
	if f.body && a.BodyStyle != "" && a.BodyStyle == b.BodyStyle {
		score++
	}
	if f.bed && a.BedLength != "" && a.BedLength == b.BedLength {
		score++
	}
	return score
}

func sequenceScore(a, b Profile, f compareFlags) float64 {
	return matchr.JaroWinkler(a.compareString(f), b.compareString(f), false)
}

// PickBaseTrim chooses the style that best represents an unnamed base trim
// from groups of reference styles (one group per body style). Within the
// first group whose names share tokens, a name made only of shared tokens
// wins; otherwise the name with the fewest residual tokens, then the shortest.
func PickBaseTrim(groups [][]string) (string, bool) {
	p := DefaultPatterns()
	for _, names := range groups {
		if len(names) == 0 {
			continue
		}
		tokenLists := make([][]string, len(names))
		for i, n := range names {
			tokenLists[i] = lowerWords(p, n)
		}
		common := toSet(tokenLists[0])
		for _, tl := range tokenLists[1:] {
			next := toSet(tl)
			for k := range common {
				if _, ok := next[k]; !ok {
					delete(common, k)
				}
			}
		}
		if len(common) == 0 {
			continue
		}

		best := ""
		bestResidual := -1
		for i, name := range names {
			residual := 0
			for _, w := range tokenLists[i] {
				if _, ok := common[w]; !ok {
					residual++
				}
			}
			if residual == 0 {
				return name, true
			}
			if best == "" || residual < bestResidual || (residual == bestResidual && len(name) < len(best)) {
				best, bestResidual = name, residual
			}
		}
		if best != "" {
			return best, true
		}
	}
	return "", false
}

// Collisions groups reference trims that map onto the same listing-side key.
// Only keys with more than one reference trim are returned.
func (n *Normalizer) Collisions(referenceTrims, keys []string, model string) map[string][]string {
	grouped := map[string][]string{}
	for _, raw := range referenceTrims {
		if key, ok := n.FindVisorKey(n.NormalizeFor(raw, model), keys, model); ok {
			grouped[key] = append(grouped[key], raw)
		}
	}
	for k, v := range grouped {
		if len(v) < 2 {
			delete(grouped, k)
		}
	}
	return grouped
}

func lowerWords(p *Patterns, s string) []string {
	words := p.wordToken.FindAllString(s, -1)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
