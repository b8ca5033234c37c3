package trim

import (
	"strings"
	"unicode"
)

// Base is the sentinel key for a model's entry-level trim.
const Base = "Base"

// Normalizer canonicalizes raw trim strings.
type Normalizer struct {
	p *Patterns
}

// NewNormalizer creates a normalizer over the given pattern table. A nil
// table selects DefaultPatterns.
func NewNormalizer(p *Patterns) *Normalizer {
	if p == nil {
		p = DefaultPatterns()
	}
	return &Normalizer{p: p}
}

var defaultNormalizer = NewNormalizer(nil)

// Normalize canonicalizes raw with the default pattern table.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// Normalize returns the canonical form of raw. The empty string means Base.
func (n *Normalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if _, ok := n.p.baseTokens[strings.ToLower(s)]; ok {
		return ""
	}

	s = n.stripBodySuffix(s)

	tokens := strings.Fields(s)
	tokens = n.stripMarketing(tokens)
	if len(tokens) > 0 && n.p.displacement.MatchString(tokens[0]) {
		tokens = n.stripMarketing(tokens[1:])
	}

	var markers, rest []string
	for _, tok := range tokens {
		if canon, ok := n.p.engineMarkers[strings.ToLower(tok)]; ok {
			markers = append(markers, canon)
			continue
		}
		rest = append(rest, tok)
	}
	// a marker after the body style hid the suffix from the first pass
	if len(markers) > 0 {
		rest = strings.Fields(n.stripBodySuffix(strings.Join(rest, " ")))
	}

	var sToken string
	if len(rest) > 0 && strings.EqualFold(rest[0], "s") {
		sToken = "S"
		rest = rest[1:]
	}

	out := make([]string, 0, len(markers)+len(rest)+1)
	out = append(out, markers...)
	if sToken != "" {
		out = append(out, sToken)
	}
	for _, tok := range rest {
		out = append(out, n.titleToken(tok))
	}
	joined := strings.Join(out, " ")
	if _, ok := n.p.baseTokens[strings.ToLower(joined)]; ok {
		return ""
	}
	return joined
}

// NormalizeFor normalizes raw and maps a trim that merely repeats the model
// name to Base (the empty string).
func (n *Normalizer) NormalizeFor(raw, model string) string {
	if model != "" && strings.EqualFold(strings.TrimSpace(raw), strings.TrimSpace(model)) {
		return ""
	}
	return n.Normalize(raw)
}

// KeyFor returns the trim key used in cache keys: the canonical trim, or
// Base when it normalizes away.
func (n *Normalizer) KeyFor(raw, model string) string {
	if k := n.NormalizeFor(raw, model); k != "" {
		return k
	}
	return Base
}

func (n *Normalizer) stripBodySuffix(s string) string {
	for {
		stripped := strings.TrimSpace(n.p.bodySuffix.ReplaceAllString(s, ""))
		if stripped == s {
			return s
		}
		s = stripped
	}
}

func (n *Normalizer) stripMarketing(tokens []string) []string {
	for {
		matched := false
		for _, prefix := range n.p.marketing {
			if len(tokens) < len(prefix) {
				continue
			}
			hit := true
			for i, want := range prefix {
				if strings.ToLower(tokens[i]) != want {
					hit = false
					break
				}
			}
			if hit {
				tokens = tokens[len(prefix):]
				matched = true
				break
			}
		}
		if !matched {
			return tokens
		}
	}
}

func (n *Normalizer) titleToken(tok string) string {
	if n.p.isDrivetrain(strings.ToLower(tok)) {
		return tok
	}
	if strings.Contains(tok, "-") {
		return strings.ToUpper(tok)
	}
	letters := 0
	for _, r := range tok {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters <= 3 {
		return strings.ToUpper(tok)
	}
	return titleCase(tok)
}

// titleCase upper-cases a letter that follows a non-letter and lower-cases
// every other letter, so "4motion" becomes "4Motion".
func titleCase(tok string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range tok {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
