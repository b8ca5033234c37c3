// Package trim canonicalizes free-text trim names from listings and from the
// pricing reference so both sides can be joined on one key.
package trim

import (
	"regexp"
)

// Patterns is the compiled, read-only pattern table used by normalization and
// trim profiling. Obtain it with DefaultPatterns; it has no setters.
type Patterns struct {
	bodySuffix   *regexp.Regexp
	bodyStyle    *regexp.Regexp
	displacement *regexp.Regexp
	engine       *regexp.Regexp
	bedLength    *regexp.Regexp
	wordToken    *regexp.Regexp

	baseTokens    map[string]struct{}
	engineMarkers map[string]string
	drivetrains   []string
	bodyAliases   map[string]string
	marketing     [][]string
}

const bodyStyles = `Sport Utility Vehicle|Sport Utility|SUV|SuperCrew Cab|SuperCab|Crew Cab|Extended Cab|Double Cab|Quad Cab|Regular Cab|Access Cab|King Cab|Sedan|Coupe|Hatchback|Convertible|Minivan|Van|Wagon|Pickup`

const bedLength = `[3-9](?:[.\-]?\d/\d|\s\d/\d)?(?:\.\d+)?\s?(?:ft|'|’)(?:\s?\d{1,2}")?`

var defaultPatterns = compilePatterns()

// DefaultPatterns returns the process-wide pattern table.
func DefaultPatterns() *Patterns {
	return defaultPatterns
}

func compilePatterns() *Patterns {
	return &Patterns{
		bodySuffix: regexp.MustCompile(
			`(?i)(?:^|\s+)(?:` + bodyStyles + `)\s+\dD(?:\s+` + bedLength + `(?:\s+(?:Bed|Box))?)?\s*$`),
		bodyStyle:    regexp.MustCompile(`(?i)\b(` + bodyStyles + `)\s+(\dD)\b`),
		displacement: regexp.MustCompile(`(?i)^\d+(?:\.\d+)?[LS]?$`),
		engine:       regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)(?:L|cc)\b`),
		bedLength:    regexp.MustCompile(`(?i)\b` + bedLength),
		wordToken:    regexp.MustCompile(`[A-Za-z0-9]+`),

		baseTokens: map[string]struct{}{
			"base":     {},
			"standard": {},
			"std":      {},
		},
		engineMarkers: map[string]string{
			"turbo":   "Turbo",
			"hybrid":  "Hybrid",
			"phev":    "PHEV",
			"plug-in": "Plug-In",
		},
		drivetrains: []string{"4x4", "4wd", "2wd", "4xe", "awd", "rwd"},
		bodyAliases: map[string]string{
			"suv 4d": "Sport Utility Vehicle 4D",
		},
		marketing: [][]string{
			{"the", "all", "new"},
			{"all", "new"},
			{"all-new"},
		},
	}
}

func (p *Patterns) isDrivetrain(token string) bool {
	for _, dt := range p.drivetrains {
		if token == dt {
			return true
		}
	}
	return false
}
