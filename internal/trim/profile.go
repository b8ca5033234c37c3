package trim

import (
	"strings"
)

// Profile splits a full trim/style string into the attributes that tell
// otherwise similar reference styles apart.
type Profile struct {
	Engine     string
	BedLength  string
	Drivetrain string
	BodyStyle  string
	Tokens     []string
	FullTrim   string
}

// NewProfile parses raw with the default pattern table.
func NewProfile(raw string) Profile {
	return DefaultPatterns().Profile(raw)
}

// Profile parses raw into its engine, bed, body and drivetrain attributes
// plus the remaining lower-cased tokens.
func (p *Patterns) Profile(raw string) Profile {
	prof := Profile{FullTrim: raw}

	if m := p.engine.FindString(raw); m != "" {
		prof.Engine = strings.TrimSpace(m)
		raw = strings.Replace(raw, m, "", 1)
	}
	if m := p.bedLength.FindString(raw); m != "" {
		prof.BedLength = strings.TrimSpace(m)
		raw = strings.Replace(raw, m, "", 1)
	}
	if m := p.bodyStyle.FindString(raw); m != "" {
		raw = strings.Replace(raw, m, "", 1)
		body := strings.TrimSpace(m)
		if alias, ok := p.bodyAliases[strings.ToLower(body)]; ok {
			body = alias
		}
		prof.BodyStyle = body
	}

	fields := strings.Fields(strings.ToLower(raw))
	for _, dt := range p.drivetrains {
		if containsToken(fields, dt) {
			prof.Drivetrain = dt
			fields = removeToken(fields, dt)
			break
		}
	}

	prof.Tokens = fields
	return prof
}

// compareString joins the attributes selected for comparison in a fixed
// order: engine, trim tokens, drivetrain, body, bed.
func (pr Profile) compareString(f compareFlags) string {
	parts := make([]string, 0, len(pr.Tokens)+4)
	if f.engine && pr.Engine != "" {
		parts = append(parts, pr.Engine)
	}
	parts = append(parts, pr.Tokens...)
	if f.drivetrain && pr.Drivetrain != "" {
		parts = append(parts, pr.Drivetrain)
	}
	if f.body && pr.BodyStyle != "" {
		parts = append(parts, pr.BodyStyle)
	}
	if f.bed && pr.BedLength != "" {
		parts = append(parts, pr.BedLength)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func containsToken(tokens []string, tok string) bool {
	for _, t := range tokens {
		if t == tok {
			return true
		}
	}
	return false
}

func removeToken(tokens []string, tok string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if t != tok {
			out = append(out, t)
		}
	}
	return out
}
