// Package history derives title and damage facts from a parsed vehicle
// history report. Parsing the report document itself happens upstream; this
// package only interprets the extracted sections.
package history

import (
	"regexp"
	"strconv"
	"strings"
)

// StructuralStatus classifies reported structural damage.
type StructuralStatus string

const (
	StructuralNone      StructuralStatus = "none"
	StructuralPossible  StructuralStatus = "possible"
	StructuralConfirmed StructuralStatus = "confirmed"
)

// DamageSeverity is the severity of a single accident/damage event.
type DamageSeverity string

const (
	SeverityMinor    DamageSeverity = "minor"
	SeverityModerate DamageSeverity = "moderate"
	SeveritySevere   DamageSeverity = "severe"
)

const (
	noStructuralText       = "No structural damage reported to CARFAX."
	possibleStructuralText = "CARFAX recommends that you have this vehicle inspected by a collision repair specialist."
	noRecallText           = "No open recalls reported to CARFAX."
)

var (
	reportDateRe     = regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`)
	activeWarrantyRe = regexp.MustCompile(`estimated to have\s+(\d+)\s+months?\s+or\s+([\d,]+)\s+miles?\s+remaining`)
	warrantyMonthsRe = regexp.MustCompile(`(\d+)\s+month`)
	warrantyMilesRe  = regexp.MustCompile(`([\d,]+)\s+mile`)
	nonDigitRe       = regexp.MustCompile(`\D`)
)

// DamageEvent is one entry of the accident/damage section, in report order.
type DamageEvent struct {
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

// Record is one row of the detailed history section.
type Record struct {
	Date     string `json:"date"`
	Mileage  string `json:"mileage"`
	Source   string `json:"source"`
	Comments string `json:"comments"`
}

// Report holds the extracted sections of a vehicle history report.
type Report struct {
	Summary           map[string]string `json:"summary"`
	AccidentDamage    []DamageEvent     `json:"accident_damage"`
	AdditionalHistory map[string]string `json:"additional_history"`
	DetailedHistory   []Record          `json:"detailed_history"`
}

func (r *Report) accidentStatus() string {
	return strings.ToLower(r.Summary["accident_status"])
}

// IsBranded reports whether the title has been branded.
func (r *Report) IsBranded() bool {
	if strings.Contains(r.accidentStatus(), "branded title") {
		return true
	}
	for _, rec := range r.DetailedHistory {
		if strings.Contains(rec.Comments, "TITLE/CERTIFICATE ISSUED") || strings.Contains(rec.Comments, "TITLE ISSUED") {
			return true
		}
	}
	return false
}

// HasAccident reports whether any accident was reported.
func (r *Report) HasAccident() bool {
	// the trailing colon separates "accident reported:" from "no accidents reported"
	if strings.Contains(r.accidentStatus(), "accident reported:") {
		return true
	}
	for _, ev := range r.AccidentDamage {
		if strings.Contains(strings.ToLower(ev.Summary), "accident reported") {
			return true
		}
	}
	return false
}

// AccidentCount counts accident/damage events that carry a report line.
func (r *Report) AccidentCount() int {
	count := 0
	for _, ev := range r.AccidentDamage {
		if strings.Contains(strings.ToLower(ev.Summary), "reported:") {
			count++
		}
	}
	return count
}

// HasDamage reports whether any damage was recorded.
func (r *Report) HasDamage() bool {
	status := r.accidentStatus()
	for _, d := range []string{"minor damage", "moderate damage", "severe damage"} {
		if strings.Contains(status, d) {
			return true
		}
	}
	for _, ev := range r.AccidentDamage {
		if strings.Contains(strings.ToLower(ev.Summary), "damage") {
			return true
		}
	}
	return reportDateRe.MatchString(r.AdditionalHistory["Accident / Damage"])
}

// DamageSeverities returns one severity per damage event in report order.
// Events without an explicit severity count as minor.
func (r *Report) DamageSeverities() []DamageSeverity {
	out := make([]DamageSeverity, 0, len(r.AccidentDamage))
	for _, ev := range r.AccidentDamage {
		s := strings.ToLower(ev.Summary)
		switch {
		case strings.Contains(s, "minor damage"):
			out = append(out, SeverityMinor)
		case strings.Contains(s, "moderate damage"):
			out = append(out, SeverityModerate)
		case strings.Contains(s, "severe damage"):
			out = append(out, SeveritySevere)
		default:
			out = append(out, SeverityMinor)
		}
	}
	return out
}

// IsTotalLoss reports whether the vehicle was declared a total loss.
func (r *Report) IsTotalLoss() bool {
	if strings.Contains(r.accidentStatus(), "total loss") {
		return true
	}
	for _, ev := range r.AccidentDamage {
		if strings.Contains(strings.ToLower(ev.Summary), "total loss vehicle") {
			return true
		}
	}
	if reportDateRe.MatchString(r.AdditionalHistory["Total Loss"]) {
		return true
	}
	for _, rec := range r.DetailedHistory {
		if strings.Contains(rec.Comments, "TOTAL LOSS VEHICLE") {
			return true
		}
	}
	return false
}

// StructuralStatus classifies the structural damage line. A missing line is
// treated as no structural damage.
func (r *Report) StructuralStatus() StructuralStatus {
	status := strings.TrimSpace(r.AdditionalHistory["Structural Damage"])
	switch status {
	case "", noStructuralText:
		return StructuralNone
	case possibleStructuralText:
		return StructuralPossible
	default:
		return StructuralConfirmed
	}
}

// AirbagsDeployed reports a dated airbag deployment entry.
func (r *Report) AirbagsDeployed() bool {
	if v, ok := r.AdditionalHistory["Airbag Deployment"]; ok {
		return reportDateRe.MatchString(v)
	}
	return reportDateRe.MatchString(r.AdditionalHistory["Total Loss"])
}

// HasOpenRecall reports an open manufacturer recall.
func (r *Report) HasOpenRecall() bool {
	status, ok := r.AdditionalHistory["Manufacturer Recall"]
	return ok && strings.TrimSpace(status) != noRecallText
}

// HasOdometerProblem reports a title or rollback problem on the odometer check.
func (r *Report) HasOdometerProblem() bool {
	text := r.AdditionalHistory["Odometer Check"]
	return text == "DMV title problems reported." || text == "Potential odometer rollback indicated."
}

// RemainingWarranty returns the basic warranty remainder in months and miles.
// Damaged or accident vehicles report no remaining warranty.
func (r *Report) RemainingWarranty() (months, miles int) {
	if r.HasAccident() || r.HasDamage() {
		return 0, 0
	}
	basic := strings.ToLower(r.AdditionalHistory["Basic Warranty"])
	if !activeWarrantyRe.MatchString(basic) {
		return 0, 0
	}
	if m := warrantyMonthsRe.FindStringSubmatch(basic); m != nil {
		months, _ = strconv.Atoi(m[1])
	}
	if m := warrantyMilesRe.FindStringSubmatch(basic); m != nil {
		miles, _ = strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	}
	return months, miles
}

// OwnerCount parses the owners summary line. Zero when absent, -1 when
// present but unparsable.
func (r *Report) OwnerCount() int {
	return summaryCount(r.Summary["owners"])
}

// ServiceRecordCount parses the repairs summary line.
func (r *Report) ServiceRecordCount() int {
	return summaryCount(r.Summary["repairs"])
}

func summaryCount(text string) int {
	if text == "" {
		return 0
	}
	n, err := strconv.Atoi(nonDigitRe.ReplaceAllString(text, ""))
	if err != nil {
		return -1
	}
	return n
}
