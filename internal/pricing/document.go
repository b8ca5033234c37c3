// Package pricing holds the reference pricing cache: the persisted document,
// per-entry freshness rules and the coverage check that decides whether a
// fetch can be skipped.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a document has not been persisted yet.
var ErrNotFound = errors.New("pricing document not found")

// Timestamp is a freshness timestamp. It reads both RFC 3339 and offset-less
// ISO 8601 values (interpreted as local time) so caches written by earlier
// tooling stay readable.
type Timestamp struct {
	time.Time
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

// MarshalJSON writes RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts any of the supported ISO layouts.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range isoLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// Entry is one cached valuation, keyed by canonical "{year} {make} {model} {trim}".
// Nil fields are unknown. Entries are merged field by field, never replaced.
type Entry struct {
	VisorTrim string  `json:"visor_trim,omitempty"`
	KBBTrim   *string `json:"kbb_trim,omitempty"`
	Model     *string `json:"model,omitempty"`

	MSRP     *int `json:"msrp,omitempty"`
	FPPNatl  *int `json:"fpp_natl,omitempty"`
	FMRLow   *int `json:"fmr_low,omitempty"`
	FMRHigh  *int `json:"fmr_high,omitempty"`
	FPPLocal *int `json:"fpp_local,omitempty"`
	FMV      *int `json:"fmv,omitempty"`

	// NoFMV records that the reference source has no resale value for this
	// trim. It is permanent data, not a failed fetch.
	NoFMV bool `json:"no_fmv,omitempty"`

	NatlSource  *string `json:"natl_source,omitempty"`
	LocalSource *string `json:"local_source,omitempty"`

	NatlTimestamp    *Timestamp `json:"natl_timestamp,omitempty"`
	LocalTimestamp   *Timestamp `json:"local_timestamp,omitempty"`
	PricingTimestamp *Timestamp `json:"pricing_timestamp,omitempty"`

	SkipReason string `json:"skip_reason,omitempty"`

	// skipCleared marks a skip reason removed since load, so a merge onto the
	// stored entry removes it too.
	skipCleared bool
}

// ClearSkipReason removes the skip reason here and, on save, from the stored
// entry.
func (e *Entry) ClearSkipReason() {
	e.SkipReason = ""
	e.skipCleared = true
}

// Merge copies every field set on o onto e, leaving the rest untouched.
func (e *Entry) Merge(o *Entry) {
	if o == nil {
		return
	}
	if o.VisorTrim != "" {
		e.VisorTrim = o.VisorTrim
	}
	mergeString(&e.KBBTrim, o.KBBTrim)
	mergeString(&e.Model, o.Model)
	mergeInt(&e.MSRP, o.MSRP)
	mergeInt(&e.FPPNatl, o.FPPNatl)
	mergeInt(&e.FMRLow, o.FMRLow)
	mergeInt(&e.FMRHigh, o.FMRHigh)
	mergeInt(&e.FPPLocal, o.FPPLocal)
	switch {
	case o.NoFMV:
		e.FMV = nil
		e.NoFMV = true
	case o.FMV != nil:
		v := *o.FMV
		e.FMV = &v
		e.NoFMV = false
	}
	mergeString(&e.NatlSource, o.NatlSource)
	mergeString(&e.LocalSource, o.LocalSource)
	mergeTime(&e.NatlTimestamp, o.NatlTimestamp)
	mergeTime(&e.LocalTimestamp, o.LocalTimestamp)
	mergeTime(&e.PricingTimestamp, o.PricingTimestamp)
	switch {
	case o.SkipReason != "":
		e.SkipReason = o.SkipReason
		e.skipCleared = false
	case o.skipCleared:
		e.ClearSkipReason()
	}
}

func mergeInt(dst **int, src *int) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeString(dst **string, src *string) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeTime(dst **Timestamp, src *Timestamp) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Document is the persisted cache: model slugs per "{year} {make} {model}",
// reference trim options per "{make} {model}" and year, and valuation entries.
type Document struct {
	ModelSlugs  map[string]string              `json:"model_slugs"`
	TrimOptions map[string]map[string][]string `json:"trim_options"`
	Entries     map[string]*Entry              `json:"entries"`
}

// NewDocument returns an empty document with all maps allocated.
func NewDocument() *Document {
	return &Document{
		ModelSlugs:  map[string]string{},
		TrimOptions: map[string]map[string][]string{},
		Entries:     map[string]*Entry{},
	}
}

// ensure allocates nil maps, e.g. after decoding a partial document.
func (d *Document) ensure() {
	if d.ModelSlugs == nil {
		d.ModelSlugs = map[string]string{}
	}
	if d.TrimOptions == nil {
		d.TrimOptions = map[string]map[string][]string{}
	}
	if d.Entries == nil {
		d.Entries = map[string]*Entry{}
	}
}

// EntryFor returns the entry for key, creating an empty one if missing.
func (d *Document) EntryFor(key string) *Entry {
	d.ensure()
	e, ok := d.Entries[key]
	if !ok || e == nil {
		e = &Entry{VisorTrim: key}
		d.Entries[key] = e
	}
	return e
}

// SetTrimOptions records the reference trims offered for a make/model year.
// An empty list records that the source has no styles for the year.
func (d *Document) SetTrimOptions(makeModel, year string, trims []string) {
	d.ensure()
	byYear, ok := d.TrimOptions[makeModel]
	if !ok {
		byYear = map[string][]string{}
		d.TrimOptions[makeModel] = byYear
	}
	byYear[year] = append([]string{}, trims...)
}

// Merge overlays o onto d. Slugs and trim options replace per key; entries
// merge per field.
func (d *Document) Merge(o *Document) {
	if o == nil {
		return
	}
	d.ensure()
	for k, v := range o.ModelSlugs {
		d.ModelSlugs[k] = v
	}
	for mm, years := range o.TrimOptions {
		for y, trims := range years {
			d.SetTrimOptions(mm, y, trims)
		}
	}
	for k, e := range o.Entries {
		d.EntryFor(k).Merge(e)
	}
}

// RelevantEntries returns the entries whose key starts with the
// "{year} {make} {model}" prefix. It never mutates the document.
func (d *Document) RelevantEntries(year, make, model string) map[string]*Entry {
	prefix := VehicleKey(year, make, model)
	out := map[string]*Entry{}
	for k, e := range d.Entries {
		if k == prefix || strings.HasPrefix(k, prefix+" ") {
			out[k] = e
		}
	}
	return out
}

// VehicleKey joins year, make and model.
func VehicleKey(year, make, model string) string {
	return strings.Join(strings.Fields(year+" "+make+" "+model), " ")
}

// CacheKey builds the canonical "{year} {make} {model} {trim}" key.
func CacheKey(year, make, model, trim string) string {
	return strings.Join(strings.Fields(year+" "+make+" "+model+" "+trim), " ")
}

// MakeModelKey joins make and model.
func MakeModelKey(make, model string) string {
	return strings.Join(strings.Fields(make+" "+model), " ")
}
