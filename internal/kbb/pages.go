package kbb

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Style is one reference trim/style name.
type Style struct {
	Name string `json:"name"`
}

// BodyStyle groups the styles offered for one body style.
type BodyStyle struct {
	Name  string  `json:"name"`
	Trims []Style `json:"trims"`
}

// StylesPayload is the part of a styles page the cache needs.
type StylesPayload struct {
	BodyStyles []BodyStyle `json:"bodyStyles"`
}

// TrimNames lists every style name in page order.
func (p *StylesPayload) TrimNames() []string {
	var out []string
	for _, bs := range p.BodyStyles {
		for _, t := range bs.Trims {
			if name := strings.TrimSpace(t.Name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

// Groups returns the style names per body style, for base-trim picking.
func (p *StylesPayload) Groups() [][]string {
	out := make([][]string, 0, len(p.BodyStyles))
	for _, bs := range p.BodyStyles {
		var names []string
		for _, t := range bs.Trims {
			if name := strings.TrimSpace(t.Name); name != "" {
				names = append(names, name)
			}
		}
		out = append(out, names)
	}
	return out
}

// FindReferenceStyles locates the body styles list inside a page's embedded
// JSON state. The list may sit at any depth, so the first non-empty
// "bodyStyles" array found in key order wins.
func FindReferenceStyles(raw []byte) (*StylesPayload, bool) {
	var root interface{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, false
	}
	found, ok := findKey(root, "bodyStyles")
	if !ok {
		return nil, false
	}
	encoded, err := json.Marshal(found)
	if err != nil {
		return nil, false
	}
	var styles []BodyStyle
	if err := json.Unmarshal(encoded, &styles); err != nil {
		return nil, false
	}
	return &StylesPayload{BodyStyles: styles}, true
}

func findKey(node interface{}, key string) (interface{}, bool) {
	switch v := node.(type) {
	case map[string]interface{}:
		if list, ok := v[key].([]interface{}); ok && len(list) > 0 {
			return list, true
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if found, ok := findKey(v[k], key); ok {
				return found, true
			}
		}
	case []interface{}:
		for _, item := range v {
			if found, ok := findKey(item, key); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// ParseStylesPage reads the styles payload from the page's __NEXT_DATA__ script.
func ParseStylesPage(doc *goquery.Document) (*StylesPayload, error) {
	script := doc.Find("script#__NEXT_DATA__").First()
	if script.Length() == 0 {
		return nil, fmt.Errorf("%w: styles page has no embedded state", ErrNoData)
	}
	payload, ok := FindReferenceStyles([]byte(script.Text()))
	if !ok || len(payload.TrimNames()) == 0 {
		return nil, fmt.Errorf("%w: styles page lists no styles", ErrNoData)
	}
	return payload, nil
}

// PricingRow is one row of a model year's pricing table. Nil prices were
// not shown.
type PricingRow struct {
	Trim string
	MSRP *int
	FPP  *int
}

// ParsePricingTable reads trim, MSRP and fair purchase price from each
// table row that has at least three cells.
func ParsePricingTable(doc *goquery.Document) []PricingRow {
	var rows []PricingRow
	doc.Find("table tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 3 {
			cells = tr.Find("div")
		}
		if cells.Length() < 3 {
			return
		}
		name := cleanText(cells.Eq(0).Text())
		if name == "" {
			return
		}
		rows = append(rows, PricingRow{
			Trim: name,
			MSRP: MoneyToInt(cells.Eq(1).Text()),
			FPP:  MoneyToInt(cells.Eq(2).Text()),
		})
	})
	return rows
}

var resalePattern = regexp.MustCompile(`current resale value of \$([\d,]+)`)

// ParseResaleValue finds the resale value sentence. ErrNoData means the
// page has no value for this style.
func ParseResaleValue(doc *goquery.Document) (int, error) {
	m := resalePattern.FindStringSubmatch(cleanText(doc.Text()))
	if m == nil {
		return 0, ErrNoData
	}
	v := MoneyToInt(m[1])
	if v == nil {
		return 0, ErrNoData
	}
	return *v, nil
}

// LocalPrices are the zip-code specific values of one style.
type LocalPrices struct {
	FPP       *int
	RangeLow  *int
	RangeHigh *int
}

var (
	localFPPPattern   = regexp.MustCompile(`(?i)fair purchase price[^$\d]{0,40}\$([\d,]+)`)
	localRangePattern = regexp.MustCompile(`(?i)fair market range[^$\d]{0,40}\$([\d,]+)\s*(?:-|–|to)\s*\$([\d,]+)`)
)

// ParseLocalPricing finds the local fair purchase price and fair market
// range. A page with neither yields ErrNoData.
func ParseLocalPricing(doc *goquery.Document) (LocalPrices, error) {
	text := cleanText(doc.Text())
	var lp LocalPrices
	if m := localFPPPattern.FindStringSubmatch(text); m != nil {
		lp.FPP = MoneyToInt(m[1])
	}
	if m := localRangePattern.FindStringSubmatch(text); m != nil {
		lp.RangeLow = MoneyToInt(m[1])
		lp.RangeHigh = MoneyToInt(m[2])
	}
	if lp.FPP == nil && lp.RangeLow == nil {
		return lp, ErrNoData
	}
	return lp, nil
}

var moneyPattern = regexp.MustCompile(`\d[\d,]*`)

// MoneyToInt reads the first number in a price label such as "$32,500".
func MoneyToInt(s string) *int {
	m := moneyPattern.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return nil
	}
	return &v
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
