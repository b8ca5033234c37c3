package variant

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/titanous/json5"
)

// Catalog lists reference model variants by year and make:
// {"2024": {"RAM": ["1500", "1500 Classic", "2500"]}}.
type Catalog map[string]map[string][]string

// LoadCatalog reads a catalog file. Comments and trailing commas are allowed.
func LoadCatalog(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open variant catalog: %w", err)
	}
	defer f.Close()
	return DecodeCatalog(f)
}

// DecodeCatalog parses a catalog document.
func DecodeCatalog(r io.Reader) (Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read variant catalog: %w", err)
	}
	var c Catalog
	if err := json5.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse variant catalog: %w", err)
	}
	if c == nil {
		c = Catalog{}
	}
	return c, nil
}

// VariantsByYear returns the variants of make for each requested year.
// Years the catalog does not list are returned in missing, sorted.
func (c Catalog) VariantsByYear(make string, years []string) (byYear map[string][]string, missing []string) {
	byYear = map[string][]string{}
	for _, y := range years {
		v := c[y][make]
		if len(v) == 0 {
			missing = append(missing, y)
			continue
		}
		byYear[y] = v
	}
	sort.Strings(missing)
	return byYear, missing
}
