package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
)

func TestNormalizeYears(t *testing.T) {
	tests := []struct {
		name     string
		raw      []string
		expected []int
	}{
		{"four digit", []string{"2024"}, []int{2024}},
		{"two digit 20xx", []string{"24"}, []int{2024}},
		{"two digit 19xx", []string{"98"}, []int{1998}},
		{"boundary 50", []string{"50", "49"}, []int{1950, 2049}},
		{"range", []string{"2021-2023"}, []int{2021, 2022, 2023}},
		{"short range", []string{"22-24"}, []int{2022, 2023, 2024}},
		{"comma separated with dupes", []string{"2024,23", "2023-2024"}, []int{2023, 2024}},
		{"spaces", []string{" 2022 - 2023 "}, []int{2022, 2023}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeYears(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNormalizeYears_Errors(t *testing.T) {
	for _, raw := range [][]string{
		{"2024-2021"},
		{"abc"},
		{""},
		nil,
		{"2020-21-22"},
	} {
		_, err := NormalizeYears(raw)
		assert.ErrorIs(t, err, ErrInvalidRange, "%q", raw)
	}
}

func TestFormatYears(t *testing.T) {
	assert.Equal(t, "2017, 2020, 2023–2025", FormatYears([]int{2025, 2017, 2023, 2020, 2024}))
	assert.Equal(t, "2024", FormatYears([]int{2024, 2024}))
	assert.Equal(t, "", FormatYears(nil))
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		raw    string
		lo, hi int
	}{
		{"20000-35000", 20000, 35000},
		{"$20,000 - $35,000", 20000, 35000},
		{"20000-", 20000, 0},
		{"-35000", 0, 35000},
		{"15000", 15000, 0},
		{"30,000 mi", 30000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			lo, hi, err := ParseRange("price", tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func TestParseRange_Errors(t *testing.T) {
	for _, raw := range []string{"", "-", "abc", "1-2-3", "35000-20000"} {
		t.Run(raw, func(t *testing.T) {
			_, _, err := ParseRange("miles", raw)
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

func TestSearch(t *testing.T) {
	s := Search{Years: []int{2023, 2024}}
	assert.Equal(t, []string{"2023", "2024"}, s.YearStrings())
	assert.False(t, s.HasPriceOrMileage())
	s.MaxMiles = 50000
	assert.True(t, s.HasPriceOrMileage())
}

func TestSearch_Matches(t *testing.T) {
	price, miles := 31000, 42000
	l := listing.Listing{Year: 2023, Condition: listing.ConditionCertified, Price: &price, Mileage: &miles}

	tests := []struct {
		name   string
		search Search
		want   bool
	}{
		{"empty search", Search{}, true},
		{"year listed", Search{Years: []int{2022, 2023}}, true},
		{"year not listed", Search{Years: []int{2024}}, false},
		{"condition alias", Search{Conditions: []string{"CPO"}}, true},
		{"other condition", Search{Conditions: []string{"New", "Used"}}, false},
		{"inside price range", Search{MinPrice: 30000, MaxPrice: 31000}, true},
		{"below min price", Search{MinPrice: 32000}, false},
		{"above max miles", Search{MaxMiles: 40000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.search.Matches(l))
		})
	}

	l.Price, l.Mileage = nil, nil
	assert.True(t, Search{MinPrice: 50000, MaxMiles: 1000}.Matches(l), "unknown price and mileage pass")
}
