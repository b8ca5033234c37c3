package listing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawDoc = `{
  "metadata": {
    "vehicle": {"make": "RAM", "model": "1500"},
    "filters": {"condition": ["Used"], "min_price": 20000, "sort": "newest"},
  },
  "listings": [
    {
      "id": 7,
      "vin": "1C6SRFJT5RN123456",
      "title": "2024 RAM 1500 Laramie",
      "year": 2024,
      "trim": "Laramie",
      "condition": "Used",
      "price": "$32,500",
      "mileage": "52,025 mi",
      "listing_url": "https://example.test/ram-1500",
      "specs": {"Fuel Type": "Gasoline", "Trim Version": "Laramie Crew Cab 4x4 5'7\" Box"},
      "additional_docs": {"carfax_url": "https://carfax.test/x", "autocheck_url": "Unavailable", "window_sticker_url": null},
      "warranty": {"overall_status": "Unknown", "coverages": []},
      "price_history": [
        {"date": "Oct 3", "price": 32500, "price_change": -1500, "mileage": 52025, "lowest": true}
      ],
      "market_velocity": {"avg_days_on_market": 40, "this_vehicle_days": 55}
    },
    {
      "title": "2023 RAM 1500 Big Horn",
      "trim": "Big Horn",
      "condition": "Certified",
      "price": "Call for price",
      "mileage": null,
      "listing_url": "https://example.test/ram-1500-hybrid-etorque",
      "specs": {"Trim Version": "not specified"},
      "warranty": {"overall_status": "Active", "coverages": [{"name": "Basic", "time_left": "10 mo"}]},
      "price_history": {},
    },
  ],
}`

func TestDecode(t *testing.T) {
	doc, err := Decode(strings.NewReader(rawDoc))
	require.NoError(t, err)
	require.Len(t, doc.Listings, 2)

	assert.Equal(t, "RAM", doc.Metadata.Vehicle.Make)
	assert.Equal(t, 20000, doc.Metadata.Filters.MinPrice)

	first := doc.Listings[0]
	assert.Equal(t, "7", first.ID)
	assert.Equal(t, 2024, first.Year)
	assert.Equal(t, "RAM", first.Make)
	assert.Equal(t, "1500", first.Model)
	require.NotNil(t, first.Price)
	assert.Equal(t, 32500, *first.Price)
	require.NotNil(t, first.Mileage)
	assert.Equal(t, 52025, *first.Mileage)
	assert.True(t, first.ReportPresent)
	assert.False(t, first.WindowStickerPresent)
	assert.False(t, first.WarrantyInfoPresent)
	require.NotNil(t, first.IsHybrid)
	assert.False(t, *first.IsHybrid)
	assert.Equal(t, "Laramie Crew Cab 4x4 5'7\" Box", first.TrimVersion)
	assert.Equal(t, "Laramie Crew Cab 4x4 5'7\" Box", first.BaseTrim())

	change, ok := first.RecentPriceChange()
	assert.True(t, ok)
	assert.Equal(t, -1500, change)

	delta, ok := first.DaysOnMarketDelta()
	assert.True(t, ok)
	assert.Equal(t, 15, delta)

	second := doc.Listings[1]
	assert.Equal(t, "2", second.ID, "synthetic id is the sequence number")
	assert.Equal(t, 2023, second.Year, "year falls back to the title prefix")
	assert.Equal(t, ConditionCertified, second.Condition)
	assert.Nil(t, second.Mileage)
	assert.Equal(t, "", second.TrimVersion)
	assert.Equal(t, "Big Horn", second.BaseTrim())
	assert.True(t, second.WarrantyInfoPresent)
	require.Len(t, second.Warranty, 1)
	assert.Equal(t, "10 mo", second.Warranty[0].TimeLeft)
	assert.Empty(t, second.PriceHistory)
	require.NotNil(t, second.IsHybrid)
	assert.True(t, *second.IsHybrid, "hybrid detected from the listing url")
	assert.False(t, *second.IsPlugin)
}

func TestDecode_MissingYear(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"listings": [{"title": "RAM 1500"}]}`))
	require.Error(t, err)
}

func TestToInt(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected *int
	}{
		{"money string", "$32,500", intPtr(32500)},
		{"mileage string", "52,025 mi", intPtr(52025)},
		{"float", 1234.0, intPtr(1234)},
		{"no digits", "Call for price", nil},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToInt(tt.input))
		})
	}
}

func TestIsTrimVersionValid(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"Laramie", true},
		{"", false},
		{"-", false},
		{"Not Specified", false},
		{"N/A", false},
		{"--", false},
		{"4x4", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTrimVersionValid(tt.input))
		})
	}
}

func TestParseCondition(t *testing.T) {
	assert.Equal(t, ConditionNew, ParseCondition("new"))
	assert.Equal(t, ConditionCertified, ParseCondition("Certified"))
	assert.Equal(t, ConditionUsed, ParseCondition("Used"))
	assert.Equal(t, ConditionUsed, ParseCondition(""))
}

func intPtr(i int) *int { return &i }
