package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/filters"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/report"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/scoring"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/valuation"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no rated listings", fmt.Errorf("analyze: %w", report.ErrNoRatedListings), exitNoRated},
		{"bad range", fmt.Errorf("parse: %w", filters.ErrInvalidRange), exitInvalidArg},
		{"usage", usageErrorf("--make and --model are required"), exitInvalidArg},
		{"other", fmt.Errorf("open database: boom"), exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func testMetadata() listing.Metadata {
	return listing.Metadata{
		Vehicle: listing.Vehicle{Make: "RAM", Model: "1500"},
		Filters: listing.Filters{
			Years:     []string{"2023", "2024"},
			Condition: []string{"Used"},
			MaxMiles:  60000,
			Sort:      "best_deal",
		},
	}
}

func TestSearchFlags_MetadataDefaults(t *testing.T) {
	var sf searchFlags
	s, err := sf.search(testMetadata())
	require.NoError(t, err)
	assert.Equal(t, []int{2023, 2024}, s.Years)
	assert.Equal(t, []string{"Used"}, s.Conditions)
	assert.Equal(t, 60000, s.MaxMiles)
	assert.Equal(t, "best_deal", s.Sort)

	vehicleMake, model, err := sf.vehicle(testMetadata())
	require.NoError(t, err)
	assert.Equal(t, "RAM", vehicleMake)
	assert.Equal(t, "1500", model)
}

func TestSearchFlags_FlagsWin(t *testing.T) {
	sf := searchFlags{
		model: "1500 Classic",
		years: []string{"21-22"},
		price: "$20,000-$40,000",
		sort:  "lowest_price",
	}
	s, err := sf.search(testMetadata())
	require.NoError(t, err)
	assert.Equal(t, []int{2021, 2022}, s.Years)
	assert.Equal(t, 20000, s.MinPrice)
	assert.Equal(t, 40000, s.MaxPrice)
	assert.Equal(t, 60000, s.MaxMiles, "unset flags keep the scraper filters")
	assert.Equal(t, "lowest_price", s.Sort)

	_, model, err := sf.vehicle(testMetadata())
	require.NoError(t, err)
	assert.Equal(t, "1500 Classic", model)
}

func TestSearchFlags_Errors(t *testing.T) {
	_, err := (&searchFlags{price: "40000-20000"}).search(listing.Metadata{})
	assert.ErrorIs(t, err, filters.ErrInvalidRange)
	assert.Equal(t, exitInvalidArg, exitCode(err))

	_, err = (&searchFlags{years: []string{"2024-2022"}}).search(listing.Metadata{})
	assert.ErrorIs(t, err, filters.ErrInvalidRange)

	_, _, err = (&searchFlags{vehicleMake: "RAM"}).vehicle(listing.Metadata{})
	require.Error(t, err)
	assert.Equal(t, exitInvalidArg, exitCode(err))
}

func TestRate(t *testing.T) {
	res, err := rate(rateFlags{price: 32500, fppLocal: 35000, fmrLow: 33000, fmrHigh: 37000})
	require.NoError(t, err)
	assert.Equal(t, scoring.DealGood, res.Deal)
	assert.Equal(t, scoring.ModeRange, res.Mode)
	assert.Equal(t, valuation.SourceFPPLocal, res.PriceSource)
	require.NotNil(t, res.Deviation)
	assert.InDelta(t, -7.142857, *res.Deviation, 1e-4)

	res, err = rate(rateFlags{price: 45000, fppNatl: 43000, msrp: 47000})
	require.NoError(t, err)
	assert.Equal(t, scoring.DealPoor, res.Deal)
	assert.Equal(t, scoring.ModeRatio, res.Mode)
	assert.Equal(t, 43000, res.ComparePrice)
}

func TestRate_Errors(t *testing.T) {
	_, err := rate(rateFlags{fmv: 30000})
	assert.Equal(t, exitInvalidArg, exitCode(err))

	_, err = rate(rateFlags{price: 30000})
	assert.Equal(t, exitInvalidArg, exitCode(err))
}

func TestNormalizeTrims(t *testing.T) {
	got := normalizeTrims([]string{"Laramie Crew Cab 4D 5 1/2 ft", "1500"}, "1500")
	require.Len(t, got, 2)
	assert.Equal(t, "Laramie", got[0].Normalized)
	assert.Equal(t, "Laramie", got[0].Key)
	assert.Equal(t, "", got[1].Normalized)
	assert.Equal(t, "Base", got[1].Key)
}

func TestSummarizeCache(t *testing.T) {
	now := time.Date(2025, time.July, 14, 12, 0, 0, 0, time.UTC)
	doc := pricing.NewDocument()
	doc.ModelSlugs["2024 RAM 1500"] = "1500"
	doc.ModelSlugs["2024 RAM 1500 Classic"] = "1500-classic"

	doc.EntryFor("2024 RAM 1500 Laramie").Merge(&pricing.Entry{
		NatlTimestamp:  pricing.NewTimestamp(now.Add(-time.Hour)),
		LocalTimestamp: pricing.NewTimestamp(now.Add(-time.Hour)),
	})
	doc.EntryFor("2024 RAM 1500 Classic Tradesman").Merge(&pricing.Entry{
		NoFMV:          true,
		NatlTimestamp:  pricing.NewTimestamp(now.Add(-24 * time.Hour)),
		LocalTimestamp: pricing.NewTimestamp(time.Date(2025, time.June, 30, 12, 0, 0, 0, time.UTC)),
	})
	doc.EntryFor("2023 RAM 2500 Base").Merge(&pricing.Entry{SkipReason: "No reference styles for this model year."})

	status := summarizeCache(doc, "", now)
	assert.Equal(t, 3, status.Entries)
	require.Len(t, status.Vehicles, 3)

	assert.Equal(t, "2023 RAM 2500", status.Vehicles[0].Vehicle)
	assert.Equal(t, 1, status.Vehicles[0].Skipped)
	assert.Nil(t, status.Vehicles[0].LastFetch)

	assert.Equal(t, "2024 RAM 1500", status.Vehicles[1].Vehicle)
	assert.Equal(t, "1500", status.Vehicles[1].Slug)
	assert.Equal(t, 1, status.Vehicles[1].NatlFresh)
	assert.Equal(t, 1, status.Vehicles[1].LocalFresh)

	classic := status.Vehicles[2]
	assert.Equal(t, "2024 RAM 1500 Classic", classic.Vehicle)
	assert.Equal(t, 1, classic.NatlFresh)
	assert.Equal(t, 0, classic.LocalFresh, "last month's local value is stale")
	assert.Equal(t, 1, classic.NoFMV)
	require.NotNil(t, classic.LastFetch)
	assert.True(t, classic.LastFetch.Equal(now.Add(-24*time.Hour)))

	filtered := summarizeCache(doc, "2024 ram", now)
	assert.Len(t, filtered.Vehicles, 2)
}

func TestReportFileName(t *testing.T) {
	at := time.Date(2025, time.July, 14, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "deal_report_ram_1500_classic_20250714_090500.json", reportFileName("RAM", "1500  Classic", at))
}

func TestOpenBackend_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Cache.Driver = config.CacheMemory

	b, err := openBackend(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()
	assert.Nil(t, b.runs)

	doc := pricing.NewDocument()
	price := 35000
	doc.EntryFor("2024 RAM 1500 Laramie").Merge(&pricing.Entry{FMV: &price})
	require.NoError(t, b.store.Save(ctx, doc))

	loaded, err := b.store.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded.Entries, "2024 RAM 1500 Laramie")
	assert.Equal(t, 35000, *loaded.Entries["2024 RAM 1500 Laramie"].FMV)
}

func TestOpenBackend_SQLiteSharesConnection(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Cache.Driver = config.CacheSQLite
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "deal.db")
	cfg.Database.RecordRuns = true

	b, err := openBackend(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()

	assert.NotNil(t, b.runs)
	assert.Len(t, b.dbs, 1)
	assert.Equal(t, "sqlite "+cfg.Database.SQLite.Path, describeStore(cfg))
}

func TestDollars(t *testing.T) {
	v, neg := 32500, -1250
	assert.Equal(t, "$32,500", Dollars(&v))
	assert.Equal(t, "-$1,250", Dollars(&neg))
	assert.Equal(t, "—", Dollars(nil))
	assert.Equal(t, "12,000 mi", Miles(&[]int{12000}[0]))
}
