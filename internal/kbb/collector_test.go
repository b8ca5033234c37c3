package kbb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int

	slug      string
	slugErr   error
	styles    *StylesPayload
	stylesErr error
	rows      []PricingRow
	rowsErr   error
	resale    map[string]int
	resaleErr map[string]error
	local     map[string]LocalPrices
	localErr  map[string]error
}

func (f *fakeFetcher) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

func (f *fakeFetcher) calledTimes(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeFetcher) ModelSlug(ctx context.Context, vins []string) (string, error) {
	f.count("slug")
	return f.slug, f.slugErr
}

func (f *fakeFetcher) StylesPage(ctx context.Context, vehicleMake, slug, year string) (*StylesPayload, string, error) {
	f.count("styles")
	return f.styles, "https://example.test/styles", f.stylesErr
}

func (f *fakeFetcher) PricingTable(ctx context.Context, vehicleMake, slug, year string) ([]PricingRow, string, error) {
	f.count("table")
	return f.rows, "https://example.test/" + slug + "/" + year, f.rowsErr
}

func (f *fakeFetcher) ResaleValue(ctx context.Context, vehicleMake, slug, year, style string) (int, string, error) {
	f.count("resale")
	if err := f.resaleErr[style]; err != nil {
		return 0, "", err
	}
	return f.resale[style], "https://example.test/resale/" + URLSafe(style), nil
}

func (f *fakeFetcher) LocalPricing(ctx context.Context, vehicleMake, slug, year, style string) (LocalPrices, string, error) {
	f.count("local")
	if err := f.localErr[style]; err != nil {
		return LocalPrices{}, "", err
	}
	return f.local[style], "https://example.test/local/" + URLSafe(style), nil
}

func intPtr(v int) *int { return &v }

var collectNow = time.Date(2025, time.July, 14, 10, 0, 0, 0, time.UTC)

func ramFetcher() *fakeFetcher {
	return &fakeFetcher{
		slug: "1500",
		styles: &StylesPayload{BodyStyles: []BodyStyle{{
			Name:  "Crew Cab",
			Trims: []Style{{Name: "Crew Cab 4D"}, {Name: "Big Horn Crew Cab 4D"}, {Name: "Laramie Crew Cab 4D"}},
		}}},
		rows: []PricingRow{
			{Trim: "Crew Cab 4D", MSRP: intPtr(40000), FPP: intPtr(38000)},
			{Trim: "Big Horn Crew Cab 4D", MSRP: intPtr(45000), FPP: intPtr(43000)},
			{Trim: "Laramie Crew Cab 4D", MSRP: intPtr(55000), FPP: intPtr(52000)},
			{Trim: "TRX Crew Cab 4D", MSRP: intPtr(90000), FPP: intPtr(88000)},
		},
		resale: map[string]int{
			"Laramie Crew Cab 4D": 50000,
			"Crew Cab 4D":         36000,
		},
		resaleErr: map[string]error{
			"Big Horn Crew Cab 4D": ErrNoData,
		},
		local: map[string]LocalPrices{
			"Laramie Crew Cab 4D": {FPP: intPtr(51000), RangeLow: intPtr(49000), RangeHigh: intPtr(53000)},
		},
		localErr: map[string]error{
			"Big Horn Crew Cab 4D": ErrNoData,
			"Crew Cab 4D":          errors.New("connection reset by peer"),
		},
	}
}

func ramRequest() Request {
	return Request{
		Make:  "RAM",
		Model: "1500",
		Keys:  map[string][]string{"2024": {"Laramie", "Big Horn", "Base", "Rebel", "Laramie"}},
		VINs:  []string{"1C6SRFJT5PN123456"},
	}
}

func newTestCollector(f Fetcher) *Collector {
	return NewCollector(f, nil, nil, CollectorConfig{Concurrency: 2, Now: func() time.Time { return collectNow }})
}

func TestCollector_Collect(t *testing.T) {
	f := ramFetcher()
	doc := pricing.NewDocument()

	var progress []int
	c := newTestCollector(f)
	c.cfg.OnProgress = func(done, total int) {
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	}

	res, err := c.Collect(context.Background(), ramRequest(), doc)
	require.NoError(t, err)

	assert.Equal(t, "1500", res.Slug)
	assert.Equal(t, 1, res.StylePages)
	assert.Equal(t, 1, res.PriceTables)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.NoData)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"2024 RAM 1500 Rebel"}, res.Unmatched)
	assert.ElementsMatch(t, []int{1, 2, 3}, progress)

	assert.Equal(t, "1500", doc.ModelSlugs["2024 RAM 1500"])
	assert.Equal(t, []string{"Crew Cab 4D", "Big Horn Crew Cab 4D", "Laramie Crew Cab 4D"}, doc.TrimOptions["RAM 1500"]["2024"])

	laramie := doc.Entries["2024 RAM 1500 Laramie"]
	require.NotNil(t, laramie)
	assert.Equal(t, "2024 RAM 1500 Laramie Crew Cab 4D", *laramie.KBBTrim)
	assert.Equal(t, "1500", *laramie.Model)
	assert.Equal(t, 55000, *laramie.MSRP)
	assert.Equal(t, 52000, *laramie.FPPNatl)
	assert.Equal(t, 50000, *laramie.FMV)
	assert.Equal(t, 51000, *laramie.FPPLocal)
	assert.Equal(t, 49000, *laramie.FMRLow)
	assert.Equal(t, 53000, *laramie.FMRHigh)
	assert.Equal(t, "https://example.test/1500/2024", *laramie.NatlSource)
	assert.True(t, pricing.IsEntryFresh(laramie, collectNow))

	bigHorn := doc.Entries["2024 RAM 1500 Big Horn"]
	require.NotNil(t, bigHorn)
	assert.True(t, bigHorn.NoFMV, "missing resale value is recorded")
	assert.Nil(t, bigHorn.FMV)
	assert.Nil(t, bigHorn.FPPLocal)
	assert.NotNil(t, bigHorn.LocalTimestamp)

	base := doc.Entries["2024 RAM 1500 Base"]
	require.NotNil(t, base)
	assert.Equal(t, "2024 RAM 1500 Crew Cab 4D", *base.KBBTrim)
	assert.Equal(t, 40000, *base.MSRP)
	assert.Nil(t, base.FMV, "failed fetches are not cached")
	assert.False(t, base.NoFMV)
	assert.Nil(t, base.LocalTimestamp)

	rebel := doc.Entries["2024 RAM 1500 Rebel"]
	require.NotNil(t, rebel)
	assert.Equal(t, ReasonNoMatch, rebel.SkipReason)
	assert.True(t, pricing.IsEntryFresh(rebel, collectNow), "unmatched trims are not refetched this month")

	assert.NotContains(t, doc.Entries, "2024 RAM 1500 TRX", "table rows without a listing trim are ignored")
}

func TestCollector_SecondRunOnlyFetchesWhatIsMissing(t *testing.T) {
	f := ramFetcher()
	doc := pricing.NewDocument()
	c := newTestCollector(f)

	_, err := c.Collect(context.Background(), ramRequest(), doc)
	require.NoError(t, err)

	delete(f.localErr, "Crew Cab 4D")
	f.local["Crew Cab 4D"] = LocalPrices{FPP: intPtr(37000)}

	res, err := c.Collect(context.Background(), ramRequest(), doc)
	require.NoError(t, err)

	assert.Equal(t, 1, f.calledTimes("slug"))
	assert.Equal(t, 1, f.calledTimes("styles"))
	assert.Equal(t, 1, f.calledTimes("table"))
	assert.Equal(t, 2, res.Fresh)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 0, res.Failed)

	base := doc.Entries["2024 RAM 1500 Base"]
	assert.Equal(t, 36000, *base.FMV)
	assert.Equal(t, 37000, *base.FPPLocal)
}

func TestCollector_NoStyles(t *testing.T) {
	f := ramFetcher()
	f.stylesErr = ErrNoData
	doc := pricing.NewDocument()

	res, err := newTestCollector(f).Collect(context.Background(), ramRequest(), doc)
	require.NoError(t, err)

	assert.Equal(t, 1, res.NoData)
	assert.Equal(t, ReasonNoStyles, doc.Entries["2024 RAM 1500 Laramie"].SkipReason)
	assert.Equal(t, 0, f.calledTimes("table"))
	assert.Equal(t, 0, f.calledTimes("resale"))
}

func TestCollector_NoStylesIsRecorded(t *testing.T) {
	f := ramFetcher()
	f.stylesErr = ErrNoData
	doc := pricing.NewDocument()
	c := newTestCollector(f)

	_, err := c.Collect(context.Background(), ramRequest(), doc)
	require.NoError(t, err)
	cached, ok := doc.TrimOptions["RAM 1500"]["2024"]
	require.True(t, ok)
	assert.Empty(t, cached)
	assert.True(t, pricing.CoversAll("RAM", []string{"2024 1500"}, []string{"2024"}, doc, collectNow))

	res, err := c.Collect(context.Background(), ramRequest(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calledTimes("styles"))
	assert.Equal(t, 4, res.Fresh)
	assert.Equal(t, 0, res.NoData)

	t.Run("asked again once stale", func(t *testing.T) {
		later := collectNow.Add(pricing.NationalTTL + time.Hour)
		stale := NewCollector(f, nil, nil, CollectorConfig{Now: func() time.Time { return later }})
		_, err := stale.Collect(context.Background(), ramRequest(), doc)
		require.NoError(t, err)
		assert.Equal(t, 2, f.calledTimes("styles"))
	})

	t.Run("a new trim is asked for", func(t *testing.T) {
		g := ramFetcher()
		g.stylesErr = ErrNoData
		req := ramRequest()
		req.Keys["2024"] = append(req.Keys["2024"], "Limited")
		_, err := newTestCollector(g).Collect(context.Background(), req, doc)
		require.NoError(t, err)
		assert.Equal(t, 1, g.calledTimes("styles"))
	})
}

func TestCollector_StylesReturnClearSkipReason(t *testing.T) {
	f := ramFetcher()
	doc := pricing.NewDocument()
	doc.ModelSlugs["2024 RAM 1500"] = "1500"
	doc.SetTrimOptions("RAM 1500", "2024", nil)
	old := collectNow.Add(-2 * pricing.NationalTTL)
	doc.EntryFor("2024 RAM 1500 Laramie").Merge(skipped(ReasonNoStyles, old))

	_, err := newTestCollector(f).Collect(context.Background(), ramRequest(), doc)
	require.NoError(t, err)

	laramie := doc.Entries["2024 RAM 1500 Laramie"]
	assert.Empty(t, laramie.SkipReason)
	assert.Equal(t, 50000, *laramie.FMV)
	assert.NotEmpty(t, doc.TrimOptions["RAM 1500"]["2024"])
}

func TestCollector_SlugFallback(t *testing.T) {
	f := ramFetcher()
	f.slugErr = ErrNoData
	req := ramRequest()
	req.Model = "1500 Classic"
	doc := pricing.NewDocument()

	res, err := newTestCollector(f).Collect(context.Background(), req, doc)
	require.NoError(t, err)
	assert.Equal(t, "1500-classic", res.Slug)
	assert.Equal(t, "1500-classic", doc.ModelSlugs["2024 RAM 1500 Classic"])
}

func TestCollector_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCollector(ramFetcher()).Collect(ctx, ramRequest(), pricing.NewDocument())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollector_NilDocument(t *testing.T) {
	_, err := newTestCollector(ramFetcher()).Collect(context.Background(), ramRequest(), nil)
	assert.Error(t, err)
}
