package pricing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/cache"
)

func TestFileStore_MissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "cache.json"))
	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Entries)
	assert.NotNil(t, doc.ModelSlugs)
}

func TestFileStore_SaveMergesWithDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	s := NewFileStore(path)

	// two runs each holding a partial view of the same entry
	first := NewDocument()
	first.EntryFor("2024 RAM 1500 Laramie").MSRP = intPtr(60000)
	require.NoError(t, s.Save(ctx, first))

	second := NewDocument()
	second.EntryFor("2024 RAM 1500 Laramie").FMV = intPtr(35000)
	second.ModelSlugs["2024 RAM 1500"] = "1500"
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	e := got.Entries["2024 RAM 1500 Laramie"]
	require.NotNil(t, e)
	assert.Equal(t, 60000, *e.MSRP)
	assert.Equal(t, 35000, *e.FMV)
	assert.Equal(t, "1500", got.ModelSlugs["2024 RAM 1500"])

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestKVStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewKVStore(cache.NewMemoryClient(0))

	doc := NewDocument()
	doc.ModelSlugs["2024 RAM 1500"] = "1500"
	doc.SetTrimOptions("RAM 1500", "2024", []string{"Tradesman", "Laramie"})
	e := doc.EntryFor("2024 RAM 1500 Laramie")
	e.MSRP = intPtr(60000)
	e.NatlSource = strPtr("styles")
	e.NatlTimestamp = at("2025-03-01 10:00")
	require.NoError(t, s.Save(ctx, doc))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1500", got.ModelSlugs["2024 RAM 1500"])
	assert.Equal(t, []string{"Tradesman", "Laramie"}, got.TrimOptions["RAM 1500"]["2024"])
	ge := got.Entries["2024 RAM 1500 Laramie"]
	require.NotNil(t, ge)
	assert.Equal(t, 60000, *ge.MSRP)
	assert.Equal(t, "styles", *ge.NatlSource)
	assert.True(t, e.NatlTimestamp.Equal(ge.NatlTimestamp.Time))
}

func TestKVStore_IndependentFieldWrites(t *testing.T) {
	ctx := context.Background()
	client := cache.NewMemoryClient(0)
	s := NewKVStore(client)

	a := NewDocument()
	a.EntryFor("k").FMV = intPtr(30000)
	require.NoError(t, s.Save(ctx, a))

	b := NewDocument()
	b.EntryFor("k").MSRP = intPtr(50000)
	require.NoError(t, s.Save(ctx, b))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30000, *got.Entries["k"].FMV)
	assert.Equal(t, 50000, *got.Entries["k"].MSRP)

	c := NewDocument()
	c.EntryFor("k").NoFMV = true
	require.NoError(t, s.Save(ctx, c))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.Entries["k"].FMV)
	assert.True(t, got.Entries["k"].NoFMV)
	assert.Equal(t, 50000, *got.Entries["k"].MSRP)
}

func TestStores_ClearedSkipReasonSurvivesReload(t *testing.T) {
	stores := map[string]Store{
		"file": NewFileStore(filepath.Join(t.TempDir(), "cache.json")),
		"kv":   NewKVStore(cache.NewMemoryClient(0)),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const key = "2024 RAM 1500 Laramie"

			first := NewDocument()
			first.EntryFor(key).SkipReason = "Could not map KBB trim to Visor trim."
			require.NoError(t, s.Save(ctx, first))

			doc, err := s.Load(ctx)
			require.NoError(t, err)
			e := doc.EntryFor(key)
			e.ClearSkipReason()
			e.Merge(&Entry{FMV: intPtr(35000)})
			require.NoError(t, s.Save(ctx, doc))

			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, got.Entries[key].SkipReason)
			assert.Equal(t, 35000, *got.Entries[key].FMV)

			// an entry that never heard of the clear keeps the stored reason
			other := NewDocument()
			other.EntryFor(key).SkipReason = "No reference styles for this model year."
			require.NoError(t, s.Save(ctx, other))
			untouched := NewDocument()
			untouched.EntryFor(key).MSRP = intPtr(60000)
			require.NoError(t, s.Save(ctx, untouched))

			got, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "No reference styles for this model year.", got.Entries[key].SkipReason)
		})
	}
}

func TestKVStore_EmptyTrimOptionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewKVStore(cache.NewMemoryClient(0))

	doc := NewDocument()
	doc.SetTrimOptions("RAM 1500", "2019", nil)
	require.NoError(t, s.Save(ctx, doc))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	cached, ok := got.TrimOptions["RAM 1500"]["2019"]
	assert.True(t, ok)
	assert.Empty(t, cached)
}
