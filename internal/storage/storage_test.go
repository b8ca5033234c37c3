package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "deal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, NewMigrationManager(db, DriverSQLite).Migrate(ctx))
	return db
}

func intPtr(v int) *int { return &v }

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestMigrationManager(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrationManager(db, DriverSQLite)
	status, err := m.CheckMigrations(ctx)
	require.NoError(t, err)
	assert.False(t, status.UpToDate)
	assert.Equal(t, []string{"0001_pricing_sqlite.sql", "0002_runs.sql"}, status.Pending)

	require.NoError(t, m.RunMigrations(ctx, status))

	status, err = m.CheckMigrations(ctx)
	require.NoError(t, err)
	assert.True(t, status.UpToDate)
	assert.Len(t, status.Applied, 2)

	// running again is a no-op
	require.NoError(t, m.Migrate(ctx))
}

func TestMigrationManager_PostgresFileSelection(t *testing.T) {
	m := NewMigrationManager(nil, DriverPostgres)
	files, err := m.listMigrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_pricing.sql", "0002_runs.sql"}, files)
}

func TestPricingRepository_SaveMerges(t *testing.T) {
	ctx := context.Background()
	repo := NewPricingRepository(openTestDB(t), DriverSQLite)

	first := pricing.NewDocument()
	first.ModelSlugs["2024 RAM 1500"] = "1500"
	first.SetTrimOptions("RAM 1500", "2024", []string{"Tradesman", "Laramie"})
	first.EntryFor("2024 RAM 1500 Laramie").MSRP = intPtr(60000)
	require.NoError(t, repo.Save(ctx, first))

	second := pricing.NewDocument()
	e := second.EntryFor("2024 RAM 1500 Laramie")
	e.FMV = intPtr(35000)
	e.LocalTimestamp = pricing.NewTimestamp(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Save(ctx, second))

	doc, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1500", doc.ModelSlugs["2024 RAM 1500"])
	assert.Equal(t, []string{"Tradesman", "Laramie"}, doc.TrimOptions["RAM 1500"]["2024"])

	got := doc.Entries["2024 RAM 1500 Laramie"]
	require.NotNil(t, got)
	assert.Equal(t, 60000, *got.MSRP)
	assert.Equal(t, 35000, *got.FMV)
	require.NotNil(t, got.LocalTimestamp)
	assert.Equal(t, 2025, got.LocalTimestamp.Year())

	_, err = repo.GetEntry(ctx, "2024 RAM 1500 Limited")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPricingRepository_ClearedSkipReason(t *testing.T) {
	ctx := context.Background()
	repo := NewPricingRepository(openTestDB(t), DriverSQLite)
	const key = "2024 RAM 1500 Rebel"

	first := pricing.NewDocument()
	first.SetTrimOptions("RAM 1500", "2024", nil)
	first.EntryFor(key).SkipReason = "No reference styles for this model year."
	require.NoError(t, repo.Save(ctx, first))

	doc, err := repo.Load(ctx)
	require.NoError(t, err)
	opts, ok := doc.TrimOptions["RAM 1500"]["2024"]
	require.True(t, ok)
	assert.Empty(t, opts)

	e := doc.Entries[key]
	e.ClearSkipReason()
	e.FMV = intPtr(41000)
	require.NoError(t, repo.Save(ctx, doc))

	got, err := repo.GetEntry(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got.SkipReason)
	assert.Equal(t, 41000, *got.FMV)
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(openTestDB(t))

	older := &Run{Make: "RAM", Model: "1500", Total: 10, Rated: 8, Skipped: 2,
		CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	newer := &Run{Make: "RAM", Model: "1500", Total: 12, Rated: 12,
		Summary:   json.RawMessage(`{"good_great":5}`),
		CreatedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, &Run{Make: "Toyota", Model: "Camry"}))

	assert.NotEqual(t, uuid.Nil, older.ID)

	got, err := repo.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Rated)
	assert.JSONEq(t, `{"good_great":5}`, string(got.Summary))

	runs, err := repo.ListByVehicle(ctx, "RAM", "1500", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
