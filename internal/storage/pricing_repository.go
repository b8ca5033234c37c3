package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
)

// PricingRepository persists the pricing document in three tables. It
// implements pricing.Store; Save merges each entry with the stored row inside
// one transaction.
type PricingRepository struct {
	db     *sql.DB
	driver string
}

// NewPricingRepository creates a new pricing repository.
func NewPricingRepository(db *sql.DB, driver string) *PricingRepository {
	return &PricingRepository{db: db, driver: driver}
}

var _ pricing.Store = (*PricingRepository)(nil)

// Load reads the whole document.
func (r *PricingRepository) Load(ctx context.Context) (*pricing.Document, error) {
	doc := pricing.NewDocument()

	rows, err := r.db.QueryContext(ctx, `SELECT vehicle_key, slug FROM model_slugs`)
	if err != nil {
		return nil, fmt.Errorf("query model slugs: %w", err)
	}
	for rows.Next() {
		var key, slug string
		if err := rows.Scan(&key, &slug); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan model slug: %w", err)
		}
		doc.ModelSlugs[key] = slug
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT make_model, year, trims FROM trim_options`)
	if err != nil {
		return nil, fmt.Errorf("query trim options: %w", err)
	}
	for rows.Next() {
		var makeModel, year, raw string
		if err := rows.Scan(&makeModel, &year, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan trim options: %w", err)
		}
		var trims []string
		if err := json.Unmarshal([]byte(raw), &trims); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode trim options %s %s: %w", makeModel, year, err)
		}
		doc.SetTrimOptions(makeModel, year, trims)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT cache_key, fields FROM pricing_entries`)
	if err != nil {
		return nil, fmt.Errorf("query pricing entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan pricing entry: %w", err)
		}
		e := &pricing.Entry{}
		if err := json.Unmarshal([]byte(raw), e); err != nil {
			return nil, fmt.Errorf("decode pricing entry %s: %w", key, err)
		}
		doc.Entries[key] = e
	}
	return doc, rows.Err()
}

// GetEntry returns one entry or ErrNotFound.
func (r *PricingRepository) GetEntry(ctx context.Context, cacheKey string) (*pricing.Entry, error) {
	return r.getEntry(ctx, r.db, cacheKey, false)
}

// Save merges doc into the stored document.
func (r *PricingRepository) Save(ctx context.Context, doc *pricing.Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for key, slug := range doc.ModelSlugs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO model_slugs (vehicle_key, slug, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (vehicle_key) DO UPDATE SET slug = excluded.slug, updated_at = excluded.updated_at
		`, key, slug, now)
		if err != nil {
			return fmt.Errorf("upsert model slug %s: %w", key, err)
		}
	}

	for makeModel, years := range doc.TrimOptions {
		for year, trims := range years {
			raw, err := json.Marshal(trims)
			if err != nil {
				return fmt.Errorf("encode trim options: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO trim_options (make_model, year, trims, updated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (make_model, year) DO UPDATE SET trims = excluded.trims, updated_at = excluded.updated_at
			`, makeModel, year, string(raw), now)
			if err != nil {
				return fmt.Errorf("upsert trim options %s %s: %w", makeModel, year, err)
			}
		}
	}

	for key, e := range doc.Entries {
		if e == nil {
			continue
		}
		merged, err := r.getEntry(ctx, tx, key, true)
		if errors.Is(err, ErrNotFound) {
			merged = &pricing.Entry{}
		} else if err != nil {
			return err
		}
		merged.Merge(e)

		raw, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode pricing entry %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pricing_entries (cache_key, fields, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (cache_key) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at
		`, key, string(raw), now)
		if err != nil {
			return fmt.Errorf("upsert pricing entry %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pricing document: %w", err)
	}
	return nil
}

func (r *PricingRepository) getEntry(ctx context.Context, db DB, cacheKey string, lock bool) (*pricing.Entry, error) {
	query := `SELECT fields FROM pricing_entries WHERE cache_key = $1`
	if lock && r.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	var raw string
	err := db.QueryRowContext(ctx, query, cacheKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pricing entry %s: %w", cacheKey, err)
	}
	e := &pricing.Entry{}
	if err := json.Unmarshal([]byte(raw), e); err != nil {
		return nil, fmt.Errorf("decode pricing entry %s: %w", cacheKey, err)
	}
	return e, nil
}
