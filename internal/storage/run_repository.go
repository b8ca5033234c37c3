package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Run is the persisted summary of one analysis run.
type Run struct {
	ID        uuid.UUID       `json:"id"`
	Make      string          `json:"make"`
	Model     string          `json:"model"`
	Total     int             `json:"total"`
	Rated     int             `json:"rated"`
	Skipped   int             `json:"skipped"`
	Summary   json.RawMessage `json:"summary"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunRepository handles analysis run records.
type RunRepository struct {
	db DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create stores a run, assigning an ID and timestamp when missing.
func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	summary := run.Summary
	if len(summary) == 0 {
		summary = json.RawMessage("{}")
	}

	query := `
		INSERT INTO analysis_runs (id, make, model, total, rated, skipped, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID.String(), run.Make, run.Model, run.Total, run.Rated, run.Skipped,
		string(summary), run.CreatedAt,
	)
	return err
}

// GetByID retrieves a run by ID.
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, make, model, total, rated, skipped, summary, created_at
		FROM analysis_runs WHERE id = $1
	`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListByVehicle returns the most recent runs for a make and model.
func (r *RunRepository) ListByVehicle(ctx context.Context, make, model string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, make, model, total, rated, skipped, summary, created_at
		FROM analysis_runs WHERE make = $1 AND model = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, make, model, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s rowScanner) (*Run, error) {
	run := &Run{}
	var id, summary string
	err := s.Scan(&id, &run.Make, &run.Model, &run.Total, &run.Rated, &run.Skipped, &summary, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	run.ID = parsed
	run.Summary = json.RawMessage(summary)
	return run, nil
}
