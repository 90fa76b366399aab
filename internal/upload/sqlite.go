package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ztkent/luxmeter/internal/tools"
)

// SQLiteStore keeps readings in the readings table created by the
// tools migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open, migrated database. The store owns db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Upload(ctx context.Context, r Reading) error {
	_, err := s.db.ExecContext(ctx, `
    INSERT INTO readings
        (reading_id, job_id, field, lux, full_spectrum, visible, infrared, gain, integration, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.Field, r.Lux, r.FullSpectrum, r.Visible, r.Infrared, r.Gain, r.Integration,
		r.CreatedAt.UTC().Format(tools.LayoutDB),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Latest returns the most recent reading.
func (s *SQLiteStore) Latest(ctx context.Context) (Reading, error) {
	row := s.db.QueryRowContext(ctx, selectReadings+" ORDER BY created_at DESC, id DESC LIMIT 1")
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reading{}, ErrNoReadings
	}
	return r, err
}

// Range returns the readings taken in [start, end), oldest first.
func (s *SQLiteStore) Range(ctx context.Context, start, end time.Time) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		selectReadings+" WHERE created_at >= ? AND created_at < ? ORDER BY created_at, id",
		start.UTC().Format(tools.LayoutDB), end.UTC().Format(tools.LayoutDB),
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectReadings = `
    SELECT reading_id, job_id, field, lux, full_spectrum, visible, infrared, gain, integration, created_at
    FROM readings`

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (Reading, error) {
	var r Reading
	err := row.Scan(&r.ID, &r.JobID, &r.Field, &r.Lux, &r.FullSpectrum, &r.Visible, &r.Infrared,
		&r.Gain, &r.Integration, &r.CreatedAt)
	if err != nil {
		return Reading{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
