package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SQLLocationRepository implements LocationRepository on the SQLite store.
type SQLLocationRepository struct {
	db *DB
}

var _ LocationRepository = (*SQLLocationRepository)(nil)

func NewLocationRepository(db *DB) *SQLLocationRepository {
	return &SQLLocationRepository{db: db}
}

// SaveLocations upserts locations keyed by post id and returns the number of
// rows written.
func (r *SQLLocationRepository) SaveLocations(ctx context.Context, locations []Location) (int, error) {
	count := 0
	for _, loc := range locations {
		if err := r.upsertLocation(ctx, r.db.DB, loc); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// SaveLocationAndMarkMapped writes the location row and advances the owning
// post's status in one transaction. Either both land or neither does, so a
// location can never exist for a post still marked pending.
func (r *SQLLocationRepository) SaveLocationAndMarkMapped(ctx context.Context, location Location) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.upsertLocation(ctx, tx, location); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE posts SET processing_status = ? WHERE id = ?
	`, StatusProcessedMapped, location.PostID)
	if err != nil {
		return fmt.Errorf("failed to mark post mapped: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("post not found: %s", location.PostID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *SQLLocationRepository) GetLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, post_id, lat, lon, source, COALESCE(display_name, ''),
		       COALESCE(extracted_location, ''), status, created_at, updated_at
		FROM locations
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get locations: %w", err)
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		var loc Location
		err := rows.Scan(&loc.ID, &loc.PostID, &loc.Lat, &loc.Lon, &loc.Source,
			&loc.DisplayName, &loc.ExtractedLocation, &loc.Status,
			&loc.CreatedAt, &loc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location row: %w", err)
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating location rows: %w", err)
	}

	return locations, nil
}

func (r *SQLLocationRepository) GetLocationCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM locations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get location count: %w", err)
	}
	return count, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLLocationRepository) upsertLocation(ctx context.Context, ex execer, loc Location) error {
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if loc.Status == "" {
		loc.Status = LocationStatusVerified
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO locations (id, post_id, lat, lon, source, display_name, extracted_location, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			source = excluded.source,
			display_name = excluded.display_name,
			extracted_location = excluded.extracted_location,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`, loc.ID, loc.PostID, loc.Lat, loc.Lon, loc.Source,
		nullable(loc.DisplayName), nullable(loc.ExtractedLocation), loc.Status)

	if err != nil {
		return fmt.Errorf("failed to upsert location for post %s: %w", loc.PostID, err)
	}

	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
