package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLiteRepository implements Repository using SQLite.
//
// Values are stored as JSON in the property_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a new history entry.
//
// A missing ID is filled with a fresh UUID; a missing timestamp with the
// current UTC time.
func (r *SQLiteRepository) Record(ctx context.Context, entry Entry) error {
	if entry.Driver == "" {
		return fmt.Errorf("driver is required")
	}
	if entry.Path == "" {
		return fmt.Errorf("property path is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO property_history (id, driver, path, op, value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Driver,
		entry.Path,
		entry.Op,
		string(valueJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting property history: %w", err)
	}
	return nil
}

// List returns matching history entries, ordered newest first.
func (r *SQLiteRepository) List(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}

	query := `SELECT id, driver, path, op, value, created_at
	          FROM property_history WHERE 1=1`
	args := make([]any, 0, 5)
	if q.Driver != "" {
		query += " AND driver = ?"
		args = append(args, q.Driver)
	}
	if q.Path != "" {
		query += " AND path = ?"
		args = append(args, q.Path)
	}
	if !q.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		query += " AND created_at < ?"
		args = append(args, q.Until.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying property history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, q.Limit)
	for rows.Next() {
		var entry Entry
		var valueJSON, createdAt string
		if err := rows.Scan(&entry.ID, &entry.Driver, &entry.Path, &entry.Op, &valueJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning property history: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = ts
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating property history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the given duration.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM property_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting property history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	ts, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return ts, nil
	}
	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
