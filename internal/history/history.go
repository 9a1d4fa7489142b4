// Package history persists property change records, giving each driver a
// local audit trail of observed and programmed values even when the
// time-series sink is unavailable.
package history

import (
	"context"
	"time"
)

// Entry represents a single recorded property operation.
type Entry struct {
	// ID is the unique identifier for the history row.
	ID string `json:"id"`

	// Driver is the driver name the property belongs to.
	Driver string `json:"driver"`

	// Path is the dotted property path within the driver.
	Path string `json:"path"`

	// Op records whether the value was observed ("get") or programmed
	// ("set").
	Op string `json:"op"`

	// Value is the JSON snapshot of the property value.
	Value any `json:"value"`

	// CreatedAt is the timestamp of the operation (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Query filters a history listing. Zero fields are ignored.
type Query struct {
	Driver string
	Path   string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Repository stores and retrieves property change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record persists one property operation.
	Record(ctx context.Context, entry Entry) error

	// List returns matching entries ordered newest first.
	List(ctx context.Context, q Query) ([]Entry, error)

	// Prune deletes entries older than the given duration and returns
	// how many rows were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
