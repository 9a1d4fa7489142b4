package instrument

import "errors"

// Package errors. API handlers map these onto HTTP statuses.
var (
	// ErrNotFound marks a lookup for a property, subsystem, channel group
	// or path that does not exist in the driver tree.
	ErrNotFound = errors.New("instrument: not found")

	// ErrDuplicate marks an attempt to register two tree members under the
	// same name on one owner.
	ErrDuplicate = errors.New("instrument: duplicate name")
)
