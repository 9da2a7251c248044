package model

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator issues identifiers for instances and their rows.
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator issues time-sortable UUIDv7 identifiers.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a hyphenated UUIDv7. Panics if the entropy source fails.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock supplies wall-clock time. Injected so tests control "now".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
