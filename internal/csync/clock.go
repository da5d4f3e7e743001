package csync

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so reconciliation logic is deterministic
// in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts contact/conflict ID generation so tests are
// deterministic. IDs are opaque, assigned once and never reused.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
