package travellog

import (
	"context"
	"time"
)

// Snapshot is the last remote view of an owner, kept for offline fallback.
type Snapshot struct {
	Owner   OwnerKey
	Records []Record
	SavedAt time.Time
}

// Persistence stores snapshots. It is only read when the remote is
// unreachable and is never treated as authoritative.
type Persistence interface {
	Save(ctx context.Context, owner OwnerKey, snap Snapshot) error

	// Load returns the owner's snapshot, or nil if none was saved.
	Load(ctx context.Context, owner OwnerKey) (*Snapshot, error)
}
