package travellog

import "context"

// RecordStore is the local ordered collection of records. It performs no
// network calls. Implementations must be safe for concurrent use.
type RecordStore interface {
	// Append stores rec and returns it with its sequence assigned according
	// to the store's InsertPolicy. Duplicate content is never rejected.
	Append(ctx context.Context, rec Record) (Record, error)

	// List returns the owner's records sorted by order. The slice is never
	// shared with the store.
	List(ctx context.Context, owner OwnerKey, order Ordering) ([]Record, error)

	// Remove deletes the owner's record with the given id and reports
	// whether anything was removed. Unknown ids are not an error. Other
	// owners' rows with the same id are untouched.
	Remove(ctx context.Context, owner OwnerKey, id string) (bool, error)

	// Replace atomically swaps the owner's records for recs. recs are in
	// ledger order, oldest first; the InsertPolicy decides how that maps to
	// insertion order.
	Replace(ctx context.Context, owner OwnerKey, recs []Record) error

	// Clear removes every record of the owner.
	Clear(ctx context.Context, owner OwnerKey) error

	// Count returns the number of records held for the owner.
	Count(ctx context.Context, owner OwnerKey) (int, error)

	Close() error
}
