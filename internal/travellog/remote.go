package travellog

import "context"

// ExternalRef identifies an accepted remote write, e.g. a transaction hash.
// It is surfaced to observers but never interpreted.
type ExternalRef string

// Confirmation is the terminal outcome of a remote write.
// Err is nil on success.
type Confirmation struct {
	Ref   ExternalRef
	Block int64
	Err   error
}

// Remote is the authoritative source of records: a contract behind a
// provider, a ledger database, or anything else with the same contract.
//
// Errors that mean "could not reach the remote" should be of kind
// RemoteUnavailable (see Unavailable); anything else returned from
// SubmitRecord is treated as a rejection.
type Remote interface {
	// ListRecords returns the owner's confirmed records in ledger order.
	ListRecords(ctx context.Context, owner OwnerKey) ([]Record, error)

	// SubmitRecord asks the remote to accept rec and returns the reference
	// under which its confirmation will be reported.
	SubmitRecord(ctx context.Context, owner OwnerKey, rec Record) (ExternalRef, error)

	// Watch returns a channel that yields exactly one Confirmation for ref
	// and is then closed. Watching an already settled ref yields its outcome
	// immediately.
	Watch(ref ExternalRef) <-chan Confirmation

	// Count returns how many confirmed records the owner has.
	Count(ctx context.Context, owner OwnerKey) (int, error)
}
