package shardsync

import "context"

// Store is a local keyed store of field records.
type Store interface {
	// Begin opens the transaction that delimits one sync run.
	// Nothing upserted through the Tx is visible to readers until Commit succeeds.
	Begin(context.Context) (Tx, error)
}

// Tx is the write side of a Store for the duration of one run.
// Upsert is safe for concurrent use;
// Commit and Rollback must be called at most once,
// after all Upsert calls have returned.
type Tx interface {
	// Upsert stores rec under hash.
	// Storing a (hash, record) pair that is already present is a no-op, not an error.
	// An error matching ErrStoreFatal means the Tx is no longer usable.
	Upsert(ctx context.Context, hash string, rec FieldRecord) error

	Commit() error
	Rollback() error
}

// Lister is a Store whose committed entries can be enumerated.
type Lister interface {
	// ListEntries calls f for each committed entry whose hash is greater than start,
	// in (hash, field) order.
	// If f returns an error, ListEntries exits with that error.
	ListEntries(ctx context.Context, start string, f func(Entry) error) error
}
