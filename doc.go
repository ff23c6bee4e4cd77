// Package shardsync replays one shard of a horizontally partitioned attachment database
// into a local keyed store.
//
// Each row of the shard pairs an attachment's content hash
// with one metadata field
// (a field ID and its value)
// of the item owning the attachment.
// The same content hash appears once per field,
// so the local store is keyed by the pair
// (content hash, serialized field record)
// rather than by the hash alone.
//
// A run looks up the shard's host in a directory database,
// opens one transaction on the local store,
// streams the shard's rows through a bounded window of in-flight upserts,
// and commits only when every upsert has been acknowledged.
// Upserts are idempotent,
// so a failed run is repaired by running it again:
// there is no checkpoint and no partial commit.
//
// The pipeline lives in the pipeline subpackage,
// the local stores under store,
// and the command-line entry point in cmd/shardsync.
package shardsync
