// Package store provides the tree-structured document store used by the sync engine.
//
// Records live in collections ("cities", "clients", "properties") and are addressed
// by [Path]. A path names either a whole record or a value nested inside it:
//
//	clients/C1                 the client record
//	clients/C1/properties/P1   the summary of property P1 embedded in client C1
//
// # Client Interface
//
// The engine depends only on [Client]:
//
//	type Client interface {
//	    Get(ctx, path, out) error
//	    Set(ctx, path, value) error
//	    Remove(ctx, path) error
//	    Query(ctx, collection, field, value) ([]Record, error)
//	    AtomicWrite(ctx, writes) error
//	}
//
// [Store] implements it on DynamoDB: one table per collection keyed by "id",
// range reads through a GSI per queried field, and atomic writes through
// TransactWriteItems. The memstore subpackage implements it in memory.
//
// # Atomic Writes
//
// Writes are grouped per record before they are sent, because a transaction may
// touch each item only once. The transaction limit therefore applies to the number
// of distinct records (see [Config].MaxTransactItems). Nested writes under a map
// that does not exist yet create the missing maps and retry. Deletes under a
// record that no longer exists are dropped, since there is nothing to clean.
//
// An idempotency token attached with [WithRequestToken] is sent as the
// transaction's ClientRequestToken.
//
// # Soft Deletes
//
// Records carrying a "ttl" attribute at or before now are treated as deleted by
// Get and Query, matching how DynamoDB TTL expiry lags behind the write.
//
// # Errors
//
//   - [ErrNotFound] - no value at the path, or the record is soft-deleted
//   - [ErrInvalidPath] - malformed path
//   - [ErrUnknownCollection] - no table configured for the collection
//   - [ErrTooManyWrites] - atomic write exceeds the transaction limit
//   - [ErrConflictingWrites] - overlapping writes in one atomic write
package store
