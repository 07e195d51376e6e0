// Package store is an in-process DynamoDB emulator used as a deterministic
// test double.
//
// A Store holds tables of items keyed by a hash key and an optional range
// key. Tables are created implicitly on first use with the key schema from
// [Config], or explicitly with [Store.CreateTable].
//
// # Writes
//
// Every write validates the item through the attr codec and rejects
// attribute names that are DynamoDB reserved words unless they are
// allow-listed, globally in [Config.AllowedReservedKeywords] or per table
// with [Store.AllowReservedKeywords]:
//
//	s, _ := store.New(store.DefaultConfig())
//	err := s.Put(ctx, "users", store.Item{
//	    "pk":     &types.AttributeValueMemberS{Value: "user#1"},
//	    "sk":     &types.AttributeValueMemberS{Value: "profile"},
//	    "status": &types.AttributeValueMemberS{Value: "active"},
//	})
//	// errors.Is(err, store.ErrValidation): status is reserved
//
// [Store.UpdateVersioned] implements optimistic locking on a numeric
// version attribute, failing with a [*ConflictError] that wraps
// [ErrVersionConflict] when the stored version moved on.
//
// # Reads
//
// [Store.Query], [Store.Scan] and the paginated helpers evaluate key
// condition, filter and projection expressions with package expr and return
// items ordered by the table key. Secondary indexes registered with
// [Store.AddIndex] are sparse and apply their projection to results.
//
// # Eventual consistency
//
// When [ConsistencyConfig] is enabled, writes to keys matching a [Rule]
// open a window in which reads observe no item or the value from before
// the write. This lets callers exercise retry logic without a real service.
//
// # Errors
//
//   - [ErrNotFound] - versioned update target missing
//   - [ErrVersionConflict] - optimistic lock failed
//   - [ErrAlreadyExists] - PutNew on an existing key
//   - [ErrConditionFailed] - condition expression false
//   - [ErrValidation] - bad input, matched by every [*ValidationError]
//   - [ErrTableNotFound] - unknown table with RequireTables set
package store
