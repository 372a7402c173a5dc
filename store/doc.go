// Package store provides DynamoDB implementations of the datastore and the
// unique-constraint cache.
//
// # Tables
//
// Three tables back a deployment, all created by [CreateTables]:
//
//   - the entity table, partitioned by kind with the encoded key as sort key
//   - the sequence table, one id counter per kind
//   - the cache table, keyed by a hash of the cache key, with TTL on "ttl"
//
// Properties are stored as "p_<name>" attributes. Values whose DynamoDB
// type is ambiguous (floats, times, unindexed text, keys) are tagged in a
// "_types" map so they decode back to the same native type.
//
// # Queries
//
// [Store.Run] issues a single-partition Query. One key filter can become a
// sort key condition; property filters are pushed down as a filter
// expression and checked again in process, so results always follow
// datastore matching semantics. Orderings other than by key are sorted in
// process after the partition has been read.
//
// # Configuration
//
// Use [DefaultConfig] for the default table names:
//
//	cfg := store.DefaultConfig()
//	cfg.PageSize = 500
//	s := store.New(dynamodb.NewFromConfig(awsCfg), cfg)
//
// # Errors
//
//   - [datastore.ErrNoSuchEntity] - no item under the key
//   - [ErrCorruptItem] - a stored item could not be decoded
//   - [ErrUnsupportedValue] - a property has no DynamoDB representation
//   - [ErrSequence] - id allocation failed
package store
