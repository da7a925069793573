// Package store provides the SQLite-backed path-addressed document
// store consumed by the Mind and the effect worker.
//
// The store keeps exactly one row per key:
//   - Write upserts the row and assigns version = previous + 1
//     (starting at 1) plus created/updated timestamps
//   - Read returns the current document, or nil when absent
//   - List returns the keys currently under a prefix
//   - Watch returns a subscription delivering every future write whose
//     key matches a glob, in the store's observed write order
//
// Ordering: deliveries on one subscription preserve write order as
// observed by the store's write lock; no cross-writer total order is
// guaranteed beyond that.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: SQLite allows one writer at a time
package store
