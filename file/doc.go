// Package file provides the durable cache backend on an embedded SQLite
// database (modernc.org/sqlite, pure Go, WAL journal mode so readers stay
// concurrent with writes).
//
// Every mutating call commits its transaction before returning, so a crash
// between write and acknowledgment leaves the row either fully durable or
// fully absent. A read-through index keyed on expiry keeps miss checks off
// the disk.
//
// # Hot reload
//
// Multiple processes may share one database file. Each store watches the
// file (and its WAL sidecar) for external modification and reconstructs its
// index from the non-expired rows when it changes. The guarantee is
// read-your-own-writes-eventually, nothing stronger.
//
// # Eviction
//
// Exact recency order is not kept resident. When the row count exceeds
// capacity, rows are deleted in ascending last_accessed_at order via an
// indexed query inside the same transaction as the triggering write.
package file
