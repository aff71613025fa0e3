// Package store provides durable storage for the settlement journal.
//
// Two backends implement journal.Journal:
//   - Store: SQLite in WAL mode, the default
//   - BadgerJournal: an embedded key-value log, in-memory when no path is given
//
// # Guarantees
//
// Idempotent appends
//   - entries are keyed by their content address, so writing the same entry
//     twice is a no-op
//   - a different entry at an already used seq is rejected
//
// Deterministic reads
//   - every read is ordered by seq ASC, id ASC
//   - every entry read back is re-hashed and rejected if its content no
//     longer matches its ID
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
