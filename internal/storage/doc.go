// Package storage persists subscribers, the last seen schedule fingerprint and
// the broadcast history.
//
// Two drivers are available:
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, pure Go)
//   - "file": JSON snapshots rewritten atomically plus a JSON Lines history
//
// Every operation is atomic on its own; there are no cross-operation
// transactions.
package storage
