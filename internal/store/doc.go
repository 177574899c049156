// Package store provides persistent storage for realtime transcripts using SQLite.
//
// # Data Models
//
//   - Thread: links a frontend conversation (frontend name + external ID) to
//     the assistant answering it
//   - Turn: one dispatched user or assistant utterance, recorded once per
//     (thread, item) pair in dispatch order
//
// # Drivers
//
// SQLiteStore runs on either SQLite driver:
//
//	store.Open(store.DriverModernc, path) // modernc.org/sqlite, pure Go (default)
//	store.Open(store.DriverCGO, path)     // github.com/mattn/go-sqlite3, needs cgo
//
// The schema is created on open. WAL mode and foreign keys are enabled.
//
// # Errors
//
//   - ErrNotFound: thread lookup missed, or a turn names an unknown thread
//   - ErrDuplicateThread: thread ID or frontend/external pair already exists
//   - ErrDuplicateTurn: the item was already recorded for the thread
//
// # Testing
//
// MockStore is an in-memory Store for tests that do not need SQLite.
package store
