// Package store persists component sessions, per-user data and the
// cleaner's bookkeeping.
//
// A component session maps a 32-hex uuid to the encoded constructor
// parameters captured when the page was rendered. Sessions are created once
// with Put and resumed with TouchAndGet, which checks the age and advances
// last_accessed in one atomic step.
//
// Three backends implement Store:
//
//   - MemoryStore keeps everything in process. It is not shared between
//     processes and is flagged by startup checks.
//   - BoltStore keeps everything in a single bbolt file.
//   - SQLStore uses PostgreSQL through database/sql. Its schema is managed
//     with Migrate.
//
// Parameters are encoded with EncodeParams, which accepts an allow-listed
// set of types and rejects everything else at Put time.
package store
