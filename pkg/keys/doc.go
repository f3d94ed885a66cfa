// Package keys defines the stored credential record and the Store contract
// shared by the key selector and the health checkers.
//
// # Stores
//
// Two backends are provided:
//
//   - MemoryStore: process-local, used in tests and for ephemeral pools
//   - SQLiteStore: durable, one transaction per mutation
//
// Both serialize mutations internally. A selector recording usage and a
// health check persisting a verdict for the same key may run concurrently
// without losing either write; that is why usage accounting goes through
// RecordUsage instead of a Get/Update pair.
//
// # Ownership
//
// Records are created and deleted by administrative tooling (the keys CLI).
// The selector and the health checkers only read and update them.
package keys
