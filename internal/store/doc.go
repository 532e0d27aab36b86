// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The Store interface covers conversation lifecycle persistence and the
// append-only message log. SQLiteStore is the single implementation, backed
// by modernc.org/sqlite with WAL mode and foreign keys enabled.
//
// # Data Models
//
//   - Conversation: one support interaction with {status, assigned agent}
//   - Message: one immutable chat turn, ordered within its conversation
//
// # Conditional Transitions
//
// Every lifecycle transition (accept, escalate, de-escalate, release, close)
// is a single UPDATE with the precondition expressed in the WHERE clause.
// Zero rows affected means the precondition no longer held — typically a lost
// race — and surfaces as ErrConflict. AcceptConversation relies on this to
// arbitrate concurrent agents claiming the same pending conversation: exactly
// one UPDATE can match the "pending and unassigned" row.
//
// # Ordering
//
// Messages are ordered by created_at (RFC3339Nano) with SQLite rowid as the
// insertion-order tie-breaker, so two fetches with no intervening writes
// always return identical sequences.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrConflict: conditional update matched no row
//
// All methods accept context.Context for cancellation support.
package store
