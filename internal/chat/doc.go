// Package chat implements the conversation lifecycle and messaging layer.
//
// # Lifecycle
//
// A conversation moves between four states:
//
//	bot -> pending_human -> active_human -> bot (release)
//	any non-closed state -> closed (terminal)
//
// Users escalate and de-escalate; agents accept; the owning user or assigned
// agent releases and closes. Every transition is backed by a conditional
// store update, so a transition whose precondition no longer holds returns
// ErrConflict without side effects. Escalating an already-escalated
// conversation is the one deliberate exception: a no-op success, because the
// "Talk to human" action may fire more than once.
//
// # Assignment
//
// Accept is the race-arbitrated claim of a pending conversation. The store
// evaluates "pending and unassigned" and applies the assignment in one
// indivisible update; of N concurrent accepts exactly one wins, the rest see
// ErrConflict and should pick another conversation.
//
// # Messages
//
// The sender type of an appended message is derived from the authenticated
// identity's role, never from client input. Appends are validated against
// conversation state before any write, broadcast after the write succeeds,
// and — for user messages in an unassigned bot/pending conversation —
// trigger the AI responder as a detached background task.
package chat
