// ABOUTME: Store interface and data types for desk-gateway persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update matched no row, meaning
// the conversation was not in the required state (or another writer got there
// first). Callers treat it as an expected race outcome, not a fault.
var ErrConflict = errors.New("conflict")

// ConversationStatus values for the conversation lifecycle
const (
	StatusBot          = "bot"
	StatusPendingHuman = "pending_human"
	StatusActiveHuman  = "active_human"
	StatusClosed       = "closed"
)

// SenderType constants for message authorship
const (
	SenderUser  = "user"
	SenderBot   = "bot"
	SenderAgent = "agent"
)

// Conversation represents one support interaction between a user and, over
// time, the bot and/or a human agent.
//
// Invariants enforced by the conditional update methods:
//   - status = active_human implies AgentID is set
//   - status in {bot, pending_human} implies AgentID is nil
//   - status = closed is terminal
type Conversation struct {
	ID        string
	UserID    string
	AgentID   *string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single turn in a conversation. Messages are append-only and
// ordered by creation time, with insertion order breaking ties.
type Message struct {
	ID             string
	ConversationID string
	Sender         string // "user", "bot", "agent"
	Body           string
	CreatedAt      time.Time
}

// Store defines the interface for conversation and message persistence.
//
// Every state-changing transition is a single atomic conditional update; the
// implementations return ErrConflict when the precondition row predicate
// matched nothing. This is the only cross-request coordination mechanism —
// no application-level locks.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation, first *Message) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error)
	ListConversationsForAgent(ctx context.Context, agentID string) ([]*Conversation, error)
	ListPendingConversations(ctx context.Context) ([]*Conversation, error)

	// Conditional transitions (ErrConflict on zero rows affected)
	AcceptConversation(ctx context.Context, id, agentID string) error
	EscalateConversation(ctx context.Context, id string) error
	DeescalateConversation(ctx context.Context, id string) error
	ReleaseConversation(ctx context.Context, id, agentID string) error
	CloseConversation(ctx context.Context, id string) error

	// Messages (append-only log)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
