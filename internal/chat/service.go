// ABOUTME: Service is the central layer for conversation lifecycle and messaging
// ABOUTME: Every mutation validates access, writes the store, then broadcasts

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumeno/desk-gateway/internal/auth"
	"github.com/lumeno/desk-gateway/internal/hub"
	"github.com/lumeno/desk-gateway/internal/store"
)

// responderTimeout bounds one background AI reply run.
const responderTimeout = 2 * time.Minute

// Responder generates the automated reply for a conversation. Implemented by
// the bot relay; invoked as a detached background task so the triggering
// request never waits for it.
type Responder interface {
	Respond(ctx context.Context, conversationID string) error
}

// Service coordinates conversation operations: lifecycle transitions, the
// append-only message log, broadcasts, and the AI reply trigger.
type Service struct {
	store     store.Store
	hub       *hub.Broadcaster
	responder Responder
	logger    *slog.Logger
}

// New creates a conversation service. responder may be nil to disable
// automated replies (used by some tests).
func New(st store.Store, b *hub.Broadcaster, responder Responder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		hub:       b,
		responder: responder,
		logger:    logger.With("component", "chat"),
	}
}

// Create opens a new conversation in bot mode together with the user's first
// message, as one atomic unit, then kicks off the AI reply in the background.
func (s *Service) Create(ctx context.Context, identity *auth.Identity, text string) (*store.Conversation, *store.Message, error) {
	if identity.IsAgent() {
		return nil, nil, fmt.Errorf("%w: only users create conversations", ErrForbidden)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("%w: message text is required", ErrValidation)
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		UserID:    identity.ID,
		Status:    store.StatusBot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	first := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         store.SenderUser,
		Body:           text,
		CreatedAt:      now,
	}

	if err := s.store.CreateConversation(ctx, conv, first); err != nil {
		return nil, nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "user_id", identity.ID)
	s.triggerResponder(conv.ID)

	return conv, first, nil
}

// List returns the conversations visible to the identity: a user sees their
// own; an agent sees conversations assigned to them plus the pending queue.
func (s *Service) List(ctx context.Context, identity *auth.Identity) ([]*store.Conversation, error) {
	if identity.IsAgent() {
		return s.store.ListConversationsForAgent(ctx, identity.ID)
	}
	return s.store.ListConversationsByUser(ctx, identity.ID)
}

// ListPending returns the unassigned escalation queue. Agents only.
func (s *Service) ListPending(ctx context.Context, identity *auth.Identity) ([]*store.Conversation, error) {
	if !identity.IsAgent() {
		return nil, fmt.Errorf("%w: agents only", ErrForbidden)
	}
	return s.store.ListPendingConversations(ctx)
}

// Get returns a conversation with its full message thread. Visible to the
// owning user, the assigned agent, or any agent while the conversation is
// pending and unassigned.
func (s *Service) Get(ctx context.Context, identity *auth.Identity, conversationID string) (*store.Conversation, []*store.Message, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	if !canSee(identity, conv) {
		return nil, nil, ErrForbidden
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing messages: %w", err)
	}
	return conv, msgs, nil
}

// SendMessage appends a message to the conversation. The sender type is
// derived from the identity's role, never from client input. On success the
// message is broadcast, and when the conversation is unassigned and in
// bot/pending mode a user message additionally triggers the AI reply.
func (s *Service) SendMessage(ctx context.Context, identity *auth.Identity, conversationID, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrValidation)
	}

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var sender string
	if identity.IsAgent() {
		if conv.AgentID == nil || *conv.AgentID != identity.ID || conv.Status != store.StatusActiveHuman {
			return nil, ErrForbidden
		}
		sender = store.SenderAgent
	} else {
		if conv.UserID != identity.ID || conv.Status == store.StatusClosed {
			return nil, ErrForbidden
		}
		sender = store.SenderUser
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         sender,
		Body:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.broadcastMessage(conv, msg)

	if sender == store.SenderUser && conv.AgentID == nil &&
		(conv.Status == store.StatusBot || conv.Status == store.StatusPendingHuman) {
		s.triggerResponder(conversationID)
	}

	return msg, nil
}

// Escalate moves a bot-mode conversation into the pending queue and alerts
// all online agents. Escalating a conversation that is already escalated,
// assigned, or closed is a no-op success reporting the current status — the
// "Talk to human" button can be pressed more than once.
func (s *Service) Escalate(ctx context.Context, identity *auth.Identity, conversationID string) (string, error) {
	if identity.IsAgent() {
		return "", fmt.Errorf("%w: only users escalate", ErrForbidden)
	}

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv.UserID != identity.ID {
		return "", ErrForbidden
	}

	if conv.Status != store.StatusBot {
		// Already escalated, assigned, or closed: idempotent no-op
		return conv.Status, nil
	}

	if err := s.store.EscalateConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with another transition; report where it landed
			current, gerr := s.getConversation(ctx, conversationID)
			if gerr != nil {
				return "", gerr
			}
			return current.Status, nil
		}
		return "", fmt.Errorf("escalating conversation: %w", err)
	}

	s.hub.Publish(hub.PresenceAgentsChannel, hub.EventEscalationRequested, hub.EscalationPayload{
		ConversationID: conversationID,
		UserID:         conv.UserID,
	})

	s.logger.Info("conversation escalated", "conversation_id", conversationID)
	return store.StatusPendingHuman, nil
}

// Deescalate returns a pending, unassigned conversation to bot mode.
func (s *Service) Deescalate(ctx context.Context, identity *auth.Identity, conversationID string) error {
	if identity.IsAgent() {
		return fmt.Errorf("%w: only users de-escalate", ErrForbidden)
	}

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.UserID != identity.ID {
		return ErrForbidden
	}

	if err := s.store.DeescalateConversation(ctx, conversationID); err != nil {
		return transitionError(err, "de-escalating conversation")
	}

	s.hub.Publish(hub.ConversationChannel(conversationID), hub.EventConversationBotMode, hub.ConversationPayload{
		ConversationID: conversationID,
	})

	s.logger.Info("conversation de-escalated", "conversation_id", conversationID)
	return nil
}

// Accept claims a pending conversation for the calling agent. The store's
// conditional update arbitrates racing agents: exactly one call succeeds,
// every other caller gets ErrConflict and no broadcast is emitted for it.
func (s *Service) Accept(ctx context.Context, identity *auth.Identity, conversationID string) error {
	if !identity.IsAgent() {
		return fmt.Errorf("%w: only agents accept", ErrForbidden)
	}

	if err := s.store.AcceptConversation(ctx, conversationID, identity.ID); err != nil {
		return transitionError(err, "accepting conversation")
	}

	s.hub.Publish(hub.ConversationChannel(conversationID), hub.EventAgentAssigned, hub.AgentAssignedPayload{
		ConversationID: conversationID,
		Agent: hub.AgentInfo{
			ID:    identity.ID,
			Name:  identity.Name,
			Email: identity.Email,
		},
	})

	s.logger.Info("conversation accepted",
		"conversation_id", conversationID,
		"agent_id", identity.ID)
	return nil
}

// Release returns an active conversation to bot mode, clearing the
// assignment. Allowed to the owning user or the assigned agent.
func (s *Service) Release(ctx context.Context, identity *auth.Identity, conversationID string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	if !isParticipant(identity, conv) {
		return ErrForbidden
	}
	if conv.Status != store.StatusActiveHuman || conv.AgentID == nil {
		return ErrConflict
	}

	prevAgent := *conv.AgentID
	if err := s.store.ReleaseConversation(ctx, conversationID, prevAgent); err != nil {
		return transitionError(err, "releasing conversation")
	}

	s.hub.Publish(hub.ConversationChannel(conversationID), hub.EventConversationBotMode, hub.ConversationPayload{
		ConversationID: conversationID,
	})
	s.hub.Publish(hub.AgentChannel(prevAgent), hub.EventConversationReleased, hub.ConversationPayload{
		ConversationID: conversationID,
	})

	s.logger.Info("conversation released",
		"conversation_id", conversationID,
		"agent_id", prevAgent)
	return nil
}

// Close marks a conversation closed. Closed is terminal; only reads remain.
func (s *Service) Close(ctx context.Context, identity *auth.Identity, conversationID string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	if !isParticipant(identity, conv) {
		return ErrForbidden
	}

	if err := s.store.CloseConversation(ctx, conversationID); err != nil {
		return transitionError(err, "closing conversation")
	}

	s.hub.Publish(hub.ConversationChannel(conversationID), hub.EventConversationClosed, hub.ConversationPayload{
		ConversationID: conversationID,
	})

	s.logger.Info("conversation closed", "conversation_id", conversationID)
	return nil
}

// broadcastMessage fans a persisted message out to the conversation channel
// and, when an agent is assigned, to that agent's inbox. Clients receiving
// it twice de-duplicate on the message ID.
func (s *Service) broadcastMessage(conv *store.Conversation, msg *store.Message) {
	payload := hub.MessageNewPayload{
		ConversationID: msg.ConversationID,
		Message: hub.MessageBody{
			ID:         msg.ID,
			SenderType: msg.Sender,
			Message:    msg.Body,
			CreatedAt:  msg.CreatedAt,
		},
	}

	s.hub.Publish(hub.ConversationChannel(msg.ConversationID), hub.EventMessageNew, payload)
	if conv.AgentID != nil {
		s.hub.Publish(hub.AgentChannel(*conv.AgentID), hub.EventMessageNew, payload)
	}
}

// triggerResponder starts the AI reply as a detached background task. The
// caller's request completes without waiting, and a responder failure can
// never fail the message append that triggered it.
func (s *Service) triggerResponder(conversationID string) {
	if s.responder == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), responderTimeout)
		defer cancel()

		if err := s.responder.Respond(ctx, conversationID); err != nil {
			s.logger.Error("bot reply failed",
				"conversation_id", conversationID,
				"error", err)
		}
	}()
}

// CanView reports whether the identity may read the conversation, without
// loading the message thread. Used by the event stream to authorize channel
// subscriptions.
func (s *Service) CanView(ctx context.Context, identity *auth.Identity, conversationID string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !canSee(identity, conv) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) getConversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return conv, nil
}

// canSee reports read visibility: the owner, the assigned agent, or any
// agent while the conversation is pending and unassigned.
func canSee(identity *auth.Identity, conv *store.Conversation) bool {
	if identity.IsAgent() {
		if conv.AgentID != nil && *conv.AgentID == identity.ID {
			return true
		}
		return conv.Status == store.StatusPendingHuman && conv.AgentID == nil
	}
	return conv.UserID == identity.ID
}

// isParticipant reports whether the identity is the owning user or the
// currently assigned agent.
func isParticipant(identity *auth.Identity, conv *store.Conversation) bool {
	if identity.IsAgent() {
		return conv.AgentID != nil && *conv.AgentID == identity.ID
	}
	return conv.UserID == identity.ID
}

// transitionError maps store errors from conditional updates into the
// service taxonomy.
func transitionError(err error, op string) error {
	if errors.Is(err, store.ErrConflict) {
		return ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}
