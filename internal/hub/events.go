// ABOUTME: Event names, channel naming, and broadcast payload types
// ABOUTME: Defines the wire-visible taxonomy fanned out to subscribers

package hub

import "time"

// Event names delivered to subscribers. A conversation channel carries
// message and lifecycle events for one conversation; an agent inbox channel
// mirrors them for the assigned agent; the shared presence channel alerts
// all online agents to new escalations.
const (
	EventMessageNew           = "message:new"
	EventMessageStream        = "message:stream"
	EventAgentAssigned        = "agent:assigned"
	EventConversationClosed   = "conversation:closed"
	EventConversationBotMode  = "conversation:bot_mode"
	EventConversationReleased = "conversation:released"
	EventEscalationRequested  = "escalation:requested"
)

// PresenceAgentsChannel is the shared channel for all online agents.
const PresenceAgentsChannel = "presence-agents"

// ConversationChannel returns the channel name for one conversation.
func ConversationChannel(conversationID string) string {
	return "chat-" + conversationID
}

// AgentChannel returns the inbox channel name for one agent identity.
func AgentChannel(agentID string) string {
	return "agent-" + agentID
}

// Event is a single broadcast delivered to channel subscribers.
type Event struct {
	Channel string `json:"channel"`
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// MessageBody is the message representation carried by message:new events.
// Consumers de-duplicate on ID: the same message may arrive through both the
// conversation channel and an agent inbox.
type MessageBody struct {
	ID         string    `json:"id"`
	SenderType string    `json:"senderType"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageNewPayload accompanies message:new.
type MessageNewPayload struct {
	ConversationID string      `json:"conversationId"`
	Message        MessageBody `json:"message"`
}

// MessageStreamPayload accompanies message:stream, one incremental text
// delta of an in-flight bot reply.
type MessageStreamPayload struct {
	ConversationID string `json:"conversationId"`
	Delta          string `json:"delta"`
}

// AgentInfo identifies the agent in agent:assigned events.
type AgentInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AgentAssignedPayload accompanies agent:assigned.
type AgentAssignedPayload struct {
	ConversationID string    `json:"conversationId"`
	Agent          AgentInfo `json:"agent"`
}

// ConversationPayload accompanies conversation:closed, conversation:bot_mode
// and conversation:released.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// EscalationPayload accompanies escalation:requested on the presence channel.
type EscalationPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}
