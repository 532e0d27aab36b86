// Package hub is the broadcast router fanning domain events out to
// real-time subscribers.
//
// # Channels
//
// Three channel families exist:
//
//   - chat-<conversationID>: one per conversation; carries message:new,
//     message:stream, agent:assigned, conversation:closed,
//     conversation:bot_mode
//   - agent-<agentID>: one per agent identity; mirrors message events for
//     the agent's assigned conversation and carries conversation:released
//   - presence-agents: shared by all online agents; carries
//     escalation:requested
//
// # Delivery Contract
//
// Broadcasting is fire-and-forget relative to the triggering operation.
// Subscribers with full buffers lose events rather than block a publisher.
// Overlapping subscriptions can deliver the same message more than once;
// consumers de-duplicate on the stable message ID. No replay exists — a
// reconnecting client re-fetches history.
//
// # Cross-Instance Bridge
//
// Bridge optionally mirrors every event through a RabbitMQ topic exchange,
// keyed by channel name, so multiple gateway instances form one logical
// event space. Each bridge tags events with its instance ID and ignores its
// own on the way back in.
package hub
