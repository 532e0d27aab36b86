// ABOUTME: Server-Sent Events endpoint streaming hub broadcasts to clients
// ABOUTME: Authorizes each requested channel against the caller's identity

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lumeno/desk-gateway/internal/auth"
	"github.com/lumeno/desk-gateway/internal/chat"
	"github.com/lumeno/desk-gateway/internal/hub"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// handleEvents handles GET /api/events?channels=chat-abc,presence-agents.
// Every requested channel is authorized up front; one unauthorized channel
// fails the whole request rather than silently narrowing the subscription.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	channels := splitChannels(r.URL.Query().Get("channels"))
	if len(channels) == 0 {
		g.sendJSONError(w, http.StatusBadRequest, "channels query parameter is required")
		return
	}

	for _, ch := range channels {
		if err := g.authorizeChannel(r.Context(), identity, ch); err != nil {
			g.writeServiceError(w, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Fan all subscriptions into one channel for this connection. The
	// per-channel subscriptions unsubscribe themselves when the request
	// context is done.
	merged := make(chan *hub.Event, 16)
	for _, ch := range channels {
		events, _ := g.hub.Subscribe(r.Context(), ch)
		go func(events <-chan *hub.Event) {
			for event := range events {
				select {
				case merged <- event:
				case <-r.Context().Done():
					return
				}
			}
		}(events)
	}

	g.writeSSEEvent(w, "connected", map[string]any{"channels": channels})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case event := <-merged:
			g.writeSSEEvent(w, event.Name, event)
			flusher.Flush()
		}
	}
}

// authorizeChannel checks that the identity may subscribe to the channel.
// Users get their own conversation channels; agents additionally get their
// own inbox and the shared presence channel.
func (g *Gateway) authorizeChannel(ctx context.Context, identity *auth.Identity, channel string) error {
	switch {
	case channel == hub.PresenceAgentsChannel:
		if !identity.IsAgent() {
			return chat.ErrForbidden
		}
		return nil

	case strings.HasPrefix(channel, "agent-"):
		if !identity.IsAgent() || channel != hub.AgentChannel(identity.ID) {
			return chat.ErrForbidden
		}
		return nil

	case strings.HasPrefix(channel, "chat-"):
		return g.chat.CanView(ctx, identity, strings.TrimPrefix(channel, "chat-"))

	default:
		return fmt.Errorf("%w: unknown channel %q", chat.ErrValidation, channel)
	}
}

// splitChannels parses the comma-separated channels query parameter.
func splitChannels(raw string) []string {
	var channels []string
	for _, ch := range strings.Split(raw, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	return channels
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
