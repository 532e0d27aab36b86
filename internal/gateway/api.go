// ABOUTME: REST handlers for the conversation lifecycle
// ABOUTME: Maps service errors onto HTTP status codes with JSON bodies

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lumeno/desk-gateway/internal/auth"
	"github.com/lumeno/desk-gateway/internal/chat"
	"github.com/lumeno/desk-gateway/internal/store"
)

// CreateConversationRequest is the JSON body for POST /api/conversations.
type CreateConversationRequest struct {
	Message string `json:"message"`
}

// SendMessageRequest is the JSON body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	AgentID   *string `json:"agentId"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

// MessageResponse is the JSON shape of a message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderType     string `json:"senderType"`
	Message        string `json:"message"`
	CreatedAt      string `json:"createdAt"`
}

// ConversationDetailResponse is the JSON response for GET /api/conversations/{id}.
type ConversationDetailResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Messages     []MessageResponse    `json:"messages"`
}

// CreateConversationResponse is the JSON response for POST /api/conversations.
type CreateConversationResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Message      MessageResponse      `json:"message"`
}

// StatusResponse reports the conversation status after a transition.
type StatusResponse struct {
	Status string `json:"status"`
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		AgentID:   c.AgentID,
		Status:    c.Status,
		CreatedAt: c.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderType:     m.Sender,
		Message:        m.Body,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339Nano),
	}
}

func conversationList(convs []*store.Conversation) []ConversationResponse {
	out := make([]ConversationResponse, len(convs))
	for i, c := range convs {
		out[i] = conversationResponse(c)
	}
	return out
}

// handleCreateConversation handles POST /api/conversations.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	var req CreateConversationRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, msg, err := g.chat.Create(r.Context(), identity, req.Message)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, CreateConversationResponse{
		Conversation: conversationResponse(conv),
		Message:      messageResponse(msg),
	})
}

// handleListConversations handles GET /api/conversations. Users get their own
// conversations; agents get assigned plus the pending queue.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	convs, err := g.chat.List(r.Context(), identity)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, conversationList(convs))
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	conv, msgs, err := g.chat.Get(r.Context(), identity, r.PathValue("id"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	resp := ConversationDetailResponse{
		Conversation: conversationResponse(conv),
		Messages:     make([]MessageResponse, len(msgs)),
	}
	for i, m := range msgs {
		resp.Messages[i] = messageResponse(m)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.chat.SendMessage(r.Context(), identity, r.PathValue("id"), req.Message)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, messageResponse(msg))
}

// handleEscalate handles POST /api/conversations/{id}/escalate. Always
// succeeds for the owner, reporting where the conversation ended up.
func (g *Gateway) handleEscalate(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	status, err := g.chat.Escalate(r.Context(), identity, r.PathValue("id"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, StatusResponse{Status: status})
}

// handleDeescalate handles POST /api/conversations/{id}/deescalate.
func (g *Gateway) handleDeescalate(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := g.chat.Deescalate(r.Context(), identity, r.PathValue("id")); err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, StatusResponse{Status: store.StatusBot})
}

// handleAccept handles POST /api/conversations/{id}/accept. Exactly one agent
// wins a contested accept; losers get 409.
func (g *Gateway) handleAccept(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := g.chat.Accept(r.Context(), identity, r.PathValue("id")); err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, StatusResponse{Status: store.StatusActiveHuman})
}

// handleRelease handles POST /api/conversations/{id}/release.
func (g *Gateway) handleRelease(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := g.chat.Release(r.Context(), identity, r.PathValue("id")); err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, StatusResponse{Status: store.StatusBot})
}

// handleClose handles POST /api/conversations/{id}/close.
func (g *Gateway) handleClose(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := g.chat.Close(r.Context(), identity, r.PathValue("id")); err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, StatusResponse{Status: store.StatusClosed})
}

// handlePending handles GET /api/agent/pending, the unassigned escalation
// queue. Agents only.
func (g *Gateway) handlePending(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	convs, err := g.chat.ListPending(r.Context(), identity)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, conversationList(convs))
}

// writeServiceError maps chat service errors to HTTP status codes.
func (g *Gateway) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, chat.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chat.ErrConflict):
		g.sendJSONError(w, http.StatusConflict, "conversation is not in the required state")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func decodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
