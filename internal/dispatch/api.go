// ABOUTME: HTTP API for agents: reply to a conversation, mark read, list inbox
// ABOUTME: Dispatch failures surface to the caller with the provider's own error text

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teranga/inbox-gateway/internal/graph"
	"github.com/teranga/inbox-gateway/internal/platform"
	"github.com/teranga/inbox-gateway/internal/store"
)

// APIStore defines what the agent API needs from persistence.
type APIStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetChannel(ctx context.Context, id string) (*store.Channel, error)
	GetCustomer(ctx context.Context, id string) (*store.Customer, error)
	AppendOutbound(ctx context.Context, msg *store.Message) error
	MarkConversationRead(ctx context.Context, id string) error
	ListConversations(ctx context.Context, orgID string, limit int) ([]*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// ReplyRequest is the JSON request body for POST /api/conversations/{id}/reply.
type ReplyRequest struct {
	Content string `json:"content"`
	Subject string `json:"subject,omitempty"` // email only
}

// ReplyResponse is the JSON response for a successful reply.
type ReplyResponse struct {
	MessageID  string `json:"message_id"`
	ExternalID string `json:"external_id"`
}

// ConversationResponse is the JSON shape for conversation listings.
type ConversationResponse struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer_id"`
	ChannelID     string `json:"channel_id"`
	Status        string `json:"status"`
	UnreadCount   int    `json:"unread_count"`
	LastMessageAt string `json:"last_message_at"`
}

// MessageResponse is the JSON shape for message listings.
type MessageResponse struct {
	ID          string             `json:"id"`
	SenderType  string             `json:"sender_type"`
	Content     string             `json:"content"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	CreatedAt   string             `json:"created_at"`
}

// API serves the agent-facing endpoints.
type API struct {
	store      APIStore
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewAPI creates the agent API.
func NewAPI(st APIStore, dispatcher *Dispatcher, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:      st,
		dispatcher: dispatcher,
		logger:     logger.With("component", "api"),
	}
}

// Routes registers the agent API endpoints on the given mux. Wrap with the
// auth middleware before mounting.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", a.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", a.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/reply", a.handleReply)
	mux.HandleFunc("POST /api/conversations/{id}/read", a.handleMarkRead)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleReply routes an agent reply through the outbound dispatcher and
// records the agent message with the provider's returned id.
func (a *API) handleReply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx := r.Context()
	conv, err := a.store.GetConversation(ctx, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "conversation lookup failed")
		return
	}

	channel, err := a.store.GetChannel(ctx, conv.ChannelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "channel lookup failed")
		return
	}
	customer, err := a.store.GetCustomer(ctx, conv.CustomerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "customer lookup failed")
		return
	}

	out, err := buildOutbound(channel, customer, conv, req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	externalID, err := a.dispatcher.Dispatch(ctx, channel.Platform, channel.Credentials, out)
	if err != nil {
		var apiErr *graph.APIError
		switch {
		case errors.Is(err, platform.ErrUnsupportedPlatform):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &apiErr):
			writeError(w, http.StatusBadGateway, apiErr.Body)
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	if externalID == "" {
		externalID = uuid.New().String()
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderType:     store.SenderAgent,
		Content:        req.Content,
		ExternalID:     externalID,
		CreatedAt:      time.Now(),
	}
	if err := a.store.AppendOutbound(ctx, msg); err != nil {
		// The provider accepted the send; report the id but log the gap
		a.logger.Error("failed to record agent message",
			"conversation_id", conv.ID,
			"external_id", externalID,
			"error", err)
	}

	writeJSON(w, http.StatusOK, ReplyResponse{MessageID: msg.ID, ExternalID: externalID})
}

// buildOutbound picks the recipient identifier for the conversation's
// platform. The thread id only applies to email, where it becomes the
// In-Reply-To header.
func buildOutbound(channel *store.Channel, customer *store.Customer, conv *store.Conversation, req ReplyRequest) (platform.Outbound, error) {
	out := platform.Outbound{
		From:    channel.ProviderIdentity,
		Content: req.Content,
		Subject: req.Subject,
	}

	switch channel.Platform {
	case store.PlatformWhatsApp:
		if customer.Phone == "" {
			return out, fmt.Errorf("customer has no phone number")
		}
		out.Recipient = customer.Phone
	case store.PlatformInstagram:
		if customer.InstagramHandle == "" {
			return out, fmt.Errorf("customer has no instagram id")
		}
		out.Recipient = customer.InstagramHandle
	case store.PlatformEmail:
		if customer.Email == "" {
			return out, fmt.Errorf("customer has no email address")
		}
		out.Recipient = customer.Email
		out.ThreadID = conv.ExternalThreadID
	default:
		// Let the registry produce the canonical error
		out.Recipient = customer.Phone
	}

	return out, nil
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	err := a.store.MarkConversationRead(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "marking read failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListConversations(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	conversations, err := a.store.ListConversations(r.Context(), orgID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing conversations failed")
		return
	}

	resp := make([]ConversationResponse, 0, len(conversations))
	for _, c := range conversations {
		resp = append(resp, ConversationResponse{
			ID:            c.ID,
			CustomerID:    c.CustomerID,
			ChannelID:     c.ChannelID,
			Status:        c.Status,
			UnreadCount:   c.UnreadCount,
			LastMessageAt: c.LastMessageAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": resp})
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if _, err := a.store.GetConversation(r.Context(), conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "conversation lookup failed")
		return
	}

	messages, err := a.store.ListMessages(r.Context(), conversationID, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing messages failed")
		return
	}

	resp := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, MessageResponse{
			ID:          m.ID,
			SenderType:  m.SenderType,
			Content:     m.Content,
			Attachments: m.Attachments,
			CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": resp})
}
