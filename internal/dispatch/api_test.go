// ABOUTME: Tests for the agent HTTP API over a real SQLite store
// ABOUTME: Covers reply dispatch, recipient selection errors, mark read and listings

package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranga/inbox-gateway/internal/platform"
	"github.com/teranga/inbox-gateway/internal/store"
)

type apiFixture struct {
	store   *store.SQLiteStore
	sender  *fakeSender
	handler http.Handler
	conv    *store.Conversation
}

func setupAPI(t *testing.T, channelPlatform string, customer *store.Customer) *apiFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	org := &store.Organization{ID: "org-1", Name: "Test Caterer", CreatedAt: time.Now()}
	require.NoError(t, st.CreateOrganization(ctx, org))

	channel := &store.Channel{
		ID:               "chan-1",
		OrgID:            org.ID,
		Platform:         channelPlatform,
		ProviderIdentity: "provider-identity",
		DisplayName:      "Channel",
		Credentials:      json.RawMessage(`{"access_token":"tok"}`),
		Active:           true,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, st.CreateChannel(ctx, channel))

	customer.OrgID = org.ID
	require.NoError(t, st.CreateCustomer(ctx, customer))

	conv := &store.Conversation{
		ID:               "conv-1",
		OrgID:            org.ID,
		CustomerID:       customer.ID,
		ChannelID:        channel.ID,
		ExternalThreadID: "thread-1",
		Status:           store.ConversationOpen,
		LastMessageAt:    time.Now(),
		CreatedAt:        time.Now(),
	}
	require.NoError(t, st.CreateConversation(ctx, conv))

	registry := platform.NewRegistry()
	sender := &fakeSender{id: "provider-msg-1"}
	registry.RegisterSender(channelPlatform, sender)

	mux := http.NewServeMux()
	NewAPI(st, NewDispatcher(registry, nil), nil).Routes(mux)

	return &apiFixture{store: st, sender: sender, handler: mux, conv: conv}
}

func whatsappCustomer() *store.Customer {
	return &store.Customer{ID: "cust-1", Name: "Alice", Phone: "15551234567", CreatedAt: time.Now()}
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleReply_DispatchesAndRecords(t *testing.T) {
	f := setupAPI(t, store.PlatformWhatsApp, whatsappCustomer())

	rec := postJSON(t, f.handler, "/api/conversations/conv-1/reply", `{"content": "Yes we deliver"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ReplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "provider-msg-1", resp.ExternalID)
	assert.Equal(t, 1, f.sender.calls)

	messages, err := f.store.ListMessages(context.Background(), "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, store.SenderAgent, messages[0].SenderType)
	assert.Equal(t, "provider-msg-1", messages[0].ExternalID)

	// An agent reply never raises the unread counter.
	conv, err := f.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestHandleReply_MissingRecipientKey(t *testing.T) {
	// WhatsApp conversation with a customer that has no phone on file.
	f := setupAPI(t, store.PlatformWhatsApp, &store.Customer{
		ID: "cust-1", Name: "Emailer", Email: "a@example.com", CreatedAt: time.Now(),
	})

	rec := postJSON(t, f.handler, "/api/conversations/conv-1/reply", `{"content": "hi"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, f.sender.calls)
}

func TestHandleReply_EmailThreadsOnConversation(t *testing.T) {
	f := setupAPI(t, store.PlatformEmail, &store.Customer{
		ID: "cust-1", Name: "Alice", Email: "alice@example.com", CreatedAt: time.Now(),
	})

	capture := &capturingSender{}
	registry := platform.NewRegistry()
	registry.RegisterSender(store.PlatformEmail, capture)
	mux := http.NewServeMux()
	NewAPI(f.store, NewDispatcher(registry, nil), nil).Routes(mux)

	rec := postJSON(t, mux, "/api/conversations/conv-1/reply", `{"content": "Quote attached", "subject": "Re: Wedding"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "alice@example.com", capture.out.Recipient)
	assert.Equal(t, "Re: Wedding", capture.out.Subject)
	assert.Equal(t, "thread-1", capture.out.ThreadID)
}

type capturingSender struct {
	out platform.Outbound
}

func (c *capturingSender) Send(ctx context.Context, creds json.RawMessage, out platform.Outbound) (string, error) {
	c.out = out
	return "sent-1", nil
}

func TestHandleReply_Validation(t *testing.T) {
	f := setupAPI(t, store.PlatformWhatsApp, whatsappCustomer())

	rec := postJSON(t, f.handler, "/api/conversations/conv-1/reply", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, f.handler, "/api/conversations/conv-1/reply", `{"content": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, f.handler, "/api/conversations/no-such/reply", `{"content": "hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleMarkRead(t *testing.T) {
	f := setupAPI(t, store.PlatformWhatsApp, whatsappCustomer())
	ctx := context.Background()

	_, err := f.store.AppendInbound(ctx, &store.Message{
		ID: "msg-1", ConversationID: "conv-1", SenderType: store.SenderCustomer,
		Content: "hi", ExternalID: "wamid.1", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	rec := postJSON(t, f.handler, "/api/conversations/conv-1/read", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	conv, err := f.store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)

	rec = postJSON(t, f.handler, "/api/conversations/no-such/read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListConversations(t *testing.T) {
	f := setupAPI(t, store.PlatformWhatsApp, whatsappCustomer())

	req := httptest.NewRequest(http.MethodGet, "/api/conversations?org_id=org-1", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []ConversationResponse `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "conv-1", resp.Conversations[0].ID)

	// org_id is mandatory.
	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListMessages(t *testing.T) {
	f := setupAPI(t, store.PlatformWhatsApp, whatsappCustomer())
	ctx := context.Background()

	for i, content := range []string{"first", "second"} {
		_, err := f.store.AppendInbound(ctx, &store.Message{
			ID: string(rune('a' + i)), ConversationID: "conv-1", SenderType: store.SenderCustomer,
			Content: content, ExternalID: content, CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []MessageResponse `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "first", resp.Messages[0].Content)

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/no-such/messages", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
