// ABOUTME: Tests for WhatsApp Cloud API payload parsing and outbound sends
// ABOUTME: Covers text, media placeholders, contact names, and the send request shape

package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranga/inbox-gateway/internal/graph"
)

func TestWhatsAppParseInbound_Text(t *testing.T) {
	payload := `{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "15550001111"},
					"contacts": [{"wa_id": "15551234567", "profile": {"name": "Alice"}}],
					"messages": [{
						"from": "15551234567",
						"id": "wamid.abc",
						"type": "text",
						"text": {"body": "Do you deliver?"}
					}]
				}
			}]
		}]
	}`

	wa := NewWhatsApp(graph.NewClient())
	events, err := wa.ParseInbound([]byte(payload))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "15550001111", ev.ProviderIdentity)
	assert.Equal(t, "15551234567", ev.Identity.Phone)
	assert.Equal(t, "Alice", ev.DisplayName)
	assert.Equal(t, "15551234567", ev.ThreadKey)
	assert.Equal(t, "wamid.abc", ev.ExternalID)
	assert.Equal(t, "Do you deliver?", ev.Content)
	assert.Empty(t, ev.Attachments)
}

func TestWhatsAppParseInbound_ImageWithoutCaption(t *testing.T) {
	payload := `{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "15550001111"},
					"messages": [{
						"from": "15551234567",
						"id": "wamid.img",
						"type": "image",
						"image": {"id": "media-99", "mime_type": "image/jpeg"}
					}]
				}
			}]
		}]
	}`

	wa := NewWhatsApp(graph.NewClient())
	events, err := wa.ParseInbound([]byte(payload))
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "[Image]", events[0].Content)
	require.Len(t, events[0].Attachments, 1)
	assert.Equal(t, "image", events[0].Attachments[0].Type)
	assert.Equal(t, "media-99", events[0].Attachments[0].MediaID)
	assert.Equal(t, "image/jpeg", events[0].Attachments[0].MimeType)
	// Name falls back to the sender's number when no contact entry is present.
	assert.Equal(t, "15551234567", events[0].DisplayName)
}

func TestWhatsAppParseInbound_MediaPlaceholders(t *testing.T) {
	cases := []struct {
		name    string
		message string
		want    string
	}{
		{"image with caption", `{"from": "1", "id": "m1", "type": "image", "image": {"id": "x", "caption": "our venue"}}`, "our venue"},
		{"document with filename", `{"from": "1", "id": "m2", "type": "document", "document": {"id": "x", "filename": "menu.pdf"}}`, "[Document: menu.pdf]"},
		{"bare document", `{"from": "1", "id": "m3", "type": "document", "document": {"id": "x"}}`, "[Document]"},
		{"audio", `{"from": "1", "id": "m4", "type": "audio", "audio": {"id": "x"}}`, "[Audio]"},
		{"location", `{"from": "1", "id": "m5", "type": "location", "location": {"latitude": 40.4168, "longitude": -3.7038}}`, "[Location: 40.416800, -3.703800]"},
		{"unknown type", `{"from": "1", "id": "m6", "type": "sticker"}`, "[sticker]"},
	}

	wa := NewWhatsApp(graph.NewClient())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := `{"entry": [{"changes": [{"field": "messages", "value": {"messages": [` + tc.message + `]}}]}]}`
			events, err := wa.ParseInbound([]byte(payload))
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tc.want, events[0].Content)
		})
	}
}

func TestWhatsAppParseInbound_SkipsNonMessageChanges(t *testing.T) {
	payload := `{
		"entry": [{
			"changes": [
				{"field": "message_template_status_update", "value": {}},
				{"field": "messages", "value": {"messages": [{"from": "", "id": "wamid.x", "type": "text"}]}}
			]
		}]
	}`

	wa := NewWhatsApp(graph.NewClient())
	events, err := wa.ParseInbound([]byte(payload))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWhatsAppParseInbound_Malformed(t *testing.T) {
	wa := NewWhatsApp(graph.NewClient())
	_, err := wa.ParseInbound([]byte(`{not json`))
	assert.Error(t, err)
}

func TestWhatsAppSend(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages": [{"id": "wamid.sent"}]}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(graph.NewClient(graph.WithBaseURL(srv.URL), graph.WithVersion("v21.0")))
	creds := json.RawMessage(`{"access_token": "secret-token"}`)

	id, err := wa.Send(context.Background(), creds, Outbound{
		From:      "phone-number-id",
		Recipient: "15551234567",
		Content:   "Yes, Sundays too.",
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.sent", id)

	assert.Equal(t, "/v21.0/phone-number-id/messages", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "whatsapp", gotBody["messaging_product"])
	assert.Equal(t, "15551234567", gotBody["to"])
}

func TestWhatsAppSend_MissingToken(t *testing.T) {
	wa := NewWhatsApp(graph.NewClient())
	_, err := wa.Send(context.Background(), json.RawMessage(`{}`), Outbound{Recipient: "1"})
	assert.Error(t, err)
}
