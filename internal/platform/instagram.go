// ABOUTME: Instagram Graph messaging adapter: webhook parsing, echo filtering, outbound send
// ABOUTME: Thread key is senderId_recipientId so each customer/channel pair stays one thread

package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teranga/inbox-gateway/internal/graph"
	"github.com/teranga/inbox-gateway/internal/store"
)

// instagramPayload mirrors the Graph messaging webhook schema, limited to
// the fields the gateway consumes.
type instagramPayload struct {
	Entry []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Message struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				IsEcho      bool   `json:"is_echo"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// Instagram is the Graph messaging adapter.
type Instagram struct {
	graph *graph.Client
}

// NewInstagram creates an Instagram adapter on the shared Graph client.
func NewInstagram(g *graph.Client) *Instagram {
	return &Instagram{graph: g}
}

// ParseInbound normalizes a Graph messaging payload. Echo events are copies
// of the business's own outbound sends and are dropped here; ingesting them
// would re-record every reply as an incoming message. Items missing a
// sender or recipient are skipped.
func (ig *Instagram) ParseInbound(body []byte) ([]Event, error) {
	var payload instagramPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing instagram payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, item := range entry.Messaging {
			if item.Message.IsEcho {
				continue
			}
			senderID := item.Sender.ID
			recipientID := item.Recipient.ID
			if senderID == "" || recipientID == "" {
				continue
			}

			content := item.Message.Text
			var attachments []store.Attachment
			for _, att := range item.Message.Attachments {
				attachments = append(attachments, store.Attachment{
					Type: att.Type,
					URL:  att.Payload.URL,
				})
			}
			if content == "" && len(attachments) > 0 {
				content = fmt.Sprintf("[%s]", attachments[0].Type)
			}

			events = append(events, Event{
				ProviderIdentity: recipientID,
				Identity:         store.Identity{InstagramHandle: senderID},
				SenderID:         senderID,
				ThreadKey:        fmt.Sprintf("%s_%s", senderID, recipientID),
				ExternalID:       item.Message.MID,
				Content:          content,
				Attachments:      attachments,
			})
		}
	}

	return events, nil
}

// ResolveSenderName fetches the sender's profile name with the channel's
// access token. Callers fall back to the raw sender id on any error.
func (ig *Instagram) ResolveSenderName(ctx context.Context, creds json.RawMessage, senderID string) (string, error) {
	mc, err := DecodeMetaCredentials(creds)
	if err != nil {
		return "", err
	}
	return ig.graph.FetchProfileName(ctx, mc.AccessToken, senderID)
}

// Send posts one text message through the Graph messaging API. out.From is
// the channel's Instagram account id.
func (ig *Instagram) Send(ctx context.Context, creds json.RawMessage, out Outbound) (string, error) {
	mc, err := DecodeMetaCredentials(creds)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"recipient": map[string]any{
			"id": out.Recipient,
		},
		"message": map[string]any{
			"text": out.Content,
		},
	}

	return ig.graph.SendMessage(ctx, mc.AccessToken, out.From, body)
}
