// ABOUTME: WhatsApp Cloud API adapter: webhook payload parsing and outbound text send
// ABOUTME: Maps message types to canonical content with bracketed placeholders for media

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teranga/inbox-gateway/internal/graph"
	"github.com/teranga/inbox-gateway/internal/store"
)

// whatsappPayload mirrors the Cloud API message-event webhook schema,
// limited to the fields the gateway consumes.
type whatsappPayload struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []whatsappMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsappMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *whatsappMedia `json:"image"`
	Document *whatsappMedia `json:"document"`
	Audio    *whatsappMedia `json:"audio"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

type whatsappMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// WhatsApp is the Cloud API adapter.
type WhatsApp struct {
	graph *graph.Client
}

// NewWhatsApp creates a WhatsApp adapter on the shared Graph client.
func NewWhatsApp(g *graph.Client) *WhatsApp {
	return &WhatsApp{graph: g}
}

// ParseInbound normalizes a Cloud API webhook payload. The sender's phone
// number doubles as identity key and thread key; the wamid is the
// idempotency key. Items with no sender are skipped.
func (w *WhatsApp) ParseInbound(body []byte) ([]Event, error) {
	var payload whatsappPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing whatsapp payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			value := change.Value

			names := make(map[string]string, len(value.Contacts))
			for _, contact := range value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, msg := range value.Messages {
				from := strings.TrimSpace(msg.From)
				if from == "" {
					continue
				}

				content, attachments := whatsappContent(msg)

				displayName := names[from]
				if displayName == "" {
					displayName = from
				}

				events = append(events, Event{
					ProviderIdentity: value.Metadata.PhoneNumberID,
					Identity:         store.Identity{Phone: from},
					DisplayName:      displayName,
					SenderID:         from,
					ThreadKey:        from,
					ExternalID:       msg.ID,
					Content:          content,
					Attachments:      attachments,
				})
			}
		}
	}

	return events, nil
}

// whatsappContent maps a Cloud API message type to canonical content plus
// attachment descriptors.
func whatsappContent(msg whatsappMessage) (string, []store.Attachment) {
	switch msg.Type {
	case "text":
		return msg.Text.Body, nil

	case "image":
		content := "[Image]"
		if msg.Image != nil && msg.Image.Caption != "" {
			content = msg.Image.Caption
		}
		return content, mediaAttachment("image", msg.Image)

	case "document":
		content := "[Document]"
		if msg.Document != nil {
			if msg.Document.Caption != "" {
				content = msg.Document.Caption
			} else if msg.Document.Filename != "" {
				content = fmt.Sprintf("[Document: %s]", msg.Document.Filename)
			}
		}
		return content, mediaAttachment("document", msg.Document)

	case "audio":
		content := "[Audio]"
		if msg.Audio != nil && msg.Audio.Caption != "" {
			content = msg.Audio.Caption
		}
		return content, mediaAttachment("audio", msg.Audio)

	case "location":
		if msg.Location != nil {
			return fmt.Sprintf("[Location: %f, %f]", msg.Location.Latitude, msg.Location.Longitude), nil
		}
		return "[Location]", nil

	default:
		return fmt.Sprintf("[%s]", msg.Type), nil
	}
}

func mediaAttachment(kind string, media *whatsappMedia) []store.Attachment {
	if media == nil {
		return nil
	}
	return []store.Attachment{{
		Type:     kind,
		MediaID:  media.ID,
		MimeType: media.MimeType,
		Name:     media.Filename,
	}}
}

// Send posts one text message through the Cloud API. out.From is the
// channel's phone-number id.
func (w *WhatsApp) Send(ctx context.Context, creds json.RawMessage, out Outbound) (string, error) {
	mc, err := DecodeMetaCredentials(creds)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                out.Recipient,
		"type":              "text",
		"text": map[string]any{
			"body": out.Content,
		},
	}

	return w.graph.SendMessage(ctx, mc.AccessToken, out.From, body)
}
