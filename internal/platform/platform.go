// ABOUTME: Platform registry and the adapter contracts for inbound parsing and outbound send
// ABOUTME: Adding a channel type means registering another adapter, not editing a dispatcher

package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teranga/inbox-gateway/internal/store"
)

// ErrUnsupportedPlatform is returned for a platform tag no adapter claims
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Event is one provider message normalized into the canonical shape the
// ingest pipeline consumes. ProviderIdentity selects the channel; the rest
// feeds customer/conversation/message resolution.
type Event struct {
	ProviderIdentity string
	Identity         store.Identity
	DisplayName      string
	SenderID         string // raw provider sender id, kept for profile lookups
	ThreadKey        string
	ExternalID       string
	Content          string
	Attachments      []store.Attachment
}

// Outbound is one agent reply routed to a provider API.
type Outbound struct {
	From      string // the channel's provider identity (phone-number id, account id, mailbox)
	Recipient string
	Content   string
	Subject   string // email only
	ThreadID  string // email only: Message-ID being replied to
}

// Sender routes one outbound message through a provider API and returns the
// provider's message id. Credentials are injected per call.
type Sender interface {
	Send(ctx context.Context, creds json.RawMessage, out Outbound) (string, error)
}

// InboundParser turns a raw webhook payload into normalized events.
// Malformed items are skipped, not errors; only an unreadable payload fails.
type InboundParser interface {
	ParseInbound(body []byte) ([]Event, error)
}

// ProfileResolver is an optional adapter capability for best-effort sender
// display-name lookup. Failures must be treated as non-fatal by callers.
type ProfileResolver interface {
	ResolveSenderName(ctx context.Context, creds json.RawMessage, senderID string) (string, error)
}

// Registry maps platform tags to their adapter capabilities.
type Registry struct {
	senders map[string]Sender
	parsers map[string]InboundParser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]Sender),
		parsers: make(map[string]InboundParser),
	}
}

// RegisterSender binds an outbound sender to a platform tag.
func (r *Registry) RegisterSender(tag string, s Sender) {
	r.senders[tag] = s
}

// RegisterParser binds a webhook parser to a platform tag.
func (r *Registry) RegisterParser(tag string, p InboundParser) {
	r.parsers[tag] = p
}

// Sender returns the sender for a platform tag.
// Returns ErrUnsupportedPlatform if none is registered.
func (r *Registry) Sender(tag string) (Sender, error) {
	s, ok := r.senders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, tag)
	}
	return s, nil
}

// Parser returns the webhook parser for a platform tag.
// Returns ErrUnsupportedPlatform if none is registered (email has no
// webhook surface, so it never registers one).
func (r *Registry) Parser(tag string) (InboundParser, error) {
	p, ok := r.parsers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, tag)
	}
	return p, nil
}
