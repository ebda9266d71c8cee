// ABOUTME: Store interface and data types for inbox-gateway persistence
// ABOUTME: Defines Organization, Channel, Customer, Conversation, Message and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateCustomer is returned when an identity key already exists in the organization
var ErrDuplicateCustomer = errors.New("customer already exists")

// ErrDuplicateConversation is returned when a conversation for the thread key already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// Platform tags for channels
const (
	PlatformWhatsApp  = "whatsapp"
	PlatformInstagram = "instagram"
	PlatformEmail     = "email"
)

// Conversation status values
const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

// Message sender types
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderSystem   = "system"
)

// Organization is the tenant boundary. Every other entity is scoped to one.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Channel is one configured endpoint for one platform. Credentials are an
// opaque JSON bundle decoded by the platform adapter that owns it.
// Channels are deactivated on disconnect, never deleted, so history survives.
type Channel struct {
	ID               string
	OrgID            string
	Platform         string
	ProviderIdentity string // phone-number id, instagram account id, or mailbox address
	DisplayName      string
	Credentials      json.RawMessage
	Active           bool
	CreatedAt        time.Time
}

// Identity holds the dedup keys for a customer. Zero-value fields are
// simply absent; resolution probes phone, then email, then handle.
type Identity struct {
	Phone           string
	Email           string
	InstagramHandle string
}

// Empty reports whether no identity key is set.
func (id Identity) Empty() bool {
	return id.Phone == "" && id.Email == "" && id.InstagramHandle == ""
}

// Customer is an identity record scoped to an organization. Created lazily
// on first inbound contact and never deleted by this subsystem.
type Customer struct {
	ID              string
	OrgID           string
	Name            string
	Phone           string
	Email           string
	InstagramHandle string
	CreatedAt       time.Time
}

// Conversation is a thread between the organization and one customer on one
// channel. CustomerID is fixed at creation and not reconciled later.
type Conversation struct {
	ID               string
	OrgID            string
	CustomerID       string
	ChannelID        string
	ExternalThreadID string
	Status           string
	UnreadCount      int
	LastMessageAt    time.Time
	CreatedAt        time.Time
}

// Attachment describes one media item carried by a message.
type Attachment struct {
	Type     string `json:"type"`
	MediaID  string `json:"media_id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Message is an immutable, append-only row. ExternalID is the provider's
// own message identifier and acts as the idempotency key within its
// conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderType     string
	Content        string
	ExternalID     string
	Attachments    []Attachment
	CreatedAt      time.Time
}

// Profile is a push-capable member of the organization. Consumed read-only
// for notification fanout; owned by the account subsystem.
type Profile struct {
	ID          string
	OrgID       string
	DisplayName string
	PushToken   string
	CreatedAt   time.Time
}

// Store defines the interface for inbox persistence
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)

	// Channels
	CreateChannel(ctx context.Context, ch *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	GetActiveChannel(ctx context.Context, platform, providerIdentity string) (*Channel, error)
	ListChannels(ctx context.Context, orgID string) ([]*Channel, error)
	ListActiveChannelsByPlatform(ctx context.Context, platform string) ([]*Channel, error)
	DeactivateChannel(ctx context.Context, id string) error

	// Customers
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	FindCustomerByIdentity(ctx context.Context, orgID string, identity Identity) (*Customer, error)
	CreateCustomer(ctx context.Context, customer *Customer) error

	// Conversations
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByThreadKey(ctx context.Context, channelID, externalThreadID string) (*Conversation, error)
	CreateConversation(ctx context.Context, conv *Conversation) error
	ListConversations(ctx context.Context, orgID string, limit int) ([]*Conversation, error)
	MarkConversationRead(ctx context.Context, id string) error

	// Messages
	AppendInbound(ctx context.Context, msg *Message) (inserted bool, err error)
	AppendOutbound(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Profiles (read side of push fanout)
	CreateProfile(ctx context.Context, profile *Profile) error
	ListPushProfiles(ctx context.Context, orgID string) ([]*Profile, error)

	// Close releases any resources held by the store
	Close() error
}
