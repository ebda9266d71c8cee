// ABOUTME: Ingest service is the central pipeline for inbound customer messages
// ABOUTME: Resolves customer and conversation, appends the message, triggers push fanout

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teranga/inbox-gateway/internal/store"
)

// ErrNoIdentity is returned when an inbound message carries no identity key at all
var ErrNoIdentity = errors.New("inbound message has no identity key")

// previewLimit bounds the notification body length
const previewLimit = 120

// Store defines what the ingest pipeline needs from persistence
type Store interface {
	FindCustomerByIdentity(ctx context.Context, orgID string, identity store.Identity) (*store.Customer, error)
	CreateCustomer(ctx context.Context, customer *store.Customer) error

	GetConversationByThreadKey(ctx context.Context, channelID, externalThreadID string) (*store.Conversation, error)
	CreateConversation(ctx context.Context, conv *store.Conversation) error

	AppendInbound(ctx context.Context, msg *store.Message) (bool, error)
}

// Notifier delivers a best-effort push notification to every push-capable
// profile of the organization. Implementations must never fail the caller.
type Notifier interface {
	Fanout(ctx context.Context, orgID, title, body string, data map[string]string)
}

// Inbound is a provider event normalized by a platform adapter.
type Inbound struct {
	Channel     *store.Channel
	Identity    store.Identity
	DisplayName string // falls back to the raw identity key when unknown
	ThreadKey   string // provider-specific thread correlation id
	ExternalID  string // provider message id, the idempotency key
	Content     string
	Attachments []store.Attachment
	ReceivedAt  time.Time
}

// Result reports what one inbound event resolved to.
type Result struct {
	Customer     *store.Customer
	Conversation *store.Conversation
	Message      *store.Message
	Duplicate    bool // true when the provider redelivered a known message
}

// Service is the ingestion pipeline. All inbound messages flow through here
// regardless of which platform they arrived on.
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// New creates a new ingest Service. notifier may be nil to disable fanout.
func New(st Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		notifier: notifier,
		logger:   logger.With("component", "ingest"),
	}
}

// Ingest runs one inbound event through the full pipeline: resolve the
// customer, resolve the conversation, append the message, then fan out a
// push notification. The fanout is best-effort and detached; only the three
// datastore steps can fail the ingestion.
func (s *Service) Ingest(ctx context.Context, in *Inbound) (*Result, error) {
	if in.Channel == nil {
		return nil, fmt.Errorf("inbound message has no channel")
	}

	customer, err := s.ResolveCustomer(ctx, in.Channel.OrgID, in.Identity, in.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("customer resolution failed: %w", err)
	}

	conv, err := s.ResolveConversation(ctx, in.Channel, customer.ID, in.ThreadKey, in.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("conversation resolution failed: %w", err)
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderType:     store.SenderCustomer,
		Content:        in.Content,
		ExternalID:     in.ExternalID,
		Attachments:    in.Attachments,
		CreatedAt:      in.ReceivedAt,
	}

	inserted, err := s.store.AppendInbound(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	if !inserted {
		s.logger.Debug("duplicate delivery suppressed",
			"conversation_id", conv.ID,
			"external_id", in.ExternalID)
		return &Result{Customer: customer, Conversation: conv, Message: msg, Duplicate: true}, nil
	}

	s.logger.Info("inbound message ingested",
		"platform", in.Channel.Platform,
		"conversation_id", conv.ID,
		"message_id", msg.ID)

	s.fanout(in.Channel.OrgID, conv.ID, customer, in.Content)

	return &Result{Customer: customer, Conversation: conv, Message: msg}, nil
}

// ResolveCustomer finds the customer matching one of the identity keys, or
// creates one. Keys are probed phone, then email, then instagram handle.
// A lost creation race falls back to re-resolving the winner's row, so two
// concurrent first-contact events never yield two customers.
func (s *Service) ResolveCustomer(ctx context.Context, orgID string, identity store.Identity, displayName string) (*store.Customer, error) {
	if identity.Empty() {
		return nil, ErrNoIdentity
	}

	customer, err := s.store.FindCustomerByIdentity(ctx, orgID, identity)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	name := displayName
	if name == "" {
		name = firstIdentityKey(identity)
	}
	customer = &store.Customer{
		ID:              uuid.New().String(),
		OrgID:           orgID,
		Name:            name,
		Phone:           identity.Phone,
		Email:           identity.Email,
		InstagramHandle: identity.InstagramHandle,
		CreatedAt:       time.Now(),
	}

	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		if errors.Is(err, store.ErrDuplicateCustomer) {
			s.logger.Debug("customer creation hit duplicate, retrying lookup", "org_id", orgID)
			existing, lookupErr := s.store.FindCustomerByIdentity(ctx, orgID, identity)
			if lookupErr == nil {
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, err
	}

	s.logger.Debug("customer created", "customer_id", customer.ID, "org_id", orgID)
	return customer, nil
}

// ResolveConversation reuses the conversation keyed by (channel, thread id)
// if one exists, regardless of which customer the current event resolved
// to, and otherwise creates a new open conversation. The same
// insert-then-relookup pattern absorbs concurrent first-message races.
func (s *Service) ResolveConversation(ctx context.Context, channel *store.Channel, customerID, threadKey string, now time.Time) (*store.Conversation, error) {
	if threadKey != "" {
		conv, err := s.store.GetConversationByThreadKey(ctx, channel.ID, threadKey)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	conv := &store.Conversation{
		ID:               uuid.New().String(),
		OrgID:            channel.OrgID,
		CustomerID:       customerID,
		ChannelID:        channel.ID,
		ExternalThreadID: threadKey,
		Status:           store.ConversationOpen,
		UnreadCount:      0,
		LastMessageAt:    now,
		CreatedAt:        now,
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) && threadKey != "" {
			s.logger.Debug("conversation creation hit duplicate, retrying lookup",
				"channel_id", channel.ID,
				"thread_key", threadKey)
			existing, lookupErr := s.store.GetConversationByThreadKey(ctx, channel.ID, threadKey)
			if lookupErr == nil {
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, err
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID, "channel_id", channel.ID)
	return conv, nil
}

// fanout dispatches the push notification with a detached timeout context.
// Delivery outcome never reaches the ingestion caller.
func (s *Service) fanout(orgID, conversationID string, customer *store.Customer, content string) {
	if s.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.notifier.Fanout(ctx, orgID, customer.Name, preview(content), map[string]string{
			"conversation_id": conversationID,
			"customer_id":     customer.ID,
		})
	}()
}

// preview truncates content for the notification body.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit]) + "…"
}

// firstIdentityKey picks the raw key used as a display-name fallback,
// following the same phone, email, handle priority as resolution.
func firstIdentityKey(identity store.Identity) string {
	switch {
	case identity.Phone != "":
		return identity.Phone
	case identity.Email != "":
		return identity.Email
	default:
		return identity.InstagramHandle
	}
}
