// ABOUTME: HTTP handlers for Meta webhook deliveries (WhatsApp and Instagram)
// ABOUTME: Verifies subscription handshakes and signatures, then feeds events to ingestion

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teranga/inbox-gateway/internal/ingest"
	"github.com/teranga/inbox-gateway/internal/platform"
	"github.com/teranga/inbox-gateway/internal/store"
)

// itemTimeout bounds the datastore work for one webhook item
const itemTimeout = 15 * time.Second

// ChannelFinder resolves the active channel an inbound event belongs to.
type ChannelFinder interface {
	GetActiveChannel(ctx context.Context, platform, providerIdentity string) (*store.Channel, error)
}

// Ingestor is the pipeline normalized events are fed into.
type Ingestor interface {
	Ingest(ctx context.Context, in *ingest.Inbound) (*ingest.Result, error)
}

// Server handles webhook traffic for all push-based platforms.
type Server struct {
	registry    *platform.Registry
	channels    ChannelFinder
	ingestor    Ingestor
	verifyToken string
	appSecret   string // empty disables signature checks (dev only)
	logger      *slog.Logger
}

// NewServer creates a webhook server.
func NewServer(registry *platform.Registry, channels ChannelFinder, ingestor Ingestor, verifyToken, appSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:    registry,
		channels:    channels,
		ingestor:    ingestor,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      logger.With("component", "webhook"),
	}
}

// Routes registers the webhook endpoints on the given mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhooks/{platform}", s.handleVerify)
	mux.HandleFunc("POST /webhooks/{platform}", s.handleDelivery)
}

// handleVerify answers Meta's subscription handshake: echo hub.challenge
// when the verify token matches.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken && challenge != "" {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}

	s.logger.Warn("webhook verification rejected",
		"platform", r.PathValue("platform"),
		"mode", mode)
	http.Error(w, "forbidden", http.StatusForbidden)
}

// handleDelivery accepts one webhook POST. The body is read raw for
// signature validation, parsed by the platform's adapter, acknowledged 200,
// and then each item is processed with continue-on-error semantics: a bad
// item is logged and skipped so a batch redelivery cannot duplicate the
// items that already committed.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("platform")

	parser, err := s.registry.Parser(tag)
	if err != nil {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if ok, reason := s.verifySignature(r.Header.Get("X-Hub-Signature-256"), raw); !ok {
		s.logger.Warn("webhook signature rejected", "platform", tag, "reason", reason)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	events, err := parser.ParseInbound(raw)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// Acknowledge before processing so the provider stops redelivering;
	// the idempotency key covers anything it resends anyway.
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "EVENT_RECEIVED")

	for _, event := range events {
		s.processEvent(tag, parser, event)
	}
}

// processEvent resolves the channel for one normalized event and runs it
// through the ingestion pipeline.
func (s *Server) processEvent(tag string, parser platform.InboundParser, event platform.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), itemTimeout)
	defer cancel()

	channel, err := s.channels.GetActiveChannel(ctx, tag, event.ProviderIdentity)
	if errors.Is(err, store.ErrNotFound) {
		// Not configured here; the endpoint may be deprovisioned
		s.logger.Debug("no active channel for event",
			"platform", tag,
			"provider_identity", event.ProviderIdentity)
		return
	}
	if err != nil {
		s.logger.Error("channel lookup failed", "platform", tag, "error", err)
		return
	}

	if event.DisplayName == "" {
		event.DisplayName = s.resolveDisplayName(ctx, parser, channel, event)
	}

	in := &ingest.Inbound{
		Channel:     channel,
		Identity:    event.Identity,
		DisplayName: event.DisplayName,
		ThreadKey:   event.ThreadKey,
		ExternalID:  event.ExternalID,
		Content:     event.Content,
		Attachments: event.Attachments,
		ReceivedAt:  time.Now(),
	}

	if _, err := s.ingestor.Ingest(ctx, in); err != nil {
		s.logger.Error("webhook ingestion failed",
			"platform", tag,
			"external_id", event.ExternalID,
			"error", err)
	}
}

// resolveDisplayName asks the adapter for the sender's profile name when it
// supports lookups. Failures degrade to the raw sender id.
func (s *Server) resolveDisplayName(ctx context.Context, parser platform.InboundParser, channel *store.Channel, event platform.Event) string {
	resolver, ok := parser.(platform.ProfileResolver)
	if !ok {
		return event.SenderID
	}

	name, err := resolver.ResolveSenderName(ctx, channel.Credentials, event.SenderID)
	if err != nil || name == "" {
		if err != nil {
			s.logger.Debug("profile lookup failed, using raw sender id",
				"sender_id", event.SenderID,
				"error", err)
		}
		return event.SenderID
	}
	return name
}

// verifySignature validates the request body against Meta's
// X-Hub-Signature-256 header. With no app secret configured the check is
// skipped.
func (s *Server) verifySignature(header string, body []byte) (bool, string) {
	if s.appSecret == "" {
		return true, ""
	}

	sig := strings.TrimSpace(header)
	if sig == "" {
		return false, "missing X-Hub-Signature-256"
	}
	if !strings.HasPrefix(sig, "sha256=") {
		return false, "invalid X-Hub-Signature-256 format"
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return false, "invalid signature hex"
	}

	mac := hmac.New(sha256.New, []byte(s.appSecret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return false, "signature mismatch"
	}

	return true, ""
}
