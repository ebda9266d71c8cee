// ABOUTME: IMAP polling loop for email channels: fetch unseen, ingest, mark seen post-commit
// ABOUTME: One session per cycle with bounded timeouts so a dead cycle never wedges the mailbox

package mailroom

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/teranga/inbox-gateway/internal/ingest"
	"github.com/teranga/inbox-gateway/internal/platform"
	"github.com/teranga/inbox-gateway/internal/store"
)

// ChannelSource lists the email channels the poller should cycle over.
type ChannelSource interface {
	ListActiveChannelsByPlatform(ctx context.Context, platform string) ([]*store.Channel, error)
}

// Ingestor is the pipeline the poller feeds parsed messages into.
type Ingestor interface {
	Ingest(ctx context.Context, in *ingest.Inbound) (*ingest.Result, error)
}

// Poller fetches unseen mail for every active email channel on a fixed
// interval. Each cycle opens and closes its own IMAP session.
type Poller struct {
	channels     ChannelSource
	ingestor     Ingestor
	interval     time.Duration
	cycleTimeout time.Duration
	logger       *slog.Logger
}

// NewPoller creates a Poller. Zero durations get sane defaults.
func NewPoller(channels ChannelSource, ingestor Ingestor, interval, cycleTimeout time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if cycleTimeout <= 0 {
		cycleTimeout = 45 * time.Second
	}
	return &Poller{
		channels:     channels,
		ingestor:     ingestor,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		logger:       logger.With("component", "mailroom"),
	}
}

// Run polls until the context is cancelled. A failed cycle logs and waits
// for the next tick; it never stops the loop.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("mail poller started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("mail poller stopped")
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// maxStartJitter spreads channel cycle starts so every mailbox in a cycle
// isn't dialed at the same instant.
const maxStartJitter = 2 * time.Second

// PollAll runs one cycle for every active email channel, concurrently.
// Each channel starts after a small random offset.
func (p *Poller) PollAll(ctx context.Context) {
	channels, err := p.channels.ListActiveChannelsByPlatform(ctx, store.PlatformEmail)
	if err != nil {
		p.logger.Error("listing email channels failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch *store.Channel, jitter time.Duration) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter):
			}

			cycleCtx, cancel := context.WithTimeout(ctx, p.cycleTimeout)
			defer cancel()

			if err := p.PollChannel(cycleCtx, ch); err != nil {
				p.logger.Error("poll cycle failed",
					"channel_id", ch.ID,
					"error", err)
			}
		}(ch, rand.N(maxStartJitter))
	}
	wg.Wait()
}

// PollChannel runs one IMAP cycle for a channel: select INBOX, fetch unseen
// messages with envelope and body, ingest each, then mark only the
// successfully ingested ones seen. A crash between ingest and the seen flag
// reprocesses the message next cycle, where the idempotency key absorbs it.
func (p *Poller) PollChannel(ctx context.Context, ch *store.Channel) error {
	creds, err := platform.DecodeEmailCredentials(ch.Credentials)
	if err != nil {
		return err
	}
	if creds.IMAPHost == "" || creds.IMAPPort == 0 {
		return fmt.Errorf("email credentials missing imap host or port")
	}

	addr := fmt.Sprintf("%s:%d", creds.IMAPHost, creds.IMAPPort)

	// Dial and handshake under the cycle deadline so an unresponsive host
	// cannot wedge the cycle goroutine past its timeout.
	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing imap %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}
	if creds.IMAPTLS {
		netConn = tls.Client(netConn, &tls.Config{ServerName: creds.IMAPHost})
	}

	conn, err := client.New(netConn)
	if err != nil {
		netConn.Close()
		return fmt.Errorf("imap greeting from %s: %w", addr, err)
	}
	defer conn.Logout()

	if err := conn.Login(creds.Username, creds.Password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}

	if _, err := conn.Select("INBOX", false); err != nil {
		return fmt.Errorf("selecting inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := conn.Search(criteria)
	if err != nil {
		return fmt.Errorf("searching unseen: %w", err)
	}
	if len(seqNums) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)

	// Peek keeps the server from flagging messages seen on fetch; the flag
	// is only set after local ingestion commits.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- conn.Fetch(seqset, items, messages)
	}()

	var ingested []uint32
	for msg := range messages {
		in, ok := p.normalize(ch, msg, section)
		if !ok {
			continue
		}
		if _, err := p.ingestor.Ingest(ctx, in); err != nil {
			p.logger.Error("email ingestion failed",
				"channel_id", ch.ID,
				"external_id", in.ExternalID,
				"error", err)
			continue
		}
		ingested = append(ingested, msg.SeqNum)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}

	if len(ingested) > 0 {
		markSet := new(imap.SeqSet)
		markSet.AddNum(ingested...)
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := conn.Store(markSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return fmt.Errorf("marking messages seen: %w", err)
		}
	}

	p.logger.Info("poll cycle complete",
		"channel_id", ch.ID,
		"unseen", len(seqNums),
		"ingested", len(ingested))
	return nil
}

// normalize turns one fetched message into the canonical inbound shape.
// Messages with no from address are skipped.
func (p *Poller) normalize(ch *store.Channel, msg *imap.Message, section *imap.BodySectionName) (*ingest.Inbound, bool) {
	env := msg.Envelope
	if env == nil || len(env.From) == 0 {
		p.logger.Debug("skipping message with no envelope from", "channel_id", ch.ID)
		return nil, false
	}

	from := env.From[0]
	fromAddress := from.Address()
	if fromAddress == "" || fromAddress == "@" {
		p.logger.Debug("skipping message with empty from address", "channel_id", ch.ID)
		return nil, false
	}

	var plain, htmlBody string
	if body := msg.GetBody(section); body != nil {
		plain, htmlBody = extractText(body)
	}

	messageID := env.MessageId
	if messageID == "" {
		// No Message-ID header; synthesize a stable key so a crash between
		// ingest and the seen flag still deduplicates on reprocess.
		messageID = fmt.Sprintf("imap-%s-%d", ch.ID, msg.SeqNum)
	}

	threadKey := env.InReplyTo
	if threadKey == "" {
		threadKey = messageID
	}

	displayName := from.PersonalName
	if displayName == "" {
		displayName = fromAddress
	}

	return &ingest.Inbound{
		Channel:     ch,
		Identity:    store.Identity{Email: fromAddress},
		DisplayName: displayName,
		ThreadKey:   threadKey,
		ExternalID:  messageID,
		Content:     buildContent(env.Subject, plain, htmlBody),
		ReceivedAt:  time.Now(),
	}, true
}
