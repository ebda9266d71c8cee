// ABOUTME: Best-effort push notification fanout to an organization's profiles
// ABOUTME: Each recipient is delivered independently; one failure never touches siblings

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/teranga/inbox-gateway/internal/store"
)

// DefaultEndpoint is the Expo push API endpoint
const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

// ProfileLister provides the fanout recipients.
type ProfileLister interface {
	ListPushProfiles(ctx context.Context, orgID string) ([]*store.Profile, error)
}

// Pusher delivers one notification to one device token.
type Pusher interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
}

// ExpoPusher implements Pusher against the Expo push HTTP API.
type ExpoPusher struct {
	http     *resty.Client
	endpoint string
}

// NewExpoPusher creates an Expo pusher. An empty endpoint uses production.
func NewExpoPusher(endpoint string) *ExpoPusher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &ExpoPusher{
		http:     resty.New().SetTimeout(10 * time.Second),
		endpoint: endpoint,
	}
}

// Push sends one notification. A non-2xx status is an error carrying the
// provider's response body.
func (p *ExpoPusher) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	payload := map[string]any{
		"to":    token,
		"title": title,
		"body":  body,
	}
	if len(data) > 0 {
		payload["data"] = data
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(p.endpoint)
	if err != nil {
		return fmt.Errorf("posting push: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("push api error: status=%d body=%s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Fanout delivers a notification to every push-capable profile of the
// organization. It satisfies ingest.Notifier: delivery runs as a task
// group where each recipient's error is logged and swallowed, so neither
// siblings nor the ingestion that triggered the fanout can fail.
type Fanout struct {
	profiles ProfileLister
	pusher   Pusher
	logger   *slog.Logger
}

// NewFanout creates a Fanout over the given recipients source and pusher.
func NewFanout(profiles ProfileLister, pusher Pusher, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		profiles: profiles,
		pusher:   pusher,
		logger:   logger.With("component", "notify"),
	}
}

// Fanout sends the notification to each recipient concurrently.
func (f *Fanout) Fanout(ctx context.Context, orgID, title, body string, data map[string]string) {
	recipients, err := f.profiles.ListPushProfiles(ctx, orgID)
	if err != nil {
		f.logger.Error("listing push profiles failed", "org_id", orgID, "error", err)
		return
	}
	if len(recipients) == 0 {
		return
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, profile := range recipients {
		g.Go(func() error {
			if err := f.pusher.Push(groupCtx, profile.PushToken, title, body, data); err != nil {
				f.logger.Warn("push delivery failed",
					"profile_id", profile.ID,
					"error", err)
			}
			// Errors are contained per recipient
			return nil
		})
	}
	_ = g.Wait()

	f.logger.Debug("push fanout complete", "org_id", orgID, "recipients", len(recipients))
}
