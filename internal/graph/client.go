// ABOUTME: Thin client for the Meta Graph API used by WhatsApp and Instagram channels
// ABOUTME: Sends messages and fetches profile names with bearer credentials per call

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the production Graph API endpoint
const DefaultBaseURL = "https://graph.facebook.com"

// DefaultVersion is the Graph API version the gateway speaks
const DefaultVersion = "v21.0"

// APIError carries a non-2xx Graph API response. The body is the provider's
// own error text, surfaced verbatim to the caller.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client is a Graph API client. Credentials are injected per call; the
// client itself holds no tokens.
type Client struct {
	http    *resty.Client
	version string
	logger  *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the Graph API endpoint (used by tests)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(baseURL)
	}
}

// WithVersion overrides the Graph API version
func WithVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.version = version
		}
	}
}

// NewClient creates a Graph API client with a bounded request timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(DefaultBaseURL).
			SetTimeout(30 * time.Second),
		version: DefaultVersion,
		logger:  slog.Default().With("component", "graph"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sendResponse covers both Cloud API and Instagram messaging responses:
// WhatsApp returns {"messages":[{"id":...}]}, Instagram {"message_id":...}.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	MessageID string `json:"message_id"`
}

// SendMessage posts a message body to /{version}/{senderID}/messages and
// returns the provider's message id. A non-2xx status returns *APIError.
func (c *Client) SendMessage(ctx context.Context, accessToken, senderID string, body any) (string, error) {
	var result sendResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&result).
		Post(fmt.Sprintf("/%s/%s/messages", c.version, senderID))
	if err != nil {
		return "", fmt.Errorf("posting message: %w", err)
	}

	if !resp.IsSuccess() {
		return "", &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	if len(result.Messages) > 0 {
		return result.Messages[0].ID, nil
	}
	if result.MessageID != "" {
		return result.MessageID, nil
	}

	c.logger.Warn("send succeeded but response carried no message id", "sender_id", senderID)
	return "", nil
}

type profileResponse struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// FetchProfileName looks up the display name for an Instagram-scoped user
// id. Callers treat failures as non-fatal and fall back to the raw id.
func (c *Client) FetchProfileName(ctx context.Context, accessToken, userID string) (string, error) {
	var result profileResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParam("fields", "name,username").
		SetResult(&result).
		Get(fmt.Sprintf("/%s/%s", c.version, userID))
	if err != nil {
		return "", fmt.Errorf("fetching profile: %w", err)
	}

	if !resp.IsSuccess() {
		return "", &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	if result.Name != "" {
		return result.Name, nil
	}
	return result.Username, nil
}
