// ABOUTME: Typed views over a channel's opaque credential bundle
// ABOUTME: Decoded per invocation by the adapter that owns the platform

package platform

import (
	"encoding/json"
	"fmt"
)

// MetaCredentials is the bundle for WhatsApp and Instagram channels.
type MetaCredentials struct {
	AccessToken string `json:"access_token"`
}

// DecodeMetaCredentials parses a Meta credential bundle. A missing access
// token is a structured error, not a panic path.
func DecodeMetaCredentials(raw json.RawMessage) (MetaCredentials, error) {
	var creds MetaCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("decoding meta credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return creds, fmt.Errorf("meta credentials missing access_token")
	}
	return creds, nil
}

// EmailCredentials is the bundle for email channels: one IMAP mailbox for
// ingestion and one SMTP endpoint for dispatch.
type EmailCredentials struct {
	IMAPHost string `json:"imap_host"`
	IMAPPort int    `json:"imap_port"`
	IMAPTLS  bool   `json:"imap_tls"`

	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	SMTPTLS  bool   `json:"smtp_tls"`

	Username string `json:"username"`
	Password string `json:"password"`

	FromName    string `json:"from_name"`
	FromAddress string `json:"from_address"`
}

// DecodeEmailCredentials parses an email credential bundle and checks the
// fields both sessions need.
func DecodeEmailCredentials(raw json.RawMessage) (EmailCredentials, error) {
	var creds EmailCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("decoding email credentials: %w", err)
	}
	if creds.Username == "" || creds.Password == "" {
		return creds, fmt.Errorf("email credentials missing username or password")
	}
	return creds, nil
}
