// ABOUTME: Email outbound adapter: one SMTP session per send via gomail
// ABOUTME: Sets In-Reply-To/References for client-side threading when replying

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Email is the SMTP dispatch adapter. Inbound email is handled by the
// mailroom poller, so no webhook parser is registered for this platform.
type Email struct{}

// NewEmail creates the email adapter.
func NewEmail() *Email {
	return &Email{}
}

// Send opens a fresh SMTP session, sends one MIME message, and returns the
// Message-ID the gateway generated for it. gomail carries no context; the
// caller's deadline bounds the overall dispatch instead.
func (e *Email) Send(_ context.Context, creds json.RawMessage, out Outbound) (string, error) {
	ec, err := DecodeEmailCredentials(creds)
	if err != nil {
		return "", err
	}
	if ec.SMTPHost == "" || ec.SMTPPort == 0 {
		return "", fmt.Errorf("email credentials missing smtp host or port")
	}

	msg, messageID := buildEmailMessage(ec, out)

	dialer := gomail.NewDialer(ec.SMTPHost, ec.SMTPPort, ec.Username, ec.Password)
	dialer.SSL = ec.SMTPTLS

	if err := dialer.DialAndSend(msg); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return messageID, nil
}

// buildEmailMessage assembles the MIME message and its Message-ID. Split
// out so threading headers can be verified without an SMTP server.
func buildEmailMessage(ec EmailCredentials, out Outbound) (*gomail.Message, string) {
	from := ec.FromAddress
	if from == "" {
		from = ec.Username
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), addressDomain(from))

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", from, ec.FromName)
	msg.SetHeader("To", out.Recipient)
	msg.SetHeader("Message-ID", messageID)
	if out.Subject != "" {
		msg.SetHeader("Subject", out.Subject)
	}
	if out.ThreadID != "" {
		msg.SetHeader("In-Reply-To", out.ThreadID)
		msg.SetHeader("References", out.ThreadID)
	}
	msg.SetBody("text/plain", out.Content)

	return msg, messageID
}

func addressDomain(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "inbox-gateway.local"
}
