// ABOUTME: MIME extraction for polled email: first text/plain part, HTML fallback
// ABOUTME: Builds canonical message content as subject line plus body text

package mailroom

import (
	"html"
	"io"
	"regexp"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var (
	tagPattern        = regexp.MustCompile(`(?s)<(script|style)\b.*?</(script|style)>`)
	anglePattern      = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[ \t]*\n[ \t\n]*`)
)

// extractText walks the MIME parts and returns the first text/plain part
// and, separately, the first text/html part. A non-MIME message comes back
// through the same reader as a single inline part.
func extractText(r io.Reader) (plain, htmlBody string) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", ""
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && plain == "":
			body, err := io.ReadAll(part.Body)
			if err == nil {
				plain = string(body)
			}
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			body, err := io.ReadAll(part.Body)
			if err == nil {
				htmlBody = string(body)
			}
		}

		if plain != "" {
			break
		}
	}

	return plain, htmlBody
}

// stripHTML reduces an HTML body to readable text. Last-resort fallback for
// messages with no plain-text part.
func stripHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = anglePattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespacePattern.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// buildContent assembles the canonical message content: the subject line
// followed by the body text.
func buildContent(subject, plain, htmlBody string) string {
	body := strings.TrimSpace(plain)
	if body == "" && htmlBody != "" {
		body = stripHTML(htmlBody)
	}

	subject = strings.TrimSpace(subject)
	switch {
	case subject == "":
		return body
	case body == "":
		return subject
	default:
		return subject + "\n\n" + body
	}
}
