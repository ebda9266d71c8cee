// ABOUTME: Tests for MIME text extraction and canonical email content assembly
// ABOUTME: Covers multipart preference, HTML stripping fallback, and subject handling

package mailroom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const multipartMessage = "From: Alice <alice@example.com>\r\n" +
	"To: orders@caterer.example\r\n" +
	"Subject: Wedding quote\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Could you quote for 80 guests?\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Could you quote for <b>80</b> guests?</p>\r\n" +
	"--BOUNDARY--\r\n"

const htmlOnlyMessage = "From: Alice <alice@example.com>\r\n" +
	"Subject: Menu question\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><head><style>p { color: red; }</style></head>" +
	"<body><p>Is the menu &amp; wine list online?</p></body></html>\r\n"

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"Subject: Hours\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"What time do you open?\r\n"

func TestExtractText_PrefersPlainPart(t *testing.T) {
	plain, htmlBody := extractText(strings.NewReader(multipartMessage))
	assert.Contains(t, plain, "Could you quote for 80 guests?")
	// The plain part short-circuits the walk; the html part is not needed.
	assert.Empty(t, htmlBody)
}

func TestExtractText_HTMLOnly(t *testing.T) {
	plain, htmlBody := extractText(strings.NewReader(htmlOnlyMessage))
	assert.Empty(t, plain)
	assert.Contains(t, htmlBody, "<p>Is the menu")
}

func TestExtractText_NonMIME(t *testing.T) {
	plain, _ := extractText(strings.NewReader(plainMessage))
	assert.Contains(t, plain, "What time do you open?")
}

func TestExtractText_Garbage(t *testing.T) {
	plain, htmlBody := extractText(strings.NewReader("not an email at all"))
	assert.Empty(t, plain)
	assert.Empty(t, htmlBody)
}

func TestStripHTML(t *testing.T) {
	got := stripHTML(`<html><head><style>p { color: red; }</style><script>alert(1)</script></head>` +
		`<body><p>Hello &amp; welcome</p><p>Second   line</p></body></html>`)

	assert.NotContains(t, got, "<")
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "color: red")
	assert.Contains(t, got, "Hello & welcome")
	assert.Contains(t, got, "Second   line")
}

func TestBuildContent(t *testing.T) {
	cases := []struct {
		name     string
		subject  string
		plain    string
		htmlBody string
		want     string
	}{
		{"subject and body", "Quote", "80 guests", "", "Quote\n\n80 guests"},
		{"subject only", "Quote", "", "", "Quote"},
		{"body only", "", "80 guests", "", "80 guests"},
		{"html fallback", "Quote", "", "<p>80 guests</p>", "Quote\n\n80 guests"},
		{"plain beats html", "Quote", "plain text", "<p>html text</p>", "Quote\n\nplain text"},
		{"whitespace trimmed", "  Quote  ", "  80 guests  \r\n", "", "Quote\n\n80 guests"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, buildContent(tc.subject, tc.plain, tc.htmlBody))
		})
	}
}
