package testutil

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mailvault/mailvault/internal/store"
)

// RawMessageBuilder assembles RFC 822 message bytes for parser and
// pipeline tests.
type RawMessageBuilder struct {
	messageID   string
	from        string
	to          []string
	cc          []string
	subject     string
	date        time.Time
	body        string
	attachments []rawAttachment
}

type rawAttachment struct {
	filename    string
	contentType string
	content     []byte
}

// NewRawMessage creates a builder with sensible defaults.
func NewRawMessage(messageID string) *RawMessageBuilder {
	return &RawMessageBuilder{
		messageID: messageID,
		from:      "sender@example.com",
		to:        []string{"recipient@example.com"},
		subject:   "Test Subject",
		date:      time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		body:      "Test body.",
	}
}

func (b *RawMessageBuilder) WithFrom(addr string) *RawMessageBuilder {
	b.from = addr
	return b
}

func (b *RawMessageBuilder) WithTo(addrs ...string) *RawMessageBuilder {
	b.to = addrs
	return b
}

func (b *RawMessageBuilder) WithCc(addrs ...string) *RawMessageBuilder {
	b.cc = addrs
	return b
}

func (b *RawMessageBuilder) WithSubject(s string) *RawMessageBuilder {
	b.subject = s
	return b
}

func (b *RawMessageBuilder) WithDate(t time.Time) *RawMessageBuilder {
	b.date = t
	return b
}

func (b *RawMessageBuilder) WithBody(body string) *RawMessageBuilder {
	b.body = body
	return b
}

func (b *RawMessageBuilder) WithAttachment(filename, contentType string, content []byte) *RawMessageBuilder {
	b.attachments = append(b.attachments, rawAttachment{filename, contentType, content})
	return b
}

// Build renders the message. Messages with attachments come out as
// multipart/mixed with base64 attachment parts.
func (b *RawMessageBuilder) Build() []byte {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Message-ID: <%s>\r\n", b.messageID)
	fmt.Fprintf(&sb, "From: %s\r\n", b.from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(b.to, ", "))
	if len(b.cc) > 0 {
		fmt.Fprintf(&sb, "Cc: %s\r\n", strings.Join(b.cc, ", "))
	}
	fmt.Fprintf(&sb, "Subject: %s\r\n", b.subject)
	fmt.Fprintf(&sb, "Date: %s\r\n", b.date.Format(time.RFC1123Z))

	if len(b.attachments) == 0 {
		sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		sb.WriteString("\r\n")
		sb.WriteString(b.body)
		sb.WriteString("\r\n")
		return []byte(sb.String())
	}

	const boundary = "mailvault-test-boundary"
	fmt.Fprintf(&sb, "Content-Type: multipart/mixed; boundary=%s\r\n", boundary)
	sb.WriteString("\r\n")

	fmt.Fprintf(&sb, "--%s\r\n", boundary)
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(b.body)
	sb.WriteString("\r\n")

	for _, att := range b.attachments {
		fmt.Fprintf(&sb, "--%s\r\n", boundary)
		fmt.Fprintf(&sb, "Content-Type: %s; name=%q\r\n", att.contentType, att.filename)
		fmt.Fprintf(&sb, "Content-Disposition: attachment; filename=%q\r\n", att.filename)
		sb.WriteString("Content-Transfer-Encoding: base64\r\n")
		sb.WriteString("\r\n")
		sb.WriteString(base64.StdEncoding.EncodeToString(att.content))
		sb.WriteString("\r\n")
	}
	fmt.Fprintf(&sb, "--%s--\r\n", boundary)

	return []byte(sb.String())
}

// EmailBuilder provides a fluent API for constructing store.Email rows in tests.
type EmailBuilder struct {
	e store.Email
}

// NewEmail creates a builder with sensible defaults.
func NewEmail(messageID string) *EmailBuilder {
	return &EmailBuilder{
		e: store.Email{
			MessageID:  messageID,
			Sender:     "sender@example.com",
			Recipients: []string{"recipient@example.com"},
			Cc:         []string{},
			Subject:    "Test Subject",
			Body:       "Test body.",
			ReceivedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}
}

func (b *EmailBuilder) WithSender(addr string) *EmailBuilder {
	b.e.Sender = addr
	return b
}

func (b *EmailBuilder) WithRecipients(addrs ...string) *EmailBuilder {
	b.e.Recipients = addrs
	return b
}

func (b *EmailBuilder) WithSubject(s string) *EmailBuilder {
	b.e.Subject = s
	return b
}

func (b *EmailBuilder) WithReceivedAt(t time.Time) *EmailBuilder {
	b.e.ReceivedAt = t
	return b
}

func (b *EmailBuilder) WithBody(body string) *EmailBuilder {
	b.e.Body = body
	return b
}

// Build returns the assembled row.
func (b *EmailBuilder) Build() *store.Email {
	e := b.e
	return &e
}
