// Package mime parses raw RFC 5322 messages into archival records using enmime.
package mime

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/mailvault/mailvault/internal/textutil"
)

// ParsedEmail is the normalized form of one raw message. Header fields are
// never nil: a missing subject is the empty string and missing address lists
// are empty slices.
type ParsedEmail struct {
	MessageID  string
	Sender     string
	Recipients []string
	Cc         []string
	Subject    string
	ReceivedAt time.Time

	// Body holds the first text part. When the message carries only an HTML
	// body it is stored as-is and BodyIsHTML is set.
	Body       string
	BodyIsHTML bool

	Attachments []Attachment

	// Warnings collects non-fatal defects enmime reported while decoding.
	Warnings []string
}

// Attachment is one decoded non-body MIME part.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	ContentHash string // sha256 hex of Content
	Content     []byte
}

// HasAttachments reports whether the message carries at least one attachment.
func (p *ParsedEmail) HasAttachments() bool { return len(p.Attachments) > 0 }

// partKind classifies a MIME part. Every part is exactly one of these.
type partKind int

const (
	partText partKind = iota
	partHTML
	partAttachment
)

// Parse decodes raw MIME bytes into a ParsedEmail. It performs no I/O.
// A malformed envelope returns a nil ParsedEmail and the decode error.
func Parse(raw []byte) (*ParsedEmail, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	p := &ParsedEmail{
		MessageID:  normalizeMessageID(env.GetHeader("Message-ID")),
		Subject:    textutil.EnsureUTF8(env.GetHeader("Subject")),
		Recipients: []string{},
		Cc:         []string{},
	}

	if from := addressList(env, "From"); len(from) > 0 {
		p.Sender = from[0]
	}
	p.Recipients = addressList(env, "To")
	p.Cc = addressList(env, "Cc")

	if dateStr := env.GetHeader("Date"); dateStr != "" {
		if t, ok := parseDate(dateStr); ok {
			p.ReceivedAt = t
		}
	}

	switch {
	case env.Text != "":
		p.Body = textutil.EnsureUTF8(env.Text)
	case env.HTML != "":
		p.Body = textutil.EnsureUTF8(env.HTML)
		p.BodyIsHTML = true
	}

	for _, part := range env.Attachments {
		if classifyPart(part) == partAttachment {
			p.Attachments = append(p.Attachments, makeAttachment(part))
		}
	}
	for _, part := range env.Inlines {
		if classifyPart(part) == partAttachment {
			p.Attachments = append(p.Attachments, makeAttachment(part))
		}
	}
	for _, part := range env.OtherParts {
		if classifyPart(part) == partAttachment {
			p.Attachments = append(p.Attachments, makeAttachment(part))
		}
	}

	for _, e := range env.Errors {
		p.Warnings = append(p.Warnings, textutil.FirstLine(e.Error()))
	}

	return p, nil
}

// addressList extracts lowercased addresses from a header, dropping entries
// without an address part.
func addressList(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil || len(list) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		out = append(out, strings.ToLower(addr.Address))
	}
	return out
}

// classifyPart assigns a MIME part to exactly one kind. text/plain and
// text/html parts without a filename and without an explicit attachment
// disposition are body content; everything else is an attachment.
func classifyPart(part *enmime.Part) partKind {
	contentType := baseToken(part.ContentType)
	isText := contentType == "text/plain"
	isHTML := contentType == "text/html"

	if (isText || isHTML) && part.FileName == "" && baseToken(part.Disposition) != "attachment" {
		if isHTML {
			return partHTML
		}
		return partText
	}
	return partAttachment
}

// baseToken strips parameters from a header token, e.g.
// "text/plain; charset=utf-8" -> "text/plain".
func baseToken(v string) string {
	v = strings.ToLower(v)
	if idx := strings.IndexByte(v, ';'); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

func makeAttachment(part *enmime.Part) Attachment {
	sum := sha256.Sum256(part.Content)
	filename := textutil.EnsureUTF8(part.FileName)
	if filename == "" {
		filename = "unnamed"
	}
	return Attachment{
		Filename:    filename,
		ContentType: baseToken(part.ContentType),
		Size:        int64(len(part.Content)),
		ContentHash: hex.EncodeToString(sum[:]),
		Content:     part.Content,
	}
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	return strings.Trim(id, "<>")
}

// dateFormats lists the Date header layouts seen in the wild, most common
// first.
var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate parses a Date header value, returning the time in UTC.
func parseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")

	// Strip a trailing parenthesized zone name like "(UTC)"; the numeric
	// offset preceding it is what matters.
	if idx := strings.LastIndexByte(s, '('); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
