// Package mailsource abstracts where raw messages come from.
//
// The pipeline only sees the Source interface; the IMAP implementation
// lives alongside it and a fake stands in for tests.
package mailsource

import (
	"context"
	"errors"
	"time"
)

// ErrFetch tags failures while retrieving messages from the backing
// mailbox. Callers check it with errors.Is to tell transport trouble
// apart from parse or storage errors.
var ErrFetch = errors.New("mail source fetch")

// RawMessage is one unparsed message as delivered by a source.
type RawMessage struct {
	// ID identifies the message within its source so it can be
	// acknowledged later. For IMAP this is "mailbox|uid".
	ID string

	// Raw is the full RFC 822 message bytes.
	Raw []byte

	// Mailbox is the folder the message came from, when the source has
	// that notion.
	Mailbox string

	// InternalDate is the server's receive time, zero when unknown. The
	// parser prefers the Date header and falls back to this.
	InternalDate time.Time
}

// Source delivers batches of raw messages.
type Source interface {
	// Fetch returns up to max unprocessed messages. An empty slice
	// means the source is drained.
	Fetch(ctx context.Context, max int) ([]*RawMessage, error)

	// Ack marks a message as processed so later fetches skip it. Acking
	// is independent of whether the message was archived or skipped as
	// a duplicate.
	Ack(ctx context.Context, id string) error

	// Close releases the source's resources.
	Close() error
}
