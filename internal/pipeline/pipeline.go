// Package pipeline drives one ingestion run: fetch raw messages, parse
// them, drop duplicates, evaluate filter rules, and persist the rest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mailvault/mailvault/internal/attach"
	"github.com/mailvault/mailvault/internal/filter"
	"github.com/mailvault/mailvault/internal/mailsource"
	"github.com/mailvault/mailvault/internal/mime"
	"github.com/mailvault/mailvault/internal/store"
)

const (
	defaultBatchSize = 50

	// blobWriters bounds concurrent attachment writes per message.
	blobWriters = 4
)

// Option is a functional option for Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithBatchSize sets how many messages are requested per fetch.
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// Archive is the slice of the store the pipeline depends on. *store.Store
// satisfies it; tests substitute fault-injecting implementations.
type Archive interface {
	StartRun(source string) (int64, error)
	FinishRun(runID int64, status string, c store.RunCounters, errMsg string) error
	ListRules(enabledOnly bool) ([]filter.Rule, error)
	IsKnown(messageID string) (bool, error)
	SaveEmail(email *store.Email, attachments []store.Attachment) (int64, error)
}

// Runner executes ingestion runs against one source.
type Runner struct {
	source    mailsource.Source
	store     Archive
	blobs     attach.Store
	logger    *slog.Logger
	batchSize int
}

// New creates a Runner.
func New(source mailsource.Source, st Archive, blobs attach.Store, opts ...Option) *Runner {
	r := &Runner{
		source:    source,
		store:     st,
		blobs:     blobs,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summary reports what one run did. The counters always satisfy
// Saved+Duplicates <= Fetched; parse and save failures account for the
// rest.
type Summary struct {
	RunID       int64
	Status      string
	Fetched     int64
	Saved       int64
	Duplicates  int64
	ParseErrors int64
	SaveErrors  int64

	// Actions tallies how many saved emails matched each rule action.
	Actions map[filter.Action]int64
}

func (s *Summary) counters() store.RunCounters {
	return store.RunCounters{
		Fetched:     s.Fetched,
		Saved:       s.Saved,
		Duplicates:  s.Duplicates,
		ParseErrors: s.ParseErrors,
		SaveErrors:  s.SaveErrors,
	}
}

// Run ingests everything the source currently has. One message failing
// to parse or save never aborts the run; the failure is counted and the
// run carries on. The returned summary is valid even when err is
// non-nil.
func (r *Runner) Run(ctx context.Context, sourceName string) (summary *Summary, err error) {
	runID, err := r.store.StartRun(sourceName)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	summary = &Summary{
		RunID:   runID,
		Actions: make(map[filter.Action]int64),
	}

	rules, err := r.store.ListRules(true)
	if err != nil {
		summary.Status = store.RunStatusFailed
		_ = r.store.FinishRun(runID, store.RunStatusFailed, summary.counters(), err.Error())
		return summary, fmt.Errorf("load rules: %w", err)
	}

	// Finalize the run record no matter how we leave, panics included;
	// a crash must not strand the record in the running state.
	defer func() {
		if p := recover(); p != nil {
			summary.Status = store.RunStatusFailed
			_ = r.store.FinishRun(runID, store.RunStatusFailed, summary.counters(), fmt.Sprintf("panic: %v", p))
			panic(p)
		}

		msg := ""
		switch {
		case err != nil:
			summary.Status = store.RunStatusFailed
			msg = err.Error()
		case summary.ParseErrors > 0 || summary.SaveErrors > 0:
			summary.Status = store.RunStatusPartial
		default:
			summary.Status = store.RunStatusSuccess
		}
		if finishErr := r.store.FinishRun(runID, summary.Status, summary.counters(), msg); finishErr != nil && err == nil {
			err = fmt.Errorf("finish run: %w", finishErr)
		}
	}()

	r.logger.Info("ingestion run started", "run_id", runID, "source", sourceName, "rules", len(rules))

	// Messages that fail to save stay unacked so the next run retries
	// them; attempted tracks them so this run does not loop on refetch.
	attempted := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		batch, fetchErr := r.source.Fetch(ctx, r.batchSize)
		if fetchErr != nil {
			return summary, fmt.Errorf("fetch batch: %w", fetchErr)
		}

		progressed := false
		for _, msg := range batch {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			if attempted[msg.ID] {
				continue
			}
			attempted[msg.ID] = true
			progressed = true
			summary.Fetched++

			r.ingestOne(ctx, msg, rules, summary)
		}

		if len(batch) == 0 || !progressed {
			break
		}
	}

	r.logger.Info("ingestion run finished",
		"run_id", runID,
		"fetched", summary.Fetched,
		"saved", summary.Saved,
		"duplicates", summary.Duplicates,
		"parse_errors", summary.ParseErrors,
		"save_errors", summary.SaveErrors)

	return summary, nil
}

// ingestOne processes a single message and updates the summary. All
// failures are absorbed into counters.
func (r *Runner) ingestOne(ctx context.Context, msg *mailsource.RawMessage, rules []filter.Rule, summary *Summary) {
	parsed, err := mime.Parse(msg.Raw)
	if err != nil {
		summary.ParseErrors++
		r.logger.Warn("message failed to parse", "id", msg.ID, "error", err)
		// A malformed message will never parse on retry; ack it so it
		// stops coming back.
		r.ack(ctx, msg.ID)
		return
	}
	if parsed.MessageID == "" {
		// Without a Message-ID the dedup gate has nothing to key on;
		// treat it like any other unparseable message.
		summary.ParseErrors++
		r.logger.Warn("message has no Message-ID", "id", msg.ID)
		r.ack(ctx, msg.ID)
		return
	}
	if parsed.ReceivedAt.IsZero() {
		parsed.ReceivedAt = msg.InternalDate
	}

	known, err := r.store.IsKnown(parsed.MessageID)
	if err != nil {
		summary.SaveErrors++
		r.logger.Error("dedup check failed", "id", msg.ID, "message_id", parsed.MessageID, "error", err)
		return
	}
	if known {
		summary.Duplicates++
		r.logger.Debug("skipping duplicate", "id", msg.ID, "message_id", parsed.MessageID)
		r.ack(ctx, msg.ID)
		return
	}

	actions := filter.Evaluate(parsed, rules)

	// Blobs are written before the database transaction; if any write
	// fails no email row exists yet, and already-written blobs are
	// content addressed so they are harmless and reusable.
	attachments, err := r.storeBlobs(ctx, parsed.Attachments)
	if err != nil {
		summary.SaveErrors++
		r.logger.Error("attachment storage failed", "id", msg.ID, "message_id", parsed.MessageID, "error", err)
		return
	}

	email := &store.Email{
		MessageID:  parsed.MessageID,
		Sender:     parsed.Sender,
		Recipients: parsed.Recipients,
		Cc:         parsed.Cc,
		Subject:    parsed.Subject,
		Body:       parsed.Body,
		BodyIsHTML: parsed.BodyIsHTML,
		ReceivedAt: parsed.ReceivedAt,
	}
	emailID, err := r.store.SaveEmail(email, attachments)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent run; same outcome as the dedup
		// gate catching it.
		summary.Duplicates++
		r.ack(ctx, msg.ID)
		return
	}
	if err != nil {
		summary.SaveErrors++
		r.logger.Error("save failed", "id", msg.ID, "message_id", parsed.MessageID, "error", err)
		return
	}

	summary.Saved++
	for _, a := range actions {
		summary.Actions[a]++
	}
	if len(actions) > 0 {
		r.logger.Info("rules matched", "email_id", emailID, "message_id", parsed.MessageID, "actions", actions)
	}
	r.ack(ctx, msg.ID)
}

// storeBlobs writes attachment payloads concurrently and returns the
// metadata rows for SaveEmail.
func (r *Runner) storeBlobs(ctx context.Context, parts []mime.Attachment) ([]store.Attachment, error) {
	if len(parts) == 0 {
		return nil, nil
	}

	attachments := make([]store.Attachment, len(parts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(blobWriters)
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := r.blobs.Put(part.Content)
			if err != nil {
				return fmt.Errorf("store %q: %w", part.Filename, err)
			}
			attachments[i] = store.Attachment{
				Filename:    part.Filename,
				ContentType: part.ContentType,
				Size:        part.Size,
				ContentHash: hash,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return attachments, nil
}

// ack is best effort; a failed ack means the message is refetched next
// run and skipped as a duplicate then.
func (r *Runner) ack(ctx context.Context, id string) {
	if err := r.source.Ack(ctx, id); err != nil {
		r.logger.Warn("ack failed", "id", id, "error", err)
	}
}
