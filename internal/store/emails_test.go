package store_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mailvault/mailvault/internal/store"
	"github.com/mailvault/mailvault/internal/testutil"
)

func saveEmail(t *testing.T, st *store.Store, messageID string, opts ...func(*testutil.EmailBuilder)) int64 {
	t.Helper()
	b := testutil.NewEmail(messageID)
	for _, opt := range opts {
		opt(b)
	}
	id, err := st.SaveEmail(b.Build(), nil)
	testutil.MustNoErr(t, err, "save email")
	return id
}

func TestSaveAndGetEmail(t *testing.T) {
	st := testutil.NewTestStore(t)

	received := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)
	email := testutil.NewEmail("msg-1@example.com").
		WithSender("alice@example.com").
		WithRecipients("bob@example.com", "carol@corp.example").
		WithSubject("Hello").
		WithReceivedAt(received).
		Build()
	email.Cc = []string{"dave@example.com"}

	id, err := st.SaveEmail(email, []store.Attachment{
		{Filename: "report.pdf", ContentType: "application/pdf", Size: 1024, ContentHash: "aa11"},
	})
	testutil.MustNoErr(t, err, "save email")
	if id == 0 {
		t.Fatal("expected non-zero email ID")
	}

	got, err := st.GetEmail(id)
	testutil.MustNoErr(t, err, "get email")
	if got.MessageID != "msg-1@example.com" {
		t.Errorf("message_id = %q", got.MessageID)
	}
	if got.Sender != "alice@example.com" {
		t.Errorf("sender = %q", got.Sender)
	}
	testutil.AssertStrings(t, got.Recipients, "bob@example.com", "carol@corp.example")
	testutil.AssertStrings(t, got.Cc, "dave@example.com")
	if !got.ReceivedAt.Equal(received) {
		t.Errorf("received_at = %v, want %v", got.ReceivedAt, received)
	}
	if got.IsDeleted {
		t.Error("fresh email should not be deleted")
	}

	attachments, err := st.ListAttachments(id)
	testutil.MustNoErr(t, err, "list attachments")
	if len(attachments) != 1 || attachments[0].Filename != "report.pdf" {
		t.Errorf("attachments = %+v", attachments)
	}
}

func TestSaveEmailDuplicate(t *testing.T) {
	st := testutil.NewTestStore(t)

	saveEmail(t, st, "dup@example.com")

	_, err := st.SaveEmail(testutil.NewEmail("dup@example.com").WithSubject("Other").Build(), nil)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("second save = %v, want ErrDuplicate", err)
	}

	// The duplicate insert must leave no attachment rows behind.
	_, err = st.SaveEmail(testutil.NewEmail("dup@example.com").Build(), []store.Attachment{
		{Filename: "x.bin", ContentHash: "bb22"},
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("save with attachments = %v, want ErrDuplicate", err)
	}

	stats, err := st.GetStats()
	testutil.MustNoErr(t, err, "get stats")
	if stats.EmailCount != 1 {
		t.Errorf("email count = %d, want 1", stats.EmailCount)
	}
	if stats.AttachmentCount != 0 {
		t.Errorf("attachment count = %d, want 0", stats.AttachmentCount)
	}
}

func TestSaveEmailAtomicity(t *testing.T) {
	st := testutil.NewTestStore(t)

	// An attachment row that violates the schema rolls back the email too.
	_, err := st.SaveEmail(testutil.NewEmail("atomic@example.com").Build(), []store.Attachment{
		{Filename: "ok.txt", ContentHash: "cc33"},
		{Filename: "bad.txt"}, // content_hash is NOT NULL
	})
	if err == nil {
		t.Fatal("expected error from invalid attachment")
	}

	known, err := st.IsKnown("atomic@example.com")
	testutil.MustNoErr(t, err, "is known")
	if known {
		t.Error("failed save must not leave the email behind")
	}
}

func TestIsKnown(t *testing.T) {
	st := testutil.NewTestStore(t)

	known, err := st.IsKnown("nope@example.com")
	testutil.MustNoErr(t, err, "is known")
	if known {
		t.Error("unknown message reported as known")
	}

	id := saveEmail(t, st, "known@example.com")
	known, err = st.IsKnown("known@example.com")
	testutil.MustNoErr(t, err, "is known")
	if !known {
		t.Error("saved message not reported as known")
	}

	// Soft-deleted emails stay known so re-ingesting them is a no-op.
	testutil.MustNoErr(t, st.SoftDeleteEmail(id), "soft delete")
	known, err = st.IsKnown("known@example.com")
	testutil.MustNoErr(t, err, "is known")
	if !known {
		t.Error("soft-deleted message must still count as known")
	}
}

func TestSoftDeleteEmail(t *testing.T) {
	st := testutil.NewTestStore(t)
	id := saveEmail(t, st, "gone@example.com")

	testutil.MustNoErr(t, st.SoftDeleteEmail(id), "soft delete")

	got, err := st.GetEmail(id)
	testutil.MustNoErr(t, err, "get email")
	if !got.IsDeleted || !got.DeletedAt.Valid {
		t.Errorf("email not marked deleted: %+v", got)
	}
	firstDeletedAt := got.DeletedAt.Time

	// Idempotent: a second delete succeeds and keeps the original timestamp.
	testutil.MustNoErr(t, st.SoftDeleteEmail(id), "second soft delete")
	got, err = st.GetEmail(id)
	testutil.MustNoErr(t, err, "get email")
	if !got.DeletedAt.Time.Equal(firstDeletedAt) {
		t.Errorf("deleted_at changed on repeat delete: %v vs %v", got.DeletedAt.Time, firstDeletedAt)
	}

	if err := st.SoftDeleteEmail(9999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("soft delete missing = %v, want ErrNotFound", err)
	}
}

func TestHardDeleteEmail(t *testing.T) {
	st := testutil.NewTestStore(t)

	sharedHash := "dd44"
	id1, err := st.SaveEmail(testutil.NewEmail("hd-1@example.com").Build(), []store.Attachment{
		{Filename: "shared.pdf", ContentHash: sharedHash},
		{Filename: "only-here.txt", ContentHash: "ee55"},
	})
	testutil.MustNoErr(t, err, "save first")
	_, err = st.SaveEmail(testutil.NewEmail("hd-2@example.com").Build(), []store.Attachment{
		{Filename: "shared.pdf", ContentHash: sharedHash},
	})
	testutil.MustNoErr(t, err, "save second")

	orphaned, err := st.HardDeleteEmail(id1)
	testutil.MustNoErr(t, err, "hard delete")

	// The shared hash is still referenced by the second email.
	testutil.AssertStrings(t, orphaned, "ee55")

	if _, err := st.GetEmail(id1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get deleted email = %v, want ErrNotFound", err)
	}
	attachments, err := st.ListAttachments(id1)
	testutil.MustNoErr(t, err, "list attachments")
	if len(attachments) != 0 {
		t.Errorf("attachment rows survived cascade: %+v", attachments)
	}

	if _, err := st.HardDeleteEmail(id1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("repeat hard delete = %v, want ErrNotFound", err)
	}
}

func TestSearchEmails(t *testing.T) {
	st := testutil.NewTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		b := testutil.NewEmail(fmt.Sprintf("search-%d@example.com", i)).
			WithReceivedAt(base.Add(time.Duration(i) * time.Hour)).
			WithSubject(fmt.Sprintf("Report %d", i))
		if i%2 == 0 {
			b = b.WithSender("alice@example.com")
		} else {
			b = b.WithSender("bob@example.com")
		}
		_, err := st.SaveEmail(b.Build(), nil)
		testutil.MustNoErr(t, err, "save email")
	}

	t.Run("newest first with total", func(t *testing.T) {
		emails, total, err := st.SearchEmails(store.SearchQuery{})
		testutil.MustNoErr(t, err, "search")
		if total != 5 || len(emails) != 5 {
			t.Fatalf("total = %d, page = %d, want 5/5", total, len(emails))
		}
		if emails[0].MessageID != "search-4@example.com" {
			t.Errorf("first result = %q, want newest", emails[0].MessageID)
		}
	})

	t.Run("pagination covers all rows exactly once", func(t *testing.T) {
		var seen []string
		for offset := 0; ; offset += 2 {
			page, total, err := st.SearchEmails(store.SearchQuery{Limit: 2, Offset: offset})
			testutil.MustNoErr(t, err, "search page")
			if total != 5 {
				t.Fatalf("total = %d, want 5", total)
			}
			if len(page) == 0 {
				break
			}
			for _, e := range page {
				seen = append(seen, e.MessageID)
			}
		}
		testutil.AssertStrings(t, seen,
			"search-4@example.com", "search-3@example.com", "search-2@example.com",
			"search-1@example.com", "search-0@example.com")
	})

	t.Run("sender filter", func(t *testing.T) {
		emails, total, err := st.SearchEmails(store.SearchQuery{Sender: "Alice@example.com"})
		testutil.MustNoErr(t, err, "search")
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		for _, e := range emails {
			if e.Sender != "alice@example.com" {
				t.Errorf("unexpected sender %q", e.Sender)
			}
		}
	})

	t.Run("subject substring", func(t *testing.T) {
		_, total, err := st.SearchEmails(store.SearchQuery{SubjectContains: "report 3"})
		testutil.MustNoErr(t, err, "search")
		if total != 1 {
			t.Errorf("total = %d, want 1", total)
		}
	})

	t.Run("date range", func(t *testing.T) {
		_, total, err := st.SearchEmails(store.SearchQuery{
			Since: base.Add(1 * time.Hour),
			Until: base.Add(4 * time.Hour),
		})
		testutil.MustNoErr(t, err, "search")
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
	})

	t.Run("soft-deleted excluded by default", func(t *testing.T) {
		var targetID int64
		emails, _, err := st.SearchEmails(store.SearchQuery{})
		testutil.MustNoErr(t, err, "search")
		targetID = emails[0].ID

		testutil.MustNoErr(t, st.SoftDeleteEmail(targetID), "soft delete")

		_, total, err := st.SearchEmails(store.SearchQuery{})
		testutil.MustNoErr(t, err, "search")
		if total != 4 {
			t.Errorf("total = %d, want 4 after soft delete", total)
		}

		_, total, err = st.SearchEmails(store.SearchQuery{IncludeDeleted: true})
		testutil.MustNoErr(t, err, "search with deleted")
		if total != 5 {
			t.Errorf("total = %d, want 5 with IncludeDeleted", total)
		}
	})
}

func TestSearchEmailsHasAttachment(t *testing.T) {
	st := testutil.NewTestStore(t)

	saveEmail(t, st, "plain@example.com")
	_, err := st.SaveEmail(testutil.NewEmail("with-att@example.com").Build(), []store.Attachment{
		{Filename: "doc.pdf", ContentHash: "ff66"},
	})
	testutil.MustNoErr(t, err, "save email")

	emails, total, err := st.SearchEmails(store.SearchQuery{HasAttachment: true})
	testutil.MustNoErr(t, err, "search")
	if total != 1 || len(emails) != 1 || emails[0].MessageID != "with-att@example.com" {
		t.Errorf("got total=%d emails=%+v", total, emails)
	}
}

func TestGetEmailNotFound(t *testing.T) {
	st := testutil.NewTestStore(t)
	if _, err := st.GetEmail(42); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get missing email = %v, want ErrNotFound", err)
	}
}

func TestGetAttachment(t *testing.T) {
	st := testutil.NewTestStore(t)

	emailID, err := st.SaveEmail(testutil.NewEmail("att-get@example.com").Build(), []store.Attachment{
		{Filename: "report.pdf", ContentType: "application/pdf", Size: 2048, ContentHash: "ff66"},
	})
	testutil.MustNoErr(t, err, "save email")

	attachments, err := st.ListAttachments(emailID)
	testutil.MustNoErr(t, err, "list attachments")
	if len(attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(attachments))
	}

	got, err := st.GetAttachment(attachments[0].ID)
	testutil.MustNoErr(t, err, "get attachment")
	if got.EmailID != emailID || got.Filename != "report.pdf" || got.ContentHash != "ff66" {
		t.Errorf("attachment = %+v", got)
	}

	if _, err := st.GetAttachment(9999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get missing attachment = %v, want ErrNotFound", err)
	}
}

func TestDeleteAttachment(t *testing.T) {
	st := testutil.NewTestStore(t)

	sharedHash := "aa77"
	id1, err := st.SaveEmail(testutil.NewEmail("att-del-1@example.com").Build(), []store.Attachment{
		{Filename: "shared.pdf", ContentHash: sharedHash},
	})
	testutil.MustNoErr(t, err, "save first")
	_, err = st.SaveEmail(testutil.NewEmail("att-del-2@example.com").Build(), []store.Attachment{
		{Filename: "shared.pdf", ContentHash: sharedHash},
		{Filename: "lonely.txt", ContentHash: "bb88"},
	})
	testutil.MustNoErr(t, err, "save second")

	attachments, err := st.ListAttachments(id1)
	testutil.MustNoErr(t, err, "list attachments")

	// The hash is still referenced by the second email's copy.
	orphaned, err := st.DeleteAttachment(attachments[0].ID)
	testutil.MustNoErr(t, err, "delete shared attachment")
	if orphaned != "" {
		t.Errorf("orphaned = %q, want empty while a reference remains", orphaned)
	}

	if _, err := st.GetAttachment(attachments[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get deleted attachment = %v, want ErrNotFound", err)
	}
	if _, err := st.DeleteAttachment(attachments[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("repeat delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteAttachmentOrphansHash(t *testing.T) {
	st := testutil.NewTestStore(t)

	emailID, err := st.SaveEmail(testutil.NewEmail("att-orphan@example.com").Build(), []store.Attachment{
		{Filename: "only.txt", ContentHash: "cc99"},
	})
	testutil.MustNoErr(t, err, "save email")

	attachments, err := st.ListAttachments(emailID)
	testutil.MustNoErr(t, err, "list attachments")

	orphaned, err := st.DeleteAttachment(attachments[0].ID)
	testutil.MustNoErr(t, err, "delete attachment")
	if orphaned != "cc99" {
		t.Errorf("orphaned = %q, want %q", orphaned, "cc99")
	}
}
