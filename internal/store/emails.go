package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Email is one archived message. Recipients and Cc are stored as
// comma-joined text but always surfaced as slices.
type Email struct {
	ID         int64
	MessageID  string
	Sender     string
	Recipients []string
	Cc         []string
	Subject    string
	Body       string
	BodyIsHTML bool
	ReceivedAt time.Time
	IsDeleted  bool
	DeletedAt  sql.NullTime
	CreatedAt  time.Time
}

// Attachment is the metadata row for one attachment. The payload itself
// lives in the blob store, addressed by ContentHash.
type Attachment struct {
	ID          int64
	EmailID     int64
	Filename    string
	ContentType string
	Size        int64
	ContentHash string
}

// joinAddrs flattens an address list for storage, preserving order.
func joinAddrs(addrs []string) string {
	return strings.Join(addrs, ", ")
}

// splitAddrs is the inverse of joinAddrs. Always returns a non-nil slice.
func splitAddrs(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}

// SaveEmail inserts an email and its attachment metadata in one
// transaction, so a failure on any row leaves nothing behind. Returns
// ErrDuplicate without writing anything if the message_id is already
// archived, soft-deleted rows included.
func (s *Store) SaveEmail(email *Email, attachments []Attachment) (int64, error) {
	var emailID int64
	err := s.withTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO emails (message_id, sender, recipients, cc, subject, body, body_is_html, received_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		`, email.MessageID, email.Sender, joinAddrs(email.Recipients), joinAddrs(email.Cc),
			email.Subject, email.Body, email.BodyIsHTML, formatTime(email.ReceivedAt))
		if err != nil {
			if isSQLiteError(err, "UNIQUE constraint failed: emails.message_id") {
				return fmt.Errorf("message %s: %w", email.MessageID, ErrDuplicate)
			}
			return fmt.Errorf("insert email: %w", err)
		}

		emailID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("email insert id: %w", err)
		}

		for _, att := range attachments {
			_, err := tx.Exec(`
				INSERT INTO attachments (email_id, filename, content_type, size_bytes, content_hash)
				VALUES (?, ?, ?, ?, ?)
			`, emailID, att.Filename, att.ContentType, att.Size, att.ContentHash)
			if err != nil {
				return fmt.Errorf("insert attachment %q: %w", att.Filename, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return emailID, nil
}

// IsKnown reports whether a message_id is already archived. Soft-deleted
// emails still count as known so re-ingesting them is a no-op.
func (s *Store) IsKnown(messageID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM emails WHERE message_id = ?`, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check message_id: %w", err)
	}
	return true, nil
}

const emailColumns = `id, message_id, sender, recipients, cc, subject, body, body_is_html,
       received_at, is_deleted, deleted_at, created_at`

func scanEmail(row interface{ Scan(...interface{}) error }) (*Email, error) {
	var e Email
	var recipients, cc string
	var receivedAt, deletedAt, createdAt sql.NullString

	err := row.Scan(
		&e.ID, &e.MessageID, &e.Sender, &recipients, &cc, &e.Subject, &e.Body, &e.BodyIsHTML,
		&receivedAt, &e.IsDeleted, &deletedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Recipients = splitAddrs(recipients)
	e.Cc = splitAddrs(cc)
	e.ReceivedAt = parseTime(receivedAt)
	e.CreatedAt = parseTime(createdAt)
	if deletedAt.Valid {
		e.DeletedAt = sql.NullTime{Time: parseTime(deletedAt), Valid: true}
	}
	return &e, nil
}

// GetEmail returns one email by ID, soft-deleted or not.
func (s *Store) GetEmail(id int64) (*Email, error) {
	row := s.db.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	email, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("email %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return email, nil
}

// ListAttachments returns the attachment metadata rows for an email.
func (s *Store) ListAttachments(emailID int64) ([]Attachment, error) {
	rows, err := s.db.Query(`
		SELECT id, email_id, filename, content_type, size_bytes, content_hash
		FROM attachments
		WHERE email_id = ?
		ORDER BY id
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	attachments := []Attachment{}
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.EmailID, &a.Filename, &a.ContentType, &a.Size, &a.ContentHash); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return attachments, nil
}

// GetAttachment returns one attachment row by its ID.
func (s *Store) GetAttachment(id int64) (*Attachment, error) {
	var a Attachment
	err := s.db.QueryRow(`
		SELECT id, email_id, filename, content_type, size_bytes, content_hash
		FROM attachments
		WHERE id = ?
	`, id).Scan(&a.ID, &a.EmailID, &a.Filename, &a.ContentType, &a.Size, &a.ContentHash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attachment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &a, nil
}

// DeleteAttachment removes one attachment row. When no other row still
// references the same content hash the hash is returned so the caller
// can clean up the blob; otherwise the returned hash is empty.
func (s *Store) DeleteAttachment(id int64) (string, error) {
	var orphaned string
	err := s.withTx(func(tx *sql.Tx) error {
		var hash string
		err := tx.QueryRow(`SELECT content_hash FROM attachments WHERE id = ?`, id).Scan(&hash)
		if err == sql.ErrNoRows {
			return fmt.Errorf("attachment %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get attachment: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM attachments WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete attachment: %w", err)
		}

		var refs int64
		if err := tx.QueryRow(`SELECT COUNT(*) FROM attachments WHERE content_hash = ?`, hash).Scan(&refs); err != nil {
			return fmt.Errorf("count refs: %w", err)
		}
		if refs == 0 {
			orphaned = hash
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return orphaned, nil
}

// SearchQuery holds the filters for SearchEmails. Zero values mean "no
// constraint" for every field except Limit, which defaults to 50.
type SearchQuery struct {
	Sender          string    // exact match, case-insensitive
	SubjectContains string    // substring match, case-insensitive
	Since           time.Time // received_at >= Since
	Until           time.Time // received_at < Until
	HasAttachment   bool      // only emails with at least one attachment
	IncludeDeleted  bool      // include soft-deleted emails
	Limit           int
	Offset          int
}

// SearchEmails returns one page of matches, newest first, plus the total
// match count so callers can paginate. Ties on received_at break on id so
// pages never overlap or skip rows.
func (s *Store) SearchEmails(q SearchQuery) ([]*Email, int64, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if !q.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if q.Sender != "" {
		where = append(where, "sender = ?")
		args = append(args, strings.ToLower(q.Sender))
	}
	if q.SubjectContains != "" {
		where = append(where, "subject LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q.SubjectContains)+"%")
	}
	if !q.Since.IsZero() {
		where = append(where, "received_at >= ?")
		args = append(args, q.Since.UTC().Format(timeFormat))
	}
	if !q.Until.IsZero() {
		where = append(where, "received_at < ?")
		args = append(args, q.Until.UTC().Format(timeFormat))
	}
	if q.HasAttachment {
		where = append(where, "EXISTS (SELECT 1 FROM attachments a WHERE a.email_id = emails.id)")
	}

	cond := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM emails WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pageArgs := append(append([]interface{}{}, args...), limit, offset)
	rows, err := s.db.Query(`
		SELECT `+emailColumns+`
		FROM emails
		WHERE `+cond+`
		ORDER BY received_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("search emails: %w", err)
	}
	defer rows.Close()

	emails := []*Email{}
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate emails: %w", err)
	}

	return emails, total, nil
}

// escapeLike escapes LIKE metacharacters in user-supplied substrings.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// SoftDeleteEmail hides an email from default queries without removing
// any data. Deleting an already-deleted email succeeds without changing
// its deleted_at.
func (s *Store) SoftDeleteEmail(id int64) error {
	result, err := s.db.Exec(`
		UPDATE emails
		SET is_deleted = 1, deleted_at = datetime('now')
		WHERE id = ? AND is_deleted = 0
	`, id)
	if err != nil {
		return fmt.Errorf("soft delete email: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete email: %w", err)
	}
	if n == 0 {
		// Either already deleted (fine) or missing.
		known, err := s.emailExists(id)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("email %d: %w", id, ErrNotFound)
		}
	}
	return nil
}

func (s *Store) emailExists(id int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM emails WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return true, nil
}

// HardDeleteEmail removes the email row and its attachment rows for good
// and returns the content hashes whose last database reference just
// disappeared. The caller owns removing those blobs from disk; doing it
// outside the transaction keeps filesystem trouble from blocking the
// delete.
func (s *Store) HardDeleteEmail(id int64) ([]string, error) {
	var orphaned []string
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT DISTINCT content_hash FROM attachments WHERE email_id = ?`, id)
		if err != nil {
			return fmt.Errorf("collect hashes: %w", err)
		}
		var hashes []string
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return fmt.Errorf("scan hash: %w", err)
			}
			hashes = append(hashes, h)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate hashes: %w", err)
		}

		result, err := tx.Exec(`DELETE FROM emails WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete email: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete email: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("email %d: %w", id, ErrNotFound)
		}

		// Attachment rows are gone via ON DELETE CASCADE; any hash no
		// other email still references is now orphaned.
		for _, h := range hashes {
			var refs int64
			if err := tx.QueryRow(`SELECT COUNT(*) FROM attachments WHERE content_hash = ?`, h).Scan(&refs); err != nil {
				return fmt.Errorf("count refs: %w", err)
			}
			if refs == 0 {
				orphaned = append(orphaned, h)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphaned, nil
}
