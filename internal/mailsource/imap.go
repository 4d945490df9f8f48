package mailsource

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// IMAPConfig holds connection settings for an IMAP server.
type IMAPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`      // Implicit TLS (IMAPS, port 993)
	STARTTLS bool   `toml:"starttls"` // STARTTLS upgrade (port 143)
	Username string `toml:"username"`
	Mailbox  string `toml:"mailbox"` // defaults to INBOX
	Auth     string `toml:"auth"`    // "password" (default) or "oauth2"

	// CommandsPerSec caps the rate of IMAP commands; 0 means the
	// default of 5/s. Public providers throttle aggressive clients.
	CommandsPerSec float64 `toml:"commands_per_sec"`
}

// Addr returns the "host:port" string.
func (c *IMAPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		if c.TLS {
			port = 993
		} else {
			port = 143
		}
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Identifier returns a canonical string like "imaps://user@host:993".
// It names the source in job run records.
func (c *IMAPConfig) Identifier() string {
	scheme := "imap"
	if c.TLS {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s@%s", scheme, url.PathEscape(c.Username), c.Addr())
}

// UsesOAuth reports whether the account authenticates with OAUTHBEARER
// rather than a stored password.
func (c *IMAPConfig) UsesOAuth() bool {
	return c.Auth == "oauth2"
}

func (c *IMAPConfig) mailbox() string {
	if c.Mailbox == "" {
		return "INBOX"
	}
	return c.Mailbox
}

// IMAPOption is a functional option for IMAPSource.
type IMAPOption func(*IMAPSource)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) IMAPOption {
	return func(s *IMAPSource) { s.logger = logger }
}

// WithTokenSource switches authentication from LOGIN to SASL OAUTHBEARER
// using tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) IMAPOption {
	return func(s *IMAPSource) { s.tokens = ts }
}

// IMAPSource fetches unseen messages from a single IMAP mailbox and
// acknowledges them by setting the \Seen flag.
type IMAPSource struct {
	config   *IMAPConfig
	password string
	tokens   oauth2.TokenSource
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu              sync.Mutex
	conn            *imapclient.Client
	selectedMailbox string
}

// NewIMAPSource creates a source for cfg. With a token source option the
// password is ignored.
func NewIMAPSource(cfg *IMAPConfig, password string, opts ...IMAPOption) *IMAPSource {
	cps := cfg.CommandsPerSec
	if cps <= 0 {
		cps = 5
	}
	s := &IMAPSource{
		config:   cfg,
		password: password,
		logger:   slog.Default(),
		limiter:  rate.NewLimiter(rate.Limit(cps), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// connect establishes and authenticates the IMAP connection. Caller must hold mu.
func (s *IMAPSource) connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	addr := s.config.Addr()
	s.logger.Debug("connecting to IMAP server", "addr", addr, "tls", s.config.TLS, "starttls", s.config.STARTTLS)

	imapOpts := &imapclient.Options{}
	var (
		conn *imapclient.Client
		err  error
	)
	if s.config.TLS {
		conn, err = imapclient.DialTLS(addr, imapOpts)
	} else if s.config.STARTTLS {
		conn, err = imapclient.DialStartTLS(addr, imapOpts)
	} else {
		conn, err = imapclient.DialInsecure(addr, imapOpts)
	}
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrFetch, addr, err)
	}

	if err := s.authenticate(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}

	s.conn = conn
	s.selectedMailbox = ""
	s.logger.Debug("connected and authenticated", "user", s.config.Username)
	return nil
}

// authenticate logs in with OAUTHBEARER when a token source is configured
// and falls back to LOGIN otherwise.
func (s *IMAPSource) authenticate(ctx context.Context, conn *imapclient.Client) error {
	if s.tokens != nil {
		tok, err := s.tokens.Token()
		if err != nil {
			return fmt.Errorf("%w: oauth token: %v", ErrFetch, err)
		}
		client := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: s.config.Username,
			Token:    tok.AccessToken,
			Host:     s.config.Host,
			Port:     s.config.Port,
		})
		if err := conn.Authenticate(client); err != nil {
			return fmt.Errorf("%w: OAUTHBEARER auth: %v", ErrFetch, err)
		}
		return nil
	}

	if err := conn.Login(s.config.Username, s.password).Wait(); err != nil {
		return fmt.Errorf("%w: login: %v", ErrFetch, err)
	}
	return nil
}

// withConn runs fn with the active connection, connecting if necessary.
// It holds the mutex for the duration of fn and paces commands through
// the rate limiter.
func (s *IMAPSource) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := s.connect(ctx); err != nil {
		return err
	}
	return fn(s.conn)
}

// selectMailbox selects a mailbox if not already selected. Caller must hold mu.
func (s *IMAPSource) selectMailbox(mailbox string) error {
	if s.selectedMailbox == mailbox {
		return nil
	}
	if _, err := s.conn.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("%w: SELECT %q: %v", ErrFetch, mailbox, err)
	}
	s.selectedMailbox = mailbox
	return nil
}

// compositeID builds a message identifier as "mailbox|uid".
func compositeID(mailbox string, uid imap.UID) string {
	return mailbox + "|" + strconv.FormatUint(uint64(uid), 10)
}

// parseCompositeID splits a composite message ID into mailbox and UID.
func parseCompositeID(id string) (mailbox string, uid imap.UID, err error) {
	idx := strings.LastIndexByte(id, '|')
	if idx < 0 {
		return "", 0, fmt.Errorf("invalid IMAP message ID %q (expected mailbox|uid)", id)
	}
	n, parseErr := strconv.ParseUint(id[idx+1:], 10, 32)
	if parseErr != nil {
		return "", 0, fmt.Errorf("invalid UID in message ID %q: %w", id, parseErr)
	}
	return id[:idx], imap.UID(n), nil
}

// Fetch returns up to max unseen messages from the configured mailbox.
func (s *IMAPSource) Fetch(ctx context.Context, max int) ([]*RawMessage, error) {
	if max <= 0 {
		max = 100
	}

	var messages []*RawMessage
	err := s.withConn(ctx, func(conn *imapclient.Client) error {
		mailbox := s.config.mailbox()
		if err := s.selectMailbox(mailbox); err != nil {
			return err
		}

		searchData, err := conn.UIDSearch(&imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagSeen},
		}, &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("%w: UID SEARCH: %v", ErrFetch, err)
		}

		uidSet, ok := searchData.All.(imap.UIDSet)
		if !ok {
			return nil
		}
		uids, _ := uidSet.Nums()
		if len(uids) == 0 {
			return nil
		}
		if len(uids) > max {
			uids = uids[:max]
		}

		var fetchSet imap.UIDSet
		for _, uid := range uids {
			fetchSet.AddNum(uid)
		}

		fetchOpts := &imap.FetchOptions{
			UID:          true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{{}}, // empty section = entire message
		}
		msgs, err := conn.Fetch(fetchSet, fetchOpts).Collect()
		if err != nil {
			return fmt.Errorf("%w: UID FETCH: %v", ErrFetch, err)
		}

		for _, msg := range msgs {
			var raw []byte
			if len(msg.BodySection) > 0 {
				raw = msg.BodySection[0].Bytes
			}
			if len(raw) == 0 {
				s.logger.Warn("empty body section, skipping", "mailbox", mailbox, "uid", msg.UID)
				continue
			}
			messages = append(messages, &RawMessage{
				ID:           compositeID(mailbox, msg.UID),
				Raw:          raw,
				Mailbox:      mailbox,
				InternalDate: msg.InternalDate,
			})
		}
		s.logger.Debug("fetched batch", "mailbox", mailbox, "unseen", len(uids), "returned", len(messages))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Ack marks a message \Seen so the next Fetch skips it.
func (s *IMAPSource) Ack(ctx context.Context, id string) error {
	mailbox, uid, err := parseCompositeID(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return s.withConn(ctx, func(conn *imapclient.Client) error {
		if err := s.selectMailbox(mailbox); err != nil {
			return err
		}
		var uidSet imap.UIDSet
		uidSet.AddNum(uid)
		if err := conn.Store(uidSet, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil).Close(); err != nil {
			return fmt.Errorf("%w: UID STORE \\Seen: %v", ErrFetch, err)
		}
		return nil
	})
}

// Close logs out and disconnects from the IMAP server.
func (s *IMAPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	s.selectedMailbox = ""
	return conn.Logout().Wait()
}
