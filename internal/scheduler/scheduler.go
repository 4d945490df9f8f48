// Package scheduler runs ingestion on per-account cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailvault/mailvault/internal/config"
)

// cronParser accepts standard five-field expressions (minute through
// day-of-week).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// IngestFunc runs one ingestion for the named account.
type IngestFunc func(ctx context.Context, account string) error

// AccountStatus is a snapshot of one scheduled account.
type AccountStatus struct {
	Account   string    `json:"account"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

// accountEntry is the per-account state. Guarded by Scheduler.mu.
type accountEntry struct {
	entryID  cron.EntryID
	schedule string
	running  bool
	lastRun  time.Time
	lastErr  error
}

// Scheduler triggers ingestion runs on cron schedules, one in flight per
// account at most.
type Scheduler struct {
	cron   *cron.Cron
	ingest IngestFunc
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*accountEntry
	stopped  bool

	ctx    context.Context // cancelled on Stop
	cancel context.CancelFunc
	wg     sync.WaitGroup // in-flight ingestion goroutines
}

// New creates a Scheduler driving the given ingestion callback.
func New(ingest IngestFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithParser(cronParser)),
		ingest:   ingest,
		logger:   slog.Default(),
		accounts: make(map[string]*accountEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddAccount schedules ingestion for an account. Re-adding an account
// replaces its previous schedule.
func (s *Scheduler) AddAccount(account, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.accounts[account]; ok {
		s.cron.Remove(prev.entryID)
		delete(s.accounts, account)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() { s.kick(account) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.accounts[account] = &accountEntry{entryID: entryID, schedule: cronExpr}
	s.logger.Info("scheduled ingestion",
		"account", account,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// AddAccountsFromConfig schedules every account the config marks as
// scheduled. It returns how many were added and one error per account
// whose expression was rejected.
func (s *Scheduler) AddAccountsFromConfig(cfg *config.Config) (int, []error) {
	scheduled := 0
	var errs []error
	for _, acc := range cfg.ScheduledAccounts() {
		if err := s.AddAccount(acc.Name, acc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", acc.Name, err))
			continue
		}
		scheduled++
	}
	return scheduled, errs
}

// RemoveAccount drops an account's schedule. A run already in flight is
// left to finish.
func (s *Scheduler) RemoveAccount(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.accounts[account]; ok {
		s.cron.Remove(entry.entryID)
		delete(s.accounts, account)
		s.logger.Info("removed schedule", "account", account)
	}
}

// IsScheduled reports whether the account has a schedule.
func (s *Scheduler) IsScheduled(account string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[account]
	return ok
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "accounts", len(s.accounts))
}

// Stop cancels in-flight runs and stops firing schedules. The returned
// context is done once every run has drained.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// TriggerIngest starts an out-of-schedule run for the account. It fails
// when the account is unknown, a run is already in flight, or the
// scheduler has stopped.
func (s *Scheduler) TriggerIngest(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	entry, ok := s.accounts[account]
	if !ok {
		return fmt.Errorf("account %s is not scheduled", account)
	}
	if entry.running {
		return fmt.Errorf("ingestion already running for %s", account)
	}

	entry.running = true
	s.wg.Add(1)
	go s.runIngest(account)
	return nil
}

// kick is the cron callback: skip when stopped or still running,
// otherwise run the ingestion on this goroutine (cron gives each job
// its own).
func (s *Scheduler) kick(account string) {
	s.mu.Lock()
	entry, ok := s.accounts[account]
	if !ok || s.stopped || entry.running {
		s.mu.Unlock()
		return
	}
	entry.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.runIngest(account)
}

// runIngest executes one ingestion and records its outcome. The caller
// has already marked the account running and added to the wait group.
func (s *Scheduler) runIngest(account string) {
	defer s.wg.Done()

	s.logger.Info("starting scheduled ingestion", "account", account)
	start := time.Now()
	err := s.ingest(s.ctx, account)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.accounts[account]
	if !ok {
		// Removed while running; nothing to record.
		return
	}
	entry.running = false
	entry.lastErr = err
	if err != nil {
		s.logger.Error("scheduled ingestion failed",
			"account", account, "duration", time.Since(start), "error", err)
		return
	}
	entry.lastRun = time.Now()
	s.logger.Info("scheduled ingestion completed",
		"account", account, "duration", time.Since(start))
}

// Status snapshots every scheduled account.
func (s *Scheduler) Status() []AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]AccountStatus, 0, len(s.accounts))
	for account, entry := range s.accounts {
		status := AccountStatus{
			Account:  account,
			Running:  entry.running,
			LastRun:  entry.lastRun,
			NextRun:  s.cron.Entry(entry.entryID).Next,
			Schedule: entry.schedule,
		}
		if entry.lastErr != nil {
			status.LastError = entry.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateCronExpr checks an expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
