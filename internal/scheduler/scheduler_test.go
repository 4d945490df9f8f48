package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mailvault/mailvault/internal/config"
	"github.com/mailvault/mailvault/internal/mailsource"
)

func TestAddAccountValidation(t *testing.T) {
	s := New(func(context.Context, string) error { return nil })

	if err := s.AddAccount("work", "not a cron expr"); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.AddAccount("work", "0 2 * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if !s.IsScheduled("work") {
		t.Error("account not scheduled after AddAccount")
	}

	s.RemoveAccount("work")
	if s.IsScheduled("work") {
		t.Error("account still scheduled after RemoveAccount")
	}
}

func TestAddAccountsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Accounts: []config.Account{
			{Name: "work", IMAP: mailsource.IMAPConfig{Host: "a"}, Schedule: "0 2 * * *", Enabled: true},
			{Name: "manual", IMAP: mailsource.IMAPConfig{Host: "b"}, Enabled: true},
			{Name: "broken", IMAP: mailsource.IMAPConfig{Host: "c"}, Schedule: "nope", Enabled: true},
			{Name: "off", IMAP: mailsource.IMAPConfig{Host: "d"}, Schedule: "0 3 * * *", Enabled: false},
		},
	}

	s := New(func(context.Context, string) error { return nil })
	scheduled, errs := s.AddAccountsFromConfig(cfg)
	if scheduled != 1 {
		t.Errorf("scheduled = %d, want 1", scheduled)
	}
	if len(errs) != 1 {
		t.Errorf("errs = %v, want one entry for the broken expression", errs)
	}
	if !s.IsScheduled("work") || s.IsScheduled("manual") || s.IsScheduled("off") {
		t.Error("wrong accounts scheduled")
	}
}

func TestTriggerIngest(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	s := New(func(_ context.Context, account string) error {
		if account != "work" {
			t.Errorf("account = %q", account)
		}
		calls.Add(1)
		close(done)
		return nil
	})

	if err := s.TriggerIngest("work"); err == nil {
		t.Error("trigger of unscheduled account must fail")
	}

	if err := s.AddAccount("work", "0 2 * * *"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := s.TriggerIngest("work"); err != nil {
		t.Fatalf("TriggerIngest: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ingest callback never ran")
	}

	stopCtx := s.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not complete")
	}

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if err := s.TriggerIngest("work"); err == nil {
		t.Error("trigger after Stop must fail")
	}
}

func TestStatusReportsLastError(t *testing.T) {
	ingestErr := errors.New("mailbox on fire")
	done := make(chan struct{})
	s := New(func(context.Context, string) error {
		defer close(done)
		return ingestErr
	})

	if err := s.AddAccount("work", "0 2 * * *"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := s.TriggerIngest("work"); err != nil {
		t.Fatalf("TriggerIngest: %v", err)
	}
	<-done

	// The status map is updated after the callback returns; wait for the
	// goroutine to finish via Stop.
	<-s.Stop().Done()

	statuses := s.Status()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if statuses[0].LastError != "mailbox on fire" {
		t.Errorf("LastError = %q", statuses[0].LastError)
	}
	if statuses[0].Schedule != "0 2 * * *" {
		t.Errorf("Schedule = %q", statuses[0].Schedule)
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/15 * * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateCronExpr("61 * * * *"); err == nil {
		t.Error("invalid expression accepted")
	}
}
