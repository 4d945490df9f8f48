package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mailvault/mailvault/internal/store"
	"github.com/mailvault/mailvault/internal/testutil"
)

func TestStartAndFinishRun(t *testing.T) {
	st := testutil.NewTestStore(t)

	runID, err := st.StartRun("imap:test@example.com")
	testutil.MustNoErr(t, err, "start run")

	run, err := st.GetRun(runID)
	testutil.MustNoErr(t, err, "get run")
	if run.Status != store.RunStatusRunning {
		t.Errorf("status = %q, want running", run.Status)
	}
	if run.StartedAt.IsZero() {
		t.Error("started_at not recorded")
	}
	if run.CompletedAt.Valid {
		t.Error("running job must not have completed_at")
	}

	counters := store.RunCounters{Fetched: 10, Saved: 7, Duplicates: 1, ParseErrors: 2}
	testutil.MustNoErr(t, st.FinishRun(runID, store.RunStatusPartial, counters, ""), "finish run")

	run, err = st.GetRun(runID)
	testutil.MustNoErr(t, err, "get run")
	if run.Status != store.RunStatusPartial {
		t.Errorf("status = %q, want partial", run.Status)
	}
	if !run.CompletedAt.Valid {
		t.Error("completed run missing completed_at")
	}
	if run.Fetched != 10 || run.Saved != 7 || run.Duplicates != 1 || run.ParseErrors != 2 || run.SaveErrors != 0 {
		t.Errorf("counters mismatch: %+v", run)
	}
	if run.ErrorMessage.Valid {
		t.Errorf("unexpected error message %q", run.ErrorMessage.String)
	}
}

func TestFinishRunValidation(t *testing.T) {
	st := testutil.NewTestStore(t)

	runID, err := st.StartRun("imap:test@example.com")
	testutil.MustNoErr(t, err, "start run")

	if err := st.FinishRun(runID, "running", store.RunCounters{}, ""); err == nil {
		t.Error("expected error for non-terminal status")
	}
	if err := st.FinishRun(9999, store.RunStatusSuccess, store.RunCounters{}, ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("finish missing run = %v, want ErrNotFound", err)
	}
}

func TestStartRunSupersedesStale(t *testing.T) {
	st := testutil.NewTestStore(t)

	stale, err := st.StartRun("imap:test@example.com")
	testutil.MustNoErr(t, err, "start first run")

	fresh, err := st.StartRun("imap:test@example.com")
	testutil.MustNoErr(t, err, "start second run")

	run, err := st.GetRun(stale)
	testutil.MustNoErr(t, err, "get stale run")
	if run.Status != store.RunStatusFailed {
		t.Errorf("stale run status = %q, want failed", run.Status)
	}
	if !run.ErrorMessage.Valid || run.ErrorMessage.String != "superseded by new run" {
		t.Errorf("stale run message = %+v", run.ErrorMessage)
	}

	run, err = st.GetRun(fresh)
	testutil.MustNoErr(t, err, "get fresh run")
	if run.Status != store.RunStatusRunning {
		t.Errorf("fresh run status = %q, want running", run.Status)
	}
}

func TestStartRunDifferentSourceUntouched(t *testing.T) {
	st := testutil.NewTestStore(t)

	first, err := st.StartRun("imap:a@example.com")
	testutil.MustNoErr(t, err, "start run a")
	_, err = st.StartRun("imap:b@example.com")
	testutil.MustNoErr(t, err, "start run b")

	run, err := st.GetRun(first)
	testutil.MustNoErr(t, err, "get run a")
	if run.Status != store.RunStatusRunning {
		t.Errorf("other source's run was superseded: %q", run.Status)
	}
}

func TestListRuns(t *testing.T) {
	st := testutil.NewTestStore(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := st.StartRun("imap:test@example.com")
		testutil.MustNoErr(t, err, "start run")
		testutil.MustNoErr(t, st.FinishRun(id, store.RunStatusSuccess, store.RunCounters{Fetched: int64(i)}, ""), "finish run")
		ids = append(ids, id)
	}

	runs, err := st.ListRuns(2)
	testutil.MustNoErr(t, err, "list runs")
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Newest first; starts within the same second fall back to id order.
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("run order = %d, %d; want %d, %d", runs[0].ID, runs[1].ID, ids[2], ids[1])
	}
}

func TestGetRunMetrics(t *testing.T) {
	st := testutil.NewTestStore(t)

	finish := func(status string, c store.RunCounters, msg string) {
		t.Helper()
		id, err := st.StartRun("imap:test@example.com")
		testutil.MustNoErr(t, err, "start run")
		testutil.MustNoErr(t, st.FinishRun(id, status, c, msg), "finish run")
	}

	finish(store.RunStatusSuccess, store.RunCounters{Fetched: 5, Saved: 5}, "")
	finish(store.RunStatusPartial, store.RunCounters{Fetched: 10, Saved: 7, Duplicates: 1, ParseErrors: 2}, "")
	finish(store.RunStatusFailed, store.RunCounters{Fetched: 3, SaveErrors: 3}, "disk full")

	m, err := st.GetRunMetrics(time.Time{})
	testutil.MustNoErr(t, err, "run metrics")
	if m.Runs != 3 || m.Succeeded != 1 || m.Partial != 1 || m.Failed != 1 {
		t.Errorf("run tallies = %+v", m)
	}
	if m.Fetched != 18 || m.Saved != 12 || m.Duplicates != 1 || m.ParseErrors != 2 || m.SaveErrors != 3 {
		t.Errorf("counter sums = %+v", m)
	}

	// A cutoff in the future excludes everything.
	m, err = st.GetRunMetrics(time.Now().UTC().Add(time.Hour))
	testutil.MustNoErr(t, err, "run metrics with cutoff")
	if m.Runs != 0 {
		t.Errorf("future cutoff runs = %d, want 0", m.Runs)
	}
}
