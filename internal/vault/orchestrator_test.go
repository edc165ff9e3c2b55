package vault

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestOrchestratorRunsImmediatePassAndStops(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 8, 23, 10, 15, 0, 0, time.UTC) }
	store, err := NewStoreWithOptions(StoreOptions{Root: t.TempDir(), Clock: clock})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	audit, err := NewAuditLogWithOptions(AuditLogOptions{Dir: store.LogsDir(), Clock: clock})
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}
	tracker, err := NewTracker(nil)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	source := &fakeMailSource{messages: []MailMessage{testMailMessage("msg-001", "Kickoff")}}
	inbox, err := NewInboxWatcher(InboxWatcherOptions{Store: store, Audit: audit, Source: source, Clock: clock})
	if err != nil {
		t.Fatalf("new inbox watcher: %v", err)
	}
	aggregator, err := NewAggregator(AggregatorOptions{Store: store, Audit: audit, Clock: clock})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	supervisor, err := NewSupervisor(SupervisorOptions{
		Audit:        audit,
		PollInterval: 10 * time.Millisecond,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	orch, err := NewOrchestrator(OrchestratorOptions{
		Store:      store,
		Audit:      audit,
		Tracker:    tracker,
		Inbox:      inbox,
		Aggregator: aggregator,
		Supervisor: supervisor,
		// Long intervals: only the immediate startup pass should run
		// inside this test.
		InboxInterval:     time.Hour,
		DashboardInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		n, err := store.CountStage(StageNeedsAction)
		return err == nil && n == 1
	}, "immediate inbox pass did not materialize the message")
	waitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(store.DashboardPath())
		return err == nil
	}, "immediate pass did not write the dashboard")

	starts := auditEntriesByAction(t, audit, "system_start")
	if len(starts) != 1 || starts[0].Actor != "system" {
		t.Fatalf("expected one system_start entry, got %+v", starts)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop after cancel")
	}
	stops := auditEntriesByAction(t, audit, "system_stop")
	if len(stops) != 1 {
		t.Fatalf("expected one system_stop entry, got %+v", stops)
	}
}

func TestNewOrchestratorValidation(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	audit, err := NewAuditLog(t.TempDir())
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}
	tracker, err := NewTracker(nil)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}

	if _, err := NewOrchestrator(OrchestratorOptions{Audit: audit, Tracker: tracker}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without store, got %v", err)
	}
	if _, err := NewOrchestrator(OrchestratorOptions{Store: store, Tracker: tracker}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without audit log, got %v", err)
	}
	if _, err := NewOrchestrator(OrchestratorOptions{Store: store, Audit: audit}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without tracker, got %v", err)
	}
	if _, err := NewOrchestrator(OrchestratorOptions{Store: store, Audit: audit, Tracker: tracker}); err != nil {
		t.Fatalf("minimal orchestrator should build, got %v", err)
	}
}
