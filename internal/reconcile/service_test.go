package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-service/internal/events"
	"trading-service/pkg/db"
	"trading-service/pkg/relay"
)

type fakeStatusSource struct {
	statuses map[string]*relay.BundleStatus
	err      error
}

func (f *fakeStatusSource) Status(ctx context.Context, bundleID string) (*relay.BundleStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	if st, ok := f.statuses[bundleID]; ok {
		return st, nil
	}
	return &relay.BundleStatus{Status: relay.StatusPending}, nil
}

func newTestStore(t *testing.T) *db.Queries {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database.Queries()
}

func insertUnknown(t *testing.T, store *db.Queries, id, bundleID string) {
	t.Helper()
	err := store.CreateExecution(context.Background(), db.TradeExecution{
		ID:        id,
		PublicKey: "walletA",
		InputMint: "A", OutputMint: "B",
		BundleID: bundleID,
		Status:   db.ExecStatusUnknown,
	})
	if err != nil {
		t.Fatalf("insert execution: %v", err)
	}
}

func TestReconcileConfirmsLandedBundle(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewBus()
	insertUnknown(t, store, "exec-1", "bundle-1")

	updates, cancel := bus.Subscribe(events.TopicExecutionUpdate, 4)
	defer cancel()

	src := &fakeStatusSource{statuses: map[string]*relay.BundleStatus{
		"bundle-1": {Status: relay.StatusConfirmed, Signature: "sig-late"},
	}}
	svc := NewService(store, src, bus, time.Hour, time.Hour)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Checked != 1 || report.Confirmed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	rows, err := store.GetExecutionsByStatus(context.Background(), db.ExecStatusConfirmed, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0].TxSignature != "sig-late" {
		t.Fatalf("expected confirmed row with late signature, got %+v", rows)
	}

	select {
	case msg := <-updates:
		if msg.Identity != "walletA" {
			t.Fatalf("update for wrong identity %q", msg.Identity)
		}
	default:
		t.Fatal("no execution_update emitted")
	}
}

func TestReconcileFailsAbandonedRow(t *testing.T) {
	store := newTestStore(t)
	insertUnknown(t, store, "exec-1", "bundle-1")

	// Zero cutoff: every unknown row is already past it.
	svc := NewService(store, &fakeStatusSource{}, events.NewBus(), time.Hour, 0)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	rows, err := store.GetExecutionsByStatus(context.Background(), db.ExecStatusFailed, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one failed row, got %d", len(rows))
	}
}

func TestReconcileLeavesPendingRows(t *testing.T) {
	store := newTestStore(t)
	insertUnknown(t, store, "exec-1", "bundle-1")

	svc := NewService(store, &fakeStatusSource{}, events.NewBus(), time.Hour, time.Hour)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.StillPending != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	rows, err := store.GetExecutionsByStatus(context.Background(), db.ExecStatusUnknown, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("row should stay unknown, got %d", len(rows))
	}
}

func TestReconcileToleratesRelayOutage(t *testing.T) {
	store := newTestStore(t)
	insertUnknown(t, store, "exec-1", "bundle-1")

	src := &fakeStatusSource{err: errors.New("relay unreachable")}
	svc := NewService(store, src, events.NewBus(), time.Hour, time.Hour)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.StillPending != 1 {
		t.Fatalf("outage should leave the row pending, got %+v", report)
	}
}
