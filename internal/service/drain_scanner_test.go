package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/calendar-push/internal/domain"
	"github.com/kursadbilgin/calendar-push/internal/repository"
	"go.uber.org/zap"
)

func TestNewDrainScannerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewDrainScanner(nil, time.Second, nil); err == nil {
		t.Fatal("expected error for nil coordinator")
	}

	f := newCoordinatorFixture(t)
	scanner, err := NewDrainScanner(f.coordinator, 0, nil)
	if err != nil {
		t.Fatalf("NewDrainScanner() error = %v", err)
	}
	if scanner.interval != defaultDrainScanInterval {
		t.Fatalf("interval = %s, want %s", scanner.interval, defaultDrainScanInterval)
	}
}

func TestDrainScannerScanDueDrainsAndReleasesLease(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scanner, err := NewDrainScanner(f.coordinator, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDrainScanner() error = %v", err)
	}

	f.enqueue(t, "evt-a", "Sports Day")

	// Nothing is due yet.
	if err := scanner.scanDue(ctx); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}
	if len(f.sender.Calls()) != 0 {
		t.Fatal("drain ran before the window elapsed")
	}

	f.clock.Advance(domain.BatchWindow)
	if err := scanner.scanDue(ctx); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}
	if len(f.sender.Calls()) != 1 {
		t.Fatalf("send calls = %d, want 1", len(f.sender.Calls()))
	}

	lease, err := f.store.CurrentLease(ctx)
	if err != nil {
		t.Fatalf("CurrentLease() error = %v", err)
	}
	if lease != "" {
		t.Fatalf("lease = %q, want released", lease)
	}
	scheduled, _ := f.store.ScheduledDrainCount(ctx)
	if scheduled != 0 {
		t.Fatalf("scheduled drains = %d, want 0", scheduled)
	}
}

func TestDrainScannerScanDueRearmsForLateEntries(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scanner, err := NewDrainScanner(f.coordinator, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDrainScanner() error = %v", err)
	}

	f.enqueue(t, "evt-a", "A")
	f.clock.Advance(5 * time.Minute)
	f.enqueue(t, "evt-b", "B")
	f.clock.Advance(5 * time.Minute)

	if err := scanner.scanDue(ctx); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	lease, _ := f.store.CurrentLease(ctx)
	if lease == "" || lease == "token-1" {
		t.Fatalf("lease = %q, want a fresh lease for the late entry", lease)
	}

	f.clock.Advance(5 * time.Minute)
	if err := scanner.scanDue(ctx); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	calls := f.sender.Calls()
	if len(calls) != 2 {
		t.Fatalf("send calls = %d, want 2", len(calls))
	}
	if calls[1].Body != "B has been added to the calendar" {
		t.Fatalf("second body = %q", calls[1].Body)
	}
}

func TestDrainScannerScanDueStoreError(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("redis unavailable")
	store := &claimFailingStore{MemoryBatchStore: repository.NewMemoryBatchStore(), err: storeErr}
	coordinator, err := NewBatchCoordinator(store, &fakeSender{}, nil)
	if err != nil {
		t.Fatalf("NewBatchCoordinator() error = %v", err)
	}
	scanner, err := NewDrainScanner(coordinator, time.Second, nil)
	if err != nil {
		t.Fatalf("NewDrainScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); !errors.Is(err, storeErr) {
		t.Fatalf("scanDue() error = %v, want %v", err, storeErr)
	}
}

func TestDrainScannerStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	scanner, err := NewDrainScanner(f.coordinator, 10*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDrainScanner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- scanner.Start(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

type claimFailingStore struct {
	*repository.MemoryBatchStore
	err error
}

func (s *claimFailingStore) ClaimDueDrains(ctx context.Context, now time.Time) ([]string, error) {
	return nil, s.err
}
