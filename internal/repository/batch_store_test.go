package repository

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/calendar-push/internal/domain"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func TestMemoryBatchStorePendingOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryBatchStore()

	for _, e := range []domain.QueuedEntry{
		{Member: "c", Score: 300},
		{Member: "a", Score: 100},
		{Member: "b", Score: 200},
	} {
		if err := store.AddPending(ctx, e); err != nil {
			t.Fatalf("AddPending() error = %v", err)
		}
	}
	// Re-adding an identical member only updates its score.
	if err := store.AddPending(ctx, domain.QueuedEntry{Member: "a", Score: 150}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	all, err := store.AllPending(ctx)
	if err != nil {
		t.Fatalf("AllPending() error = %v", err)
	}
	if len(all) != 3 || all[0].Member != "a" || all[0].Score != 150 || all[2].Member != "c" {
		t.Fatalf("AllPending() = %+v", all)
	}

	ranged, err := store.RangePending(ctx, 200)
	if err != nil {
		t.Fatalf("RangePending() error = %v", err)
	}
	if len(ranged) != 2 {
		t.Fatalf("RangePending(200) len = %d, want 2", len(ranged))
	}

	removed, err := store.RemovePending(ctx, 200)
	if err != nil {
		t.Fatalf("RemovePending() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	all, _ = store.AllPending(ctx)
	if len(all) != 1 || all[0].Member != "c" {
		t.Fatalf("AllPending() after remove = %+v", all)
	}
}

func TestMemoryBatchStoreLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, time.September, 1, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryBatchStoreWithClock(clock.Now)

	ok, err := store.AcquireLease(ctx, "token-1", domain.BatchLeaseTTL)
	if err != nil || !ok {
		t.Fatalf("AcquireLease() = %v, %v, want true", ok, err)
	}
	if ok, _ := store.AcquireLease(ctx, "token-2", domain.BatchLeaseTTL); ok {
		t.Fatal("second AcquireLease() succeeded while lease held")
	}

	if released, _ := store.ReleaseLease(ctx, "token-2"); released {
		t.Fatal("ReleaseLease() with foreign token succeeded")
	}
	if holder, _ := store.CurrentLease(ctx); holder != "token-1" {
		t.Fatalf("CurrentLease() = %q, want token-1", holder)
	}

	clock.now = clock.now.Add(domain.BatchLeaseTTL)
	if holder, _ := store.CurrentLease(ctx); holder != "" {
		t.Fatalf("CurrentLease() after expiry = %q, want empty", holder)
	}
	if ok, _ := store.AcquireLease(ctx, "token-2", domain.BatchLeaseTTL); !ok {
		t.Fatal("AcquireLease() after expiry failed")
	}
	if released, _ := store.ReleaseLease(ctx, "token-2"); !released {
		t.Fatal("ReleaseLease() by holder failed")
	}
}

func TestMemoryBatchStoreClaimDueDrains(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryBatchStore()
	base := time.Date(2026, time.September, 1, 8, 0, 0, 0, time.UTC)

	_ = store.ScheduleDrain(ctx, "early", base)
	_ = store.ScheduleDrain(ctx, "late", base.Add(time.Minute))

	claimed, err := store.ClaimDueDrains(ctx, base)
	if err != nil {
		t.Fatalf("ClaimDueDrains() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0] != "early" {
		t.Fatalf("claimed = %v, want [early]", claimed)
	}

	again, _ := store.ClaimDueDrains(ctx, base)
	if len(again) != 0 {
		t.Fatalf("second claim = %v, want none", again)
	}
	if count, _ := store.ScheduledDrainCount(ctx); count != 1 {
		t.Fatalf("ScheduledDrainCount() = %d, want 1", count)
	}
}

func TestMemoryBatchStoreHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryBatchStore()
	base := time.Date(2026, time.September, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_ = store.AppendLog(ctx, domain.BatchLog{ProcessedAt: base.Add(time.Duration(i) * time.Minute), EventCount: i + 1})
	}
	logs, err := store.RecentLogs(ctx, 2)
	if err != nil {
		t.Fatalf("RecentLogs() error = %v", err)
	}
	if len(logs) != 2 || logs[0].EventCount != 3 || logs[1].EventCount != 2 {
		t.Fatalf("RecentLogs() = %+v, want newest first", logs)
	}

	added := base.Add(-time.Minute).UnixMilli()
	_ = store.RecordFailure(ctx, domain.FailedAttempt{EventID: "evt-1", AddedAt: added, AttemptedAt: base})
	_ = store.RecordFailure(ctx, domain.FailedAttempt{EventID: "evt-2", AddedAt: added, AttemptedAt: base})
	// A second queued copy of evt-1 keeps its own record.
	_ = store.RecordFailure(ctx, domain.FailedAttempt{EventID: "evt-1", AddedAt: added + 1, AttemptedAt: base})
	// The same queued entry failing again at the same instant overwrites.
	_ = store.RecordFailure(ctx, domain.FailedAttempt{EventID: "evt-1", AddedAt: added, AttemptedAt: base, Error: "again"})

	failures, _ := store.RecentFailures(ctx, 0)
	if len(failures) != 3 {
		t.Fatalf("RecentFailures() len = %d, want 3", len(failures))
	}
}

func TestFieldNames(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1756713600000).UTC()
	if got := LogField(domain.BatchLog{ProcessedAt: at}); got != "1756713600000" {
		t.Fatalf("LogField() = %q", got)
	}
	failure := domain.FailedAttempt{EventID: "evt-9", AddedAt: 1756713000000, AttemptedAt: at}
	if got := FailureField(failure); got != "evt-9:1756713000000:1756713600000" {
		t.Fatalf("FailureField() = %q", got)
	}
}
