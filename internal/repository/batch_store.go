package repository

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kursadbilgin/calendar-push/internal/domain"
)

// MaxScore selects every queued entry regardless of age.
const MaxScore int64 = math.MaxInt64

// BatchStore is the shared coordination substrate of the batch coordinator.
// Implementations must make AddPending and AcquireLease atomic; every other
// multi-step sequence is best-effort.
type BatchStore interface {
	AddPending(ctx context.Context, entry domain.QueuedEntry) error
	RangePending(ctx context.Context, maxScore int64) ([]domain.QueuedEntry, error)
	AllPending(ctx context.Context) ([]domain.QueuedEntry, error)
	RemovePending(ctx context.Context, maxScore int64) (int64, error)

	AcquireLease(ctx context.Context, token string, ttl time.Duration) (bool, error)
	// ReleaseLease deletes the lease only while it still holds token.
	ReleaseLease(ctx context.Context, token string) (bool, error)
	CurrentLease(ctx context.Context) (string, error)

	ScheduleDrain(ctx context.Context, token string, dueAt time.Time) error
	// ClaimDueDrains removes and returns the tokens due at or before now. A token
	// is returned to at most one caller.
	ClaimDueDrains(ctx context.Context, now time.Time) ([]string, error)
	ScheduledDrainCount(ctx context.Context) (int64, error)

	AppendLog(ctx context.Context, log domain.BatchLog) error
	RecentLogs(ctx context.Context, limit int) ([]domain.BatchLog, error)
	RecordFailure(ctx context.Context, failure domain.FailedAttempt) error
	RecentFailures(ctx context.Context, limit int) ([]domain.FailedAttempt, error)
}

var _ BatchStore = (*MemoryBatchStore)(nil)

// MemoryBatchStore is a process-local BatchStore used in tests and single-node runs.
type MemoryBatchStore struct {
	mu sync.Mutex

	pending  []domain.QueuedEntry
	lease    string
	leaseExp time.Time
	due      map[string]int64
	logs     map[string]domain.BatchLog
	failures map[string]domain.FailedAttempt

	now func() time.Time
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return NewMemoryBatchStoreWithClock(time.Now)
}

func NewMemoryBatchStoreWithClock(now func() time.Time) *MemoryBatchStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryBatchStore{
		due:      make(map[string]int64),
		logs:     make(map[string]domain.BatchLog),
		failures: make(map[string]domain.FailedAttempt),
		now:      now,
	}
}

func (s *MemoryBatchStore) AddPending(_ context.Context, entry domain.QueuedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.pending {
		if s.pending[i].Member == entry.Member {
			s.pending[i].Score = entry.Score
			s.sortPending()
			return nil
		}
	}
	s.pending = append(s.pending, entry)
	s.sortPending()
	return nil
}

func (s *MemoryBatchStore) sortPending() {
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].Score == s.pending[j].Score {
			return s.pending[i].Member < s.pending[j].Member
		}
		return s.pending[i].Score < s.pending[j].Score
	})
}

func (s *MemoryBatchStore) RangePending(_ context.Context, maxScore int64) ([]domain.QueuedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.QueuedEntry, 0, len(s.pending))
	for _, e := range s.pending {
		if e.Score <= maxScore {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryBatchStore) AllPending(ctx context.Context) ([]domain.QueuedEntry, error) {
	return s.RangePending(ctx, MaxScore)
}

func (s *MemoryBatchStore) RemovePending(_ context.Context, maxScore int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pending[:0]
	var removed int64
	for _, e := range s.pending {
		if e.Score <= maxScore {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.pending = kept
	return removed, nil
}

func (s *MemoryBatchStore) AcquireLease(_ context.Context, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leaseHeldLocked() {
		return false, nil
	}
	s.lease = token
	s.leaseExp = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryBatchStore) ReleaseLease(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.leaseHeldLocked() || s.lease != token {
		return false, nil
	}
	s.lease = ""
	s.leaseExp = time.Time{}
	return true, nil
}

func (s *MemoryBatchStore) CurrentLease(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.leaseHeldLocked() {
		return "", nil
	}
	return s.lease, nil
}

func (s *MemoryBatchStore) leaseHeldLocked() bool {
	return s.lease != "" && s.now().Before(s.leaseExp)
}

func (s *MemoryBatchStore) ScheduleDrain(_ context.Context, token string, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.due[token] = dueAt.UnixMilli()
	return nil
}

func (s *MemoryBatchStore) ClaimDueDrains(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.UnixMilli()
	claimed := make([]string, 0)
	for token, dueAt := range s.due {
		if dueAt <= cutoff {
			claimed = append(claimed, token)
			delete(s.due, token)
		}
	}
	sort.Strings(claimed)
	return claimed, nil
}

func (s *MemoryBatchStore) ScheduledDrainCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.due)), nil
}

func (s *MemoryBatchStore) AppendLog(_ context.Context, log domain.BatchLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[LogField(log)] = log
	return nil
}

func (s *MemoryBatchStore) RecentLogs(_ context.Context, limit int) ([]domain.BatchLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.BatchLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.After(out[j].ProcessedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryBatchStore) RecordFailure(_ context.Context, failure domain.FailedAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[FailureField(failure)] = failure
	return nil
}

func (s *MemoryBatchStore) RecentFailures(_ context.Context, limit int) ([]domain.FailedAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.FailedAttempt, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	return truncate(out, limit), nil
}

// LogField is the hash field a batch log is stored under.
func LogField(log domain.BatchLog) string {
	return strconv.FormatInt(log.ProcessedAt.UnixMilli(), 10)
}

// FailureField is the hash field a failed attempt is stored under. Queued
// duplicates of one event differ by AddedAt and keep separate records.
func FailureField(f domain.FailedAttempt) string {
	return f.EventID + ":" + strconv.FormatInt(f.AddedAt, 10) + ":" + strconv.FormatInt(f.AttemptedAt.UnixMilli(), 10)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
