package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/calendar-push/internal/domain"
	"github.com/kursadbilgin/calendar-push/internal/repository"
	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "notifications:batch"

// releaseLeaseScript deletes the lease only while it still holds the caller's token.
var releaseLeaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ repository.BatchStore = (*RedisBatchStore)(nil)

// RedisBatchStore keeps the batch queue, lease, due drains and diagnostics in Redis.
type RedisBatchStore struct {
	client *goredis.Client

	pendingKey  string
	leaseKey    string
	dueKey      string
	logKey      string
	failuresKey string
}

func NewRedisBatchStore(client *goredis.Client, prefix string) (*RedisBatchStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RedisBatchStore{
		client:      client,
		pendingKey:  prefix + ":pending",
		leaseKey:    prefix + ":lock",
		dueKey:      prefix + ":due",
		logKey:      prefix + ":log",
		failuresKey: prefix + ":failed",
	}, nil
}

func (s *RedisBatchStore) AddPending(ctx context.Context, entry domain.QueuedEntry) error {
	err := s.client.ZAdd(ctx, s.pendingKey, goredis.Z{
		Score:  float64(entry.Score),
		Member: entry.Member,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add pending notification: %w", err)
	}
	return nil
}

func (s *RedisBatchStore) RangePending(ctx context.Context, maxScore int64) ([]domain.QueuedEntry, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, s.pendingKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: scoreBound(maxScore),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending notifications: %w", err)
	}
	return toEntries(zs), nil
}

func (s *RedisBatchStore) AllPending(ctx context.Context) ([]domain.QueuedEntry, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.pendingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending notifications: %w", err)
	}
	return toEntries(zs), nil
}

func (s *RedisBatchStore) RemovePending(ctx context.Context, maxScore int64) (int64, error) {
	removed, err := s.client.ZRemRangeByScore(ctx, s.pendingKey, "-inf", scoreBound(maxScore)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to remove pending notifications: %w", err)
	}
	return removed, nil
}

func (s *RedisBatchStore) AcquireLease(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.leaseKey, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire batch lease: %w", err)
	}
	return ok, nil
}

func (s *RedisBatchStore) ReleaseLease(ctx context.Context, token string) (bool, error) {
	deleted, err := releaseLeaseScript.Run(ctx, s.client, []string{s.leaseKey}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release batch lease: %w", err)
	}
	return deleted == 1, nil
}

func (s *RedisBatchStore) CurrentLease(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.leaseKey).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read batch lease: %w", err)
	}
	return token, nil
}

func (s *RedisBatchStore) ScheduleDrain(ctx context.Context, token string, dueAt time.Time) error {
	err := s.client.ZAdd(ctx, s.dueKey, goredis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: token,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule drain: %w", err)
	}
	return nil
}

func (s *RedisBatchStore) ClaimDueDrains(ctx context.Context, now time.Time) ([]string, error) {
	tokens, err := s.client.ZRangeByScore(ctx, s.dueKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due drains: %w", err)
	}

	claimed := make([]string, 0, len(tokens))
	for _, token := range tokens {
		removed, err := s.client.ZRem(ctx, s.dueKey, token).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim due drain: %w", err)
		}
		// Another replica removed it first.
		if removed == 0 {
			continue
		}
		claimed = append(claimed, token)
	}
	return claimed, nil
}

func (s *RedisBatchStore) ScheduledDrainCount(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, s.dueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled drains: %w", err)
	}
	return count, nil
}

func (s *RedisBatchStore) AppendLog(ctx context.Context, log domain.BatchLog) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal batch log: %w", err)
	}
	if err := s.client.HSet(ctx, s.logKey, repository.LogField(log), payload).Err(); err != nil {
		return fmt.Errorf("failed to write batch log: %w", err)
	}
	return nil
}

func (s *RedisBatchStore) RecentLogs(ctx context.Context, limit int) ([]domain.BatchLog, error) {
	raw, err := s.client.HGetAll(ctx, s.logKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch logs: %w", err)
	}

	logs := make([]domain.BatchLog, 0, len(raw))
	for _, value := range raw {
		var l domain.BatchLog
		if err := json.Unmarshal([]byte(value), &l); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].ProcessedAt.After(logs[j].ProcessedAt) })
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *RedisBatchStore) RecordFailure(ctx context.Context, failure domain.FailedAttempt) error {
	payload, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("failed to marshal failed attempt: %w", err)
	}
	if err := s.client.HSet(ctx, s.failuresKey, repository.FailureField(failure), payload).Err(); err != nil {
		return fmt.Errorf("failed to write failed attempt: %w", err)
	}
	return nil
}

func (s *RedisBatchStore) RecentFailures(ctx context.Context, limit int) ([]domain.FailedAttempt, error) {
	raw, err := s.client.HGetAll(ctx, s.failuresKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed attempts: %w", err)
	}

	failures := make([]domain.FailedAttempt, 0, len(raw))
	for _, value := range raw {
		var f domain.FailedAttempt
		if err := json.Unmarshal([]byte(value), &f); err != nil {
			continue
		}
		failures = append(failures, f)
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].AttemptedAt.After(failures[j].AttemptedAt) })
	if limit > 0 && len(failures) > limit {
		failures = failures[:limit]
	}
	return failures, nil
}

func scoreBound(maxScore int64) string {
	if maxScore == repository.MaxScore {
		return "+inf"
	}
	return strconv.FormatInt(maxScore, 10)
}

func toEntries(zs []goredis.Z) []domain.QueuedEntry {
	entries := make([]domain.QueuedEntry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, domain.QueuedEntry{Member: member, Score: int64(z.Score)})
	}
	return entries
}
