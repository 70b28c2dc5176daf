package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/calendar-push/internal/domain"
	"github.com/kursadbilgin/calendar-push/internal/observability"
	"github.com/kursadbilgin/calendar-push/internal/provider"
	"github.com/kursadbilgin/calendar-push/internal/repository"
	"go.uber.org/zap"
)

const (
	singleEventTitle = "New Event Added"
	multiEventTitle  = "New Events Added"

	maxListedTitles    = 3
	summaryLeadTitles  = 2
	noPendingMessage   = "No pending notifications to process"
	processedMessageFn = "Processed %d pending notifications"
)

var errNoRecipients = errors.New("push reached no subscribers")

// Summary is the text and deep link chosen for one drained batch.
type Summary struct {
	Title    string
	Body     string
	DeepLink domain.PendingNotification
}

// BatchCoordinator coalesces calendar event notifications into one push per batch window.
type BatchCoordinator struct {
	store    repository.BatchStore
	sender   provider.PushSender
	logger   *zap.Logger
	metrics  *observability.Metrics
	window   time.Duration
	leaseTTL time.Duration
	now      func() time.Time
	newToken func() string
}

func NewBatchCoordinator(
	store repository.BatchStore,
	sender provider.PushSender,
	logger *zap.Logger,
) (*BatchCoordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("push sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchCoordinator{
		store:    store,
		sender:   sender,
		logger:   logger,
		window:   domain.BatchWindow,
		leaseTTL: domain.BatchLeaseTTL,
		now:      time.Now,
		newToken: uuid.NewString,
	}, nil
}

func (c *BatchCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Window returns the batch window applied to every drain.
func (c *BatchCoordinator) Window() time.Duration {
	return c.window
}

// Enqueue records a newly created calendar event and makes sure a drain is scheduled for it.
func (c *BatchCoordinator) Enqueue(ctx context.Context, eventID, eventTitle, eventDate string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := c.now()
	pending, err := domain.NewPendingNotification(eventID, eventTitle, eventDate, now)
	if err != nil {
		return err
	}

	member, err := pending.Encode()
	if err != nil {
		return err
	}
	if err := c.store.AddPending(ctx, domain.QueuedEntry{Member: member, Score: pending.AddedAt}); err != nil {
		return err
	}
	c.metrics.IncEventsEnqueued()

	if _, _, err := c.acquireLeaseAndSchedule(ctx, now.Add(c.window)); err != nil {
		return err
	}

	c.logger.Debug("calendar event queued for batch notification",
		zap.String("eventId", pending.EventID),
		zap.Int64("addedAt", pending.AddedAt),
	)
	return nil
}

// acquireLeaseAndSchedule takes the batch lease and registers a drain at dueAt.
// A lease held by someone else is not an error.
func (c *BatchCoordinator) acquireLeaseAndSchedule(ctx context.Context, dueAt time.Time) (domain.Lease, bool, error) {
	token := c.newToken()
	acquired, err := c.store.AcquireLease(ctx, token, c.leaseTTL)
	if err != nil {
		return domain.Lease{}, false, err
	}
	if !acquired {
		return domain.Lease{}, false, nil
	}
	c.metrics.IncLeaseAcquired()

	if err := c.store.ScheduleDrain(ctx, token, dueAt); err != nil {
		return domain.Lease{}, true, err
	}

	c.logger.Info("batch lease acquired",
		zap.String("leaseToken", token),
		zap.Time("dueAt", dueAt.UTC()),
	)
	return domain.Lease{Token: token, DueAt: dueAt}, true, nil
}

// ReleaseLease deletes the batch lease if it is still held under token.
func (c *BatchCoordinator) ReleaseLease(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	return c.store.ReleaseLease(ctx, token)
}

// ClaimDueDrains returns the lease tokens whose drain time has passed. Each
// token is handed to one caller only.
func (c *BatchCoordinator) ClaimDueDrains(ctx context.Context) ([]string, error) {
	return c.store.ClaimDueDrains(ctx, c.now())
}

// DrainDue drains every entry that has waited out the full batch window.
func (c *BatchCoordinator) DrainDue(ctx context.Context) error {
	return c.Drain(ctx, c.now().Add(-c.window))
}

// Drain summarizes and sends all entries added at or before cutoff. Delivery
// failures, including a send that reached nobody, are recorded and leave the
// entries queued; only store errors are returned.
func (c *BatchCoordinator) Drain(ctx context.Context, cutoff time.Time) error {
	_, err := c.drain(ctx, cutoff.UnixMilli())
	return err
}

func (c *BatchCoordinator) drain(ctx context.Context, maxScore int64) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := observability.WithContextLogger(c.logger, ctx)

	entries, err := c.store.RangePending(ctx, maxScore)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		c.metrics.IncDrain(observability.DrainOutcomeEmpty)
		return observability.DrainOutcomeEmpty, nil
	}

	pending := make([]domain.PendingNotification, 0, len(entries))
	for _, entry := range entries {
		p, decodeErr := domain.DecodePendingNotification(entry.Member)
		if decodeErr != nil {
			logger.Debug("dropping malformed batch entry", zap.Int64("score", entry.Score), zap.Error(decodeErr))
			continue
		}
		pending = append(pending, p)
	}

	if len(pending) == 0 {
		if _, err := c.store.RemovePending(ctx, maxScore); err != nil {
			return "", err
		}
		logger.Warn("discarded batch containing only malformed entries", zap.Int("entries", len(entries)))
		c.metrics.IncDrain(observability.DrainOutcomeMalformed)
		return observability.DrainOutcomeMalformed, nil
	}

	summary := Summarize(pending)
	c.metrics.ObserveCoalesced(len(pending))

	result, sendErr := c.sender.Send(ctx, provider.PushPayload{
		Title:      summary.Title,
		Body:       summary.Body,
		EventID:    summary.DeepLink.EventID,
		EventTitle: summary.DeepLink.EventTitle,
		EventDate:  summary.DeepLink.EventDate,
	})
	if result == nil {
		result = &provider.SendResult{}
	}
	if sendErr == nil && result.SuccessCount == 0 {
		if result.FailureCount > 0 {
			sendErr = fmt.Errorf("push delivered to 0 of %d subscribers", result.FailureCount)
		} else {
			sendErr = errNoRecipients
		}
	}

	if sendErr != nil {
		c.recordFailures(ctx, logger, pending, sendErr)
		c.metrics.IncDrain(observability.DrainOutcomeFailed)
		return observability.DrainOutcomeFailed, nil
	}

	if _, err := c.store.RemovePending(ctx, maxScore); err != nil {
		return "", err
	}

	log := domain.BatchLog{
		ProcessedAt:  c.now().UTC(),
		EventCount:   len(pending),
		Title:        summary.Title,
		Body:         summary.Body,
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
	}
	if err := c.store.AppendLog(ctx, log); err != nil {
		return "", err
	}

	c.metrics.IncDrain(observability.DrainOutcomeSent)
	logger.Info("batch notification sent",
		zap.Int("eventCount", log.EventCount),
		zap.Int("successCount", log.SuccessCount),
		zap.Int("failureCount", log.FailureCount),
		zap.String("body", log.Body),
	)
	return observability.DrainOutcomeSent, nil
}

func (c *BatchCoordinator) recordFailures(
	ctx context.Context,
	logger *zap.Logger,
	pending []domain.PendingNotification,
	sendErr error,
) {
	attemptedAt := c.now().UTC()
	logger.Error("batch notification failed, entries stay queued",
		zap.Int("eventCount", len(pending)),
		zap.Bool("transient", provider.IsTransient(sendErr)),
		zap.Error(sendErr),
	)

	for _, p := range pending {
		failure := domain.FailedAttempt{
			EventID:     p.EventID,
			EventTitle:  p.EventTitle,
			EventDate:   p.EventDate,
			AddedAt:     p.AddedAt,
			Error:       sendErr.Error(),
			AttemptedAt: attemptedAt,
		}
		if err := c.store.RecordFailure(ctx, failure); err != nil {
			logger.Error("failed to record failed attempt",
				zap.String("eventId", p.EventID),
				zap.Error(err),
			)
		}
	}
}

// ForceProcessBatch drains the whole queue immediately regardless of entry age.
func (c *BatchCoordinator) ForceProcessBatch(ctx context.Context) (domain.ForceResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := c.store.AllPending(ctx)
	if err != nil {
		return domain.ForceResult{}, err
	}
	if len(entries) == 0 {
		return domain.ForceResult{Success: false, Message: noPendingMessage}, nil
	}

	// Entries enqueued while the send is in flight score above the last one read
	// and stay queued for the next window.
	cutoff := entries[len(entries)-1].Score
	outcome, err := c.drain(ctx, cutoff)
	if err != nil {
		return domain.ForceResult{}, err
	}

	c.logger.Info("forced batch processing",
		zap.Int("entries", len(entries)),
		zap.String("outcome", outcome),
	)
	return domain.ForceResult{
		Success: true,
		Message: fmt.Sprintf(processedMessageFn, len(entries)),
	}, nil
}

// GetBatchStatus reports the queued entries and how long each still has to wait.
func (c *BatchCoordinator) GetBatchStatus(ctx context.Context) (*domain.BatchStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := c.store.AllPending(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	status := &domain.BatchStatus{
		PendingCount:  len(entries),
		Pending:       make([]domain.PendingStatus, 0, len(entries)),
		BatchWindowMs: c.window.Milliseconds(),
	}
	for _, entry := range entries {
		p, decodeErr := domain.DecodePendingNotification(entry.Member)
		if decodeErr != nil {
			continue
		}

		wait := c.window - now.Sub(p.AddedTime())
		if wait < 0 {
			wait = 0
		}
		status.Pending = append(status.Pending, domain.PendingStatus{
			PendingNotification: p,
			WaitTimeMs:          wait.Milliseconds(),
			ScheduledFor:        p.AddedTime().Add(c.window),
		})
	}

	c.metrics.SetPendingEntries(len(entries))
	return status, nil
}

// Reconcile keeps entries left behind by an earlier window from being stranded.
// With no drain scheduled it takes a fresh lease due one window after the
// oldest entry, or one window from now when that time has already passed. An
// entry older than window plus lease TTL under a lease nobody scheduled is
// drained directly.
func (c *BatchCoordinator) Reconcile(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := c.store.AllPending(ctx)
	if err != nil {
		return err
	}
	c.metrics.SetPendingEntries(len(entries))
	if len(entries) == 0 {
		return nil
	}

	scheduled, err := c.store.ScheduledDrainCount(ctx)
	if err != nil {
		return err
	}
	if scheduled > 0 {
		return nil
	}

	now := c.now()
	oldest := time.UnixMilli(entries[0].Score)
	dueAt := oldest.Add(c.window)
	if !dueAt.After(now) {
		dueAt = now.Add(c.window)
	}

	_, acquired, err := c.acquireLeaseAndSchedule(ctx, dueAt)
	if err != nil || acquired {
		return err
	}

	if now.Sub(oldest) > c.window+c.leaseTTL {
		c.logger.Warn("draining orphaned batch entries",
			zap.Time("oldestAddedAt", oldest.UTC()),
			zap.Int("entries", len(entries)),
		)
		return c.DrainDue(ctx)
	}
	return nil
}

func (c *BatchCoordinator) RecentLogs(ctx context.Context, limit int) ([]domain.BatchLog, error) {
	return c.store.RecentLogs(ctx, limit)
}

func (c *BatchCoordinator) RecentFailures(ctx context.Context, limit int) ([]domain.FailedAttempt, error) {
	return c.store.RecentFailures(ctx, limit)
}

// Summarize builds the push text for a drained batch. Titles are deduplicated
// in first-occurrence order and the deep link points at the first entry.
func Summarize(pending []domain.PendingNotification) Summary {
	if len(pending) == 0 {
		return Summary{}
	}

	titles := make([]string, 0, len(pending))
	seen := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		if _, ok := seen[p.EventTitle]; ok {
			continue
		}
		seen[p.EventTitle] = struct{}{}
		titles = append(titles, p.EventTitle)
	}

	summary := Summary{DeepLink: pending[0]}
	switch {
	case len(titles) == 1:
		summary.Title = singleEventTitle
		summary.Body = fmt.Sprintf("%s has been added to the calendar", titles[0])
	case len(titles) <= maxListedTitles:
		summary.Title = multiEventTitle
		summary.Body = fmt.Sprintf("%s have been added to the calendar", strings.Join(titles, ", "))
	default:
		summary.Title = multiEventTitle
		summary.Body = fmt.Sprintf("%s and %d other events have been added to the calendar",
			strings.Join(titles[:summaryLeadTitles], ", "),
			len(titles)-summaryLeadTitles,
		)
	}
	return summary
}
