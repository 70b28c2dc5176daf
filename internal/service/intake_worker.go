package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/calendar-push/internal/domain"
	"github.com/kursadbilgin/calendar-push/internal/observability"
	"github.com/kursadbilgin/calendar-push/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minIntakeConcurrency = 1

// Enqueuer accepts a newly created calendar event into the pending batch.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventID, eventTitle, eventDate string) error
}

// IntakeWorker moves calendar events from the intake queue into the pending batch.
type IntakeWorker struct {
	consumer    queue.Consumer
	enqueuer    Enqueuer
	logger      *zap.Logger
	concurrency int
}

func NewIntakeWorker(
	consumer queue.Consumer,
	enqueuer Enqueuer,
	concurrency int,
	logger *zap.Logger,
) (*IntakeWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if concurrency < minIntakeConcurrency {
		concurrency = minIntakeConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IntakeWorker{
		consumer:    consumer,
		enqueuer:    enqueuer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the intake queues until context cancellation.
func (w *IntakeWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("intake worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := w.consumer.Consume(groupCtx, queueName, w.processMessage); err != nil {
				w.logger.Error("intake worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("intake worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *IntakeWorker) processMessage(ctx context.Context, msg queue.EventCreatedMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithRequestID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx)

	err := w.enqueuer.Enqueue(ctx, msg.EventID, msg.EventTitle, msg.EventDate)
	switch {
	case err == nil:
		logger.Debug("calendar event queued from intake", zap.String("eventId", msg.EventID))
		return nil
	case errors.Is(err, domain.ErrValidation):
		// Redelivery cannot fix a bad payload.
		logger.Warn("dropping invalid calendar event",
			zap.String("eventId", msg.EventID),
			zap.Error(err),
		)
		return nil
	default:
		return fmt.Errorf("failed to enqueue calendar event %s: %w", msg.EventID, err)
	}
}
