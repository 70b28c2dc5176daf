package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kursadbilgin/calendar-push/internal/domain"
	"github.com/kursadbilgin/calendar-push/internal/queue"
	"go.uber.org/zap"
)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeEnqueuer struct {
	enqueueFn func(ctx context.Context, eventID, eventTitle, eventDate string) error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, eventID, eventTitle, eventDate string) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, eventID, eventTitle, eventDate)
	}
	return nil
}

func TestIntakeWorkerProcessMessage(t *testing.T) {
	t.Parallel()

	msg := queue.EventCreatedMessage{
		EventID:       "evt-1",
		EventTitle:    "Parent Evening",
		EventDate:     "2026-10-20",
		CorrelationID: "corr-1",
	}

	testCases := []struct {
		name       string
		enqueueErr error
		wantErr    bool
	}{
		{name: "queued", enqueueErr: nil, wantErr: false},
		{name: "invalid payload is dropped", enqueueErr: fmt.Errorf("%w: eventTitle is required", domain.ErrValidation), wantErr: false},
		{name: "store failure is retried", enqueueErr: errors.New("redis unavailable"), wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var got []string
			enqueuer := &fakeEnqueuer{
				enqueueFn: func(ctx context.Context, eventID, eventTitle, eventDate string) error {
					got = []string{eventID, eventTitle, eventDate}
					return tc.enqueueErr
				},
			}
			worker, err := NewIntakeWorker(&fakeConsumer{}, enqueuer, 1, zap.NewNop())
			if err != nil {
				t.Fatalf("NewIntakeWorker() error = %v", err)
			}

			err = worker.processMessage(context.Background(), msg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("processMessage() error = %v, wantErr %v", err, tc.wantErr)
			}
			if len(got) != 3 || got[0] != "evt-1" || got[1] != "Parent Evening" || got[2] != "2026-10-20" {
				t.Fatalf("enqueued = %v", got)
			}
		})
	}
}

func TestIntakeWorkerStartConsumesEveryQueue(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		queues []string
	)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			mu.Lock()
			queues = append(queues, queueName)
			mu.Unlock()
			return handler(ctx, queue.EventCreatedMessage{EventID: "evt-1", EventTitle: "Trip", EventDate: "2026-10-21"})
		},
	}

	enqueued := 0
	var enqueueMu sync.Mutex
	enqueuer := &fakeEnqueuer{
		enqueueFn: func(ctx context.Context, eventID, eventTitle, eventDate string) error {
			enqueueMu.Lock()
			enqueued++
			enqueueMu.Unlock()
			return nil
		},
	}

	worker, err := NewIntakeWorker(consumer, enqueuer, 2, nil)
	if err != nil {
		t.Fatalf("NewIntakeWorker() error = %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(queues) != 2 {
		t.Fatalf("consume calls = %d, want 2", len(queues))
	}
	for _, q := range queues {
		if q != queue.EventsCreatedQueue {
			t.Fatalf("queue = %q, want %q", q, queue.EventsCreatedQueue)
		}
	}
	if enqueued != 2 {
		t.Fatalf("enqueued = %d, want 2", enqueued)
	}
}

func TestIntakeWorkerStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			return errors.New("channel closed")
		},
	}
	worker, _ := NewIntakeWorker(consumer, &fakeEnqueuer{}, 1, nil)

	if err := worker.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want consumer error")
	}
}

func TestNewIntakeWorkerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewIntakeWorker(nil, &fakeEnqueuer{}, 1, nil); err == nil {
		t.Fatal("expected error for nil consumer")
	}
	if _, err := NewIntakeWorker(&fakeConsumer{}, nil, 1, nil); err == nil {
		t.Fatal("expected error for nil enqueuer")
	}

	worker, err := NewIntakeWorker(&fakeConsumer{}, &fakeEnqueuer{}, 0, nil)
	if err != nil {
		t.Fatalf("NewIntakeWorker() error = %v", err)
	}
	if worker.concurrency != minIntakeConcurrency {
		t.Fatalf("concurrency = %d, want %d", worker.concurrency, minIntakeConcurrency)
	}
}
