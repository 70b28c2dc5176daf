package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/calendar-push/internal/observability"
	"go.uber.org/zap"
)

const defaultDrainScanInterval = 15 * time.Second

// DrainScanner periodically runs batch drains whose window has elapsed.
type DrainScanner struct {
	coordinator *BatchCoordinator
	logger      *zap.Logger
	interval    time.Duration
}

func NewDrainScanner(
	coordinator *BatchCoordinator,
	interval time.Duration,
	logger *zap.Logger,
) (*DrainScanner, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("batch coordinator is required")
	}
	if interval <= 0 {
		interval = defaultDrainScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DrainScanner{
		coordinator: coordinator,
		logger:      logger,
		interval:    interval,
	}, nil
}

func (s *DrainScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Drains that came due while no replica was running are picked up right away.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("drain scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("drain scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *DrainScanner) scanDue(ctx context.Context) error {
	tokens, err := s.coordinator.ClaimDueDrains(ctx)
	if err != nil {
		return fmt.Errorf("failed to claim due drains: %w", err)
	}

	if len(tokens) > 0 {
		drainCtx := observability.WithLeaseToken(ctx, tokens[0])
		if err := s.coordinator.DrainDue(drainCtx); err != nil {
			s.logger.Error("due drain failed",
				zap.Strings("leaseTokens", tokens),
				zap.Error(err),
			)
		}

		for _, token := range tokens {
			released, err := s.coordinator.ReleaseLease(ctx, token)
			if err != nil {
				s.logger.Error("failed to release batch lease",
					zap.String("leaseToken", token),
					zap.Error(err),
				)
				continue
			}
			if !released {
				s.logger.Info("batch lease no longer held by drain owner",
					zap.String("leaseToken", token),
				)
			}
		}
	}

	if err := s.coordinator.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile pending batch: %w", err)
	}
	return nil
}
