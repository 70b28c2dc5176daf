package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/calendar-push/internal/domain"
	"github.com/kursadbilgin/calendar-push/internal/repository"
	"go.uber.org/zap"
)

// SubscriptionService manages the push endpoints that receive batch notifications.
type SubscriptionService struct {
	subscriptions repository.SubscriptionRepository
	logger        *zap.Logger
}

func NewSubscriptionService(
	subscriptions repository.SubscriptionRepository,
	logger *zap.Logger,
) (*SubscriptionService, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubscriptionService{
		subscriptions: subscriptions,
		logger:        logger,
	}, nil
}

func (s *SubscriptionService) Register(ctx context.Context, endpoint, label string) (*domain.Subscription, error) {
	sub := &domain.Subscription{
		ID:       uuid.NewString(),
		Endpoint: strings.TrimSpace(endpoint),
		Label:    strings.TrimSpace(label),
		Active:   true,
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := s.subscriptions.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("push subscription registered",
		zap.String("subscriptionId", sub.ID),
		zap.String("label", sub.Label),
	)
	return sub, nil
}

func (s *SubscriptionService) List(ctx context.Context) ([]domain.Subscription, error) {
	return s.subscriptions.List(ctx)
}

func (s *SubscriptionService) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: subscription id must be a uuid", domain.ErrValidation)
	}
	return s.subscriptions.GetByID(ctx, id)
}

func (s *SubscriptionService) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: subscription id must be a uuid", domain.ErrValidation)
	}
	if err := s.subscriptions.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("push subscription removed", zap.String("subscriptionId", id))
	return nil
}
