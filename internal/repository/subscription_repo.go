package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/calendar-push/internal/domain"
	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, s *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	List(ctx context.Context) ([]domain.Subscription, error)
	ListActive(ctx context.Context) ([]domain.Subscription, error)
	Deactivate(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

func (r *GormSubscriptionRepo) Create(ctx context.Context, s *domain.Subscription) error {
	model := subscriptionModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if s != nil {
		*s = *subscriptionModelToDomain(model)
	}
	return nil
}

func (r *GormSubscriptionRepo) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}

func (r *GormSubscriptionRepo) List(ctx context.Context) ([]domain.Subscription, error) {
	return r.find(ctx, r.db.WithContext(ctx).Order("created_at DESC"))
}

func (r *GormSubscriptionRepo) ListActive(ctx context.Context) ([]domain.Subscription, error) {
	return r.find(ctx, r.db.WithContext(ctx).Where("active = ?", true).Order("created_at ASC"))
}

func (r *GormSubscriptionRepo) find(_ context.Context, query *gorm.DB) ([]domain.Subscription, error) {
	var models []SubscriptionModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(models))
	for i := range models {
		subs = append(subs, *subscriptionModelToDomain(&models[i]))
	}
	return subs, nil
}

func (r *GormSubscriptionRepo) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", id).
		Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) RecordFailure(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_count":   gorm.Expr("failure_count + 1"),
			"last_failure_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&SubscriptionModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
