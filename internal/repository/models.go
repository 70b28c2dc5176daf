package repository

import (
	"time"

	"github.com/kursadbilgin/calendar-push/internal/domain"
)

// SubscriptionModel is the persistence model for the push_subscriptions table.
type SubscriptionModel struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	Endpoint      string `gorm:"type:text;not null"`
	Label         string `gorm:"type:varchar(120);not null;default:''"`
	Active        bool   `gorm:"not null;default:true"`
	FailureCount  int    `gorm:"not null;default:0"`
	LastFailureAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (SubscriptionModel) TableName() string {
	return "push_subscriptions"
}

func subscriptionModelFromDomain(s *domain.Subscription) *SubscriptionModel {
	if s == nil {
		return nil
	}

	return &SubscriptionModel{
		ID:            s.ID,
		Endpoint:      s.Endpoint,
		Label:         s.Label,
		Active:        s.Active,
		FailureCount:  s.FailureCount,
		LastFailureAt: s.LastFailureAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	return &domain.Subscription{
		ID:            m.ID,
		Endpoint:      m.Endpoint,
		Label:         m.Label,
		Active:        m.Active,
		FailureCount:  m.FailureCount,
		LastFailureAt: m.LastFailureAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
