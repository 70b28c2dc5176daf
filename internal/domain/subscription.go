package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const maxSubscriptionLabel = 120

// Subscription is a push endpoint that receives batch notifications.
type Subscription struct {
	ID            string
	Endpoint      string
	Label         string
	Active        bool
	FailureCount  int
	LastFailureAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *Subscription) Validate() error {
	endpoint := strings.TrimSpace(s.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrValidation)
	}
	parsed, err := url.ParseRequestURI(endpoint)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return fmt.Errorf("%w: endpoint must be an absolute http(s) url", ErrValidation)
	}
	if len([]rune(s.Label)) > maxSubscriptionLabel {
		return fmt.Errorf("%w: label exceeds %d characters", ErrValidation, maxSubscriptionLabel)
	}
	return nil
}
