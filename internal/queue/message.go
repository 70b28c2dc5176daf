package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/calendar-push/internal/domain"
)

// EventCreatedMessage is the broker payload published when a calendar event is stored.
type EventCreatedMessage struct {
	EventID       string `json:"eventId"`
	EventTitle    string `json:"eventTitle"`
	EventDate     string `json:"eventDate"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m EventCreatedMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("%w: eventId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.EventTitle) == "" {
		return fmt.Errorf("%w: eventTitle is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.EventDate) == "" {
		return fmt.Errorf("%w: eventDate is required", domain.ErrValidation)
	}
	return nil
}
