package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Batch timing constants are part of the observable contract.
const (
	BatchWindow   = 10 * time.Minute
	BatchLeaseTTL = 15 * time.Minute
)

// PendingNotification is a queued request to announce a newly created calendar event.
type PendingNotification struct {
	EventID    string `json:"eventId"`
	EventTitle string `json:"eventTitle"`
	EventDate  string `json:"eventDate"`
	AddedAt    int64  `json:"addedAt"`
}

func NewPendingNotification(eventID, eventTitle, eventDate string, now time.Time) (PendingNotification, error) {
	p := PendingNotification{
		EventID:    strings.TrimSpace(eventID),
		EventTitle: strings.TrimSpace(eventTitle),
		EventDate:  strings.TrimSpace(eventDate),
		AddedAt:    now.UnixMilli(),
	}
	if err := p.Validate(); err != nil {
		return PendingNotification{}, err
	}
	return p, nil
}

func (p PendingNotification) Validate() error {
	if p.EventID == "" {
		return fmt.Errorf("%w: eventId is required", ErrValidation)
	}
	if p.EventTitle == "" {
		return fmt.Errorf("%w: eventTitle is required", ErrValidation)
	}
	if p.EventDate == "" {
		return fmt.Errorf("%w: eventDate is required", ErrValidation)
	}
	return nil
}

// AddedTime returns AddedAt as a UTC time.
func (p PendingNotification) AddedTime() time.Time {
	return time.UnixMilli(p.AddedAt).UTC()
}

// Encode serializes the entry as it is stored in the batch queue.
func (p PendingNotification) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode pending notification: %w", err)
	}
	return string(raw), nil
}

// DecodePendingNotification parses a queue member. Entries without an event id
// or title are reported as malformed.
func DecodePendingNotification(raw string) (PendingNotification, error) {
	var p PendingNotification
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return PendingNotification{}, fmt.Errorf("malformed pending notification: %w", err)
	}
	if strings.TrimSpace(p.EventID) == "" || strings.TrimSpace(p.EventTitle) == "" {
		return PendingNotification{}, fmt.Errorf("malformed pending notification: missing event fields")
	}
	return p, nil
}

// QueuedEntry pairs a raw queue member with its score.
type QueuedEntry struct {
	Member string
	Score  int64
}
