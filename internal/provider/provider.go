package provider

import (
	"context"
)

// PushPayload is the summarized batch notification plus its deep link.
type PushPayload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	EventID    string `json:"eventId"`
	EventTitle string `json:"eventTitle"`
	EventDate  string `json:"eventDate"`
}

// SendResult counts per-subscriber delivery outcomes.
type SendResult struct {
	SuccessCount int
	FailureCount int
}

// PushSender delivers one payload to every active subscriber.
type PushSender interface {
	Send(ctx context.Context, payload PushPayload) (*SendResult, error)
}
