package domain

import "time"

// BatchLog is the immutable record of one completed drain.
type BatchLog struct {
	ProcessedAt  time.Time `json:"processedAt"`
	EventCount   int       `json:"eventCount"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	SuccessCount int       `json:"successCount"`
	FailureCount int       `json:"failureCount"`
}

// FailedAttempt records a delivery failure for one queued entry. Diagnostic only.
type FailedAttempt struct {
	EventID     string    `json:"eventId"`
	EventTitle  string    `json:"eventTitle"`
	EventDate   string    `json:"eventDate"`
	AddedAt     int64     `json:"addedAt"`
	Error       string    `json:"error"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// PendingStatus is a queued entry annotated with its remaining wait.
type PendingStatus struct {
	PendingNotification
	WaitTimeMs   int64     `json:"waitTimeMs"`
	ScheduledFor time.Time `json:"scheduledFor"`
}

type BatchStatus struct {
	PendingCount  int             `json:"pendingCount"`
	Pending       []PendingStatus `json:"pending"`
	BatchWindowMs int64           `json:"batchWindowMs"`
}

// ForceResult is returned by the administrative force-process operation.
type ForceResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Lease identifies the holder of the pending drain.
type Lease struct {
	Token string
	DueAt time.Time
}
