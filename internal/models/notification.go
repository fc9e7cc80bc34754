package models

import "time"

type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

func (s NotificationStatus) Valid() bool {
	return s == StatusPending || s == StatusSent || s == StatusFailed
}

// Notification is one ledger row: a single delivery attempt of an alert to a subscriber.
type Notification struct {
	ID           int64              `json:"id"`
	SubscriberID int64              `json:"subscriber_id"`
	AlertID      int64              `json:"alert_id"`
	PhoneNumber  string             `json:"phone_number,omitempty"` // joined for listings, not stored
	AlertTitle   string             `json:"alert_title,omitempty"`  // joined for listings, not stored
	SentAt       time.Time          `json:"sent_at"`
	Status       NotificationStatus `json:"status"`
	LastError    string             `json:"last_error,omitempty"`
}

// NotificationFilter narrows ledger listings. Zero values mean "any".
type NotificationFilter struct {
	AlertID int64
	Status  NotificationStatus
	Limit   int
	Offset  int
}

// DispatchSummary is the outcome of one fan-out run for an alert.
// Skipped counts subscribers whose ledger bookkeeping failed.
type DispatchSummary struct {
	AlertID int64 `json:"alert_id"`
	Total   int   `json:"total"`
	Sent    int   `json:"sent"`
	Failed  int   `json:"failed"`
	Skipped int   `json:"skipped"`
}
