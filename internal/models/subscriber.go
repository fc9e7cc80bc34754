package models

import "time"

type Subscriber struct {
	ID                   int64      `json:"id"`
	PhoneNumber          string     `json:"phone_number"`
	IsActive             bool       `json:"is_active"`
	SubscribedAt         time.Time  `json:"subscribed_at"`
	LastNotificationSent *time.Time `json:"last_notification_sent"`
}

// SubscribeOutcome tells what Subscribe did to the registry.
type SubscribeOutcome int

const (
	SubscribeCreated SubscribeOutcome = iota
	SubscribeAlreadyActive
	SubscribeReactivated
)

func (o SubscribeOutcome) Message() string {
	switch o {
	case SubscribeAlreadyActive:
		return "Already subscribed to SMS alerts"
	case SubscribeReactivated:
		return "Re-activated SMS alerts subscription"
	default:
		return "Successfully subscribed to SMS alerts"
	}
}
