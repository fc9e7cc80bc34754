package models

import (
	"strings"
	"time"
)

// Severity is the alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Upper returns the severity as shown in SMS bodies.
func (s Severity) Upper() string {
	return strings.ToUpper(string(s))
}

// Alert is a safety notice broadcast to subscribers.
type Alert struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
	IsActive    bool      `json:"is_active"`
}

// AlertCreate is the input for creating an alert, from the API or from Kafka.
type AlertCreate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}
