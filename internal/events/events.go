// Package events defines the cluster event type shared by the monitor, the
// safety kernel, the tool dispatcher, and the realtime gateway, together with
// a fan-out [Bus] that broadcasts events to any number of subscribers.
//
// All exported types are safe for concurrent use.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades an event for display and alert routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Source identifies which part of the system emitted an event. Clients filter
// their event feeds on this field, so the value set is closed.
type Source string

const (
	SourceMonitor Source = "monitor"
	SourceUser    Source = "user"
	SourceSystem  Source = "system"
	SourceJarvis  Source = "jarvis"
)

// Event is a single cluster event as delivered on the /events namespace and
// persisted to the events table.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Node      string    `json:"node,omitempty"`
	Source    Source    `json:"source"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New constructs an [Event] with a fresh ID and the current time.
func New(typ string, severity Severity, source Source, title, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Source:    source,
		Timestamp: time.Now(),
	}
}
