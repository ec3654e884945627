package realtime

import "time"

// Event types pushed to connected clients.
const (
	EventCaptionPartial = "caption.partial"
	EventCaptionFinal   = "caption.final"
	EventSystemMetrics  = "system.metrics"
	EventSystemAlert    = "system.alert"
)

// Event is the wire envelope for everything the gateway pushes to clients.
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}
