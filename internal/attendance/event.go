package attendance

import (
	"context"
	"time"
)

// EventType names an attendance change.
type EventType string

const (
	EventMarked  EventType = "attendance.marked"
	EventRemoved EventType = "attendance.removed"
)

// Event describes one change to a session's attendee list. Removals of an
// existing record are corrections and are kept in the audit trail.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	CourseID  string    `json:"course_id"`
	SubjectID string    `json:"subject_id"`
	ActorID   string    `json:"actor_id"`
	Present   bool      `json:"present"`
	Manual    bool      `json:"manual"`
	At        time.Time `json:"at"`
}

// EventPublisher hands events to whatever transports them to the worker.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, Event) error { return nil }
