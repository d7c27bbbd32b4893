package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"qrattend/internal/attendance"
)

// EventPublisher sends attendance events through a Queue.
type EventPublisher struct {
	q Queue
}

var _ attendance.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher wraps q.
func NewEventPublisher(q Queue) *EventPublisher {
	return &EventPublisher{q: q}
}

// Publish encodes evt as JSON and enqueues it with the event type as message type.
func (p *EventPublisher) Publish(ctx context.Context, evt attendance.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.q.Publish(ctx, Message{Type: string(evt.Type), Body: body})
}

// DecodeEvent turns a consumed message back into an attendance event.
func DecodeEvent(msg Message) (attendance.Event, error) {
	var evt attendance.Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return attendance.Event{}, fmt.Errorf("decode %s event: %w", msg.Type, err)
	}
	if evt.Type == "" {
		evt.Type = attendance.EventType(msg.Type)
	}
	return evt, nil
}
