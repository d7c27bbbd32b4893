// Package worker drains the attendance event queue into the audit trail.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"qrattend/internal/attendance"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

// Worker appends every consumed attendance event to an audit store.
type Worker struct {
	q       queue.Queue
	audit   attendance.AuditStore
	retries int
	backoff time.Duration
}

// New creates a worker. Failed appends are retried a few times before the
// event is dropped and counted.
func New(q queue.Queue, audit attendance.AuditStore) *Worker {
	return &Worker{q: q, audit: audit, retries: 3, backoff: 200 * time.Millisecond}
}

// Run blocks until ctx is cancelled or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	log.Info().Msg("worker started, waiting for events")
	for msg := range messages {
		w.handle(ctx, msg)
	}
	log.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	switch attendance.EventType(msg.Type) {
	case attendance.EventMarked, attendance.EventRemoved:
	default:
		log.Warn().Str("type", msg.Type).Msg("skipping unknown message type")
		metrics.EventsProcessedTotal.WithLabelValues("skipped").Inc()
		return
	}

	evt, err := queue.DecodeEvent(msg)
	if err != nil {
		log.Error().Err(err).Msg("dropping undecodable event")
		metrics.EventsProcessedTotal.WithLabelValues("invalid").Inc()
		return
	}

	for attempt := 1; ; attempt++ {
		err = w.audit.AppendAudit(ctx, evt)
		if err == nil || attempt >= w.retries || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(w.backoff * time.Duration(attempt)):
		case <-ctx.Done():
		}
	}
	if err != nil {
		log.Error().Err(err).Str("event_id", evt.ID).Str("session_id", evt.SessionID).Msg("audit append failed")
		metrics.EventsProcessedTotal.WithLabelValues("failed").Inc()
		return
	}
	log.Debug().Str("event_id", evt.ID).Str("type", string(evt.Type)).Str("session_id", evt.SessionID).Msg("event audited")
	metrics.EventsProcessedTotal.WithLabelValues("stored").Inc()
}
