package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
	"qrattend/internal/store/memory"
)

type flakyAudit struct {
	mu       sync.Mutex
	failures int
	calls    int
	stored   []attendance.Event
}

func (a *flakyAudit) AppendAudit(_ context.Context, evt attendance.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failures > 0 {
		a.failures--
		return errors.New("database unavailable")
	}
	a.stored = append(a.stored, evt)
	return nil
}

var _ attendance.AuditStore = (*flakyAudit)(nil)

func TestWorkerStoresPublishedEvents(t *testing.T) {
	log.Logger = zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(8)
	st := memory.New()
	pub := queue.NewEventPublisher(q)

	done := make(chan error, 1)
	go func() { done <- New(q, st).Run(ctx) }()

	require.NoError(t, pub.Publish(ctx, attendance.Event{ID: "e1", Type: attendance.EventMarked, SessionID: "s1"}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "checkin", Body: []byte("legacy")}))
	require.NoError(t, pub.Publish(ctx, attendance.Event{ID: "e2", Type: attendance.EventRemoved, SessionID: "s1"}))

	require.Eventually(t, func() bool { return len(st.Audit()) == 2 }, 2*time.Second, 10*time.Millisecond)
	audit := st.Audit()
	assert.Equal(t, "e1", audit[0].ID)
	assert.Equal(t, attendance.EventRemoved, audit[1].Type)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestHandleRetriesThenGivesUp(t *testing.T) {
	log.Logger = zerolog.Nop()
	ctx := context.Background()
	evt := attendance.Event{ID: "e1", Type: attendance.EventMarked}
	pubQ := queue.NewInMemory(1)
	require.NoError(t, queue.NewEventPublisher(pubQ).Publish(ctx, evt))
	msgs, err := pubQ.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs

	recovering := &flakyAudit{failures: 2}
	w := New(nil, recovering)
	w.backoff = time.Millisecond
	w.handle(ctx, msg)
	assert.Equal(t, 3, recovering.calls)
	assert.Len(t, recovering.stored, 1)

	broken := &flakyAudit{failures: 10}
	w = New(nil, broken)
	w.backoff = time.Millisecond
	w.handle(ctx, msg)
	assert.Equal(t, 3, broken.calls)
	assert.Empty(t, broken.stored)
}

func TestHandleDropsGarbage(t *testing.T) {
	log.Logger = zerolog.Nop()
	audit := &flakyAudit{}
	w := New(nil, audit)

	w.handle(context.Background(), queue.Message{Type: string(attendance.EventMarked), Body: []byte("{")})
	assert.Zero(t, audit.calls)
}
