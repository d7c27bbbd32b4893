package mongostore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"qrattend/internal/attendance"
)

// setupTestStore connects to TEST_MONGO_URI and works in a throwaway database.
func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	dbName := fmt.Sprintf("test_attendance_%d", time.Now().UnixNano())
	st, err := New(ctx, client, dbName)
	require.NoError(t, err)

	t.Cleanup(func() {
		bg := context.Background()
		if err := client.Database(dbName).Drop(bg); err != nil {
			t.Logf("drop %s: %v", dbName, err)
		}
		_ = st.Close(bg)
	})
	return st, context.Background()
}

func activeSession(courseID string) *attendance.Session {
	return &attendance.Session{
		ID:              uuid.NewString(),
		CourseID:        courseID,
		LecturerID:      "lecturer-1",
		StartTime:       time.Now().UTC(),
		DurationMinutes: 30,
		Status:          attendance.StatusActive,
	}
}

func TestUserRoundTrip(t *testing.T) {
	st, ctx := setupTestStore(t)

	require.NoError(t, st.UpsertUser(ctx, attendance.User{ID: "u1", FirstName: "Grace", Role: attendance.RoleStudent, IsActive: true, InstitutionalID: "S-1", RotationSecret: "s3cret"}))
	u, err := st.FindUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "s3cret", u.RotationSecret)
	assert.Equal(t, "S-1", u.InstitutionalID)

	missing, err := st.FindUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, st.UpsertCourse(ctx, attendance.Course{ID: "c1", Code: "CS101", LecturerID: "lecturer-1"}))
	c, err := st.FindCourse(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "lecturer-1", c.LecturerID)
}

func TestSingleActiveSessionIndex(t *testing.T) {
	st, ctx := setupTestStore(t)

	first := activeSession("c1")
	require.NoError(t, st.CreateSession(ctx, first))
	require.ErrorIs(t, st.CreateSession(ctx, activeSession("c1")), attendance.ErrActiveSessionExists)
	require.NoError(t, st.CreateSession(ctx, activeSession("c2")))

	require.NoError(t, st.CompleteSession(ctx, first.ID, time.Now()))
	require.ErrorIs(t, st.CompleteSession(ctx, first.ID, time.Now()), attendance.ErrSessionNotActive)
	require.ErrorIs(t, st.CompleteSession(ctx, "missing", time.Now()), attendance.ErrSessionNotFound)

	second := activeSession("c1")
	require.NoError(t, st.CreateSession(ctx, second))
	active, err := st.GetActiveSession(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
}

func TestConditionalPush(t *testing.T) {
	st, ctx := setupTestStore(t)
	sess := activeSession("c1")
	require.NoError(t, st.CreateSession(ctx, sess))

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.AddAttendee(ctx, sess.ID, attendance.Attendee{StudentID: "st-1", RecordedAt: time.Now()})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)

	removed, err := st.RemoveAttendee(ctx, sess.ID, "st-1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = st.RemoveAttendee(ctx, sess.ID, "st-1")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, st.CompleteSession(ctx, sess.ID, time.Now()))
	_, err = st.AddAttendee(ctx, sess.ID, attendance.Attendee{StudentID: "st-2", RecordedAt: time.Now()})
	assert.ErrorIs(t, err, attendance.ErrSessionNotActive)
	_, err = st.AddAttendee(ctx, "missing", attendance.Attendee{StudentID: "st-2"})
	assert.ErrorIs(t, err, attendance.ErrSessionNotFound)
}

func TestLedgerPipelineUpdate(t *testing.T) {
	st, ctx := setupTestStore(t)
	id, err := st.CreateEnrollment(ctx, attendance.Enrollment{StudentID: "st-1", CourseID: "c1"})
	require.NoError(t, err)

	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertAttendanceForDate(ctx, id, day, false, "l1"))
	require.NoError(t, st.UpsertAttendanceForDate(ctx, id, day.Add(2*time.Hour), true, "l1"))
	require.NoError(t, st.UpsertAttendanceForDate(ctx, id, day.Add(48*time.Hour), false, "l1"))

	e, err := st.FindActiveEnrollment(ctx, "st-1", "c1")
	require.NoError(t, err)
	require.NotNil(t, e)
	require.Len(t, e.Attendance, 2)
	assert.Equal(t, 2, e.TotalClasses)
	assert.Equal(t, 1, e.ClassesAttended)
	assert.InDelta(t, 50.0, e.AttendancePercentage, 0.001)

	assert.ErrorIs(t, st.UpsertAttendanceForDate(ctx, "missing", day, true, "l1"), attendance.ErrEnrollmentNotFound)
}

func TestAuditDedup(t *testing.T) {
	st, ctx := setupTestStore(t)
	evt := attendance.Event{ID: "evt-1", Type: attendance.EventRemoved, SessionID: "s1", At: time.Now().UTC()}

	require.NoError(t, st.AppendAudit(ctx, evt))
	require.NoError(t, st.AppendAudit(ctx, evt))

	trail, err := st.AuditTrail(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, attendance.EventRemoved, trail[0].Type)
}

func TestUpsertUserKeepsRotationSecret(t *testing.T) {
	st, ctx := setupTestStore(t)

	require.NoError(t, st.UpsertUser(ctx, attendance.User{ID: "u2", FirstName: "Grace", Role: attendance.RoleStudent, IsActive: true, InstitutionalID: "S-2"}))
	before, err := st.FindUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, before.RotationSecret, 64)

	require.NoError(t, st.UpsertUser(ctx, attendance.User{ID: "u2", FirstName: "Ada", Role: attendance.RoleStudent, IsActive: true}))
	require.NoError(t, st.UpsertUser(ctx, attendance.User{ID: "u2", FirstName: "Ada", Role: attendance.RoleStudent, IsActive: true, RotationSecret: "replacement"}))

	after, err := st.FindUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "Ada", after.FirstName)
	assert.Empty(t, after.InstitutionalID)
	assert.Equal(t, before.RotationSecret, after.RotationSecret)
}

func TestPutAttendeeReplacesScan(t *testing.T) {
	st, ctx := setupTestStore(t)
	sess := activeSession("c-put")
	require.NoError(t, st.CreateSession(ctx, sess))

	scanned := time.Now().UTC().Truncate(time.Millisecond)
	added, err := st.AddAttendee(ctx, sess.ID, attendance.Attendee{StudentID: "stu", RecordedAt: scanned})
	require.NoError(t, err)
	require.True(t, added)

	later := scanned.Add(time.Minute)
	require.NoError(t, st.PutAttendee(ctx, sess.ID, attendance.Attendee{StudentID: "stu", RecordedAt: later, MarkedManually: true}))
	require.NoError(t, st.PutAttendee(ctx, sess.ID, attendance.Attendee{StudentID: "other", RecordedAt: later, MarkedManually: true}))

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Attendees, 2)
	assert.True(t, got.Attendees[0].MarkedManually)
	assert.True(t, got.Attendees[0].RecordedAt.Equal(later))

	require.NoError(t, st.CompleteSession(ctx, sess.ID, time.Now()))
	err = st.PutAttendee(ctx, sess.ID, attendance.Attendee{StudentID: "third", RecordedAt: later})
	assert.ErrorIs(t, err, attendance.ErrSessionNotActive)
}
