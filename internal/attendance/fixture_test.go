package attendance_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
	"qrattend/internal/credential"
	"qrattend/internal/store/memory"
)

const (
	lecturerID = "lecturer-1"
	otherLecID = "lecturer-2"
	courseID   = "course-cs101"
	otherCID   = "course-ma201"
	studentID  = "student-1"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []attendance.Event
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, evt attendance.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("queue unavailable")
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Events() []attendance.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]attendance.Event(nil), p.events...)
}

type testFixture struct {
	store        *memory.Store
	registry     *attendance.Registry
	coordinator  *attendance.Coordinator
	publisher    *recordingPublisher
	enrollmentID string
	students     map[string]attendance.User
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	log.Logger = zerolog.Nop()

	st := memory.New()
	pub := &recordingPublisher{}
	reg := attendance.NewRegistry(st, st, 0)
	coord := attendance.NewCoordinator(st, st, reg, pub, credential.DefaultTTL)

	f := &testFixture{
		store:       st,
		registry:    reg,
		coordinator: coord,
		publisher:   pub,
		students:    make(map[string]attendance.User),
	}

	st.PutUser(attendance.User{ID: lecturerID, FirstName: "Ada", LastName: "Lovelace", Role: attendance.RoleLecturer, IsActive: true, InstitutionalID: "L-001", RotationSecret: f.secret(t)})
	st.PutUser(attendance.User{ID: otherLecID, FirstName: "Alan", LastName: "Turing", Role: attendance.RoleLecturer, IsActive: true, InstitutionalID: "L-002", RotationSecret: f.secret(t)})
	st.PutCourse(attendance.Course{ID: courseID, Code: "CS101", Name: "Intro to CS", LecturerID: lecturerID})
	st.PutCourse(attendance.Course{ID: otherCID, Code: "MA201", Name: "Linear Algebra", LecturerID: otherLecID})

	f.addStudent(t, attendance.User{ID: studentID, FirstName: "Grace", LastName: "Hopper", InstitutionalID: "S-1001"})
	f.enrollmentID = st.PutEnrollment(attendance.Enrollment{StudentID: studentID, CourseID: courseID})
	return f
}

func (f *testFixture) secret(t *testing.T) string {
	t.Helper()
	s, err := credential.NewSecret()
	require.NoError(t, err)
	return s
}

func (f *testFixture) addStudent(t *testing.T, u attendance.User) attendance.User {
	t.Helper()
	if u.Role == "" {
		u.Role = attendance.RoleStudent
	}
	u.IsActive = true
	if u.RotationSecret == "" {
		u.RotationSecret = f.secret(t)
	}
	f.store.PutUser(u)
	f.students[u.ID] = u
	return u
}

func (f *testFixture) startSession(t *testing.T) *attendance.Session {
	t.Helper()
	s, err := f.registry.Start(context.Background(), courseID, lecturerID, 30)
	require.NoError(t, err)
	return s
}

// payload builds what the lecturer's camera would read off the student's screen.
func (f *testFixture) payload(t *testing.T, userID string) string {
	t.Helper()
	u := f.students[userID]
	token, err := credential.Issue(u.ID, u.RotationSecret, time.Minute)
	require.NoError(t, err)
	return payloadFor(t, token)
}

func payloadFor(t *testing.T, token string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"token": token, "name": "ignored by the server"})
	require.NoError(t, err)
	return string(raw)
}
