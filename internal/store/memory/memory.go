// Package memory is an in-process attendance store used by tests and by
// STORE_BACKEND=memory. A single mutex serialises writers, which gives the
// same atomicity the database backends get from their unique indexes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/attendance"
)

type Store struct {
	mu          sync.RWMutex
	users       map[string]attendance.User
	courses     map[string]attendance.Course
	enrollments map[string]*attendance.Enrollment
	sessions    map[string]*attendance.Session
	active      map[string]string // course id -> active session id
	audit       []attendance.Event
}

var _ attendance.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:       make(map[string]attendance.User),
		courses:     make(map[string]attendance.Course),
		enrollments: make(map[string]*attendance.Enrollment),
		sessions:    make(map[string]*attendance.Session),
		active:      make(map[string]string),
	}
}

// PutUser adds or replaces a user.
func (s *Store) PutUser(u attendance.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// UpsertUser creates or updates an account, keeping any secret it already has.
func (s *Store) UpsertUser(_ context.Context, u attendance.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.users[u.ID]; ok && prev.RotationSecret != "" {
		u.RotationSecret = prev.RotationSecret
	}
	u, err := u.WithRotationSecret()
	if err != nil {
		return err
	}
	s.users[u.ID] = u
	return nil
}

// PutCourse adds or replaces a course.
func (s *Store) PutCourse(c attendance.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = c
}

// PutEnrollment adds or replaces an enrollment, assigning an id if needed.
func (s *Store) PutEnrollment(e attendance.Enrollment) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = attendance.EnrollmentEnrolled
	}
	s.enrollments[e.ID] = &e
	return e.ID
}

// Enrollment returns a copy of the enrollment with id.
func (s *Store) Enrollment(id string) (attendance.Enrollment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrollments[id]
	if !ok {
		return attendance.Enrollment{}, false
	}
	return copyEnrollment(e), true
}

// Audit returns the events appended so far.
func (s *Store) Audit() []attendance.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]attendance.Event, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) FindUser(_ context.Context, id string) (*attendance.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) FindCourse(_ context.Context, id string) (*attendance.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) FindActiveEnrollment(_ context.Context, studentID, courseID string) (*attendance.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID && e.Status == attendance.EnrollmentEnrolled {
			cp := copyEnrollment(e)
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) UpsertAttendanceForDate(_ context.Context, enrollmentID string, date time.Time, present bool, recordedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[enrollmentID]
	if !ok {
		return attendance.ErrEnrollmentNotFound
	}
	e.MarkAttendance(date, present, recordedBy)
	return nil
}

func (s *Store) CreateSession(_ context.Context, sess *attendance.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Status == attendance.StatusActive {
		if _, exists := s.active[sess.CourseID]; exists {
			return attendance.ErrActiveSessionExists
		}
		s.active[sess.CourseID] = sess.ID
	}
	cp := copySession(sess)
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, attendance.ErrSessionNotFound
	}
	cp := copySession(sess)
	return &cp, nil
}

func (s *Store) GetActiveSession(_ context.Context, courseID string) (*attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[courseID]
	if !ok {
		return nil, nil
	}
	cp := copySession(s.sessions[id])
	return &cp, nil
}

func (s *Store) CompleteSession(_ context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return attendance.ErrSessionNotFound
	}
	if sess.Status != attendance.StatusActive {
		return attendance.ErrSessionNotActive
	}
	sess.Status = attendance.StatusCompleted
	sess.EndTime = &endedAt
	delete(s.active, sess.CourseID)
	return nil
}

func (s *Store) AddAttendee(_ context.Context, sessionID string, a attendance.Attendee) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, attendance.ErrSessionNotFound
	}
	if sess.Status != attendance.StatusActive {
		return false, attendance.ErrSessionNotActive
	}
	if sess.HasAttendee(a.StudentID) {
		return false, nil
	}
	sess.Attendees = append(sess.Attendees, a)
	return true, nil
}

func (s *Store) PutAttendee(_ context.Context, sessionID string, a attendance.Attendee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return attendance.ErrSessionNotFound
	}
	if sess.Status != attendance.StatusActive {
		return attendance.ErrSessionNotActive
	}
	for i := range sess.Attendees {
		if sess.Attendees[i].StudentID == a.StudentID {
			sess.Attendees[i] = a
			return nil
		}
	}
	sess.Attendees = append(sess.Attendees, a)
	return nil
}

func (s *Store) RemoveAttendee(_ context.Context, sessionID, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, attendance.ErrSessionNotFound
	}
	for i, a := range sess.Attendees {
		if a.StudentID == studentID {
			sess.Attendees = append(sess.Attendees[:i], sess.Attendees[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AppendAudit(_ context.Context, evt attendance.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, evt)
	return nil
}

func (s *Store) Close(context.Context) error { return nil }

func copySession(in *attendance.Session) attendance.Session {
	out := *in
	out.Attendees = append([]attendance.Attendee{}, in.Attendees...)
	if in.EndTime != nil {
		t := *in.EndTime
		out.EndTime = &t
	}
	return out
}

func copyEnrollment(in *attendance.Enrollment) attendance.Enrollment {
	out := *in
	out.Attendance = append([]attendance.LedgerEntry{}, in.Attendance...)
	return out
}
