package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"qrattend/internal/apperr"
	"qrattend/internal/metrics"
)

// DefaultSessionMinutes is the duration hint used when a lecturer gives none.
const DefaultSessionMinutes = 30

// Registry tracks the single active attendance session per course.
type Registry struct {
	sessions        SessionStore
	courses         CourseStore
	defaultDuration int
}

// NewRegistry creates a registry backed by the given stores.
func NewRegistry(sessions SessionStore, courses CourseStore, defaultMinutes int) *Registry {
	if defaultMinutes <= 0 {
		defaultMinutes = DefaultSessionMinutes
	}
	return &Registry{sessions: sessions, courses: courses, defaultDuration: defaultMinutes}
}

// Start opens a session for courseID owned by lecturerID.
func (r *Registry) Start(ctx context.Context, courseID, lecturerID string, durationMinutes int) (*Session, error) {
	course, err := r.courses.FindCourse(ctx, courseID)
	if err != nil {
		return nil, apperr.NewInternal("load course", err)
	}
	if course == nil {
		return nil, ErrCourseNotFound
	}
	if course.LecturerID != lecturerID {
		return nil, ErrNotCourseLecturer
	}
	if durationMinutes <= 0 {
		durationMinutes = r.defaultDuration
	}

	s := &Session{
		ID:              uuid.NewString(),
		CourseID:        courseID,
		LecturerID:      lecturerID,
		StartTime:       time.Now().UTC(),
		DurationMinutes: durationMinutes,
		Status:          StatusActive,
		Attendees:       []Attendee{},
	}
	if err := r.sessions.CreateSession(ctx, s); err != nil {
		if errors.Is(err, ErrActiveSessionExists) {
			return nil, ErrSessionExists
		}
		return nil, apperr.NewInternal("create session", err)
	}
	metrics.SessionsStartedTotal.Inc()
	log.Info().Str("session_id", s.ID).Str("course_id", courseID).Str("lecturer_id", lecturerID).
		Int("duration", durationMinutes).Msg("attendance session started")
	return s, nil
}

// GetActive returns the active session of courseID, or nil when there is none.
func (r *Registry) GetActive(ctx context.Context, courseID string) (*Session, error) {
	s, err := r.sessions.GetActiveSession(ctx, courseID)
	if err != nil {
		return nil, apperr.NewInternal("load active session", err)
	}
	return s, nil
}

// Details returns a session to its owning lecturer.
func (r *Registry) Details(ctx context.Context, sessionID, callerID string) (*Session, error) {
	return r.owned(ctx, sessionID, callerID)
}

// End completes a session. Ending twice is a conflict, not a no-op.
func (r *Registry) End(ctx context.Context, sessionID, callerID string) (*Session, error) {
	s, err := r.owned(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if !s.Active() {
		return nil, ErrSessionCompleted
	}
	endedAt := time.Now().UTC()
	if err := r.sessions.CompleteSession(ctx, sessionID, endedAt); err != nil {
		switch {
		case errors.Is(err, ErrSessionNotActive):
			return nil, ErrSessionCompleted
		case errors.Is(err, ErrSessionNotFound):
			return nil, ErrSessionMissing
		}
		return nil, apperr.NewInternal("complete session", err)
	}
	s.Status = StatusCompleted
	s.EndTime = &endedAt
	metrics.SessionsEndedTotal.Inc()
	log.Info().Str("session_id", sessionID).Int("attendees", len(s.Attendees)).Msg("attendance session ended")
	return s, nil
}

// AddAttendee records studentID once. A repeated call is a no-op and reports false.
func (r *Registry) AddAttendee(ctx context.Context, sessionID, studentID string, markedManually bool) (bool, error) {
	added, err := r.sessions.AddAttendee(ctx, sessionID, Attendee{
		StudentID:      studentID,
		RecordedAt:     time.Now().UTC(),
		MarkedManually: markedManually,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotActive):
			return false, ErrSessionInactive
		case errors.Is(err, ErrSessionNotFound):
			return false, ErrSessionMissing
		}
		return false, apperr.NewInternal("add attendee", err)
	}
	return added, nil
}

// OverrideAttendee records studentID as manually marked now, replacing a
// scanned record if there is one.
func (r *Registry) OverrideAttendee(ctx context.Context, sessionID, studentID string) error {
	err := r.sessions.PutAttendee(ctx, sessionID, Attendee{
		StudentID:      studentID,
		RecordedAt:     time.Now().UTC(),
		MarkedManually: true,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionNotActive):
		return ErrSessionInactive
	case errors.Is(err, ErrSessionNotFound):
		return ErrSessionMissing
	}
	return apperr.NewInternal("put attendee", err)
}

// RemoveAttendee drops studentID's record and reports whether one existed.
func (r *Registry) RemoveAttendee(ctx context.Context, sessionID, studentID string) (bool, error) {
	removed, err := r.sessions.RemoveAttendee(ctx, sessionID, studentID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, ErrSessionMissing
		}
		return false, apperr.NewInternal("remove attendee", err)
	}
	return removed, nil
}

func (r *Registry) load(ctx context.Context, sessionID string) (*Session, error) {
	s, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionMissing
		}
		return nil, apperr.NewInternal("load session", err)
	}
	return s, nil
}

func (r *Registry) owned(ctx context.Context, sessionID, callerID string) (*Session, error) {
	s, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.LecturerID != callerID {
		return nil, ErrNotSessionOwner
	}
	return s, nil
}

// ownedActive loads a session that exists, belongs to the caller and is
// still accepting attendance.
func (r *Registry) ownedActive(ctx context.Context, sessionID, callerID string) (*Session, error) {
	s, err := r.owned(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if !s.Active() {
		return nil, ErrSessionInactive
	}
	return s, nil
}
