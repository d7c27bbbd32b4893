package attendance

import (
	"context"
	"errors"
	"time"
)

// Storage level sentinels. Implementations return these (possibly wrapped);
// the registry and coordinator translate them into apperr kinds.
var (
	ErrActiveSessionExists = errors.New("an active session already exists for this course")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
)

// UserStore resolves accounts. Absence is (nil, nil).
type UserStore interface {
	FindUser(ctx context.Context, id string) (*User, error)
}

// CourseStore resolves courses. Absence is (nil, nil).
type CourseStore interface {
	FindCourse(ctx context.Context, id string) (*Course, error)
}

// EnrollmentStore reads enrollments and writes the per-day ledger.
type EnrollmentStore interface {
	// FindActiveEnrollment returns the enrolled-status enrollment or (nil, nil).
	FindActiveEnrollment(ctx context.Context, studentID, courseID string) (*Enrollment, error)
	// UpsertAttendanceForDate replaces the entry for date's calendar day.
	UpsertAttendanceForDate(ctx context.Context, enrollmentID string, date time.Time, present bool, recordedBy string) error
}

// SessionStore persists attendance sessions. Implementations enforce the
// single-active-session and one-record-per-student constraints atomically.
type SessionStore interface {
	// CreateSession fails with ErrActiveSessionExists when the course already
	// has an active session.
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns ErrSessionNotFound when absent.
	GetSession(ctx context.Context, id string) (*Session, error)
	// GetActiveSession returns (nil, nil) when the course has no active session.
	GetActiveSession(ctx context.Context, courseID string) (*Session, error)
	// CompleteSession moves an active session to completed. It returns
	// ErrSessionNotActive if the session was already completed.
	CompleteSession(ctx context.Context, id string, endedAt time.Time) error
	// AddAttendee inserts a record unless one exists for the student and
	// reports whether it inserted. ErrSessionNotActive if the session closed.
	AddAttendee(ctx context.Context, sessionID string, a Attendee) (bool, error)
	// PutAttendee inserts the record or replaces the student's existing one.
	// ErrSessionNotActive if the session closed.
	PutAttendee(ctx context.Context, sessionID string, a Attendee) error
	// RemoveAttendee deletes the student's record and reports whether one existed.
	RemoveAttendee(ctx context.Context, sessionID, studentID string) (bool, error)
}

// AuditStore keeps the trail of attendance changes written by the worker.
type AuditStore interface {
	AppendAudit(ctx context.Context, evt Event) error
}

// Store is everything a single backend provides.
type Store interface {
	UserStore
	CourseStore
	EnrollmentStore
	SessionStore
	AuditStore
	Close(ctx context.Context) error
}
