// Package postgres persists attendance data in Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"qrattend/internal/attendance"
)

const uniqueViolation = "23505"

// Store implements attendance.Store on Postgres.
type Store struct {
	db *sql.DB
}

var _ attendance.Store = (*Store)(nil)

// New creates a store. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// UpsertUser creates or updates an account. A new account without a
// rotation secret gets one; an existing secret is never replaced.
func (s *Store) UpsertUser(ctx context.Context, u attendance.User) error {
	u, err := u.WithRotationSecret()
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	var universityID any
	if u.InstitutionalID != "" {
		universityID = u.InstitutionalID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, role, is_active, university_id, qr_secret)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			role = EXCLUDED.role,
			is_active = EXCLUDED.is_active,
			university_id = EXCLUDED.university_id,
			qr_secret = COALESCE(NULLIF(users.qr_secret, ''), EXCLUDED.qr_secret),
			updated_at = NOW()
	`, u.ID, u.FirstName, u.LastName, string(u.Role), u.IsActive, universityID, u.RotationSecret)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// UpsertCourse creates or updates a course.
func (s *Store) UpsertCourse(ctx context.Context, c attendance.Course) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, course_code, course_name, lecturer_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			course_code = EXCLUDED.course_code,
			course_name = EXCLUDED.course_name,
			lecturer_id = EXCLUDED.lecturer_id
	`, c.ID, c.Code, c.Name, c.LecturerID)
	if err != nil {
		return fmt.Errorf("upsert course %s: %w", c.ID, err)
	}
	return nil
}

// CreateEnrollment inserts an enrollment and returns its id.
func (s *Store) CreateEnrollment(ctx context.Context, e attendance.Enrollment) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = attendance.EnrollmentEnrolled
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, course_id, status)
		VALUES ($1, $2, $3, $4)
	`, e.ID, e.StudentID, e.CourseID, string(e.Status))
	if err != nil {
		return "", fmt.Errorf("create enrollment: %w", err)
	}
	return e.ID, nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*attendance.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, role, is_active, COALESCE(university_id, ''), qr_secret
		FROM users WHERE id = $1
	`, id)
	var u attendance.User
	var role string
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &role, &u.IsActive, &u.InstitutionalID, &u.RotationSecret); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	u.Role = attendance.Role(role)
	return &u, nil
}

func (s *Store) FindCourse(ctx context.Context, id string) (*attendance.Course, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, course_code, course_name, lecturer_id FROM courses WHERE id = $1
	`, id)
	var c attendance.Course
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &c.LecturerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find course %s: %w", id, err)
	}
	return &c, nil
}

func (s *Store) FindActiveEnrollment(ctx context.Context, studentID, courseID string) (*attendance.Enrollment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, status, total_classes, classes_attended, attendance_percentage
		FROM enrollments
		WHERE student_id = $1 AND course_id = $2 AND status = 'enrolled'
		LIMIT 1
	`, studentID, courseID)
	var e attendance.Enrollment
	var status string
	if err := row.Scan(&e.ID, &e.StudentID, &e.CourseID, &status, &e.TotalClasses, &e.ClassesAttended, &e.AttendancePercentage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	e.Status = attendance.EnrollmentStatus(status)

	ledger, err := s.ledger(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Attendance = ledger
	return &e, nil
}

// Enrollment loads an enrollment with its ledger regardless of status.
func (s *Store) Enrollment(ctx context.Context, id string) (*attendance.Enrollment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, status, total_classes, classes_attended, attendance_percentage
		FROM enrollments WHERE id = $1
	`, id)
	var e attendance.Enrollment
	var status string
	if err := row.Scan(&e.ID, &e.StudentID, &e.CourseID, &status, &e.TotalClasses, &e.ClassesAttended, &e.AttendancePercentage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, attendance.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("load enrollment %s: %w", id, err)
	}
	e.Status = attendance.EnrollmentStatus(status)
	ledger, err := s.ledger(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Attendance = ledger
	return &e, nil
}

func (s *Store) ledger(ctx context.Context, enrollmentID string) ([]attendance.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT class_date, present, recorded_by
		FROM enrollment_attendance
		WHERE enrollment_id = $1
		ORDER BY class_date
	`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()
	entries := []attendance.LedgerEntry{}
	for rows.Next() {
		var entry attendance.LedgerEntry
		if err := rows.Scan(&entry.Date, &entry.Present, &entry.RecordedBy); err != nil {
			return nil, err
		}
		entry.Date = attendance.LedgerDate(entry.Date)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpsertAttendanceForDate writes the day's entry and recomputes the totals in
// one transaction.
func (s *Store) UpsertAttendanceForDate(ctx context.Context, enrollmentID string, date time.Time, present bool, recordedBy string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id string
	if err = tx.QueryRowContext(ctx, `SELECT id FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.ErrEnrollmentNotFound
		}
		return fmt.Errorf("lock enrollment: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO enrollment_attendance (enrollment_id, class_date, present, recorded_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (enrollment_id, class_date) DO UPDATE SET
			present = EXCLUDED.present,
			recorded_by = EXCLUDED.recorded_by
	`, enrollmentID, attendance.LedgerDate(date), present, recordedBy); err != nil {
		return fmt.Errorf("upsert ledger entry: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE enrollments e SET
			total_classes = t.total,
			classes_attended = t.attended,
			attendance_percentage = CASE WHEN t.total = 0 THEN 0 ELSE t.attended * 100.0 / t.total END
		FROM (
			SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE present) AS attended
			FROM enrollment_attendance WHERE enrollment_id = $1
		) t
		WHERE e.id = $1
	`, enrollmentID); err != nil {
		return fmt.Errorf("recount enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *attendance.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, course_id, lecturer_id, start_time, end_time, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sess.ID, sess.CourseID, sess.LecturerID, sess.StartTime, sess.EndTime, sess.DurationMinutes, string(sess.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeSessionIndex {
			return attendance.ErrActiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, course_id, lecturer_id, start_time, end_time, duration_minutes, status`

func (s *Store) GetSession(ctx context.Context, id string) (*attendance.Session, error) {
	sess, err := s.scanSession(ctx, s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, attendance.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) GetActiveSession(ctx context.Context, courseID string) (*attendance.Session, error) {
	return s.scanSession(ctx, s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions WHERE course_id = $1 AND status = 'active'
	`, courseID))
}

// scanSession returns (nil, nil) for no rows and loads attendees otherwise.
func (s *Store) scanSession(ctx context.Context, row *sql.Row) (*attendance.Session, error) {
	var sess attendance.Session
	var status string
	var endTime sql.NullTime
	if err := row.Scan(&sess.ID, &sess.CourseID, &sess.LecturerID, &sess.StartTime, &endTime, &sess.DurationMinutes, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.Status = attendance.SessionStatus(status)
	if endTime.Valid {
		t := endTime.Time.UTC()
		sess.EndTime = &t
	}
	sess.StartTime = sess.StartTime.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, recorded_at, marked_manually
		FROM session_attendees
		WHERE session_id = $1
		ORDER BY recorded_at, student_id
	`, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load attendees: %w", err)
	}
	defer rows.Close()
	sess.Attendees = []attendance.Attendee{}
	for rows.Next() {
		var a attendance.Attendee
		if err := rows.Scan(&a.StudentID, &a.RecordedAt, &a.MarkedManually); err != nil {
			return nil, err
		}
		a.RecordedAt = a.RecordedAt.UTC()
		sess.Attendees = append(sess.Attendees, a)
	}
	return &sess, rows.Err()
}

func (s *Store) CompleteSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET status = 'completed', end_time = $2
		WHERE id = $1 AND status = 'active'
	`, id, endedAt)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.sessionStatus(ctx, s.db, id, false); err != nil {
		return err
	}
	return attendance.ErrSessionNotActive
}

// AddAttendee holds a share lock on the session row so a concurrent
// CompleteSession cannot interleave with the insert.
func (s *Store) AddAttendee(ctx context.Context, sessionID string, a attendance.Attendee) (bool, error) {
	var added bool
	err := s.inActiveSession(ctx, sessionID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO session_attendees (session_id, student_id, recorded_at, marked_manually)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id, student_id) DO NOTHING
		`, sessionID, a.StudentID, a.RecordedAt, a.MarkedManually)
		if err != nil {
			return fmt.Errorf("insert attendee: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		added = n == 1
		return nil
	})
	return added, err
}

// PutAttendee inserts or replaces the student's record under the same lock
// as AddAttendee.
func (s *Store) PutAttendee(ctx context.Context, sessionID string, a attendance.Attendee) error {
	return s.inActiveSession(ctx, sessionID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_attendees (session_id, student_id, recorded_at, marked_manually)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id, student_id) DO UPDATE SET
				recorded_at = EXCLUDED.recorded_at,
				marked_manually = EXCLUDED.marked_manually
		`, sessionID, a.StudentID, a.RecordedAt, a.MarkedManually); err != nil {
			return fmt.Errorf("put attendee: %w", err)
		}
		return nil
	})
}

// inActiveSession runs fn in a transaction holding a share lock on the
// session row, after checking the session is still active.
func (s *Store) inActiveSession(ctx context.Context, sessionID string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	status, err := s.sessionStatus(ctx, tx, sessionID, true)
	if err != nil {
		return err
	}
	if status != attendance.StatusActive {
		return attendance.ErrSessionNotActive
	}
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) RemoveAttendee(ctx context.Context, sessionID, studentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM session_attendees WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	if err != nil {
		return false, fmt.Errorf("delete attendee: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := s.sessionStatus(ctx, s.db, sessionID, false); err != nil {
		return false, err
	}
	return false, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) sessionStatus(ctx context.Context, q querier, id string, lock bool) (attendance.SessionStatus, error) {
	query := `SELECT status FROM attendance_sessions WHERE id = $1`
	if lock {
		query += ` FOR SHARE`
	}
	var status string
	if err := q.QueryRowContext(ctx, query, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", attendance.ErrSessionNotFound
		}
		return "", fmt.Errorf("session status: %w", err)
	}
	return attendance.SessionStatus(status), nil
}

// AppendAudit stores evt once; redelivered events are ignored.
func (s *Store) AppendAudit(ctx context.Context, evt attendance.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_audit (id, event_type, session_id, course_id, subject_id, actor_id, present, manual, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, string(evt.Type), evt.SessionID, evt.CourseID, evt.SubjectID, evt.ActorID, evt.Present, evt.Manual, evt.At)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debug().Str("event_id", evt.ID).Msg("audit event already stored")
	}
	return nil
}

// AuditTrail returns the stored events of a session, oldest first.
func (s *Store) AuditTrail(ctx context.Context, sessionID string) ([]attendance.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, session_id, course_id, subject_id, actor_id, present, manual, occurred_at
		FROM attendance_audit
		WHERE session_id = $1
		ORDER BY occurred_at, stored_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	defer rows.Close()
	var events []attendance.Event
	for rows.Next() {
		var evt attendance.Event
		var typ string
		if err := rows.Scan(&evt.ID, &typ, &evt.SessionID, &evt.CourseID, &evt.SubjectID, &evt.ActorID, &evt.Present, &evt.Manual, &evt.At); err != nil {
			return nil, err
		}
		evt.Type = attendance.EventType(typ)
		evt.At = evt.At.UTC()
		events = append(events, evt)
	}
	return events, rows.Err()
}
