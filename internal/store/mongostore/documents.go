package mongostore

import (
	"time"

	"qrattend/internal/attendance"
)

type userDoc struct {
	ID           string `bson:"_id"`
	FirstName    string `bson:"first_name"`
	LastName     string `bson:"last_name"`
	Role         string `bson:"role"`
	IsActive     bool   `bson:"is_active"`
	UniversityID string `bson:"university_id,omitempty"`
	QRSecret     string `bson:"qr_secret"`
}

func (d userDoc) toUser() attendance.User {
	return attendance.User{
		ID:              d.ID,
		FirstName:       d.FirstName,
		LastName:        d.LastName,
		Role:            attendance.Role(d.Role),
		IsActive:        d.IsActive,
		InstitutionalID: d.UniversityID,
		RotationSecret:  d.QRSecret,
	}
}

type courseDoc struct {
	ID         string `bson:"_id"`
	Code       string `bson:"course_code"`
	Name       string `bson:"course_name"`
	LecturerID string `bson:"lecturer_id"`
}

type ledgerDoc struct {
	Date       time.Time `bson:"date"`
	Present    bool      `bson:"present"`
	RecordedBy string    `bson:"recorded_by"`
}

type enrollmentDoc struct {
	ID                   string      `bson:"_id"`
	StudentID            string      `bson:"student_id"`
	CourseID             string      `bson:"course_id"`
	Status               string      `bson:"status"`
	Attendance           []ledgerDoc `bson:"attendance"`
	TotalClasses         int         `bson:"total_classes"`
	ClassesAttended      int         `bson:"classes_attended"`
	AttendancePercentage float64     `bson:"attendance_percentage"`
}

func toEnrollmentDoc(e attendance.Enrollment) enrollmentDoc {
	doc := enrollmentDoc{
		ID:                   e.ID,
		StudentID:            e.StudentID,
		CourseID:             e.CourseID,
		Status:               string(e.Status),
		Attendance:           make([]ledgerDoc, 0, len(e.Attendance)),
		TotalClasses:         e.TotalClasses,
		ClassesAttended:      e.ClassesAttended,
		AttendancePercentage: e.AttendancePercentage,
	}
	for _, entry := range e.Attendance {
		doc.Attendance = append(doc.Attendance, ledgerDoc{Date: attendance.LedgerDate(entry.Date), Present: entry.Present, RecordedBy: entry.RecordedBy})
	}
	return doc
}

func (d enrollmentDoc) toEnrollment() attendance.Enrollment {
	e := attendance.Enrollment{
		ID:                   d.ID,
		StudentID:            d.StudentID,
		CourseID:             d.CourseID,
		Status:               attendance.EnrollmentStatus(d.Status),
		Attendance:           make([]attendance.LedgerEntry, 0, len(d.Attendance)),
		TotalClasses:         d.TotalClasses,
		ClassesAttended:      d.ClassesAttended,
		AttendancePercentage: d.AttendancePercentage,
	}
	for _, entry := range d.Attendance {
		e.Attendance = append(e.Attendance, attendance.LedgerEntry{
			Date:       attendance.LedgerDate(entry.Date),
			Present:    entry.Present,
			RecordedBy: entry.RecordedBy,
		})
	}
	return e
}

type attendeeDoc struct {
	StudentID      string    `bson:"student_id"`
	ScannedAt      time.Time `bson:"scanned_at"`
	MarkedManually bool      `bson:"marked_manually"`
}

type sessionDoc struct {
	ID         string        `bson:"_id"`
	CourseID   string        `bson:"course_id"`
	LecturerID string        `bson:"lecturer_id"`
	StartTime  time.Time     `bson:"start_time"`
	EndTime    *time.Time    `bson:"end_time,omitempty"`
	Duration   int           `bson:"duration"`
	Status     string        `bson:"status"`
	Attendees  []attendeeDoc `bson:"attendees"`
}

func toSessionDoc(s *attendance.Session) sessionDoc {
	doc := sessionDoc{
		ID:         s.ID,
		CourseID:   s.CourseID,
		LecturerID: s.LecturerID,
		StartTime:  s.StartTime.UTC(),
		EndTime:    s.EndTime,
		Duration:   s.DurationMinutes,
		Status:     string(s.Status),
		Attendees:  make([]attendeeDoc, 0, len(s.Attendees)),
	}
	for _, a := range s.Attendees {
		doc.Attendees = append(doc.Attendees, attendeeDoc{StudentID: a.StudentID, ScannedAt: a.RecordedAt.UTC(), MarkedManually: a.MarkedManually})
	}
	return doc
}

func (d sessionDoc) toSession() attendance.Session {
	s := attendance.Session{
		ID:              d.ID,
		CourseID:        d.CourseID,
		LecturerID:      d.LecturerID,
		StartTime:       d.StartTime.UTC(),
		DurationMinutes: d.Duration,
		Status:          attendance.SessionStatus(d.Status),
		Attendees:       make([]attendance.Attendee, 0, len(d.Attendees)),
	}
	if d.EndTime != nil {
		t := d.EndTime.UTC()
		s.EndTime = &t
	}
	for _, a := range d.Attendees {
		s.Attendees = append(s.Attendees, attendance.Attendee{
			StudentID:      a.StudentID,
			RecordedAt:     a.ScannedAt.UTC(),
			MarkedManually: a.MarkedManually,
		})
	}
	return s
}

type auditDoc struct {
	ID        string    `bson:"_id"`
	Type      string    `bson:"type"`
	SessionID string    `bson:"session_id"`
	CourseID  string    `bson:"course_id"`
	SubjectID string    `bson:"subject_id"`
	ActorID   string    `bson:"actor_id"`
	Present   bool      `bson:"present"`
	Manual    bool      `bson:"manual"`
	At        time.Time `bson:"at"`
	StoredAt  time.Time `bson:"stored_at"`
}
