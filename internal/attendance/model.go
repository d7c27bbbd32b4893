package attendance

import (
	"fmt"
	"time"

	"qrattend/internal/credential"
)

// Role of a user account.
type Role string

const (
	RoleStudent    Role = "student"
	RoleLecturer   Role = "lecturer"
	RoleSuperAdmin Role = "super-admin"
)

// SessionStatus is the lifecycle state of an attendance session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// EnrollmentStatus mirrors the enrollment lifecycle owned by the course service.
type EnrollmentStatus string

const (
	EnrollmentEnrolled  EnrollmentStatus = "enrolled"
	EnrollmentDropped   EnrollmentStatus = "dropped"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

// User is the subset of an account the attendance core reads.
type User struct {
	ID              string `json:"id"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Role            Role   `json:"role"`
	IsActive        bool   `json:"isActive"`
	InstitutionalID string `json:"universityId,omitempty"`
	// RotationSecret signs this user's QR credentials and never leaves the server.
	RotationSecret string `json:"-"`
}

// WithRotationSecret returns u with a freshly generated secret if it has none.
// Stores call it when creating accounts.
func (u User) WithRotationSecret() (User, error) {
	if u.RotationSecret != "" {
		return u, nil
	}
	secret, err := credential.NewSecret()
	if err != nil {
		return u, fmt.Errorf("generate rotation secret: %w", err)
	}
	u.RotationSecret = secret
	return u, nil
}

// PublicProfile is what a lecturer sees after a successful scan.
type PublicProfile struct {
	ID              string `json:"id"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	InstitutionalID string `json:"universityId"`
	Role            Role   `json:"role"`
}

func (u *User) Profile() PublicProfile {
	return PublicProfile{
		ID:              u.ID,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		InstitutionalID: u.InstitutionalID,
		Role:            u.Role,
	}
}

// Course is the part of a course needed to authorise sessions.
type Course struct {
	ID         string `json:"id"`
	Code       string `json:"courseCode,omitempty"`
	Name       string `json:"courseName,omitempty"`
	LecturerID string `json:"lecturerId"`
}

// Attendee records that a student was present in a session.
type Attendee struct {
	StudentID      string    `json:"studentId"`
	RecordedAt     time.Time `json:"scannedAt"`
	MarkedManually bool      `json:"markedManually"`
}

// Session is one live roll call for one course.
type Session struct {
	ID              string        `json:"id"`
	CourseID        string        `json:"courseId"`
	LecturerID      string        `json:"lecturerId"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	DurationMinutes int           `json:"duration"`
	Status          SessionStatus `json:"status"`
	Attendees       []Attendee    `json:"attendees"`
}

func (s *Session) Active() bool { return s.Status == StatusActive }

// HasAttendee reports whether studentID already has a record.
func (s *Session) HasAttendee(studentID string) bool {
	for _, a := range s.Attendees {
		if a.StudentID == studentID {
			return true
		}
	}
	return false
}

// LedgerEntry is one calendar day of the enrollment attendance ledger.
type LedgerEntry struct {
	Date       time.Time `json:"date"`
	Present    bool      `json:"present"`
	RecordedBy string    `json:"recordedBy,omitempty"`
}

// Enrollment ties a student to a course and carries the per-day ledger.
type Enrollment struct {
	ID                   string           `json:"id"`
	StudentID            string           `json:"studentId"`
	CourseID             string           `json:"courseId"`
	Status               EnrollmentStatus `json:"status"`
	Attendance           []LedgerEntry    `json:"attendance"`
	TotalClasses         int              `json:"totalClasses"`
	ClassesAttended      int              `json:"classesAttended"`
	AttendancePercentage float64          `json:"attendancePercentage"`
}

// ScanResult is returned to the scanning lecturer.
type ScanResult struct {
	User    PublicProfile `json:"user"`
	Session *Session      `json:"session"`
}
