package attendance

import "qrattend/internal/apperr"

// User facing failures. The reasons are shown to lecturers as-is.
var (
	ErrCourseNotFound    = apperr.NewNotFound("course not found")
	ErrNotCourseLecturer = apperr.NewAuthorization("you are not the lecturer for this course")
	ErrSessionExists     = apperr.NewConflict("an active attendance session already exists for this course")
	ErrSessionMissing    = apperr.NewNotFound("attendance session not found")
	ErrNotSessionOwner   = apperr.NewAuthorization("you are not authorized for this session")
	ErrSessionCompleted  = apperr.NewConflict("session is already completed")
	ErrSessionInactive   = apperr.NewConflict("session not active")

	ErrInvalidQRFormat  = apperr.NewBadRequest("Invalid QR code format")
	ErrQRTokenMissing   = apperr.NewBadRequest("Invalid QR code data: token missing")
	ErrQRSubjectMissing = apperr.NewBadRequest("Invalid QR token data")
	ErrUserUnavailable  = apperr.NewNotFound("user not found or inactive")
	ErrStudentInvalid   = apperr.NewNotFound("student not found or has no university ID")
	ErrMissingIDs       = apperr.NewBadRequest("student ID and session ID are required")

	// ErrInvalidSignature means the code was not produced with the subject's
	// secret: re-issue the ID. ErrCredentialExpired means it was, but is
	// stale: ask the student to refresh the code.
	ErrInvalidSignature  = apperr.NewAuthentication("invalid signature", false)
	ErrCredentialExpired = apperr.NewAuthentication("expired", true)

	ErrNotEnrolled    = apperr.NewConflict("not enrolled")
	ErrAlreadyPresent = apperr.NewConflict("already marked present")
)
