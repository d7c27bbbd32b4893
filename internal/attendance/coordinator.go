package attendance

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"qrattend/internal/apperr"
	"qrattend/internal/credential"
	"qrattend/internal/metrics"
)

// Coordinator turns scanned QR payloads and manual overrides into attendance.
type Coordinator struct {
	users       UserStore
	enrollments EnrollmentStore
	registry    *Registry
	publisher   EventPublisher
	ttl         time.Duration
}

// NewCoordinator wires the coordinator. A nil publisher discards events.
func NewCoordinator(users UserStore, enrollments EnrollmentStore, registry *Registry, publisher EventPublisher, credentialTTL time.Duration) *Coordinator {
	if publisher == nil {
		publisher = discardPublisher{}
	}
	if credentialTTL <= 0 {
		credentialTTL = credential.DefaultTTL
	}
	return &Coordinator{
		users:       users,
		enrollments: enrollments,
		registry:    registry,
		publisher:   publisher,
		ttl:         credentialTTL,
	}
}

// CredentialTTL is the lifetime of credentials issued by IssueCredential.
func (c *Coordinator) CredentialTTL() time.Duration { return c.ttl }

// IssueCredential signs a fresh QR credential for subjectID with that
// subject's own rotation secret.
func (c *Coordinator) IssueCredential(ctx context.Context, subjectID string) (string, error) {
	user, err := c.users.FindUser(ctx, subjectID)
	if err != nil {
		return "", apperr.NewInternal("load user", err)
	}
	if user == nil || !user.IsActive {
		return "", ErrUserUnavailable
	}
	token, err := credential.Issue(user.ID, user.RotationSecret, c.ttl)
	if err != nil {
		log.Error().Err(err).Str("subject_id", user.ID).Msg("credential issue failed")
		return "", err
	}
	metrics.CredentialsIssuedTotal.Inc()
	return token, nil
}

type scanPayload struct {
	Token string `json:"token"`
}

// RecordScan marks the credential's subject present in sessionID. Checks run
// cheapest first and each failure carries its own reason.
func (c *Coordinator) RecordScan(ctx context.Context, payload, sessionID, callerID string) (res *ScanResult, err error) {
	defer func() {
		outcome := "marked"
		if err != nil {
			outcome = string(apperr.KindOf(err))
			log.Debug().Err(err).Str("session_id", sessionID).Msg("scan rejected")
		}
		metrics.ScansTotal.WithLabelValues(outcome).Inc()
	}()

	var p scanPayload
	if jerr := json.Unmarshal([]byte(payload), &p); jerr != nil {
		return nil, ErrInvalidQRFormat
	}
	if strings.TrimSpace(p.Token) == "" {
		return nil, ErrQRTokenMissing
	}

	// Untrusted until Verify below succeeds; only selects the secret.
	claimedID, perr := credential.PeekUnverifiedSubject(p.Token)
	if perr != nil {
		return nil, ErrQRSubjectMissing
	}

	user, err := c.users.FindUser(ctx, claimedID)
	if err != nil {
		return nil, apperr.NewInternal("load user", err)
	}
	if user == nil || !user.IsActive || user.InstitutionalID == "" {
		return nil, ErrUserUnavailable
	}

	verified := credential.Verify(p.Token, user.RotationSecret)
	if !verified.Valid {
		if verified.Expired {
			return nil, ErrCredentialExpired
		}
		return nil, ErrInvalidSignature
	}
	subjectID := verified.Claims.SubjectID

	session, err := c.registry.ownedActive(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}

	var enrollment *Enrollment
	if user.Role == RoleStudent {
		if enrollment, err = c.activeEnrollment(ctx, subjectID, session.CourseID); err != nil {
			return nil, err
		}
	}

	if session.HasAttendee(subjectID) {
		return nil, ErrAlreadyPresent
	}
	added, err := c.registry.AddAttendee(ctx, session.ID, subjectID, false)
	if err != nil {
		return nil, err
	}
	if !added {
		// lost the race against a concurrent scan of the same student
		return nil, ErrAlreadyPresent
	}

	if enrollment != nil {
		if err := c.enrollments.UpsertAttendanceForDate(ctx, enrollment.ID, time.Now().UTC(), true, callerID); err != nil {
			log.Error().Err(err).Str("enrollment_id", enrollment.ID).Msg("ledger update failed after scan")
			return nil, apperr.NewInternal("attendance recorded but ledger update failed", err)
		}
	}

	c.publish(ctx, Event{
		Type:      EventMarked,
		SessionID: session.ID,
		CourseID:  session.CourseID,
		SubjectID: subjectID,
		ActorID:   callerID,
		Present:   true,
	})

	updated, err := c.registry.load(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("session_id", session.ID).Str("subject_id", subjectID).Msg("attendance marked by scan")
	return &ScanResult{User: user.Profile(), Session: updated}, nil
}

// ManualMark sets a student's presence without a credential. present=true
// replaces any scanned record with a manual one; present=false removes it.
func (c *Coordinator) ManualMark(ctx context.Context, studentID, sessionID, callerID string, present bool) (*Session, error) {
	if studentID == "" || sessionID == "" {
		return nil, ErrMissingIDs
	}
	metrics.ManualMarksTotal.WithLabelValues(strconv.FormatBool(present)).Inc()

	session, err := c.registry.ownedActive(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}

	user, err := c.users.FindUser(ctx, studentID)
	if err != nil {
		return nil, apperr.NewInternal("load user", err)
	}
	if user == nil || user.InstitutionalID == "" {
		return nil, ErrStudentInvalid
	}

	var enrollment *Enrollment
	if user.Role == RoleStudent {
		if enrollment, err = c.activeEnrollment(ctx, user.ID, session.CourseID); err != nil {
			return nil, err
		}
	}

	evt := Event{
		SessionID: session.ID,
		CourseID:  session.CourseID,
		SubjectID: user.ID,
		ActorID:   callerID,
		Present:   present,
		Manual:    true,
	}
	if present {
		if err := c.registry.OverrideAttendee(ctx, session.ID, user.ID); err != nil {
			return nil, err
		}
		evt.Type = EventMarked
		c.publish(ctx, evt)
	} else {
		removed, err := c.registry.RemoveAttendee(ctx, session.ID, user.ID)
		if err != nil {
			return nil, err
		}
		if removed {
			log.Warn().Str("session_id", session.ID).Str("subject_id", user.ID).Str("actor_id", callerID).
				Msg("attendee removed by manual correction")
			evt.Type = EventRemoved
			c.publish(ctx, evt)
		}
	}

	if enrollment != nil {
		if err := c.enrollments.UpsertAttendanceForDate(ctx, enrollment.ID, time.Now().UTC(), present, callerID); err != nil {
			log.Error().Err(err).Str("enrollment_id", enrollment.ID).Msg("ledger update failed after manual mark")
			return nil, apperr.NewInternal("attendance updated but ledger update failed", err)
		}
	}

	return c.registry.load(ctx, session.ID)
}

func (c *Coordinator) activeEnrollment(ctx context.Context, studentID, courseID string) (*Enrollment, error) {
	enrollment, err := c.enrollments.FindActiveEnrollment(ctx, studentID, courseID)
	if err != nil {
		return nil, apperr.NewInternal("load enrollment", err)
	}
	if enrollment == nil {
		return nil, ErrNotEnrolled
	}
	return enrollment, nil
}

func (c *Coordinator) publish(ctx context.Context, evt Event) {
	evt.ID = uuid.NewString()
	evt.At = time.Now().UTC()
	if err := c.publisher.Publish(ctx, evt); err != nil {
		metrics.EventPublishFailuresTotal.Inc()
		log.Warn().Err(err).Str("event_type", string(evt.Type)).Str("session_id", evt.SessionID).Msg("event publish failed")
	}
}
