// Package mongostore persists attendance data in MongoDB. Sessions embed their
// attendees and enrollments embed their ledger, so every write the attendance
// core needs is a single-document update.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"qrattend/internal/attendance"
)

const (
	UsersCollection       = "users"
	CoursesCollection     = "courses"
	EnrollmentsCollection = "enrollments"
	SessionsCollection    = "attendance_sessions"
	AuditCollection       = "attendance_audit"
)

// Store implements attendance.Store on MongoDB.
type Store struct {
	client      *mongo.Client
	users       *mongo.Collection
	courses     *mongo.Collection
	enrollments *mongo.Collection
	sessions    *mongo.Collection
	audit       *mongo.Collection
}

var _ attendance.Store = (*Store)(nil)

// New binds the store to dbName and ensures its indexes. The store owns client
// and disconnects it on Close.
func New(ctx context.Context, client *mongo.Client, dbName string) (*Store, error) {
	db := client.Database(dbName)
	s := &Store{
		client:      client,
		users:       db.Collection(UsersCollection),
		courses:     db.Collection(CoursesCollection),
		enrollments: db.Collection(EnrollmentsCollection),
		sessions:    db.Collection(SessionsCollection),
		audit:       db.Collection(AuditCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// The partial unique index is what keeps a course to one active session.
	if _, err := s.sessions.Indexes().CreateMany(timeoutCtx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "course_id", Value: 1}},
			Options: options.Index().
				SetName("one_active_per_course").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: string(attendance.StatusActive)}}),
		},
		{Keys: bson.D{{Key: "lecturer_id", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}

	if _, err := s.enrollments.Indexes().CreateOne(timeoutCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "course_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create enrollment indexes: %w", err)
	}

	if _, err := s.users.Indexes().CreateMany(timeoutCtx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "university_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "qr_secret", Value: 1}},
			Options: options.Index().
				SetName("qr_secret_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "qr_secret", Value: bson.M{"$gt": ""}}}),
		},
	}); err != nil {
		log.Warn().Err(err).Msg("issue creating users index, continuing")
	}

	if _, err := s.audit.Indexes().CreateOne(timeoutCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	log.Debug().Msg("mongo indexes ensured")
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// UpsertUser creates or updates an account. A new account without a
// rotation secret gets one; an existing secret is never replaced.
func (s *Store) UpsertUser(ctx context.Context, u attendance.User) error {
	u, err := u.WithRotationSecret()
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	var universityID any = "$$REMOVE"
	if u.InstitutionalID != "" {
		universityID = u.InstitutionalID
	}
	// pipeline form so the stored secret can win over the supplied one
	update := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "first_name", Value: u.FirstName},
		{Key: "last_name", Value: u.LastName},
		{Key: "role", Value: string(u.Role)},
		{Key: "is_active", Value: u.IsActive},
		{Key: "university_id", Value: universityID},
		{Key: "qr_secret", Value: bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$qr_secret", ""}}, ""}},
			bson.M{"$literal": u.RotationSecret},
			"$qr_secret",
		}}},
	}}}}
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": u.ID}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// UpsertCourse creates or replaces a course.
func (s *Store) UpsertCourse(ctx context.Context, c attendance.Course) error {
	doc := courseDoc{ID: c.ID, Code: c.Code, Name: c.Name, LecturerID: c.LecturerID}
	_, err := s.courses.ReplaceOne(ctx, bson.M{"_id": c.ID}, doc, options.Replace().SetUpsert(true))
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
	if _, err := s.enrollments.InsertOne(ctx, toEnrollmentDoc(e)); err != nil {
		return "", fmt.Errorf("create enrollment: %w", err)
	}
	return e.ID, nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*attendance.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	u := doc.toUser()
	return &u, nil
}

func (s *Store) FindCourse(ctx context.Context, id string) (*attendance.Course, error) {
	var doc courseDoc
	if err := s.courses.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find course %s: %w", id, err)
	}
	return &attendance.Course{ID: doc.ID, Code: doc.Code, Name: doc.Name, LecturerID: doc.LecturerID}, nil
}

func (s *Store) FindActiveEnrollment(ctx context.Context, studentID, courseID string) (*attendance.Enrollment, error) {
	filter := bson.M{
		"student_id": studentID,
		"course_id":  courseID,
		"status":     string(attendance.EnrollmentEnrolled),
	}
	var doc enrollmentDoc
	if err := s.enrollments.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	e := doc.toEnrollment()
	return &e, nil
}

// Enrollment loads an enrollment regardless of status.
func (s *Store) Enrollment(ctx context.Context, id string) (*attendance.Enrollment, error) {
	var doc enrollmentDoc
	if err := s.enrollments.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, attendance.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("load enrollment %s: %w", id, err)
	}
	e := doc.toEnrollment()
	return &e, nil
}

// UpsertAttendanceForDate replaces the day's ledger entry and recomputes the
// totals with one pipeline update.
func (s *Store) UpsertAttendanceForDate(ctx context.Context, enrollmentID string, date time.Time, present bool, recordedBy string) error {
	day := attendance.LedgerDate(date)
	entry := bson.D{
		{Key: "date", Value: day},
		{Key: "present", Value: present},
		{Key: "recorded_by", Value: recordedBy},
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "attendance", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
			bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$attendance", bson.A{}}}}},
				{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this.date", day}}}},
			}}},
			bson.A{entry},
		}}}}}}},
		{{Key: "$set", Value: bson.D{
			{Key: "total_classes", Value: bson.D{{Key: "$size", Value: "$attendance"}}},
			{Key: "classes_attended", Value: bson.D{{Key: "$size", Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: "$attendance"},
				{Key: "cond", Value: "$$this.present"},
			}}}}}},
		}}},
		{{Key: "$set", Value: bson.D{{Key: "attendance_percentage", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{"$total_classes", 0}}},
			0,
			bson.D{{Key: "$multiply", Value: bson.A{
				bson.D{{Key: "$divide", Value: bson.A{"$classes_attended", "$total_classes"}}},
				100,
			}}},
		}}}}}}},
	}
	res, err := s.enrollments.UpdateOne(ctx, bson.M{"_id": enrollmentID}, pipeline)
	if err != nil {
		return fmt.Errorf("upsert ledger entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return attendance.ErrEnrollmentNotFound
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *attendance.Session) error {
	if _, err := s.sessions.InsertOne(ctx, toSessionDoc(sess)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return attendance.ErrActiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*attendance.Session, error) {
	var doc sessionDoc
	if err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, attendance.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess := doc.toSession()
	return &sess, nil
}

func (s *Store) GetActiveSession(ctx context.Context, courseID string) (*attendance.Session, error) {
	filter := bson.M{"course_id": courseID, "status": string(attendance.StatusActive)}
	var doc sessionDoc
	if err := s.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("load active session: %w", err)
	}
	sess := doc.toSession()
	return &sess, nil
}

func (s *Store) CompleteSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(attendance.StatusActive)},
		bson.M{"$set": bson.M{"status": string(attendance.StatusCompleted), "end_time": endedAt.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}
	return attendance.ErrSessionNotActive
}

// AddAttendee pushes the record only while the session is active and has no
// record for the student; the filter and the push apply atomically.
func (s *Store) AddAttendee(ctx context.Context, sessionID string, a attendance.Attendee) (bool, error) {
	filter := bson.M{
		"_id":                  sessionID,
		"status":               string(attendance.StatusActive),
		"attendees.student_id": bson.M{"$ne": a.StudentID},
	}
	update := bson.M{"$push": bson.M{"attendees": attendeeDoc{
		StudentID:      a.StudentID,
		ScannedAt:      a.RecordedAt.UTC(),
		MarkedManually: a.MarkedManually,
	}}}
	res, err := s.sessions.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("push attendee: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !sess.Active() {
		return false, attendance.ErrSessionNotActive
	}
	return false, nil
}

// PutAttendee rewrites the student's record in place, or pushes one when
// there is none yet.
func (s *Store) PutAttendee(ctx context.Context, sessionID string, a attendance.Attendee) error {
	at := a.RecordedAt.UTC()
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.sessions.UpdateOne(ctx,
			bson.M{
				"_id":                  sessionID,
				"status":               string(attendance.StatusActive),
				"attendees.student_id": a.StudentID,
			},
			bson.M{"$set": bson.M{
				"attendees.$.scanned_at":      at,
				"attendees.$.marked_manually": a.MarkedManually,
			}},
		)
		if err != nil {
			return fmt.Errorf("replace attendee: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
		added, err := s.AddAttendee(ctx, sessionID, a)
		if err != nil || added {
			return err
		}
		// a concurrent insert won; replace it on the next pass
	}
	return fmt.Errorf("put attendee %s: record changed concurrently", a.StudentID)
}

func (s *Store) RemoveAttendee(ctx context.Context, sessionID, studentID string) (bool, error) {
	res, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$pull": bson.M{"attendees": bson.M{"student_id": studentID}}},
	)
	if err != nil {
		return false, fmt.Errorf("pull attendee: %w", err)
	}
	if res.MatchedCount == 0 {
		return false, attendance.ErrSessionNotFound
	}
	return res.ModifiedCount == 1, nil
}

// AppendAudit stores evt once; redelivered events are ignored.
func (s *Store) AppendAudit(ctx context.Context, evt attendance.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	doc := auditDoc{
		ID:        evt.ID,
		Type:      string(evt.Type),
		SessionID: evt.SessionID,
		CourseID:  evt.CourseID,
		SubjectID: evt.SubjectID,
		ActorID:   evt.ActorID,
		Present:   evt.Present,
		Manual:    evt.Manual,
		At:        evt.At.UTC(),
		StoredAt:  time.Now().UTC(),
	}
	if _, err := s.audit.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.Debug().Str("event_id", evt.ID).Msg("audit event already stored")
			return nil
		}
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AuditTrail returns the stored events of a session, oldest first.
func (s *Store) AuditTrail(ctx context.Context, sessionID string) ([]attendance.Event, error) {
	cursor, err := s.audit.Find(ctx, bson.M{"session_id": sessionID}, options.Find().SetSort(bson.D{{Key: "at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []auditDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode audit trail: %w", err)
	}
	events := make([]attendance.Event, 0, len(docs))
	for _, d := range docs {
		events = append(events, attendance.Event{
			ID:        d.ID,
			Type:      attendance.EventType(d.Type),
			SessionID: d.SessionID,
			CourseID:  d.CourseID,
			SubjectID: d.SubjectID,
			ActorID:   d.ActorID,
			Present:   d.Present,
			Manual:    d.Manual,
			At:        d.At.UTC(),
		})
	}
	return events, nil
}
