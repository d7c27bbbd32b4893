package postgres

// activeSessionIndex backs the single active session per course rule.
const activeSessionIndex = "attendance_sessions_one_active"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	role           TEXT NOT NULL,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	university_id  TEXT UNIQUE,
	qr_secret      TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS users_qr_secret_key ON users (qr_secret) WHERE qr_secret <> '';

CREATE TABLE IF NOT EXISTS courses (
	id           TEXT PRIMARY KEY,
	course_code  TEXT NOT NULL DEFAULT '',
	course_name  TEXT NOT NULL DEFAULT '',
	lecturer_id  TEXT NOT NULL REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS enrollments (
	id                     TEXT PRIMARY KEY,
	student_id             TEXT NOT NULL REFERENCES users(id),
	course_id              TEXT NOT NULL REFERENCES courses(id),
	status                 TEXT NOT NULL DEFAULT 'enrolled',
	total_classes          INTEGER NOT NULL DEFAULT 0,
	classes_attended       INTEGER NOT NULL DEFAULT 0,
	attendance_percentage  DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS enrollments_student_course ON enrollments(student_id, course_id);

CREATE TABLE IF NOT EXISTS enrollment_attendance (
	enrollment_id  TEXT NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
	class_date     DATE NOT NULL,
	present        BOOLEAN NOT NULL,
	recorded_by    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (enrollment_id, class_date)
);

CREATE TABLE IF NOT EXISTS attendance_sessions (
	id                TEXT PRIMARY KEY,
	course_id         TEXT NOT NULL REFERENCES courses(id),
	lecturer_id       TEXT NOT NULL REFERENCES users(id),
	start_time        TIMESTAMPTZ NOT NULL,
	end_time          TIMESTAMPTZ,
	duration_minutes  INTEGER NOT NULL,
	status            TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS attendance_sessions_one_active
	ON attendance_sessions(course_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS session_attendees (
	session_id       TEXT NOT NULL REFERENCES attendance_sessions(id) ON DELETE CASCADE,
	student_id       TEXT NOT NULL,
	recorded_at      TIMESTAMPTZ NOT NULL,
	marked_manually  BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (session_id, student_id)
);

CREATE TABLE IF NOT EXISTS attendance_audit (
	id           TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	course_id    TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	actor_id     TEXT NOT NULL,
	present      BOOLEAN NOT NULL,
	manual       BOOLEAN NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL,
	stored_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS attendance_audit_session ON attendance_audit(session_id, occurred_at);
`
