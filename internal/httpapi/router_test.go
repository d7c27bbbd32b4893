package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/credential"
	"qrattend/internal/httpapi"
	"qrattend/internal/store/memory"
)

const (
	signingKey = "test-signing-key"
	issuer     = "attendance-engine"
	lecturerID = "lecturer-1"
	studentID  = "student-1"
	adminID    = "admin-1"
	courseID   = "course-cs101"
)

type apiFixture struct {
	router *gin.Engine
	store  *memory.Store
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log.Logger = zerolog.Nop()

	st := memory.New()
	secret := func() string {
		s, err := credential.NewSecret()
		require.NoError(t, err)
		return s
	}
	st.PutUser(attendance.User{ID: lecturerID, Role: attendance.RoleLecturer, IsActive: true, InstitutionalID: "L-1", RotationSecret: secret()})
	st.PutUser(attendance.User{ID: studentID, FirstName: "Grace", LastName: "Hopper", Role: attendance.RoleStudent, IsActive: true, InstitutionalID: "S-1001", RotationSecret: secret()})
	st.PutUser(attendance.User{ID: adminID, Role: attendance.RoleSuperAdmin, IsActive: true, RotationSecret: secret()})
	st.PutCourse(attendance.Course{ID: courseID, Code: "CS101", LecturerID: lecturerID})
	st.PutEnrollment(attendance.Enrollment{StudentID: studentID, CourseID: courseID})

	reg := attendance.NewRegistry(st, st, 30)
	coord := attendance.NewCoordinator(st, st, reg, nil, time.Minute)
	router := httpapi.NewRouter(httpapi.Deps{
		Registry:        reg,
		Coordinator:     coord,
		SigningKey:      signingKey,
		Issuer:          issuer,
		RateLimitPerMin: 1000,
		Health: map[string]httpapi.HealthCheck{
			"store": func(context.Context) bool { return true },
		},
		Metrics: promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
	})
	return &apiFixture{router: router, store: st}
}

func (f *apiFixture) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		tok, err := auth.Issue(userID, role, issuer, signingKey, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
	Retry   bool            `json:"retriable"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func (f *apiFixture) startSession(t *testing.T) attendance.Session {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/attendance/sessions", lecturerID, "lecturer", gin.H{"courseId": courseID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var data struct {
		Session attendance.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	return data.Session
}

func (f *apiFixture) myCredential(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodGet, "/v1/me/credential", studentID, "student", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, 60, data.ExpiresIn)
	return data.Token
}

func TestHealthAndMetrics(t *testing.T) {
	f := setupAPI(t)

	w := f.do(t, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":true`)

	w = f.do(t, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/nope", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w).Kind)
}

func TestRequiresBearer(t *testing.T) {
	f := setupAPI(t)
	w := f.do(t, http.MethodGet, "/v1/me/credential", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication", decode(t, w).Kind)
}

func TestScanFlowOverHTTP(t *testing.T) {
	f := setupAPI(t)
	s := f.startSession(t)
	token := f.myCredential(t)

	payload, err := json.Marshal(map[string]string{"token": token})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/v1/attendance/scan", lecturerID, "lecturer", gin.H{"qrCodeData": string(payload), "sessionId": s.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decode(t, w)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "Attendance marked successfully", env.Message)
	assert.Contains(t, string(env.Data), `"universityId":"S-1001"`)
	assert.NotContains(t, w.Body.String(), "RotationSecret")

	w = f.do(t, http.MethodPost, "/v1/attendance/scan", lecturerID, "lecturer", gin.H{"qrCodeData": string(payload), "sessionId": s.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	env = decode(t, w)
	assert.Equal(t, "already marked present", env.Error)
	assert.Equal(t, "conflict", env.Kind)

	w = f.do(t, http.MethodGet, "/v1/attendance/sessions/"+s.ID, lecturerID, "lecturer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), studentID)

	w = f.do(t, http.MethodPatch, "/v1/attendance/sessions/"+s.ID+"/end", lecturerID, "lecturer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)

	w = f.do(t, http.MethodGet, "/v1/attendance/courses/"+courseID+"/session", lecturerID, "lecturer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session":null}`, string(decode(t, w).Data))
}

func TestScanErrorsOverHTTP(t *testing.T) {
	f := setupAPI(t)
	s := f.startSession(t)

	w := f.do(t, http.MethodPost, "/v1/attendance/scan", lecturerID, "lecturer", gin.H{"qrCodeData": "STUDENT-1", "sessionId": s.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid QR code format", decode(t, w).Error)

	w = f.do(t, http.MethodPost, "/v1/attendance/scan", lecturerID, "lecturer", gin.H{"sessionId": s.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	forged, err := credential.Issue(studentID, "not-the-student-secret", time.Minute)
	require.NoError(t, err)
	payload, _ := json.Marshal(map[string]string{"token": forged})
	w = f.do(t, http.MethodPost, "/v1/attendance/scan", lecturerID, "lecturer", gin.H{"qrCodeData": string(payload), "sessionId": s.ID})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode(t, w)
	assert.Equal(t, "invalid signature", env.Error)
	assert.False(t, env.Retry)
}

func TestRoleGates(t *testing.T) {
	f := setupAPI(t)

	w := f.do(t, http.MethodPost, "/v1/attendance/sessions", studentID, "student", gin.H{"courseId": courseID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/v1/users/"+studentID+"/credential", lecturerID, "lecturer", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/v1/users/"+studentID+"/credential", adminID, "super-admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartSessionValidation(t *testing.T) {
	f := setupAPI(t)

	w := f.do(t, http.MethodPost, "/v1/attendance/sessions", lecturerID, "lecturer", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.startSession(t)
	w = f.do(t, http.MethodPost, "/v1/attendance/sessions", lecturerID, "lecturer", gin.H{"courseId": courseID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestManualOverHTTP(t *testing.T) {
	f := setupAPI(t)
	s := f.startSession(t)

	w := f.do(t, http.MethodPost, "/v1/attendance/manual", lecturerID, "lecturer", gin.H{"studentId": studentID, "sessionId": s.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"markedManually":true`)

	w = f.do(t, http.MethodPost, "/v1/attendance/manual", lecturerID, "lecturer", gin.H{"studentId": studentID, "sessionId": s.ID, "present": false})
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Equal(t, "Attendance updated successfully", env.Message)
	assert.Contains(t, string(env.Data), `"attendees":[]`)

	w = f.do(t, http.MethodPost, "/v1/attendance/manual", lecturerID, "lecturer", gin.H{"sessionId": s.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
