package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"qrattend/internal/apperr"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
)

var (
	errSessionFields = apperr.NewBadRequest("course ID is required")
	errScanFields    = apperr.NewBadRequest("QR code data and session ID are required")
	errBadBody       = apperr.NewBadRequest("request body is not valid JSON")
)

type handler struct {
	registry    *attendance.Registry
	coordinator *attendance.Coordinator
}

func callerID(c *gin.Context) string {
	return c.GetString(auth.CallerIDKey)
}

func success(c *gin.Context, status int, message string, data gin.H) {
	body := gin.H{"status": "success", "data": data}
	if message != "" {
		body["message"] = message
	}
	c.JSON(status, body)
}

// fail writes err in the shared error shape. Internal failures are logged
// with their cause; the client only sees the reason.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal || kind == apperr.Configuration {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(apperr.HTTPStatus(kind), apperr.ResponseOf(err))
}

func (h *handler) credential(c *gin.Context, subjectID string) {
	token, err := h.coordinator.IssueCredential(c.Request.Context(), subjectID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, "", gin.H{
		"token":      token,
		"expires_in": int(h.coordinator.CredentialTTL().Seconds()),
	})
}

// GET /v1/me/credential
func (h *handler) myCredential(c *gin.Context) {
	h.credential(c, callerID(c))
}

// GET /v1/users/:userId/credential
func (h *handler) userCredential(c *gin.Context) {
	h.credential(c, c.Param("userId"))
}

// POST /v1/attendance/sessions
func (h *handler) startSession(c *gin.Context) {
	var req struct {
		CourseID string `json:"courseId"`
		Duration int    `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errBadBody)
		return
	}
	if req.CourseID == "" {
		fail(c, errSessionFields)
		return
	}
	s, err := h.registry.Start(c.Request.Context(), req.CourseID, callerID(c), req.Duration)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusCreated, "", gin.H{"session": s})
}

// GET /v1/attendance/courses/:courseId/session
func (h *handler) activeSession(c *gin.Context) {
	s, err := h.registry.GetActive(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, "", gin.H{"session": s})
}

// GET /v1/attendance/sessions/:sessionId
func (h *handler) sessionDetails(c *gin.Context) {
	s, err := h.registry.Details(c.Request.Context(), c.Param("sessionId"), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, "", gin.H{"session": s})
}

// PATCH /v1/attendance/sessions/:sessionId/end
func (h *handler) endSession(c *gin.Context) {
	s, err := h.registry.End(c.Request.Context(), c.Param("sessionId"), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, "", gin.H{"session": s})
}

// POST /v1/attendance/scan
func (h *handler) scan(c *gin.Context) {
	var req struct {
		QRCodeData string `json:"qrCodeData"`
		SessionID  string `json:"sessionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errBadBody)
		return
	}
	if req.QRCodeData == "" || req.SessionID == "" {
		fail(c, errScanFields)
		return
	}
	res, err := h.coordinator.RecordScan(c.Request.Context(), req.QRCodeData, req.SessionID, callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, "Attendance marked successfully", gin.H{"user": res.User, "session": res.Session})
}

// POST /v1/attendance/manual
func (h *handler) manual(c *gin.Context) {
	var req struct {
		StudentID string `json:"studentId"`
		SessionID string `json:"sessionId"`
		Present   *bool  `json:"present"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errBadBody)
		return
	}
	present := true
	if req.Present != nil {
		present = *req.Present
	}
	s, err := h.coordinator.ManualMark(c.Request.Context(), req.StudentID, req.SessionID, callerID(c), present)
	if err != nil {
		fail(c, err)
		return
	}
	msg := "Attendance marked successfully"
	if !present {
		msg = "Attendance updated successfully"
	}
	success(c, http.StatusOK, msg, gin.H{"session": s})
}
