package handler

import (
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"trainingattend/internal/attendance"
)

// ---------- Registration ----------

type registerRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

func (h *Handler) RegisterAttendance(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.Register(c.Request.Context(), req.SessionID, caller(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attendance": rec})
}

// ---------- Check-in ----------

type checkInRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Method    string `json:"method"`
	Token     string `json:"token"`
	// PersonID lets staff check in someone else. Defaults to the caller.
	PersonID string `json:"person_id"`
}

// CheckIn marks the caller present. Method qr-code needs the token shown at the venue for
// this session.
func (h *Handler) CheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims := caller(c)
	personID := claims.Subject
	if req.PersonID != "" && req.PersonID != claims.Subject {
		if !isStaff(claims.Role) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		personID = req.PersonID
	}

	method := attendance.Method(req.Method)
	if method == attendance.MethodQRCode {
		sid, err := h.signer.ParseCheckIn(req.Token)
		if err != nil || sid != req.SessionID {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid or expired check-in code",
				"code":  attendance.CodeInvalidCheckInToken,
			})
			return
		}
	}

	rec, err := h.svc.CheckIn(c.Request.Context(), req.SessionID, personID, method)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rec})
}

// CheckInCode issues the QR check-in token for a session.
func (h *Handler) CheckInCode(c *gin.Context) {
	sess, err := h.svc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	token, exp, err := h.signer.IssueCheckIn(sess.ID, h.checkInTTL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "token": token, "expires_at": exp})
}

// ---------- Declarations ----------

type declarationRequest struct {
	AttendanceID string `json:"attendance_id" binding:"required"`
	Content      string `json:"content"`
	Signature    string `json:"signature"`
}

func (h *Handler) SubmitDeclaration(c *gin.Context) {
	var req declarationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.svc.SubmitDeclaration(c.Request.Context(), req.AttendanceID, caller(c).Subject, attendance.DeclarationInput{
		Content:   req.Content,
		Signature: req.Signature,
		IPAddress: c.ClientIP(),
		UserAgent: truncate(c.Request.UserAgent(), 512),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"declaration": d})
}

type complianceRequest struct {
	IsCompliant *bool  `json:"is_compliant" binding:"required"`
	Notes       string `json:"notes"`
}

func (h *Handler) AnnotateDeclaration(c *gin.Context) {
	var req complianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.svc.AnnotateDeclaration(c.Request.Context(), c.Param("id"), *req.IsCompliant, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"declaration": d})
}

// ---------- Manual marks ----------

type manualRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	PersonID  string `json:"person_id" binding:"required"`
	Status    string `json:"status" binding:"required"`
	Notes     string `json:"notes"`
}

func (h *Handler) MarkManually(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.MarkManually(c.Request.Context(), req.SessionID, req.PersonID,
		attendance.Status(req.Status), caller(c).Subject, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rec})
}

// ---------- Listings ----------

func (h *Handler) MyAttendance(c *gin.Context) {
	views, err := h.svc.PersonAttendance(c.Request.Context(), caller(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendances": nonNil(views)})
}

func (h *Handler) SessionAttendance(c *gin.Context) {
	views, err := h.svc.SessionAttendance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendances": nonNil(views)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
