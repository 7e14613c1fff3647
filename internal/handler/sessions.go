package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trainingattend/internal/attendance"
)

func (h *Handler) UpcomingSessions(c *gin.Context) {
	sessions, err := h.svc.UpcomingSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": nonNil(sessions)})
}

func (h *Handler) MandatorySessions(c *gin.Context) {
	sessions, err := h.svc.MandatorySessions(c.Request.Context(), caller(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": nonNil(sessions)})
}

func (h *Handler) GetSession(c *gin.Context) {
	detail, err := h.svc.SessionDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": detail})
}

func (h *Handler) CreateSession(c *gin.Context) {
	var in attendance.SessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) SetSessionStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.SetSessionStatus(c.Request.Context(), c.Param("id"), attendance.SessionStatus(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.svc.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- Reminder sweeps ----------

// RunSessionReminders runs the upcoming-session sweep now. The optional window query
// parameter overrides the lookahead, e.g. ?window=48h.
func (h *Handler) RunSessionReminders(c *gin.Context) {
	window, ok := windowParam(c, h.lookahead)
	if !ok {
		return
	}
	res, err := h.sweeper.RunSessionReminders(c.Request.Context(), h.now(), window)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// RunDeclarationReminders runs the missing-declaration sweep now.
func (h *Handler) RunDeclarationReminders(c *gin.Context) {
	window, ok := windowParam(c, h.lookback)
	if !ok {
		return
	}
	res, err := h.sweeper.RunDeclarationReminders(c.Request.Context(), h.now(), window)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func windowParam(c *gin.Context, fallback time.Duration) (time.Duration, bool) {
	v := c.Query("window")
	if v == "" {
		return fallback, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration", "code": attendance.CodeInvalidInput})
		return 0, false
	}
	return d, true
}
