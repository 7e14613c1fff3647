// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trainingattend/internal/attendance"
	"trainingattend/internal/auth"
	"trainingattend/internal/reminder"
)

// staff may view session rosters, mark attendance and issue check-in codes.
var staff = []string{auth.RoleAdmin, auth.RoleESDAdmin, auth.RoleFacilitator}

// admins manage sessions and trigger sweeps.
var admins = []string{auth.RoleAdmin, auth.RoleESDAdmin}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Handler struct {
	svc        *attendance.Service
	sweeper    *reminder.Sweeper
	signer     *auth.Signer
	checkInTTL time.Duration
	lookahead  time.Duration
	lookback   time.Duration
	now        func() time.Time
	checks     map[string]HealthCheck
	rateLimit  gin.HandlerFunc
}

// Options configures a Handler.
type Options struct {
	CheckInTTL time.Duration
	Lookahead  time.Duration
	Lookback   time.Duration
	Now        func() time.Time
	Checks     map[string]HealthCheck
	// RateLimit runs after authentication so limits apply per person.
	RateLimit gin.HandlerFunc
}

func New(svc *attendance.Service, sweeper *reminder.Sweeper, signer *auth.Signer, opts Options) *Handler {
	if opts.CheckInTTL <= 0 {
		opts.CheckInTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		svc:        svc,
		sweeper:    sweeper,
		signer:     signer,
		checkInTTL: opts.CheckInTTL,
		lookahead:  opts.Lookahead,
		lookback:   opts.Lookback,
		now:        opts.Now,
		checks:     opts.Checks,
		rateLimit:  opts.RateLimit,
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1", auth.RequireAuth(h.signer))
	if h.rateLimit != nil {
		v1.Use(h.rateLimit)
	}
	v1.Use(h.syncCaller)

	att := v1.Group("/attendance")
	att.POST("/register", h.RegisterAttendance)
	att.POST("/check-in", h.CheckIn)
	att.POST("/declaration", h.SubmitDeclaration)
	att.GET("/me", h.MyAttendance)
	att.GET("/sessions/:id", auth.RequireRole(staff...), h.SessionAttendance)
	att.POST("/manual", auth.RequireRole(staff...), h.MarkManually)
	att.GET("/qr-code/:id", auth.RequireRole(staff...), h.CheckInCode)

	v1.POST("/declarations/:id/compliance", auth.RequireRole(staff...), h.AnnotateDeclaration)

	sessions := v1.Group("/sessions")
	sessions.GET("/upcoming", h.UpcomingSessions)
	sessions.GET("/mandatory", h.MandatorySessions)
	sessions.GET("/:id", h.GetSession)
	sessions.POST("", auth.RequireRole(admins...), h.CreateSession)
	sessions.POST("/:id/status", auth.RequireRole(admins...), h.SetSessionStatus)
	sessions.DELETE("/:id", auth.RequireRole(admins...), h.DeleteSession)

	rem := v1.Group("/reminders", auth.RequireRole(admins...))
	rem.POST("/sessions", h.RunSessionReminders)
	rem.POST("/declarations", h.RunDeclarationReminders)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// syncCaller keeps the caller's directory entry in step with the profile in their token.
// Tokens without an email carry no profile and leave the directory alone.
func (h *Handler) syncCaller(c *gin.Context) {
	claims := caller(c)
	if claims.Email == "" {
		c.Next()
		return
	}
	err := h.svc.SyncPerson(c.Request.Context(), attendance.Person{
		ID:        claims.Subject,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		Company:   claims.Company,
		Role:      claims.Role,
	})
	if err != nil {
		writeError(c, err)
		c.Abort()
		return
	}
	c.Next()
}

func caller(c *gin.Context) auth.Claims {
	claims, _ := auth.ClaimsFrom(c)
	return claims
}

func isStaff(role string) bool {
	for _, r := range staff {
		if r == role {
			return true
		}
	}
	return false
}
