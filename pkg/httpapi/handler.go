// Package httpapi exposes the onboarding service over HTTP using gin.
//
// Route layout (mounted under a versioned group, e.g. /v1):
//
//	POST /onboarding/submit   apply one step submission
//	POST /onboarding/resync   fetch the authoritative snapshot
//	GET  /onboarding/resync   same, for clients that cannot POST
//
// The authenticated user is taken from the X-User-ID header; an upstream
// gateway is expected to set it after verifying credentials.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/stepflow/pkg/api"
)

// UserIDHeader names the header carrying the authenticated user identity.
const UserIDHeader = "X-User-ID"

type Handler struct {
	service api.Service

	// exposeDetail includes internal error text in 500 responses.
	// Keep it off in production.
	exposeDetail bool
}

func NewHandler(service api.Service) *Handler {
	return &Handler{service: service}
}

// WithErrorDetail returns a copy of h that echoes internal error messages in
// 500 responses. Meant for local development only.
func (h *Handler) WithErrorDetail() *Handler {
	cp := *h
	cp.exposeDetail = true
	return &cp
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/onboarding")
	g.POST("/submit", h.Submit)
	g.POST("/resync", h.Resync)
	g.GET("/resync", h.Resync)
}

// RegisterHealth mounts the liveness endpoint on the root router.
func (h *Handler) RegisterHealth(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type submitBody struct {
	StepID     string         `json:"stepId" binding:"required"`
	InstanceID string         `json:"instanceId" binding:"required"`
	Nonce      string         `json:"nonce" binding:"required"`
	Payload    map[string]any `json:"payload"`
}

func (h *Handler) Submit(c *gin.Context) {
	userID := c.GetHeader(UserIDHeader)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"code": "UNAUTHENTICATED", "message": "missing " + UserIDHeader + " header"},
		})
		return
	}

	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "BAD_REQUEST", "message": err.Error()},
		})
		return
	}

	res, err := h.service.Submit(c.Request.Context(), api.SubmitRequest{
		UserID:     userID,
		StepID:     api.StepID(body.StepID),
		InstanceID: body.InstanceID,
		Nonce:      body.Nonce,
		Payload:    body.Payload,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Resync(c *gin.Context) {
	userID := c.GetHeader(UserIDHeader)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"code": "UNAUTHENTICATED", "message": "missing " + UserIDHeader + " header"},
		})
		return
	}

	res, err := h.service.Resync(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// writeError maps service errors onto HTTP statuses. Out-of-sync responses
// carry the authoritative live instance so the client can recover without a
// separate resync round trip.
func (h *Handler) writeError(c *gin.Context, err error) {
	if o, ok := api.IsOutOfSync(err); ok {
		c.JSON(http.StatusConflict, gin.H{
			"error": gin.H{
				"code":            "OUT_OF_SYNC",
				"message":         o.Error(),
				"expected":        o.Expected,
				"received":        o.Received,
				"correctInstance": o.CorrectInstance,
			},
		})
		return
	}
	if v, ok := api.IsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "BAD_REQUEST", "message": v.Error(), "field": v.Field},
		})
		return
	}
	switch {
	case api.IsRequestTimeout(err):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"error": gin.H{"code": "TIMEOUT", "message": "request took too long, retry"},
		})
	case api.IsLockTimeout(err):
		c.JSON(http.StatusLocked, gin.H{
			"error": gin.H{"code": "LOCKED", "message": "session busy, retry shortly"},
		})
	case api.IsRateLimit(err):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{"code": "RATE_LIMITED", "message": "too many requests, slow down"},
		})
	default:
		msg := "internal error"
		if h.exposeDetail {
			msg = err.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "INTERNAL", "message": msg},
		})
	}
}
