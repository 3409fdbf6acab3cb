package jobs

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskintake/internal/logging"
	"github.com/mbd888/riskintake/internal/validation"
)

// DefaultMaxUploadBytes caps CSV uploads when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// multipartOverhead allows for boundaries and form fields around the file.
const multipartOverhead = 64 << 10

// Handler provides HTTP endpoints for uploads, rescoring and job polling.
type Handler struct {
	service        *Service
	maxUploadBytes int64
	submit         []gin.HandlerFunc
}

// NewHandler creates a new job handler.
func NewHandler(service *Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{service: service, maxUploadBytes: maxUploadBytes}
}

// WithSubmitMiddleware runs mw before every route that enqueues a job.
func (h *Handler) WithSubmitMiddleware(mw ...gin.HandlerFunc) *Handler {
	h.submit = append(h.submit, mw...)
	return h
}

func (h *Handler) submitChain(final gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(h.submit)+1)
	chain = append(chain, h.submit...)
	return append(chain, final)
}

// RegisterUploadRoutes sets up routes that accept large bodies.
func (h *Handler) RegisterUploadRoutes(r *gin.RouterGroup) {
	r.POST("/uploads", h.submitChain(h.Upload)...)
}

// RegisterRoutes sets up job routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/rescore", h.submitChain(h.Rescore)...)
	r.GET("/jobs", h.List)
	r.GET("/jobs/:id", validation.UUIDParamMiddleware("id"), h.Get)
}

// Upload handles POST /v1/uploads (multipart: file, user_id)
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "file_too_large",
				"message": "Upload exceeds the size limit",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "multipart field 'file' is required",
		})
		return
	}
	if header.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "file_too_large",
			"message": "Upload exceeds the size limit",
		})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Could not read uploaded file",
		})
		return
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Could not read uploaded file",
		})
		return
	}

	job, err := h.service.Upload(c.Request.Context(), c.PostForm("user_id"), header.Filename, data)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// RescoreRequest is the body of POST /v1/rescore.
type RescoreRequest struct {
	UserID string `json:"user_id"`
}

// Rescore handles POST /v1/rescore
func (h *Handler) Rescore(c *gin.Context) {
	var req RescoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	job, err := h.service.EnqueueRescoreAll(c.Request.Context(), req.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// Get handles GET /v1/jobs/:id
func (h *Handler) Get(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

// List handles GET /v1/jobs?user_id=&limit=
func (h *Handler) List(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	jobs, err := h.service.ListByUser(c.Request.Context(), c.Query("user_id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*Job{}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrMissingUserID), errors.Is(err, ErrInvalidUserID), errors.Is(err, ErrMissingLocator):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	case errors.Is(err, ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Job not found",
		})
	default:
		logging.L(c.Request.Context()).Error("job request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal error",
		})
	}
}
