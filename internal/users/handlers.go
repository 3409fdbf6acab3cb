package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskintake/internal/logging"
)

// Handler provides HTTP endpoints for users.
type Handler struct {
	service *Service
}

// NewHandler creates a new user handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up user routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth", h.Auth)
	r.GET("/users/:id", h.Get)
}

// Auth handles POST /v1/auth
func (h *Handler) Auth(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	user, err := h.service.Authenticate(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidUser) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("auth failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Get handles GET /v1/users/:id
func (h *Handler) Get(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "User not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("get user failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
