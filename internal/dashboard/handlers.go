// Package dashboard provides JSON API endpoints for per-user analytics.
package dashboard

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskintake/internal/jobs"
	"github.com/mbd888/riskintake/internal/logging"
	"github.com/mbd888/riskintake/internal/risk"
	"github.com/mbd888/riskintake/internal/transactions"
	"github.com/mbd888/riskintake/internal/validation"
)

// TransactionSource is the read side of the transaction service.
type TransactionSource interface {
	Summary(ctx context.Context, userID string) (*transactions.Summary, error)
	List(ctx context.Context, userID string, limit int, cursor string) (*transactions.Page, error)
	Estimator() *risk.Estimator
}

// JobSource is the read side of the job service.
type JobSource interface {
	Counts(ctx context.Context, userID string) (map[jobs.Status]int, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*jobs.Job, error)
}

// Handler provides dashboard API endpoints.
type Handler struct {
	txs  TransactionSource
	jobs JobSource
}

// NewHandler creates a new dashboard handler.
func NewHandler(txs TransactionSource, jobSource JobSource) *Handler {
	return &Handler{txs: txs, jobs: jobSource}
}

// RegisterRoutes sets up dashboard routes under the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.Overview)
	r.GET("/dashboard/jobs", h.Jobs)
}

// Overview returns the transaction summary, the most recent transactions and
// job counts by status.
func (h *Handler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	summary, err := h.txs.Summary(ctx, userID)
	if err != nil {
		internalError(c, "dashboard summary failed", err)
		return
	}

	recent, err := h.txs.List(ctx, userID, parseLimit(c, 5, 50), "")
	if err != nil {
		internalError(c, "dashboard recent transactions failed", err)
		return
	}

	counts, err := h.jobs.Counts(ctx, userID)
	if err != nil {
		internalError(c, "dashboard job counts failed", err)
		return
	}

	scale := h.txs.Estimator().Scale()
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"summary": summary,
		"risk": gin.H{
			"scale":          scale,
			"max":            scale.Max(),
			"high_threshold": risk.HighFraction * scale.Max(),
		},
		"recent_transactions": recent.Transactions,
		"jobs":                counts,
	})
}

// Jobs returns a user's jobs, optionally filtered by status.
func (h *Handler) Jobs(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	limit := parseLimit(c, 50, 500)
	statusFilter := c.Query("status")

	list, err := h.jobs.ListByUser(ctx, userID, limit)
	if err != nil {
		internalError(c, "dashboard jobs failed", err)
		return
	}

	filtered := make([]*jobs.Job, 0, len(list))
	for _, j := range list {
		if statusFilter == "" || string(j.Status) == statusFilter {
			filtered = append(filtered, j)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  filtered,
		"count": len(filtered),
	})
}

func requireUser(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "user_id query parameter is required",
		})
		return "", false
	}
	return userID, true
}

func internalError(c *gin.Context, msg string, err error) {
	logging.L(c.Request.Context()).Error(msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func parseLimit(c *gin.Context, defaultVal, maxVal int) int {
	limit := defaultVal
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}
