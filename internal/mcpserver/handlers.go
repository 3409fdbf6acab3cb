package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/riskintake/internal/apiclient"
	"github.com/mbd888/riskintake/internal/jobs"
	"github.com/mbd888/riskintake/internal/risk"
	"github.com/mbd888/riskintake/internal/transactions"
)

const defaultListLimit = 20

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client        *apiclient.Client
	defaultUserID string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *apiclient.Client, defaultUserID string) *Handlers {
	return &Handlers{client: client, defaultUserID: defaultUserID}
}

func (h *Handlers) userID(req mcp.CallToolRequest) string {
	if u := strings.TrimSpace(req.GetString("user_id", "")); u != "" {
		return u
	}
	return h.defaultUserID
}

// HandleScoreTransaction scores a draft transaction.
func (h *Handlers) HandleScoreTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if _, ok := args["amount"]; !ok {
		return mcp.NewToolResultError("amount is required"), nil
	}

	a, err := h.client.Score(ctx, transactions.ScoreRequest{
		Amount:    args["amount"],
		Country:   req.GetString("country", ""),
		Merchant:  req.GetString("merchant", ""),
		Timestamp: req.GetString("timestamp", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to score transaction: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAssessment(a)), nil
}

// HandleListTransactions lists a user's transactions.
func (h *Handlers) HandleListTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := h.userID(req)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := req.GetInt("limit", defaultListLimit)

	page, err := h.client.ListTransactions(ctx, userID, limit, req.GetString("cursor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
	}

	return mcp.NewToolResultText(formatTransactions(page)), nil
}

// HandleRequestRescore queues a rescore job.
func (h *Handlers) HandleRequestRescore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := h.userID(req)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	job, err := h.client.Rescore(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to queue rescore: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Rescore queued for %s.\nJob ID: %s\nStatus: %s\n\nUse get_job to follow progress.",
		userID, job.ID, job.Status)), nil
}

// HandleGetJob reports a job's status.
func (h *Handlers) HandleGetJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("job_id", ""))
	if id == "" {
		return mcp.NewToolResultError("job_id is required"), nil
	}

	job, err := h.client.GetJob(ctx, id)
	if err != nil {
		if apiclient.IsNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("No job with id %s", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get job: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJob(job)), nil
}

// HandleGetDashboard returns the user's dashboard.
func (h *Handlers) HandleGetDashboard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := h.userID(req)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.Dashboard(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get dashboard: %v", err)), nil
	}

	text, err := formatDashboard(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse dashboard: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func formatAssessment(a *risk.Assessment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk score: %g (%s)\n", a.Score, a.Level)

	fired := make([]string, 0, len(a.Factors))
	for name, v := range a.Factors {
		if v > 0 {
			fired = append(fired, name)
		}
	}
	sort.Strings(fired)
	if len(fired) == 0 {
		sb.WriteString("No risk signals fired.\n")
		return sb.String()
	}
	sb.WriteString("Signals:\n")
	for _, name := range fired {
		fmt.Fprintf(&sb, "  - %s: +%g\n", name, a.Factors[name])
	}
	return sb.String()
}

func formatTransactions(page *transactions.Page) string {
	if len(page.Transactions) == 0 {
		return "No transactions found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d transaction(s):\n\n", len(page.Transactions))
	for i, tx := range page.Transactions {
		fmt.Fprintf(&sb, "%d. %s  %s  %s  %s  risk %g\n",
			i+1, tx.Timestamp.Format("2006-01-02 15:04"), tx.Amount.StringFixed(2), tx.Merchant, tx.Country, tx.RiskScore)
	}
	if page.HasMore {
		fmt.Fprintf(&sb, "\nMore available. Next cursor: %s\n", page.NextCursor)
	}
	return sb.String()
}

func formatJob(job *jobs.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Job %s\n", job.ID)
	fmt.Fprintf(&sb, "  Type:   %s\n", job.Type)
	fmt.Fprintf(&sb, "  User:   %s\n", job.Payload.UserID)
	fmt.Fprintf(&sb, "  Status: %s\n", job.Status)
	if job.Result != nil {
		fmt.Fprintf(&sb, "  Inserted: %d  Updated: %d  Skipped: %d\n",
			job.Result.Inserted, job.Result.Updated, job.Result.Skipped)
	}
	if job.LastError != "" {
		fmt.Fprintf(&sb, "  Error:  %s\n", job.LastError)
	}
	return sb.String()
}

func formatDashboard(raw json.RawMessage) (string, error) {
	var d struct {
		UserID  string               `json:"user_id"`
		Summary transactions.Summary `json:"summary"`
		Jobs    map[string]int       `json:"jobs"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Dashboard for %s:\n", d.UserID)
	fmt.Fprintf(&sb, "  Transactions: %d (total %s)\n", d.Summary.Count, d.Summary.TotalAmount.StringFixed(2))
	fmt.Fprintf(&sb, "  Average risk: %.2f  Max risk: %.2f\n", d.Summary.AverageRisk, d.Summary.MaxRisk)
	fmt.Fprintf(&sb, "  High-risk:    %d\n", d.Summary.HighRiskCount)

	if len(d.Summary.ByCountry) > 0 {
		countries := make([]string, 0, len(d.Summary.ByCountry))
		for c := range d.Summary.ByCountry {
			countries = append(countries, c)
		}
		sort.Strings(countries)
		sb.WriteString("  By country:\n")
		for _, c := range countries {
			fmt.Fprintf(&sb, "    %s: %d\n", c, d.Summary.ByCountry[c])
		}
	}

	sb.WriteString("  Jobs:")
	for _, st := range jobs.Statuses {
		fmt.Fprintf(&sb, " %s=%d", st, d.Jobs[string(st)])
	}
	sb.WriteString("\n")
	return sb.String(), nil
}
