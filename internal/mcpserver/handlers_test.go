package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskintake/internal/apiclient"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler, defaultUser string) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(apiclient.New(ts.URL), defaultUser)
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// score_transaction
// ============================================================

func TestHandleScoreTransaction(t *testing.T) {
	var got map[string]any
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/score", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{
			"risk_score": 60,
			"level":      "medium",
			"factors": map[string]float64{
				"large_amount":    35,
				"unusual_country": 25,
				"off_hours":       0,
				"blacklist":       0,
			},
		})
	}), "")

	result, err := h.HandleScoreTransaction(context.Background(), makeRequest(map[string]any{
		"amount":  1500.0,
		"country": "Brazil",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Risk score: 60 (medium)")
	assert.Contains(t, text, "large_amount: +35")
	assert.Contains(t, text, "unusual_country: +25")
	assert.NotContains(t, text, "off_hours")

	assert.Equal(t, 1500.0, got["amount"])
	assert.Equal(t, "Brazil", got["country"])
}

func TestHandleScoreTransaction_NoSignals(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"risk_score": 0, "level": "low", "factors": map[string]float64{}})
	}), "")

	result, err := h.HandleScoreTransaction(context.Background(), makeRequest(map[string]any{"amount": "10"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No risk signals fired.")
}

func TestHandleScoreTransaction_MissingAmount(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler(), "")

	result, err := h.HandleScoreTransaction(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "amount is required")
}

func TestHandleScoreTransaction_APIError(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": "bad body"})
	}), "")

	result, err := h.HandleScoreTransaction(context.Background(), makeRequest(map[string]any{"amount": 1.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "bad body")
}

// ============================================================
// list_transactions
// ============================================================

func TestHandleListTransactions(t *testing.T) {
	var query map[string]string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		query = map[string]string{
			"user_id": r.URL.Query().Get("user_id"),
			"limit":   r.URL.Query().Get("limit"),
			"cursor":  r.URL.Query().Get("cursor"),
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"transactions": []map[string]any{{
				"id":         "tx-1",
				"user_id":    "u1",
				"amount":     "1250.5",
				"country":    "Ireland",
				"merchant":   "Cafe",
				"timestamp":  "2024-03-01T02:15:00Z",
				"risk_score": 15,
			}},
			"has_more":    true,
			"next_cursor": "abc",
		})
	}), "default-user")

	result, err := h.HandleListTransactions(context.Background(), makeRequest(map[string]any{
		"limit":  5.0,
		"cursor": "xyz",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 1 transaction(s)")
	assert.Contains(t, text, "2024-03-01 02:15  1250.50  Cafe  Ireland  risk 15")
	assert.Contains(t, text, "Next cursor: abc")

	assert.Equal(t, "default-user", query["user_id"])
	assert.Equal(t, "5", query["limit"])
	assert.Equal(t, "xyz", query["cursor"])
}

func TestHandleListTransactions_Empty(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"transactions": []any{}, "has_more": false})
	}), "")

	result, err := h.HandleListTransactions(context.Background(), makeRequest(map[string]any{"user_id": "u1"}))
	require.NoError(t, err)
	assert.Equal(t, "No transactions found.", resultText(t, result))
}

func TestHandlers_RequireUser(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler(), "")
	ctx := context.Background()

	for name, fn := range map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_transactions": h.HandleListTransactions,
		"request_rescore":   h.HandleRequestRescore,
		"get_dashboard":     h.HandleGetDashboard,
	} {
		t.Run(name, func(t *testing.T) {
			result, err := fn(ctx, makeRequest(map[string]any{"user_id": "   "}))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), "user_id is required")
		})
	}
}

// ============================================================
// request_rescore / get_job
// ============================================================

func TestHandleRequestRescore(t *testing.T) {
	var body map[string]string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rescore", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusAccepted, map[string]any{"job": map[string]any{
			"id":      "job-1",
			"type":    "rescore_all",
			"status":  "pending",
			"payload": map[string]any{"user_id": body["user_id"]},
		}})
	}), "")

	result, err := h.HandleRequestRescore(context.Background(), makeRequest(map[string]any{"user_id": "u7"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Rescore queued for u7")
	assert.Contains(t, text, "Job ID: job-1")
	assert.Equal(t, "u7", body["user_id"])
}

func TestHandleGetJob(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/job-9", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"job": map[string]any{
			"id":      "job-9",
			"type":    "parse_csv",
			"status":  "done",
			"payload": map[string]any{"user_id": "u1", "file_locator": "x.csv"},
			"result":  map[string]int{"inserted": 3, "updated": 0, "skipped": 1},
		}})
	}), "")

	result, err := h.HandleGetJob(context.Background(), makeRequest(map[string]any{"job_id": "job-9"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Job job-9")
	assert.Contains(t, text, "Type:   parse_csv")
	assert.Contains(t, text, "Status: done")
	assert.Contains(t, text, "Inserted: 3  Updated: 0  Skipped: 1")
}

func TestHandleGetJob_Failed(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"job": map[string]any{
			"id":         "job-2",
			"type":       "parse_csv",
			"status":     "failed",
			"payload":    map[string]any{"user_id": "u1"},
			"last_error": "file not found",
		}})
	}), "")

	result, err := h.HandleGetJob(context.Background(), makeRequest(map[string]any{"job_id": "job-2"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Error:  file not found")
}

func TestHandleGetJob_NotFound(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "message": "job not found"})
	}), "")

	result, err := h.HandleGetJob(context.Background(), makeRequest(map[string]any{"job_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "No job with id missing", resultText(t, result))
}

func TestHandleGetJob_MissingID(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler(), "")

	result, err := h.HandleGetJob(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ============================================================
// get_dashboard
// ============================================================

func TestHandleGetDashboard(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/dashboard", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": "u1",
			"summary": map[string]any{
				"count":           3,
				"total_amount":    "2100",
				"average_risk":    40,
				"max_risk":        75,
				"high_risk_count": 1,
				"by_country":      map[string]int{"Ireland": 2, "Brazil": 1},
			},
			"jobs": map[string]int{"pending": 1, "done": 4},
		})
	}), "u1")

	result, err := h.HandleGetDashboard(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Dashboard for u1")
	assert.Contains(t, text, "Transactions: 3 (total 2100.00)")
	assert.Contains(t, text, "Average risk: 40.00  Max risk: 75.00")
	assert.Contains(t, text, "High-risk:    1")
	assert.Contains(t, text, "    Brazil: 1\n    Ireland: 2")
	assert.Contains(t, text, "pending=1 processing=0 done=4 failed=0")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:1", UserID: "u1"})
	require.NotNil(t, s)
}
