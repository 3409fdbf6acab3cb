// Package apiclient is an HTTP client for the intake API, shared by the MCP
// server and the intakectl command.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/riskintake/internal/jobs"
	"github.com/mbd888/riskintake/internal/risk"
	"github.com/mbd888/riskintake/internal/transactions"
	"github.com/mbd888/riskintake/internal/users"
)

// DefaultPollInterval is used by WaitForJob when none is given.
const DefaultPollInterval = time.Second

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to a running intake server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Do sends a JSON request and returns the raw response body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	return c.send(ctx, method, path, query, reqBody, contentType)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (json.RawMessage, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		_ = json.Unmarshal(respBody, apiErr)
		return nil, apiErr
	}

	return json.RawMessage(respBody), nil
}

func decodeField[T any](raw json.RawMessage, field string) (*T, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	inner, ok := envelope[field]
	if !ok {
		return nil, fmt.Errorf("decode response: missing %q", field)
	}
	var out T
	if err := json.Unmarshal(inner, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	return &out, nil
}

// Auth upserts a user profile.
func (c *Client) Auth(ctx context.Context, req users.AuthRequest) (*users.User, error) {
	raw, err := c.Do(ctx, http.MethodPost, "/v1/auth", nil, req)
	if err != nil {
		return nil, err
	}
	return decodeField[users.User](raw, "user")
}

// Score scores a draft transaction without storing it.
func (c *Client) Score(ctx context.Context, req transactions.ScoreRequest) (*risk.Assessment, error) {
	raw, err := c.Do(ctx, http.MethodPost, "/v1/score", nil, req)
	if err != nil {
		return nil, err
	}
	var out risk.Assessment
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &out, nil
}

// ListTransactions returns one newest-first page of a user's transactions.
func (c *Client) ListTransactions(ctx context.Context, userID string, limit int, cursor string) (*transactions.Page, error) {
	q := url.Values{"user_id": {userID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	raw, err := c.Do(ctx, http.MethodGet, "/v1/transactions", q, nil)
	if err != nil {
		return nil, err
	}
	var out transactions.Page
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return &out, nil
}

// Upload sends a CSV file and returns the queued parse job.
func (c *Client) Upload(ctx context.Context, userID, filename string, r io.Reader) (*jobs.Job, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("user_id", userID); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	raw, err := c.send(ctx, http.MethodPost, "/v1/uploads", nil, &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return decodeField[jobs.Job](raw, "job")
}

// Rescore queues a rescore_all job for the user.
func (c *Client) Rescore(ctx context.Context, userID string) (*jobs.Job, error) {
	raw, err := c.Do(ctx, http.MethodPost, "/v1/rescore", nil, jobs.RescoreRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	return decodeField[jobs.Job](raw, "job")
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeField[jobs.Job](raw, "job")
}

// WaitForJob polls until the job reaches a terminal status or ctx is done.
// On timeout it returns the last status seen along with ctx.Err().
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (*jobs.Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last *jobs.Job
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		last = job
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Dashboard returns the aggregate dashboard document for a user.
func (c *Client) Dashboard(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/v1/dashboard", url.Values{"user_id": {userID}}, nil)
}
