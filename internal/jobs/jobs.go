// Package jobs runs asynchronous CSV ingestion and bulk rescoring.
//
// Jobs move strictly pending -> processing -> done|failed. A worker claims
// pending jobs oldest first, dispatches them by type and records the terminal
// state. Terminal states are final; failed jobs are never retried.
package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	ErrJobNotFound       = errors.New("jobs: not found")
	ErrInvalidTransition = errors.New("jobs: job is not processing")
	ErrMissingUserID     = errors.New("jobs: user_id is required")
	ErrMissingLocator    = errors.New("jobs: file_locator is required")
	ErrInvalidUserID     = errors.New("jobs: user_id is malformed")
	ErrUnknownType       = errors.New("jobs: unknown job type")
)

// Type selects the processor routine.
type Type string

const (
	TypeParseCSV   Type = "parse_csv"
	TypeRescoreAll Type = "rescore_all"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusDone, StatusFailed}

// Terminal reports whether s is done or failed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Payload is the structured job input.
type Payload struct {
	UserID      string `json:"user_id"`
	FileLocator string `json:"file_locator,omitempty"`
}

// Result counts what a finished job did.
type Result struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Job is a persisted unit of asynchronous work.
type Job struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Payload    Payload    `json:"payload"`
	Status     Status     `json:"status"`
	Result     *Result    `json:"result,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store persists jobs and enforces the status lifecycle.
type Store interface {
	Enqueue(ctx context.Context, t Type, p Payload) (*Job, error)
	// ClaimPending moves up to limit pending jobs to processing, oldest
	// created first, and returns them in that order. No job is returned to
	// more than one caller.
	ClaimPending(ctx context.Context, limit int) ([]*Job, error)
	// Complete and Fail are only valid for processing jobs and return
	// ErrInvalidTransition otherwise.
	Complete(ctx context.Context, id string, result Result) error
	Fail(ctx context.Context, id string, reason string) error
	Get(ctx context.Context, id string) (*Job, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error)
	CountByStatus(ctx context.Context, userID string) (map[Status]int, error)
}

// maxErrorLength bounds last_error.
const maxErrorLength = 1000

func truncateReason(reason string) string {
	if len(reason) > maxErrorLength {
		return reason[:maxErrorLength]
	}
	return reason
}
