package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbd888/riskintake/internal/blob"
	"github.com/mbd888/riskintake/internal/logging"
	"github.com/mbd888/riskintake/internal/metrics"
	"github.com/mbd888/riskintake/internal/traces"
	"github.com/mbd888/riskintake/internal/validation"
)

// DefaultListLimit caps job listings.
const DefaultListLimit = 50

// Service validates and enqueues jobs on behalf of API callers.
type Service struct {
	store    Store
	blobs    blob.Store
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates a job service. notifier may be nil.
func NewService(store Store, blobs blob.Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, blobs: blobs, notifier: notifier, logger: logger}
}

// EnqueueParseCSV records a pending parse_csv job for an already stored upload.
func (s *Service) EnqueueParseCSV(ctx context.Context, userID, locator string) (*Job, error) {
	userID = strings.TrimSpace(userID)
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(locator) == "" {
		return nil, ErrMissingLocator
	}
	return s.enqueue(ctx, TypeParseCSV, Payload{UserID: userID, FileLocator: locator})
}

// EnqueueRescoreAll records a pending rescore_all job.
func (s *Service) EnqueueRescoreAll(ctx context.Context, userID string) (*Job, error) {
	userID = strings.TrimSpace(userID)
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, TypeRescoreAll, Payload{UserID: userID})
}

// Upload stores a CSV file and enqueues its ingestion. The stored file is
// removed again if the job cannot be created.
func (s *Service) Upload(ctx context.Context, userID, filename string, data []byte) (*Job, error) {
	userID = strings.TrimSpace(userID)
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	locator, err := s.blobs.Put(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	job, err := s.EnqueueParseCSV(ctx, userID, locator)
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), locator); derr != nil {
			logging.L(ctx).Warn("failed to remove orphaned upload", "locator", locator, "error", derr)
		}
		return nil, err
	}
	return job, nil
}

func (s *Service) enqueue(ctx context.Context, t Type, p Payload) (*Job, error) {
	ctx, span := traces.StartSpan(ctx, "jobs.enqueue", traces.JobType(string(t)), traces.UserID(p.UserID))
	job, err := s.store.Enqueue(ctx, t, p)
	traces.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", t, err)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(string(t)).Inc()
	logging.L(ctx).Info("job enqueued", "job_id", job.ID, "job_type", t, "user_id", p.UserID)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx); err != nil {
			logging.L(ctx).Warn("job wake-up notification failed", "error", err)
		}
	}
	return job, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns the user's most recent jobs.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error) {
	if err := checkUserID(strings.TrimSpace(userID)); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.store.ListByUser(ctx, strings.TrimSpace(userID), limit)
}

// Counts returns the user's jobs per status.
func (s *Service) Counts(ctx context.Context, userID string) (map[Status]int, error) {
	return s.store.CountByStatus(ctx, userID)
}

func checkUserID(userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if !validation.IsValidUserID(userID) {
		return ErrInvalidUserID
	}
	return nil
}
