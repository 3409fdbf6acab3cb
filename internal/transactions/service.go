package transactions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskintake/internal/csvmap"
	"github.com/mbd888/riskintake/internal/metrics"
	"github.com/mbd888/riskintake/internal/pagination"
	"github.com/mbd888/riskintake/internal/risk"
	"github.com/mbd888/riskintake/internal/validation"
)

// ScoreRequest is a transaction to score without storing. Amount accepts a
// number or a numeric string; anything else scores as zero.
type ScoreRequest struct {
	Amount    any    `json:"amount"`
	Country   string `json:"country"`
	Merchant  string `json:"merchant"`
	Timestamp string `json:"timestamp"`
}

// Draft applies mapper defaults to the request.
func (r ScoreRequest) Draft() csvmap.Draft {
	d := csvmap.Draft{
		Amount:    risk.Amount(r.Amount),
		Country:   strings.TrimSpace(r.Country),
		Merchant:  strings.TrimSpace(r.Merchant),
		Timestamp: strings.TrimSpace(r.Timestamp),
	}
	if d.Country == "" {
		d.Country = csvmap.DefaultCountry
	}
	if d.Merchant == "" {
		d.Merchant = csvmap.DefaultMerchant
	}
	return d
}

// CreateRequest is a direct API insert.
type CreateRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Country   string          `json:"country"`
	Merchant  string          `json:"merchant"`
	Timestamp string          `json:"timestamp"`
}

// Page is one newest-first slice of a user's transactions.
type Page struct {
	Transactions []*Transaction `json:"transactions"`
	NextCursor   string         `json:"next_cursor,omitempty"`
	HasMore      bool           `json:"has_more"`
}

// Service scores and stores transactions.
type Service struct {
	store     Store
	estimator *risk.Estimator
	now       func() time.Time
}

// NewService creates a transaction service.
func NewService(store Store, estimator *risk.Estimator) *Service {
	return &Service{store: store, estimator: estimator, now: time.Now}
}

// WithClock overrides the time source used for created_at and missing timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Estimator returns the estimator used for scoring.
func (s *Service) Estimator() *risk.Estimator {
	return s.estimator
}

// Score assesses a draft without persisting anything.
func (s *Service) Score(d csvmap.Draft) risk.Assessment {
	return s.estimator.Assess(d.RiskInput())
}

// Create validates, scores and inserts a single transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	userID := strings.TrimSpace(req.UserID)
	if errs := validation.Validate(
		validation.Required("user_id", userID),
		validation.ValidUserID("user_id", userID),
		validation.MaxLength("country", req.Country, validation.MaxStringLength),
		validation.MaxLength("merchant", req.Merchant, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, errs.Error())
	}

	amount, _ := req.Amount.Float64()
	d := ScoreRequest{
		Country:   req.Country,
		Merchant:  req.Merchant,
		Timestamp: req.Timestamp,
	}.Draft()
	d.Amount = amount

	tx, err := FromDraft(userID, d, SourceAPI, s.now())
	if err != nil {
		return nil, err
	}
	tx.Amount = req.Amount
	if err := s.insert(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Ingest scores and inserts a mapped CSV row.
func (s *Service) Ingest(ctx context.Context, userID string, d csvmap.Draft) (*Transaction, error) {
	tx, err := FromDraft(userID, d, SourceCSV, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Service) insert(ctx context.Context, tx *Transaction) error {
	tx.RiskScore = s.estimator.Score(tx.RiskInput())
	if err := s.store.Insert(ctx, tx); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	metrics.TransactionsTotal.WithLabelValues(string(tx.Source)).Inc()
	metrics.ObserveRiskScore(tx.RiskScore, s.estimator.Scale().Max())
	return nil
}

// ListByUser returns all of a user's transactions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Transaction, error) {
	return s.store.ListByUser(ctx, userID)
}

// Rescore recomputes a stored transaction's score and persists it. The
// returned score is the new value.
func (s *Service) Rescore(ctx context.Context, tx *Transaction) (float64, error) {
	score := s.estimator.Score(tx.RiskInput())
	if err := s.store.UpdateRiskScore(ctx, tx.ID, score); err != nil {
		return 0, fmt.Errorf("update risk score %s: %w", tx.ID, err)
	}
	return score, nil
}

// Get returns a single transaction.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// List returns one page of a user's transactions.
func (s *Service) List(ctx context.Context, userID string, limit int, cursor string) (*Page, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	limit = pagination.ClampLimit(limit)

	items, err := s.store.ListPage(ctx, userID, limit+1, c)
	if err != nil {
		return nil, err
	}
	items, next, more := pagination.ComputePage(items, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	if items == nil {
		items = []*Transaction{}
	}
	return &Page{Transactions: items, NextCursor: next, HasMore: more}, nil
}

// Summary aggregates a user's transactions. High risk is measured against
// the estimator's scale.
func (s *Service) Summary(ctx context.Context, userID string) (*Summary, error) {
	return s.store.Summary(ctx, userID, risk.HighFraction*s.estimator.Scale().Max())
}
