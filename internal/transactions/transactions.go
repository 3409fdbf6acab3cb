// Package transactions stores scored transactions and serves them over HTTP.
package transactions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskintake/internal/csvmap"
	"github.com/mbd888/riskintake/internal/idgen"
	"github.com/mbd888/riskintake/internal/pagination"
	"github.com/mbd888/riskintake/internal/risk"
)

var (
	ErrNotFound         = errors.New("transactions: not found")
	ErrDuplicate        = errors.New("transactions: duplicate id")
	ErrInvalidTimestamp = errors.New("transactions: unparseable timestamp")
	ErrInvalidInput     = errors.New("transactions: invalid input")
)

// Source records how a transaction entered the system.
type Source string

const (
	SourceAPI Source = "api"
	SourceCSV Source = "csv"
)

// Transaction is a persisted, scored transaction. Only RiskScore changes
// after insert.
type Transaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Country   string          `json:"country"`
	Merchant  string          `json:"merchant"`
	Timestamp time.Time       `json:"timestamp"`
	RiskScore float64         `json:"risk_score"`
	Source    Source          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// RiskInput rebuilds the estimator input from stored fields.
func (t *Transaction) RiskInput() risk.Input {
	amount, _ := t.Amount.Float64()
	return risk.Input{
		Amount:    amount,
		Country:   t.Country,
		Merchant:  t.Merchant,
		Timestamp: t.Timestamp.UTC().Format(csvmap.CanonicalTimestampLayout),
	}
}

// FromDraft converts a mapped draft into an unsaved transaction. A blank
// timestamp becomes now; one that cannot be parsed is rejected.
func FromDraft(userID string, d csvmap.Draft, source Source, now time.Time) (*Transaction, error) {
	ts := now.UTC()
	if raw := strings.TrimSpace(d.Timestamp); raw != "" {
		parsed, ok := risk.ParseTimestamp(raw)
		if !ok {
			return nil, ErrInvalidTimestamp
		}
		ts = parsed.UTC()
	}
	return &Transaction{
		ID:        idgen.New(),
		UserID:    userID,
		Amount:    decimal.NewFromFloat(d.Amount),
		Country:   d.Country,
		Merchant:  d.Merchant,
		Timestamp: ts,
		Source:    source,
		CreatedAt: now.UTC(),
	}, nil
}

// Summary aggregates a user's transactions for the dashboard.
type Summary struct {
	Count         int             `json:"count"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AverageRisk   float64         `json:"average_risk"`
	MaxRisk       float64         `json:"max_risk"`
	HighRiskCount int             `json:"high_risk_count"`
	ByCountry     map[string]int  `json:"by_country"`
}

// Store persists transactions.
type Store interface {
	Insert(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	// ListByUser returns every transaction of the user, newest created_at first.
	ListByUser(ctx context.Context, userID string) ([]*Transaction, error)
	// ListPage returns up to limit transactions strictly after cursor in
	// newest-first order. A nil cursor starts at the newest.
	ListPage(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error)
	UpdateRiskScore(ctx context.Context, id string, score float64) error
	// Summary aggregates the user's transactions; scores at or above
	// highRisk count as high risk.
	Summary(ctx context.Context, userID string, highRisk float64) (*Summary, error)
}
