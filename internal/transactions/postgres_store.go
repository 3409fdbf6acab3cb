package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mbd888/riskintake/internal/pagination"
)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `
	SELECT id, user_id, amount, country, merchant, timestamp,
	       risk_score, source, created_at
	FROM transactions`

func (p *PostgresStore) Insert(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, user_id, amount, country, merchant, timestamp,
			risk_score, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::timestamptz, NOW()))`,
		tx.ID, tx.UserID, tx.Amount, tx.Country, tx.Merchant, tx.Timestamp,
		tx.RiskScore, string(tx.Source), nullTime(tx),
	)
	return classify(err)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func (p *PostgresStore) ListPage(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = p.db.QueryContext(ctx, selectColumns+`
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, selectColumns+`
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func (p *PostgresStore) UpdateRiskScore(ctx context.Context, id string, score float64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE transactions SET risk_score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Summary(ctx context.Context, userID string, highRisk float64) (*Summary, error) {
	s := &Summary{ByCountry: make(map[string]int)}
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(amount), 0),
		       COALESCE(AVG(risk_score), 0),
		       COALESCE(MAX(risk_score), 0),
		       COUNT(*) FILTER (WHERE risk_score >= $2)
		FROM transactions
		WHERE user_id = $1`, userID, highRisk,
	).Scan(&s.Count, &s.TotalAmount, &s.AverageRisk, &s.MaxRisk, &s.HighRiskCount)
	if err != nil {
		return nil, fmt.Errorf("summary totals: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT country, COUNT(*)
		FROM transactions
		WHERE user_id = $1
		GROUP BY country`, userID)
	if err != nil {
		return nil, fmt.Errorf("summary countries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			country string
			n       int
		)
		if err := rows.Scan(&country, &n); err != nil {
			return nil, err
		}
		s.ByCountry[country] = n
	}
	return s, rows.Err()
}

// classify maps constraint violations onto package errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgerrcode.UniqueViolation:
			return ErrDuplicate
		case pgerrcode.CheckViolation, pgerrcode.NotNullViolation,
			pgerrcode.StringDataRightTruncationDataException, pgerrcode.NumericValueOutOfRange,
			pgerrcode.CharacterNotInRepertoire:
			return fmt.Errorf("%w: %s", ErrInvalidInput, pqErr.Message)
		}
	}
	return err
}

func nullTime(tx *Transaction) sql.NullTime {
	return sql.NullTime{Time: tx.CreatedAt, Valid: !tx.CreatedAt.IsZero()}
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(sc scanner) (*Transaction, error) {
	tx := &Transaction{}
	var (
		amount decimal.Decimal
		source string
	)
	if err := sc.Scan(
		&tx.ID, &tx.UserID, &amount, &tx.Country, &tx.Merchant, &tx.Timestamp,
		&tx.RiskScore, &source, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}
	tx.Amount = amount
	tx.Source = Source(source)
	tx.Timestamp = tx.Timestamp.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}
