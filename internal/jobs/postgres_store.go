package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mbd888/riskintake/internal/idgen"
)

// PostgresStore persists jobs in PostgreSQL. Claims use FOR UPDATE SKIP
// LOCKED so concurrent workers never receive the same job.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed job store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, type, payload, status, result, last_error,
	created_at, updated_at, started_at, finished_at`

func (p *PostgresStore) Enqueue(ctx context.Context, t Type, pl Payload) (*Job, error) {
	payload, err := json.Marshal(pl)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, type, payload, status, user_id)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING `+jobColumns,
		idgen.New(), string(t), string(payload), pl.UserID,
	)
	return scanJob(row)
}

func (p *PostgresStore) ClaimPending(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		WITH next AS (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET status = 'processing', started_at = NOW(), updated_at = NOW()
		FROM next
		WHERE j.id = next.id
		RETURNING j.id, j.type, j.payload, j.status, j.result, j.last_error,
		          j.created_at, j.updated_at, j.started_at, j.finished_at`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	claimed, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the CTE order.
	sort.SliceStable(claimed, func(i, j int) bool {
		if claimed[i].CreatedAt.Equal(claimed[j].CreatedAt) {
			return claimed[i].ID < claimed[j].ID
		}
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

func (p *PostgresStore) Complete(ctx context.Context, id string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'done', result = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, string(data))
	if err != nil {
		return err
	}
	return p.checkTransition(ctx, res, id)
}

func (p *PostgresStore) Fail(ctx context.Context, id string, reason string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, truncateReason(reason))
	if err != nil {
		return err
	}
	return p.checkTransition(ctx, res, id)
}

// checkTransition distinguishes a missing job from one in the wrong state
// when a conditional update touched no rows.
func (p *PostgresStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrJobNotFound
	}
	return ErrInvalidTransition
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

func (p *PostgresStore) CountByStatus(ctx context.Context, userID string) (map[Status]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM jobs
		WHERE $1::text = '' OR user_id = $1::text
		GROUP BY status`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*Job, error) {
	j := &Job{}
	var (
		jobType, status string
		payload         []byte
		result          []byte
		lastError       sql.NullString
		startedAt       sql.NullTime
		finishedAt      sql.NullTime
	)
	if err := sc.Scan(
		&j.ID, &jobType, &payload, &status, &result, &lastError,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	j.Type = Type(jobType)
	j.Status = Status(status)
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for job %s: %w", j.ID, err)
	}
	if len(result) > 0 {
		var r Result
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("decode result for job %s: %w", j.ID, err)
		}
		j.Result = &r
	}
	j.LastError = lastError.String
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		j.FinishedAt = &t
	}
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var result []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}
