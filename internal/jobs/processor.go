package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mbd888/riskintake/internal/blob"
	"github.com/mbd888/riskintake/internal/csvmap"
	"github.com/mbd888/riskintake/internal/logging"
	"github.com/mbd888/riskintake/internal/metrics"
	"github.com/mbd888/riskintake/internal/transactions"
)

// Transactions is what the processor needs from the transaction service.
type Transactions interface {
	Ingest(ctx context.Context, userID string, d csvmap.Draft) (*transactions.Transaction, error)
	ListByUser(ctx context.Context, userID string) ([]*transactions.Transaction, error)
	Rescore(ctx context.Context, tx *transactions.Transaction) (float64, error)
}

// errRowPanic marks a row or record whose handling panicked.
var errRowPanic = errors.New("jobs: row handling panicked")

// Processor executes job bodies. A returned error fails the whole job.
// Problems with the data of a single row or record are logged, counted as
// skipped and do not stop the job; infrastructure errors fail it.
type Processor struct {
	blobs  blob.Store
	txs    Transactions
	mapper *csvmap.Mapper
}

// NewProcessor creates a job processor.
func NewProcessor(blobs blob.Store, txs Transactions, mapper *csvmap.Mapper) *Processor {
	if mapper == nil {
		mapper = csvmap.NewDefault()
	}
	return &Processor{blobs: blobs, txs: txs, mapper: mapper}
}

// ParseCSV ingests the uploaded file named by the job payload. Rows inserted
// before a fatal error stay inserted, and the upload is kept so the file can
// be enqueued again.
func (p *Processor) ParseCSV(ctx context.Context, job *Job) (Result, error) {
	var res Result
	userID, locator := job.Payload.UserID, job.Payload.FileLocator
	if userID == "" {
		return res, ErrMissingUserID
	}
	if locator == "" {
		return res, ErrMissingLocator
	}
	logger := logging.FromContext(ctx)

	data, err := p.blobs.Get(ctx, locator)
	if err != nil {
		return res, fmt.Errorf("fetch upload %s: %w", locator, err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	switch {
	case errors.Is(err, io.EOF):
		logger.Info("csv upload is empty")
		p.discard(ctx, locator, logger)
		return res, nil
	case err != nil:
		return res, fmt.Errorf("read csv header: %w", err)
	}
	binding := p.mapper.Bind(headers)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				logger.Warn("skipping unreadable csv row", "line", parseErr.Line, "error", err)
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("read csv: %w", err)
		}

		if err := p.ingestRow(ctx, userID, binding, record); err != nil {
			line, _ := reader.FieldPos(0)
			if !isRowError(err) {
				return res, fmt.Errorf("ingest csv line %d: %w", line, err)
			}
			logger.Warn("skipping csv row", "line", line, "error", err)
			res.Skipped++
			continue
		}
		res.Inserted++
	}

	metrics.RowsIngestedTotal.Add(float64(res.Inserted))
	metrics.RowsSkippedTotal.Add(float64(res.Skipped))
	p.discard(ctx, locator, logger)
	return res, nil
}

func (p *Processor) ingestRow(ctx context.Context, userID string, binding *csvmap.Binding, record []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errRowPanic, r)
		}
	}()
	draft, err := binding.Map(record)
	if err != nil {
		return err
	}
	_, err = p.txs.Ingest(ctx, userID, draft)
	return err
}

// isRowError reports whether err is confined to the data of a single row.
func isRowError(err error) bool {
	return errors.Is(err, csvmap.ErrInvalidEncoding) ||
		errors.Is(err, transactions.ErrInvalidTimestamp) ||
		errors.Is(err, transactions.ErrInvalidInput) ||
		errors.Is(err, transactions.ErrDuplicate) ||
		errors.Is(err, errRowPanic)
}

// discard removes a consumed upload. Failure only leaves a stray file behind.
func (p *Processor) discard(ctx context.Context, locator string, logger *slog.Logger) {
	if err := p.blobs.Delete(ctx, locator); err != nil && !errors.Is(err, blob.ErrNotFound) {
		logger.Warn("failed to delete processed upload", "locator", locator, "error", err)
	}
}

// RescoreAll recomputes the score of every transaction the user owns.
func (p *Processor) RescoreAll(ctx context.Context, job *Job) (Result, error) {
	var res Result
	userID := job.Payload.UserID
	if userID == "" {
		return res, ErrMissingUserID
	}
	logger := logging.FromContext(ctx)

	txs, err := p.txs.ListByUser(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list transactions: %w", err)
	}

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := p.rescoreOne(ctx, tx); err != nil {
			// A transaction deleted since the listing is no longer ours to score.
			if !isRowError(err) && !errors.Is(err, transactions.ErrNotFound) {
				return res, fmt.Errorf("rescore transaction %s: %w", tx.ID, err)
			}
			logger.Warn("skipping transaction rescore", "transaction_id", tx.ID, "error", err)
			res.Skipped++
			continue
		}
		res.Updated++
	}

	metrics.TransactionsRescoredTotal.Add(float64(res.Updated))
	return res, nil
}

func (p *Processor) rescoreOne(ctx context.Context, tx *transactions.Transaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errRowPanic, r)
		}
	}()
	_, err = p.txs.Rescore(ctx, tx)
	return err
}
