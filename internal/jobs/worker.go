package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/riskintake/internal/logging"
	"github.com/mbd888/riskintake/internal/metrics"
	"github.com/mbd888/riskintake/internal/traces"
)

const (
	DefaultBatchSize    = 5
	DefaultPollInterval = 3 * time.Second
	DefaultJobTimeout   = 15 * time.Minute
)

// HandlerFunc executes one job body.
type HandlerFunc func(ctx context.Context, job *Job) (Result, error)

// Worker claims pending jobs and runs them through their handlers.
type Worker struct {
	store        Store
	handlers     map[Type]HandlerFunc
	notifier     Notifier
	batchSize    int
	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger
	stop         chan struct{}
	stopOnce     sync.Once
}

// Option configures a Worker.
type Option func(*Worker)

// WithBatchSize sets how many jobs are claimed per iteration.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithPollInterval sets the sleep between iterations.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithJobTimeout bounds how long a single job may run.
func WithJobTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.jobTimeout = d
		}
	}
}

// WithNotifier lets enqueue notifications cut the poll sleep short.
func WithNotifier(n Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithHandler registers or replaces the handler for a job type.
func WithHandler(t Type, h HandlerFunc) Option {
	return func(w *Worker) { w.handlers[t] = h }
}

// NewWorker creates a worker dispatching parse_csv and rescore_all to processor.
func NewWorker(store Store, processor *Processor, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		handlers:     make(map[Type]HandlerFunc),
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		jobTimeout:   DefaultJobTimeout,
		logger:       slog.Default(),
		stop:         make(chan struct{}),
	}
	if processor != nil {
		w.handlers[TypeParseCSV] = processor.ParseCSV
		w.handlers[TypeRescoreAll] = processor.RescoreAll
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the claim/dispatch/sleep loop until ctx is done or Stop is
// called. Call in a goroutine. Iteration errors are logged and retried on
// the next tick.
func (w *Worker) Start(ctx context.Context) {
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	w.logger.Info("job worker started", "batch_size", w.batchSize, "poll_interval", w.pollInterval)
	timer := time.NewTimer(0)
	defer timer.Stop()

	var wake <-chan struct{}
	if w.notifier != nil {
		wake = w.notifier.Wake()
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("job worker stopped")
			return
		case <-w.stop:
			w.logger.Info("job worker stopped")
			return
		case <-timer.C:
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if _, err := w.RunOnce(ctx); err != nil {
			metrics.WorkerLoopErrorsTotal.Inc()
			w.logger.Error("job worker iteration failed", "error", err)
		}
		timer.Reset(w.pollInterval)
	}
}

// Stop signals the worker to stop after the current iteration.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// RunOnce claims one batch and executes it. It returns how many jobs were
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	claimed, err := w.store.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}
	metrics.JobsClaimedTotal.Add(float64(len(claimed)))
	for _, job := range claimed {
		w.execute(ctx, job)
	}
	return len(claimed), nil
}

// execute runs a claimed job and records its terminal state. Work and
// bookkeeping are detached from ctx cancellation so shutdown never strands
// a claimed job in processing.
func (w *Worker) execute(ctx context.Context, job *Job) {
	base := context.WithoutCancel(ctx)
	base = logging.WithJob(base, w.logger, job.ID, string(job.Type), job.Payload.UserID)
	logger := logging.FromContext(base)

	spanCtx, span := traces.StartSpan(base, "job."+string(job.Type),
		traces.JobID(job.ID), traces.JobType(string(job.Type)), traces.UserID(job.Payload.UserID))

	start := time.Now()
	result, err := w.run(spanCtx, job)
	elapsed := time.Since(start)

	status := StatusDone
	if err != nil {
		status = StatusFailed
		if ferr := w.store.Fail(base, job.ID, err.Error()); ferr != nil {
			logger.Error("failed to mark job failed", "error", ferr)
		}
		logger.Error("job failed", "error", err, "duration", elapsed)
	} else {
		if cerr := w.store.Complete(base, job.ID, result); cerr != nil {
			logger.Error("failed to mark job done", "error", cerr)
		}
		logger.Info("job completed",
			"inserted", result.Inserted,
			"updated", result.Updated,
			"skipped", result.Skipped,
			"duration", elapsed,
		)
	}
	span.SetAttributes(traces.RowCounts(result.Inserted, result.Updated, result.Skipped)...)
	traces.End(span, err)

	label := string(job.Type)
	if _, ok := w.handlers[job.Type]; !ok {
		label = "unknown"
	}
	metrics.JobsFinishedTotal.WithLabelValues(label, string(status)).Inc()
	metrics.JobDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// run dispatches by type under the job timeout. Unknown types fail without
// running anything; a panicking handler fails only its own job.
func (w *Worker) run(ctx context.Context, job *Job) (res Result, err error) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownType, job.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}
