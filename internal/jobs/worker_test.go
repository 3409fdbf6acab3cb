package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWorker_UnknownTypeFailsWithoutAffectingBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.service.EnqueueRescoreAll(ctx, "alice")
	require.NoError(t, err)
	bogus, err := f.jobs.Enqueue(ctx, Type("bogus"), Payload{UserID: "alice"})
	require.NoError(t, err)
	after, err := f.service.EnqueueRescoreAll(ctx, "bob")
	require.NoError(t, err)

	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got := f.job(t, bogus.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "unknown job type")
	assert.Nil(t, got.Result)

	assert.Equal(t, StatusDone, f.job(t, before.ID).Status)
	assert.Equal(t, StatusDone, f.job(t, after.ID).Status)
}

func TestWorker_PanicFailsOnlyThatJob(t *testing.T) {
	f := newFixture(t, WithHandler(TypeRescoreAll, func(_ context.Context, job *Job) (Result, error) {
		if job.Payload.UserID == "explode" {
			panic("kaboom")
		}
		return Result{Updated: 1}, nil
	}))
	ctx := context.Background()

	bad, _ := f.service.EnqueueRescoreAll(ctx, "explode")
	good, _ := f.service.EnqueueRescoreAll(ctx, "fine")

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, f.job(t, bad.ID).Status)
	assert.Contains(t, f.job(t, bad.ID).LastError, "kaboom")
	assert.Equal(t, StatusDone, f.job(t, good.ID).Status)
	assert.Equal(t, 1, f.job(t, good.ID).Result.Updated)
}

func TestWorker_BatchSizeLimitsClaim(t *testing.T) {
	f := newFixture(t, WithBatchSize(2))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.service.EnqueueRescoreAll(ctx, "u1")
		require.NoError(t, err)
	}

	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := f.jobs.CountByStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusDone])
	assert.Equal(t, 3, counts[StatusPending])
}

func TestWorker_CancelledContextStillRecordsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, WithHandler(TypeRescoreAll, func(context.Context, *Job) (Result, error) {
		cancel() // shutdown arrives mid-job
		return Result{Updated: 7}, nil
	}))

	job, err := f.service.EnqueueRescoreAll(context.Background(), "u1")
	require.NoError(t, err)

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, f.job(t, job.ID).Status)
}

func TestWorker_JobTimeoutIsFatal(t *testing.T) {
	f := newFixture(t,
		WithJobTimeout(20*time.Millisecond),
		WithHandler(TypeRescoreAll, func(ctx context.Context, _ *Job) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}),
	)
	job, err := f.service.EnqueueRescoreAll(context.Background(), "u1")
	require.NoError(t, err)

	_, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	got := f.job(t, job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "deadline exceeded")
}

func TestWorker_StartWakesOnNotify(t *testing.T) {
	notifier := NewLocalNotifier()
	f := newFixture(t, WithNotifier(notifier), WithPollInterval(time.Hour))
	f.service.notifier = notifier

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.worker.Start(ctx)
		close(done)
	}()

	job, err := f.service.EnqueueRescoreAll(context.Background(), "u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := f.jobs.Get(context.Background(), job.ID)
		return err == nil && j.Status == StatusDone
	}, 2*time.Second, 10*time.Millisecond)

	f.worker.Stop()
	f.worker.Stop() // idempotent
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_StartPollsWithoutNotifier(t *testing.T) {
	f := newFixture(t, WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	job, err := f.service.EnqueueRescoreAll(context.Background(), "u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := f.jobs.Get(context.Background(), job.ID)
		return err == nil && j.Status == StatusDone
	}, 2*time.Second, 10*time.Millisecond)
}

// mockStore is a Store double for failure injection.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Enqueue(ctx context.Context, t Type, p Payload) (*Job, error) {
	args := m.Called(ctx, t, p)
	j, _ := args.Get(0).(*Job)
	return j, args.Error(1)
}

func (m *mockStore) ClaimPending(ctx context.Context, limit int) ([]*Job, error) {
	args := m.Called(ctx, limit)
	jobs, _ := args.Get(0).([]*Job)
	return jobs, args.Error(1)
}

func (m *mockStore) Complete(ctx context.Context, id string, result Result) error {
	return m.Called(ctx, id, result).Error(0)
}

func (m *mockStore) Fail(ctx context.Context, id string, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

func (m *mockStore) Get(ctx context.Context, id string) (*Job, error) {
	args := m.Called(ctx, id)
	j, _ := args.Get(0).(*Job)
	return j, args.Error(1)
}

func (m *mockStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error) {
	args := m.Called(ctx, userID, limit)
	jobs, _ := args.Get(0).([]*Job)
	return jobs, args.Error(1)
}

func (m *mockStore) CountByStatus(ctx context.Context, userID string) (map[Status]int, error) {
	args := m.Called(ctx, userID)
	counts, _ := args.Get(0).(map[Status]int)
	return counts, args.Error(1)
}

func TestWorker_ClaimErrorIsReturned(t *testing.T) {
	store := &mockStore{}
	store.On("ClaimPending", mock.Anything, DefaultBatchSize).Return(nil, errors.New("connection refused")).Once()

	w := NewWorker(store, nil)
	n, err := w.RunOnce(context.Background())
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "connection refused")
	store.AssertExpectations(t)
}

func TestWorker_LoopSurvivesStoreOutage(t *testing.T) {
	store := &mockStore{}
	var claims atomic.Int32
	store.On("ClaimPending", mock.Anything, 1).
		Run(func(mock.Arguments) { claims.Add(1) }).
		Return(nil, errors.New("connection refused")).Times(2)
	store.On("ClaimPending", mock.Anything, 1).
		Run(func(mock.Arguments) { claims.Add(1) }).
		Return([]*Job{{ID: "j1", Type: TypeRescoreAll, Status: StatusProcessing}}, nil).Once()
	store.On("ClaimPending", mock.Anything, 1).Return([]*Job{}, nil)
	var completes atomic.Int32
	store.On("Complete", mock.Anything, "j1", Result{Updated: 1}).
		Run(func(mock.Arguments) { completes.Add(1) }).
		Return(nil).Once()

	w := NewWorker(store, nil,
		WithBatchSize(1),
		WithPollInterval(5*time.Millisecond),
		WithHandler(TypeRescoreAll, func(context.Context, *Job) (Result, error) {
			return Result{Updated: 1}, nil
		}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.Eventually(t, func() bool { return claims.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return completes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	w.Stop()
}

func TestWorker_TransitionErrorIsLoggedNotFatal(t *testing.T) {
	store := &mockStore{}
	store.On("ClaimPending", mock.Anything, DefaultBatchSize).
		Return([]*Job{{ID: "gone", Type: Type("bogus")}}, nil).Once()
	store.On("Fail", mock.Anything, "gone", mock.AnythingOfType("string")).Return(ErrInvalidTransition).Once()

	w := NewWorker(store, nil)
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	store.AssertExpectations(t)
}
