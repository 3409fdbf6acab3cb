package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/riskintake/internal/idgen"
)

// MemoryStore is an in-memory job store for demo/development mode.
type MemoryStore struct {
	jobs map[string]*memJob
	seq  uint64
	now  func() time.Time
	mu   sync.Mutex
}

type memJob struct {
	job *Job
	seq uint64
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Enqueue(_ context.Context, t Type, p Payload) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.seq++
	j := &Job{
		ID:        idgen.New(),
		Type:      t,
		Payload:   p,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[j.ID] = &memJob{job: j, seq: m.seq}
	return copyJob(j), nil
}

func (m *MemoryStore) ClaimPending(_ context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*memJob
	for _, mj := range m.jobs {
		if mj.job.Status == StatusPending {
			pending = append(pending, mj)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.seq < b.seq
		}
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := m.now()
	claimed := make([]*Job, 0, len(pending))
	for _, mj := range pending {
		mj.job.Status = StatusProcessing
		mj.job.StartedAt = &now
		mj.job.UpdatedAt = now
		claimed = append(claimed, copyJob(mj.job))
	}
	return claimed, nil
}

func (m *MemoryStore) Complete(_ context.Context, id string, result Result) error {
	return m.finish(id, func(j *Job) {
		j.Status = StatusDone
		r := result
		j.Result = &r
	})
}

func (m *MemoryStore) Fail(_ context.Context, id string, reason string) error {
	return m.finish(id, func(j *Job) {
		j.Status = StatusFailed
		j.LastError = truncateReason(reason)
	})
}

func (m *MemoryStore) finish(id string, apply func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mj, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if mj.job.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	apply(mj.job)
	now := m.now()
	mj.job.FinishedAt = &now
	mj.job.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(mj.job), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*memJob
	for _, mj := range m.jobs {
		if mj.job.Payload.UserID == userID {
			matched = append(matched, mj)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.seq > b.seq
		}
		return a.job.CreatedAt.After(b.job.CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	result := make([]*Job, 0, len(matched))
	for _, mj := range matched {
		result = append(result, copyJob(mj.job))
	}
	return result, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, userID string) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	for _, mj := range m.jobs {
		if userID == "" || mj.job.Payload.UserID == userID {
			counts[mj.job.Status]++
		}
	}
	return counts, nil
}

func copyJob(j *Job) *Job {
	cp := *j
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
