package transactions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskintake/internal/pagination"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	txs map[string]*Transaction
	mu  sync.RWMutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

func (m *MemoryStore) Insert(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txs[tx.ID]; exists {
		return ErrDuplicate
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	cp := *tx
	m.txs[tx.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byUser(userID), nil
}

func (m *MemoryStore) ListPage(_ context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, tx := range m.byUser(userID) {
		if !cursor.After(tx.CreatedAt, tx.ID) {
			continue
		}
		result = append(result, tx)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) UpdateRiskScore(_ context.Context, id string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return ErrNotFound
	}
	tx.RiskScore = score
	return nil
}

func (m *MemoryStore) Summary(_ context.Context, userID string, highRisk float64) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Summary{TotalAmount: decimal.Zero, ByCountry: make(map[string]int)}
	var riskSum float64
	for _, tx := range m.txs {
		if tx.UserID != userID {
			continue
		}
		s.Count++
		s.TotalAmount = s.TotalAmount.Add(tx.Amount)
		riskSum += tx.RiskScore
		if tx.RiskScore > s.MaxRisk {
			s.MaxRisk = tx.RiskScore
		}
		if tx.RiskScore >= highRisk {
			s.HighRiskCount++
		}
		s.ByCountry[tx.Country]++
	}
	if s.Count > 0 {
		s.AverageRisk = riskSum / float64(s.Count)
	}
	return s, nil
}

// byUser returns copies sorted newest first. Caller holds the lock.
func (m *MemoryStore) byUser(userID string) []*Transaction {
	var result []*Transaction
	for _, tx := range m.txs {
		if tx.UserID == userID {
			cp := *tx
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}
