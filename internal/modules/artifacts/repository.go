package artifacts

import (
	"context"
	"sync"
)

// Repository stores cycle records.
type Repository interface {
	SaveCycle(ctx context.Context, record *CycleRecord) error
	GetCycle(ctx context.Context, id string) (*CycleRecord, error)
	LatestCycle(ctx context.Context) (*CycleRecord, error)
	ListCycles(ctx context.Context, limit int) ([]*CycleRecord, error)
}

// MemoryRepository keeps cycles in memory, newest last.
type MemoryRepository struct {
	mu     sync.RWMutex
	cycles []*CycleRecord
	byID   map[string]int
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]int)}
}

// SaveCycle stores a copy of record, replacing one with the same id.
func (r *MemoryRepository) SaveCycle(_ context.Context, record *CycleRecord) error {
	stored := clone(record)

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byID[record.ID]; ok {
		r.cycles[i] = stored
		return nil
	}
	r.byID[record.ID] = len(r.cycles)
	r.cycles = append(r.cycles, stored)
	return nil
}

// GetCycle returns the cycle with id or ErrNotFound.
func (r *MemoryRepository) GetCycle(_ context.Context, id string) (*CycleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r.cycles[i]), nil
}

// LatestCycle returns the most recently saved cycle or ErrNotFound.
func (r *MemoryRepository) LatestCycle(_ context.Context) (*CycleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.cycles) == 0 {
		return nil, ErrNotFound
	}
	return clone(r.cycles[len(r.cycles)-1]), nil
}

// ListCycles returns up to limit cycles, newest first.
func (r *MemoryRepository) ListCycles(_ context.Context, limit int) ([]*CycleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.cycles)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*CycleRecord, 0, n)
	for i := len(r.cycles) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, clone(r.cycles[i]))
	}
	return out, nil
}

func clone(c *CycleRecord) *CycleRecord {
	out := *c
	out.Strategies = append([]StrategyRecord(nil), c.Strategies...)
	if c.Plan != nil {
		plan := *c.Plan
		plan.Items = append(plan.Items[:0:0], c.Plan.Items...)
		out.Plan = &plan
	}
	return &out
}
