// internal/record/memory.go
package record

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Slade66/resumable-fetcher/internal/state"
)

// MemoryStore 是进程内的 Store 实现，用于测试和一次性的命令行运行
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	records map[int64]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]Record)}
}

func (m *MemoryStore) Insert(_ context.Context, r Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.ID = m.seq
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.records[r.ID] = r
	return r.ID, nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) UpdateState(_ context.Context, id int64, s state.State, finishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.State = s
	r.FinishedAt = finishedAt
	m.records[id] = r
	return nil
}

func (m *MemoryStore) ListByState(_ context.Context, states ...state.State) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if slices.Contains(states, r.State) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *MemoryStore) DeleteByState(_ context.Context, s state.State) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.records {
		if r.State == s {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}
