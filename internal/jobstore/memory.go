package jobstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"mediavault/internal/models"
)

// MemoryStore is the embedded backend: a mutex-guarded table.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

var _ Store = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.Job)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (m *MemoryStore) Set(_ context.Context, job models.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.jobs[id]
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]models.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if f.matches(job) {
			items = append(items, job)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt > items[j].CreatedAt
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}
