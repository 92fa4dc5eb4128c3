package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Job is the persisted definition of a scheduled job.
type Job struct {
	Name      string
	Interval  time.Duration
	NextRunAt time.Time
}

// JobStore persists job definitions across restarts.
type JobStore interface {
	List(ctx context.Context) ([]Job, error)
	Upsert(ctx context.Context, job Job) error
	Delete(ctx context.Context, name string) error
}

// MemoryJobStore keeps jobs for the lifetime of the process.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemoryJobStore returns an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job)}
}

func (m *MemoryJobStore) List(context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryJobStore) Upsert(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.Name] = job
	return nil
}

func (m *MemoryJobStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, name)
	return nil
}

var _ JobStore = (*MemoryJobStore)(nil)
