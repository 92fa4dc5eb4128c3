package alert

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps alerts in process memory with sequential IDs from 1.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	alerts map[int64]Alert
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1, alerts: make(map[int64]Alert)}
}

func (r *MemoryRepository) Insert(_ context.Context, a Alert) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = r.nextID
	r.nextID++
	r.alerts[a.ID] = a
	return a, nil
}

func (r *MemoryRepository) Get(_ context.Context, id int64) (Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]Alert, error) {
	return r.filter(func(a Alert) bool { return a.OwnerID == ownerID && !a.Deleted() }), nil
}

func (r *MemoryRepository) ListActive(_ context.Context) ([]Alert, error) {
	return r.filter(func(a Alert) bool { return a.Status == StatusActive }), nil
}

func (r *MemoryRepository) Save(_ context.Context, a Alert) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.alerts[a.ID]
	if !ok || current.Deleted() {
		return Alert{}, ErrNotFound
	}
	a.LastTriggeredAt = current.LastTriggeredAt
	r.alerts[a.ID] = a
	return a, nil
}

func (r *MemoryRepository) MarkTriggered(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok || a.Status != StatusActive {
		return ErrNotFound
	}
	a.LastTriggeredAt = &at
	a.UpdatedAt = at
	r.alerts[id] = a
	return nil
}

func (r *MemoryRepository) filter(keep func(Alert) bool) []Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ Repository = (*MemoryRepository)(nil)
