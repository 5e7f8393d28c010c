package jobs

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a job id is absent from the store.
var ErrNotFound = errors.New("job not found")

// Store is a keyed store of job records. The pipeline writes through the
// Tracker; implementations only need last-write-wins semantics because a
// single stage writes to a given job at a time.
type Store interface {
	// Get returns the job with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Put inserts or replaces a job record.
	Put(ctx context.Context, job *Job) error

	// Delete removes a job record. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every stored job, in no particular order.
	List(ctx context.Context) ([]*Job, error)
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, job *Job) error {
	cp := *job
	s.mu.Lock()
	s.jobs[job.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	return jobs, nil
}
