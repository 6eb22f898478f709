// Package status tracks the externally visible state of research jobs.
package status

import (
	"sync"

	"github.com/sells-group/research-agent/internal/model"
)

// Store is the job status contract. A single writer (the job's state
// machine) advances a job; any number of pollers may read concurrently.
// Implementations must write phase, detail and payload atomically so a
// reader never observes a mix of old and new fields.
type Store interface {
	// Set records the current status for a job, replacing any prior entry.
	Set(jobID string, phase model.Phase, detail string, payload map[string]any)

	// Get returns the last known status. Unknown IDs yield a placeholder
	// with phase "unknown"; Get never fails.
	Get(jobID string) model.Status

	// Reset clears all stored statuses. Test utility.
	Reset()

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore is the default volatile Store: a mutex-guarded map. The lock
// is held only for the map operation itself, never across I/O.
type MemoryStore struct {
	mu       sync.Mutex
	statuses map[string]model.Status
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[string]model.Status)}
}

func (s *MemoryStore) Set(jobID string, phase model.Phase, detail string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[jobID] = model.Status{
		JobID:   jobID,
		Phase:   phase,
		Detail:  detail,
		Payload: payload,
	}
}

func (s *MemoryStore) Get(jobID string) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[jobID]; ok {
		return st
	}
	return unknownStatus(jobID)
}

func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = make(map[string]model.Status)
}

func (s *MemoryStore) Close() error { return nil }

func unknownStatus(jobID string) model.Status {
	return model.Status{
		JobID:  jobID,
		Phase:  model.PhaseUnknown,
		Detail: "job not found",
	}
}
