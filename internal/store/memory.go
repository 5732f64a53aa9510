package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fyrsmithlabs/researchd/internal/task"
)

// Memory is an in-memory Store used by tests and by the embedded dev mode
// before a bucket exists. It shares the merge semantics of the KV store.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

// Get returns the record for a task, or ErrNotFound.
func (s *Memory) Get(ctx context.Context, taskID string) (*task.Record, error) {
	s.mu.RLock()
	data, ok := s.records[taskID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	var rec task.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update merges fields into the task's record and returns the merged result.
func (s *Memory) Update(ctx context.Context, taskID string, fields map[string]any) (*task.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, rec, err := merge(s.records[taskID], fields)
	if err != nil {
		return nil, err
	}
	s.records[taskID] = data
	return rec, nil
}

// List returns the ids of all stored tasks.
func (s *Memory) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}
