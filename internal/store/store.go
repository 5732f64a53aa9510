// Package store provides the state store holding all task records.
//
// The store is the only shared mutable resource in the system. Records are
// keyed by task id and mutated exclusively through Update, a read-modify-write
// merge. The core assumes single-writer-per-task: exactly one coordinator
// execution operates on a given task id at a time. Horizontal scaling requires
// an external lease or partitioning scheme on top of this package.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/researchd/internal/task"
)

var (
	// ErrNotFound is returned by Get for an unknown task id.
	ErrNotFound = errors.New("task not found")

	// ErrUnavailable indicates the storage layer could not be reached.
	// It is fatal to the in-flight workflow step.
	ErrUnavailable = errors.New("state store unavailable")
)

// Store is the persistence contract for task records.
type Store interface {
	// Get returns the record for a task, or ErrNotFound.
	Get(ctx context.Context, taskID string) (*task.Record, error)

	// Update merges fields into the task's record and returns the merged
	// result. A missing record is created from the given fields. New keys
	// are added, existing keys overwritten, and arrays replaced wholesale;
	// append-only fields (key_findings, agent_logs) are written by the
	// caller as the full new array including prior entries.
	Update(ctx context.Context, taskID string, fields map[string]any) (*task.Record, error)

	// List returns the ids of all stored tasks.
	List(ctx context.Context) ([]string, error)
}

// merge applies fields onto the current serialized record at the JSON level
// and maintains updated_at. current may be empty for a new record.
func merge(current []byte, fields map[string]any) ([]byte, *task.Record, error) {
	state := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &state); err != nil {
			return nil, nil, fmt.Errorf("corrupt task record: %w", err)
		}
	}

	for k, v := range fields {
		state[k] = v
	}
	state["updated_at"] = time.Now().UTC()

	data, err := json.Marshal(state)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal task record: %w", err)
	}

	var rec task.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("merged record does not decode: %w", err)
	}

	return data, &rec, nil
}
