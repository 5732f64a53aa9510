package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fyrsmithlabs/researchd/internal/task"
)

// DefaultBucket is the JetStream key-value bucket holding task records.
const DefaultBucket = "research_tasks"

// KV is a Store backed by a NATS JetStream key-value bucket.
type KV struct {
	kv jetstream.KeyValue
}

// NewKV creates a KV store on the given connection, creating the bucket if
// it does not exist yet.
func NewKV(ctx context.Context, nc *nats.Conn, bucket string) (*KV, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "researchd task records",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}

	return &KV{kv: kv}, nil
}

// Get returns the record for a task, or ErrNotFound.
func (s *KV) Get(ctx context.Context, taskID string) (*task.Record, error) {
	entry, err := s.kv.Get(ctx, taskID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %s", ErrUnavailable, taskID, err)
	}

	var rec task.Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &rec, nil
}

// Update merges fields into the task's record and returns the merged result.
func (s *KV) Update(ctx context.Context, taskID string, fields map[string]any) (*task.Record, error) {
	var current []byte
	entry, err := s.kv.Get(ctx, taskID)
	switch {
	case err == nil:
		current = entry.Value()
	case errors.Is(err, jetstream.ErrKeyNotFound):
		// New record, merge into empty state.
	default:
		return nil, fmt.Errorf("%w: get %s: %s", ErrUnavailable, taskID, err)
	}

	data, rec, err := merge(current, fields)
	if err != nil {
		return nil, err
	}

	if _, err := s.kv.Put(ctx, taskID, data); err != nil {
		return nil, fmt.Errorf("%w: put %s: %s", ErrUnavailable, taskID, err)
	}
	return rec, nil
}

// List returns the ids of all stored tasks.
func (s *KV) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %s", ErrUnavailable, err)
	}
	return keys, nil
}
