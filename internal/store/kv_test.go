package store

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/researchd/internal/task"
)

// startTestNATSServer starts an embedded JetStream-enabled NATS server.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestKV(t *testing.T) *KV {
	t.Helper()

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	kv, err := NewKV(ctx, nc, "test_tasks")
	require.NoError(t, err)
	return kv
}

func TestKV_GetNotFound(t *testing.T) {
	kv := newTestKV(t)

	rec, err := kv.Get(context.Background(), "missing")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKV_UpdateCreatesAndMerges(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	_, err := kv.Update(ctx, "task-1", map[string]any{
		"task_id":      "task-1",
		"topic":        "desalination methods",
		"status":       task.StatusInitialized,
		"key_findings": []string{},
	})
	require.NoError(t, err)

	rec, err := kv.Update(ctx, "task-1", map[string]any{
		"status":       task.StatusRefiningTopic,
		"key_findings": []string{"reverse osmosis dominates"},
	})
	require.NoError(t, err)

	assert.Equal(t, task.StatusRefiningTopic, rec.Status)
	assert.Equal(t, "desalination methods", rec.Topic)
	assert.Equal(t, []string{"reverse osmosis dominates"}, rec.KeyFindings)

	// The merge is durable, not just reflected in the return value.
	got, err := kv.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRefiningTopic, got.Status)
	assert.Equal(t, []string{"reverse osmosis dominates"}, got.KeyFindings)
}

func TestKV_UpdateVisibleToNextReader(t *testing.T) {
	// Step n's write must be visible to step n+1's reader on a second
	// client connection, as workers read through their own connections.
	server := startTestNATSServer(t)

	nc1, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc1.Close)
	nc2, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc2.Close)

	ctx := context.Background()
	writer, err := NewKV(ctx, nc1, "test_tasks")
	require.NoError(t, err)
	reader, err := NewKV(ctx, nc2, "test_tasks")
	require.NoError(t, err)

	_, err = writer.Update(ctx, "task-1", map[string]any{"topic": "geothermal"})
	require.NoError(t, err)

	rec, err := reader.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "geothermal", rec.Topic)
}

func TestKV_List(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	ids, err := kv.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = kv.Update(ctx, "task-1", map[string]any{"task_id": "task-1"})
	require.NoError(t, err)
	_, err = kv.Update(ctx, "task-2", map[string]any{"task_id": "task-2"})
	require.NoError(t, err)

	ids, err = kv.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"task-1", "task-2"}, ids)
}

func TestNewKV_DefaultBucket(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	kv, err := NewKV(context.Background(), nc, "")
	require.NoError(t, err)
	assert.NotNil(t, kv)
}
