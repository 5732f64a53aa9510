// Package coordinator drives the research workflow: a finite-state machine
// over the task record, executed as one sequential control loop per task.
//
// The coordinator owns all status transitions it performs (validated against
// the transition table in the task package), invokes the stateless workers in
// a fixed order through the worker client, consults the quality gate after
// each analysis step, and persists every transition to the state store. A
// worker or store failure at any step moves the task to the failed terminal
// status; context cancellation between steps moves it to cancelled.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/researchd/internal/gate"
	"github.com/fyrsmithlabs/researchd/internal/store"
	"github.com/fyrsmithlabs/researchd/internal/task"
	"github.com/fyrsmithlabs/researchd/internal/worker"
)

var (
	// ErrEmptyTopic is returned by StartWorkflow when no topic is given.
	ErrEmptyTopic = errors.New("topic is required")

	// ErrMaxIterations is returned when the requested iteration count
	// exceeds the configured limit.
	ErrMaxIterations = errors.New("max_iterations exceeds limit")
)

// Defaults for workflow configuration.
const (
	DefaultMaxIterations      = 2
	DefaultMaxIterationsLimit = 5

	// terminalWriteTimeout bounds the store write that records a terminal
	// status. It uses a fresh context: the run context may already be done.
	terminalWriteTimeout = 10 * time.Second
)

// coordinatorAgent is the current_agent label for coordinator-side writes.
const coordinatorAgent = "Chief Coordinator"

// agentLabels are the human-readable worker labels, diagnostic only.
var agentLabels = map[string]string{
	worker.TopicRefiner:      "Dr. Topic Refiner",
	worker.QuestionArchitect: "Prof. Question Architect",
	worker.SearchStrategist:  "Agent Search Strategist",
	worker.DataAnalyst:       "Dr. Data Analyst",
	worker.ReportWriter:      "Dr. Report Writer",
}

// Config configures workflow policy.
type Config struct {
	// QualityThreshold finalizes the loop once reached. Default 0.8.
	QualityThreshold float64

	// FindingsCap finalizes the loop once this many findings accumulated.
	// Default 10.
	FindingsCap int

	// DefaultMaxIterations is used when the caller does not supply one.
	DefaultMaxIterations int

	// MaxIterationsLimit rejects requests above it.
	MaxIterationsLimit int
}

// Coordinator runs research workflows. One goroutine per task; tasks share
// only the state store.
type Coordinator struct {
	store   store.Store
	workers worker.Invoker
	gate    gate.Gate
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a coordinator.
func New(st store.Store, workers worker.Invoker, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxIterations <= 0 {
		cfg.DefaultMaxIterations = DefaultMaxIterations
	}
	if cfg.MaxIterationsLimit <= 0 {
		cfg.MaxIterationsLimit = DefaultMaxIterationsLimit
	}

	return &Coordinator{
		store:   st,
		workers: workers,
		gate:    gate.New(cfg.QualityThreshold, cfg.FindingsCap),
		cfg:     cfg,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// StartWorkflow writes the initial task record and launches the workflow in
// its own goroutine. It returns the new task id immediately; callers observe
// progress by polling GetTask.
func (c *Coordinator) StartWorkflow(ctx context.Context, topic string, maxIterations int) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrEmptyTopic
	}
	if maxIterations <= 0 {
		maxIterations = c.cfg.DefaultMaxIterations
	}
	if maxIterations > c.cfg.MaxIterationsLimit {
		return "", fmt.Errorf("%w: %d > %d", ErrMaxIterations, maxIterations, c.cfg.MaxIterationsLimit)
	}

	taskID := uuid.NewString()
	rec := task.NewRecord(taskID, topic, maxIterations)
	fields, err := recordFields(rec)
	if err != nil {
		return "", err
	}
	if _, err := c.store.Update(ctx, taskID, fields); err != nil {
		return "", fmt.Errorf("write initial record: %w", err)
	}

	// The workflow outlives the caller's request context; it is cancelled
	// only via CancelTask.
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[taskID] = cancel
	c.mu.Unlock()

	workflowsStarted.Add(ctx, 1)
	c.logger.Info("workflow started",
		zap.String("task_id", taskID),
		zap.String("topic", topic),
		zap.Int("max_iterations", maxIterations))

	c.wg.Add(1)
	go c.run(runCtx, taskID, maxIterations)

	return taskID, nil
}

// GetTask returns the current record for a task.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*task.Record, error) {
	return c.store.Get(ctx, taskID)
}

// ListTasks returns all known task records, newest first.
func (c *Coordinator) ListTasks(ctx context.Context) ([]*task.Record, error) {
	ids, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	recs := make([]*task.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := c.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// CancelTask requests cancellation of a running workflow. It reports whether
// a running workflow was found; the task reaches the cancelled status once
// the in-flight step returns.
func (c *Coordinator) CancelTask(taskID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[taskID]
	c.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Shutdown waits for all running workflows to reach a terminal state.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes one workflow to a terminal status and records metrics.
func (c *Coordinator) run(ctx context.Context, taskID string, maxIterations int) {
	defer c.wg.Done()
	defer c.release(taskID)

	start := time.Now()
	final := c.execute(ctx, taskID, maxIterations)

	workflowsFinished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", string(final))))
	workflowDuration.Record(context.Background(), time.Since(start).Seconds())

	c.logger.Info("workflow finished",
		zap.String("task_id", taskID),
		zap.String("status", string(final)),
		zap.Duration("duration", time.Since(start)))
}

// execute drives the state machine for one task and returns its terminal
// status. All failure paths persist the failed status before returning.
func (c *Coordinator) execute(ctx context.Context, taskID string, maxIterations int) task.Status {
	rec, err := c.store.Get(ctx, taskID)
	if err != nil {
		return c.failErr(taskID, nil, err)
	}

	// Topic refinement.
	rec, final, ok := c.invokeStep(ctx, rec, worker.TopicRefiner, worker.ActionRefineTopic, task.StatusRefiningTopic, nil)
	if !ok {
		return final
	}
	// The refiner merges topic_refined itself; tolerate workers that only
	// write the topic.
	if rec.Status == task.StatusRefiningTopic {
		rec, err = c.transition(ctx, rec, task.StatusTopicRefined, agentLabels[worker.TopicRefiner], "topic refined")
		if err != nil {
			return c.failErr(taskID, rec, err)
		}
	}

	// Research loop: questions, search, analysis, then the quality gate.
	// The gate bounds the loop at maxIterations cycles; the analyst owns
	// the iteration counter and must advance it each cycle.
	for {
		prev := rec.Iteration

		rec, final, ok = c.invokeStep(ctx, rec, worker.QuestionArchitect, worker.ActionGenerateQuestions,
			task.StatusGeneratingQuestions, map[string]any{"iteration": rec.Iteration})
		if !ok {
			return final
		}

		rec, final, ok = c.invokeStep(ctx, rec, worker.SearchStrategist, worker.ActionExecuteSearch,
			task.StatusSearching, nil)
		if !ok {
			return final
		}

		rec, final, ok = c.invokeStep(ctx, rec, worker.DataAnalyst, worker.ActionAnalyzeResults,
			task.StatusAnalyzing, nil)
		if !ok {
			return final
		}

		if rec.Iteration <= prev {
			return c.fail(taskID, rec, task.ErrorKindInternal,
				fmt.Sprintf("analysis did not advance iteration (still %d)", rec.Iteration))
		}

		decision, reason := c.gate.Decide(rec.Iteration, rec.QualityScore, len(rec.KeyFindings), maxIterations)
		c.logger.Info("quality gate decision",
			zap.String("task_id", taskID),
			zap.String("decision", string(decision)),
			zap.String("reason", reason),
			zap.Int("iteration", rec.Iteration),
			zap.Float64("quality_score", rec.QualityScore),
			zap.Int("findings", len(rec.KeyFindings)))

		if decision == gate.Finalize {
			break
		}
	}

	// Report generation.
	rec, final, ok = c.invokeStep(ctx, rec, worker.ReportWriter, worker.ActionGenerateReport,
		task.StatusGeneratingReport, nil)
	if !ok {
		return final
	}

	if _, err := c.transition(ctx, rec, task.StatusCompleted, coordinatorAgent, "workflow completed"); err != nil {
		return c.failErr(taskID, rec, err)
	}
	return task.StatusCompleted
}

// invokeStep persists the in-progress status, invokes the worker, and
// re-reads the record so the caller sees the worker's writes. ok is false
// when the workflow reached a terminal status, returned as final.
func (c *Coordinator) invokeStep(ctx context.Context, rec *task.Record, workerName, action string, status task.Status, params map[string]any) (_ *task.Record, final task.Status, ok bool) {
	taskID := rec.TaskID

	select {
	case <-ctx.Done():
		return nil, c.cancelled(taskID, rec), false
	default:
	}

	label := agentLabels[workerName]
	rec, err := c.transition(ctx, rec, status, label, "invoking "+workerName)
	if err != nil {
		return nil, c.failErr(taskID, rec, err), false
	}

	start := time.Now()
	_, err = c.workers.Invoke(ctx, workerName, action, taskID, params)
	workerDuration.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("worker", workerName)))

	if err != nil {
		if ctx.Err() != nil {
			recordInvocation(workerName, "cancelled")
			return nil, c.cancelled(taskID, rec), false
		}
		recordInvocation(workerName, "failure")
		return nil, c.failErr(taskID, rec, err), false
	}
	recordInvocation(workerName, "success")

	updated, err := c.store.Get(ctx, taskID)
	if err != nil {
		return nil, c.failErr(taskID, rec, err), false
	}
	return updated, "", true
}

// transition validates and persists a coordinator-side status change,
// appending a diagnostic log entry.
func (c *Coordinator) transition(ctx context.Context, rec *task.Record, to task.Status, agent, message string) (*task.Record, error) {
	if err := task.CanTransition(rec.Status, to); err != nil {
		return rec, err
	}

	fields := map[string]any{
		"status":        to,
		"current_agent": agent,
		"agent_logs":    appendLog(rec, agent, message),
	}
	updated, err := c.store.Update(ctx, rec.TaskID, fields)
	if err != nil {
		return rec, err
	}
	return updated, nil
}

// failErr classifies an error into a task error kind and fails the task.
func (c *Coordinator) failErr(taskID string, rec *task.Record, err error) task.Status {
	kind := task.ErrorKindInternal
	var f *worker.Failure
	switch {
	case errors.As(err, &f):
		kind = f.Kind
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrNotFound):
		kind = task.ErrorKindStore
	}
	return c.fail(taskID, rec, kind, err.Error())
}

// fail records the failed terminal status. Already-written fields are left
// in place: writes are monotonically additive, so partial state is safe.
func (c *Coordinator) fail(taskID string, rec *task.Record, kind task.ErrorKind, message string) task.Status {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	fields := map[string]any{
		"status":        task.StatusFailed,
		"current_agent": coordinatorAgent,
		"error":         &task.Error{Kind: kind, Message: message},
	}
	if rec != nil {
		fields["agent_logs"] = appendLog(rec, coordinatorAgent, "workflow failed: "+message)
	}
	if _, err := c.store.Update(ctx, taskID, fields); err != nil {
		c.logger.Error("failed to persist failure status",
			zap.String("task_id", taskID), zap.Error(err))
	}

	c.logger.Warn("workflow failed",
		zap.String("task_id", taskID),
		zap.String("kind", string(kind)),
		zap.String("message", message))
	return task.StatusFailed
}

// cancelled records the cancelled terminal status.
func (c *Coordinator) cancelled(taskID string, rec *task.Record) task.Status {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	fields := map[string]any{
		"status":        task.StatusCancelled,
		"current_agent": coordinatorAgent,
	}
	if rec != nil {
		fields["agent_logs"] = appendLog(rec, coordinatorAgent, "workflow cancelled")
	}
	if _, err := c.store.Update(ctx, taskID, fields); err != nil {
		c.logger.Error("failed to persist cancelled status",
			zap.String("task_id", taskID), zap.Error(err))
	}

	c.logger.Info("workflow cancelled", zap.String("task_id", taskID))
	return task.StatusCancelled
}

// release drops the task's cancel func once the workflow is terminal.
func (c *Coordinator) release(taskID string) {
	c.mu.Lock()
	if cancel, ok := c.cancels[taskID]; ok {
		cancel()
		delete(c.cancels, taskID)
	}
	c.mu.Unlock()
}

// recordInvocation counts one worker invocation result.
func recordInvocation(workerName, result string) {
	workerInvocations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("worker", workerName),
		attribute.String("result", result)))
}

// appendLog returns the record's agent log with one new entry appended.
func appendLog(rec *task.Record, agent, message string) []task.LogEntry {
	return append(rec.AgentLogs, task.LogEntry{
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Message:   message,
	})
}

// recordFields flattens a record into the field map the store merges from.
func recordFields(rec *task.Record) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("flatten record: %w", err)
	}
	return fields, nil
}
