// Package worker provides the client used by the coordinator to invoke the
// external research workers over NATS request/reply.
//
// Workers are stateless services subscribed to workers.<name> subjects. Each
// invocation carries a task id and an action; the worker reads the task
// record from the state store, performs its domain work, writes its
// designated fields back, and replies with a small advisory payload. The
// authoritative state always lives in the store, never in the reply.
package worker

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/researchd/internal/task"
)

// Worker names, doubling as the NATS subject suffix each worker listens on.
const (
	TopicRefiner      = "topic_refiner"
	QuestionArchitect = "question_architect"
	SearchStrategist  = "search_strategist"
	DataAnalyst       = "data_analyst"
	ReportWriter      = "report_writer"
)

// Actions understood by the workers.
const (
	ActionRefineTopic       = "refine_topic"
	ActionGenerateQuestions = "generate_questions"
	ActionExecuteSearch     = "execute_search"
	ActionAnalyzeResults    = "analyze_results"
	ActionGenerateReport    = "generate_report"
)

// Request is the envelope sent to a worker.
type Request struct {
	TaskID    string         `json:"task_id"`
	AgentFrom string         `json:"agent_from"`
	AgentTo   string         `json:"agent_to"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
}

// Response is the envelope a worker replies with.
type Response struct {
	TaskID    string         `json:"task_id"`
	AgentName string         `json:"agent_name"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data"`
	Error     string         `json:"error,omitempty"`
}

// Outcome is a successful invocation result. Data is advisory (counts,
// summaries); the worker's real output is already in the state store.
type Outcome struct {
	Worker string
	Data   map[string]any
}

// Failure is the error returned when an invocation does not succeed. Kind
// distinguishes transient transport problems from worker-reported failures
// so the retry policy and the recorded task error can tell them apart.
type Failure struct {
	Worker  string
	Kind    task.ErrorKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("worker %s: %s: %s", f.Worker, f.Kind, f.Message)
}

// Transient reports whether the failure is worth retrying.
func (f *Failure) Transient() bool {
	return f.Kind == task.ErrorKindTimeout || f.Kind == task.ErrorKindTransport
}

// Invoker is the coordinator-facing contract for worker invocation.
type Invoker interface {
	// Invoke performs one named action against a task's shared record.
	// The call blocks until the worker replies or the timeout elapses.
	// A non-nil error is either a *Failure or a context error.
	Invoke(ctx context.Context, workerName, action, taskID string, params map[string]any) (*Outcome, error)
}
