// Package task defines the shared task record and its status state machine.
// The record is the single unit of mutable state for one research workflow;
// it lives in the state store and is written by both the coordinator and the
// external workers.
package task

import (
	"fmt"
	"time"
)

// Status represents a workflow state for a task.
type Status string

const (
	// StatusInitialized is the entry state, written when the record is created.
	StatusInitialized Status = "initialized"

	// StatusRefiningTopic means the topic refiner worker is active.
	StatusRefiningTopic Status = "refining_topic"

	// StatusTopicRefined means the topic refiner has written the refined topic.
	StatusTopicRefined Status = "topic_refined"

	// StatusGeneratingQuestions means the question architect is active.
	StatusGeneratingQuestions Status = "generating_questions"

	// StatusSearching means the search strategist is active.
	StatusSearching Status = "searching"

	// StatusAnalyzing means the data analyst is active.
	StatusAnalyzing Status = "analyzing"

	// StatusGeneratingReport means the report writer is active.
	StatusGeneratingReport Status = "generating_report"

	// StatusCompleted is the successful terminal state.
	StatusCompleted Status = "completed"

	// StatusFailed is the terminal state for any worker or store failure.
	StatusFailed Status = "failed"

	// StatusCancelled is the terminal state when the workflow is cancelled
	// between steps. Distinct from failed: nothing went wrong.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions is the allowed successor set for each non-terminal status.
// Failed and cancelled are reachable from every non-terminal status and are
// handled in CanTransition rather than listed here.
var transitions = map[Status][]Status{
	StatusInitialized:         {StatusRefiningTopic},
	StatusRefiningTopic:       {StatusTopicRefined},
	StatusTopicRefined:        {StatusGeneratingQuestions},
	StatusGeneratingQuestions: {StatusSearching},
	StatusSearching:           {StatusAnalyzing},
	StatusAnalyzing:           {StatusGeneratingQuestions, StatusGeneratingReport},
	StatusGeneratingReport:    {StatusCompleted},
}

// CanTransition checks whether the state machine allows moving from one
// status to another. It returns an error describing the violation otherwise.
func CanTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("cannot transition from terminal status %s", from)
	}
	if to == StatusFailed || to == StatusCancelled {
		return nil
	}

	next, ok := transitions[from]
	if !ok {
		return fmt.Errorf("invalid status: %s", from)
	}
	for _, s := range next {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", from, to)
}

// ErrorKind categorizes workflow failures.
type ErrorKind string

const (
	// ErrorKindTimeout indicates a worker invocation exceeded its deadline.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindTransport indicates the worker could not be reached.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindWorker indicates the worker reported a domain-level failure.
	ErrorKindWorker ErrorKind = "worker"

	// ErrorKindStore indicates the state store was unavailable mid-step.
	ErrorKindStore ErrorKind = "store"

	// ErrorKindInternal indicates a coordinator invariant violation.
	ErrorKindInternal ErrorKind = "internal"
)

// Error is the structured error recorded on a failed task.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// LogEntry is one diagnostic entry in the record's append-only agent log.
type LogEntry struct {
	Timestamp time.Time `json:"ts"`
	Agent     string    `json:"agent"`
	Message   string    `json:"message"`
}

// Record is the full task record as stored in the state store.
//
// Ownership of fields is split between the coordinator and the workers:
// the coordinator writes status, current_agent, agent_logs and error; the
// workers write their designated domain fields (topic, research_questions,
// search_queries, search_results, key_findings, quality_score, iteration,
// final_report). key_findings and agent_logs are append-only: writers supply
// the full new array including prior entries. final_report is write-once.
type Record struct {
	TaskID            string     `json:"task_id"`
	OriginalTopic     string     `json:"original_topic"`
	Topic             string     `json:"topic"`
	ResearchQuestions []string   `json:"research_questions"`
	SearchQueries     []string   `json:"search_queries"`
	SearchResults     []string   `json:"search_results"`
	KeyFindings       []string   `json:"key_findings"`
	Iteration         int        `json:"iteration"`
	MaxIterations     int        `json:"max_iterations"`
	QualityScore      float64    `json:"quality_score"`
	FinalReport       string     `json:"final_report"`
	Status            Status     `json:"status"`
	CurrentAgent      string     `json:"current_agent"`
	AgentLogs         []LogEntry `json:"agent_logs"`
	Error             *Error     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewRecord creates the initial record for a task. Collections start empty
// (not nil) so the serialized record always carries them.
func NewRecord(taskID, topic string, maxIterations int) *Record {
	now := time.Now().UTC()
	return &Record{
		TaskID:            taskID,
		OriginalTopic:     topic,
		Topic:             topic,
		ResearchQuestions: []string{},
		SearchQueries:     []string{},
		SearchResults:     []string{},
		KeyFindings:       []string{},
		Iteration:         0,
		MaxIterations:     maxIterations,
		QualityScore:      0.0,
		Status:            StatusInitialized,
		AgentLogs:         []LogEntry{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
