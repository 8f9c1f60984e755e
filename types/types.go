// Package types defines the data model shared across every PML component:
// tools, capabilities, the hypergraph feature set, workflows/tasks, and
// episodic training traces.
package types

import (
	"encoding/json"
	"time"
)

// Tool is a vertex in the capability hypergraph: a single callable exposed
// by a provider, identified as "provider:name". Tools are immutable once
// registered and are refreshed only when the provider reports a schema
// change.
type Tool struct {
	ID          string          `json:"id" bson:"_id"`
	Provider    string          `json:"provider" bson:"provider"`
	Name        string          `json:"name" bson:"name"`
	Description string          `json:"description" bson:"description"`
	Schema      json.RawMessage `json:"schema" bson:"schema"`
	Embedding   []float32       `json:"embedding" bson:"embedding"`
	Community   *int            `json:"community,omitempty" bson:"community,omitempty"`
	PageRank    float64         `json:"page_rank" bson:"page_rank"`
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
}

// HyperFeatures is the per-capability feature vector HF maintained by the
// Hypergraph Index: spectral cluster assignment, hypergraph PageRank,
// normalized co-occurrence, and decayed recency.
type HyperFeatures struct {
	SpectralCluster    int     `json:"spectral_cluster"`
	HypergraphPageRank float64 `json:"hypergraph_page_rank"`
	Cooccurrence       float64 `json:"cooccurrence"`
	Recency            float64 `json:"recency"`
}

// Capability is a hyperedge connecting an ordered-or-unordered set of
// member tool ids (a reusable tool sequence). A meta-capability also lists
// child capability ids in ChildIDs, whose tools it aggregates.
// Cardinality is 1..N.
type Capability struct {
	ID          string        `json:"id" bson:"_id"`
	Description string        `json:"description" bson:"description"`
	Embedding   []float32     `json:"embedding" bson:"embedding"`
	Members     []string      `json:"members" bson:"members"`
	IsMeta      bool          `json:"is_meta" bson:"is_meta"`
	ParentIDs   []string      `json:"parent_ids,omitempty" bson:"parent_ids,omitempty"`
	ChildIDs    []string      `json:"child_ids,omitempty" bson:"child_ids,omitempty"`
	Successes   int64         `json:"successes" bson:"successes"`
	Attempts    int64         `json:"attempts" bson:"attempts"`
	Features    HyperFeatures `json:"features" bson:"features"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
}

// SuccessRate returns a smoothed ratio of successes to attempts with an
// additive prior of one virtual success and two virtual attempts, so a
// never-attempted capability starts at 0.5 rather than 0 or undefined.
func (c *Capability) SuccessRate() float64 {
	const priorSuccesses, priorAttempts = 1.0, 2.0
	return (float64(c.Successes) + priorSuccesses) / (float64(c.Attempts) + priorAttempts)
}

// RecordOutcome increments the attempt counter, and the success counter
// when outcome is true.
func (c *Capability) RecordOutcome(outcome bool) {
	c.Attempts++
	if outcome {
		c.Successes++
	}
}

// TaskStatus is the closed set of terminal/initial states for a task
// result within a single workflow execution.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskSuccess TaskStatus = "success"
	TaskError   TaskStatus = "error"
	TaskSkipped TaskStatus = "skipped"
)

// RetryPolicy configures task-local exponential backoff retries.
type RetryPolicy struct {
	MaxAttempts int     `json:"max_attempts"`
	BaseDelayMs int     `json:"base_delay_ms"`
	MaxDelayMs  int     `json:"max_delay_ms"`
	Jitter      float64 `json:"jitter"`
}

// OnErrorMode controls how a task's failure propagates to its dependents.
type OnErrorMode string

const (
	OnErrorAbort    OnErrorMode = "abort"
	OnErrorContinue OnErrorMode = "continue"
)

// Task is a single workflow step: a tool invocation whose arguments may
// reference the outputs of earlier tasks via "$OUTPUT[id]<path>" strings.
type Task struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	DependsOn []string        `json:"depends_on,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
	Retry     *RetryPolicy    `json:"retry,omitempty"`
	OnError   OnErrorMode     `json:"on_error,omitempty"`
}

// Workflow is an ordered list of tasks forming a DAG via DependsOn.
type Workflow struct {
	Tasks []Task `json:"tasks"`
}

// TaskResult holds the outcome of dispatching a single task.
type TaskResult struct {
	TaskID    string          `json:"task_id"`
	Status    TaskStatus      `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// ResultError is one entry in a ResultBundle's error list.
type ResultError struct {
	TaskID    string `json:"task_id"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// ResultBundle is the aggregate outcome of executing a workflow.
type ResultBundle struct {
	RunID                 string                `json:"run_id"`
	TotalTasks            int                   `json:"total_tasks"`
	Succeeded             int                   `json:"succeeded"`
	Failed                int                   `json:"failed"`
	Skipped               int                   `json:"skipped"`
	Errors                []ResultError         `json:"errors,omitempty"`
	ParallelizationLayers int                   `json:"parallelization_layers"`
	ExecutionTimeMs       int64                 `json:"execution_time_ms"`
	Outputs               map[string]TaskResult `json:"outputs"`
}

// EpisodicTrace is one recorded (intent, context, selected capability,
// outcome) tuple used for online SHGAT training.
type EpisodicTrace struct {
	Timestamp        time.Time `json:"timestamp" bson:"timestamp"`
	Intent           string    `json:"intent" bson:"intent"`
	ContextToolIDs   []string  `json:"context_tool_ids" bson:"context_tool_ids"`
	CapabilityID     string    `json:"capability_id" bson:"capability_id"`
	MetaCapabilityID string    `json:"meta_capability_id,omitempty" bson:"meta_capability_id,omitempty"`
	Outcome          bool      `json:"outcome" bson:"outcome"`
}

// ResultKind identifies whether a discover hit is a tool, a leaf
// capability, or a meta-capability.
type ResultKind string

const (
	ResultTool           ResultKind = "tool"
	ResultCapability     ResultKind = "capability"
	ResultMetaCapability ResultKind = "meta"
)

// DiscoverHit is one ranked entry returned by Retriever.Discover.
type DiscoverHit struct {
	ID          string       `json:"id"`
	Type        ResultKind   `json:"type"`
	Score       float64      `json:"score"`
	Explanation *Explanation `json:"explanation,omitempty"`
}

// Explanation exposes the per-head component scores and attention weights
// backing a discover hit, when requested.
type Explanation struct {
	SemanticHead     float64            `json:"semantic_head"`
	ContextHead      float64            `json:"context_head"`
	StructureHead    float64            `json:"structure_head"`
	ReliabilityHead  float64            `json:"reliability_head"`
	AttentionWeights map[string]float64 `json:"attention_weights,omitempty"`
}
