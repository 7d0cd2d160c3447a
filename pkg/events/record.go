// Package events defines the execution record sent to Kafka and the builder
// that derives it from host execution context.
package events

import (
	"time"
)

// EventKind identifies which lifecycle transition a record describes.
type EventKind string

const (
	KindStarted   EventKind = "started"
	KindCompleted EventKind = "completed"
	KindFailed    EventKind = "failed"
	KindCancelled EventKind = "cancelled"
)

// Track event names, one per lifecycle transition.
const (
	EventWorkflowStarted   = "Workflow Started"
	EventWorkflowCompleted = "Workflow Completed"
	EventWorkflowFailed    = "Workflow Failed"
	EventWorkflowCancelled = "Workflow Cancelled"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Dimensions are the low-cardinality facets of a record.
type Dimensions struct {
	ExecutionMode string `json:"execution_mode"`
	Status        string `json:"status,omitempty"`
	Version       string `json:"version,omitempty"`
	Environment   string `json:"environment,omitempty"`
	TriggerType   string `json:"trigger_type,omitempty"`
	WorkflowName  string `json:"workflow_name"`
	ErrorType     string `json:"error_type,omitempty"`
}

type Flags struct {
	IsManualExecution bool `json:"is_manual_execution"`
	IsRetry           bool `json:"is_retry"`
}

type Metrics struct {
	NodeCount  int    `json:"node_count"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

// Involved names an entity the record is about; records carry the execution
// first and its workflow second.
type Involved struct {
	Role   string `json:"role"`
	ID     string `json:"id"`
	IDType string `json:"id_type"`
}

const (
	RoleWorkflowExecution = "WorkflowExecution"
	RoleWorkflow          = "Workflow"
	IDTypeN8N             = "n8n"
)

// Properties are the high-cardinality attributes of a record.
type Properties struct {
	TriggerNode     string `json:"trigger_node,omitempty"`
	RetryOf         string `json:"retry_of,omitempty"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ErrorStack      string `json:"error_stack,omitempty"`
	ErrorNodeID     string `json:"error_node_id,omitempty"`
	ErrorNodeName   string `json:"error_node_name,omitempty"`
	WorkflowVersion string `json:"workflow_version,omitempty"`
}

type AppContext struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type LibraryContext struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InstanceContext struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type N8NContext struct {
	ExecutionMode string `json:"execution_mode"`
	InstanceType  string `json:"instance_type"`
}

type RecordContext struct {
	App      AppContext      `json:"app"`
	Library  LibraryContext  `json:"library"`
	Instance InstanceContext `json:"instance"`
	N8N      N8NContext      `json:"n8n"`
}

// ExecutionRecord is the wire payload: a "track" envelope with extensions.
// Records are immutable after construction.
type ExecutionRecord struct {
	Type        string        `json:"type"`
	Event       string        `json:"event"`
	UserID      string        `json:"userId,omitempty"`
	AnonymousID string        `json:"anonymousId,omitempty"`
	Timestamp   string        `json:"timestamp"`
	MessageID   string        `json:"messageId"`
	Dimensions  Dimensions    `json:"dimensions"`
	Flags       Flags         `json:"flags"`
	Metrics     Metrics       `json:"metrics"`
	Tags        []string      `json:"tags"`
	Involves    []Involved    `json:"involves"`
	Properties  Properties    `json:"properties"`
	Context     RecordContext `json:"context"`
}

// WorkflowNode is the subset of a host workflow node the builder inspects.
type WorkflowNode struct {
	ID   string
	Name string
	Type string
}

// WorkflowDescriptor is the subset of a host workflow the builder inspects.
type WorkflowDescriptor struct {
	ID        string
	Name      string
	Nodes     []WorkflowNode
	VersionID string
}

// NodeRef points at the node an execution error originated from.
type NodeRef struct {
	ID   string
	Name string
}

// RunError carries the host's view of a failed execution.
type RunError struct {
	Name    string
	Message string
	Stack   string
	Node    *NodeRef
}

// RunSummary is the terminal state the host reports for an execution.
type RunSummary struct {
	Status string
	Error  *RunError
}

// ExecutionContext is the input handed to the builder by the lifecycle
// adapter. It is a value copy of host state; the builder never mutates it.
type ExecutionContext struct {
	ExecutionID string
	Workflow    WorkflowDescriptor
	Mode        string
	UserID      string
	RetryOf     string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Run         *RunSummary
}
