package events

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	LibraryName    = "n8n-kafka-execution-logger"
	LibraryVersion = "1.0.0"

	appName = "n8n"

	instanceTypeMain   = "main"
	instanceTypeWorker = "worker"
)

// BuilderConfig carries the per-process constants stamped into every record.
type BuilderConfig struct {
	HostVersion  string
	Environment  string
	InstanceID   string
	InstanceType string
}

// ResolveInstance determines the instance identity for BuilderConfig:
// explicit env override, then hostname, then "unknown"; the instance type is
// "worker" only when the host process says so.
func ResolveInstance() (string, string) {
	id := os.Getenv("N8N_KAFKA_LOGGER_INSTANCE_ID")
	if id == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			id = "unknown"
		} else {
			id = hostname
		}
	}

	instanceType := instanceTypeMain
	if os.Getenv("N8N_PROCESS_TYPE") == instanceTypeWorker {
		instanceType = instanceTypeWorker
	}

	return id, instanceType
}

// Builder transforms an ExecutionContext into an ExecutionRecord. The
// transformation is pure apart from the clock and the message-id source.
type Builder struct {
	config BuilderConfig

	now   func() time.Time
	newID func() string
}

func NewBuilder(config BuilderConfig) *Builder {
	return &Builder{
		config: config,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Build constructs the record for one lifecycle transition. The result is
// complete and self-contained; callers treat it as immutable.
func (b *Builder) Build(ctx ExecutionContext, kind EventKind) *ExecutionRecord {
	record := &ExecutionRecord{
		Type:      "track",
		Event:     eventName(kind),
		Timestamp: b.now().UTC().Format(TimestampLayout),
		MessageID: b.newID(),
		Dimensions: Dimensions{
			ExecutionMode: ctx.Mode,
			Version:       b.config.HostVersion,
			Environment:   b.config.Environment,
			WorkflowName:  ctx.Workflow.Name,
		},
		Flags: Flags{
			IsManualExecution: ctx.Mode == "manual",
			IsRetry:           ctx.RetryOf != "",
		},
		Metrics: Metrics{
			NodeCount: len(ctx.Workflow.Nodes),
		},
		Tags: []string{},
		Involves: []Involved{
			{Role: RoleWorkflowExecution, ID: ctx.ExecutionID, IDType: IDTypeN8N},
			{Role: RoleWorkflow, ID: ctx.Workflow.ID, IDType: IDTypeN8N},
		},
		Properties: Properties{
			RetryOf:         ctx.RetryOf,
			StartedAt:       ctx.StartedAt.UTC().Format(TimestampLayout),
			WorkflowVersion: ctx.Workflow.VersionID,
		},
		Context: RecordContext{
			App:      AppContext{Name: appName, Version: b.config.HostVersion},
			Library:  LibraryContext{Name: LibraryName, Version: LibraryVersion},
			Instance: InstanceContext{ID: b.config.InstanceID, Type: b.config.InstanceType},
			N8N: N8NContext{
				ExecutionMode: ctx.Mode,
				InstanceType:  b.config.InstanceType,
			},
		},
	}

	// started events carry no status regardless of what the host reports
	if kind != KindStarted {
		record.Dimensions.Status = deriveStatus(ctx.Run)
	}

	triggerType, triggerNode := deriveTriggerType(ctx.Mode, ctx.Workflow.Nodes)
	record.Dimensions.TriggerType = triggerType
	record.Properties.TriggerNode = triggerNode

	if ctx.UserID != "" {
		record.UserID = ctx.UserID
	} else {
		record.AnonymousID = anonymousID(ctx.ExecutionID)
	}

	if ctx.FinishedAt != nil {
		record.Properties.FinishedAt = ctx.FinishedAt.UTC().Format(TimestampLayout)

		if kind != KindStarted {
			duration := ctx.FinishedAt.Sub(ctx.StartedAt).Milliseconds()
			record.Metrics.DurationMS = &duration
		}
	}

	if kind == KindFailed && ctx.Run != nil && ctx.Run.Error != nil {
		runErr := ctx.Run.Error
		record.Properties.ErrorMessage = runErr.Message
		record.Properties.ErrorStack = runErr.Stack
		record.Dimensions.ErrorType = classifyRunError(runErr)

		if runErr.Node != nil {
			record.Properties.ErrorNodeID = runErr.Node.ID
			record.Properties.ErrorNodeName = runErr.Node.Name
		}
	}

	return record
}

func eventName(kind EventKind) string {
	switch kind {
	case KindStarted:
		return EventWorkflowStarted
	case KindCompleted:
		return EventWorkflowCompleted
	case KindFailed:
		return EventWorkflowFailed
	case KindCancelled:
		return EventWorkflowCancelled
	default:
		return ""
	}
}

// deriveStatus normalizes the host run status.
func deriveStatus(run *RunSummary) string {
	if run == nil {
		return ""
	}

	switch run.Status {
	case "canceled":
		return "cancelled"
	case "crashed":
		return "error"
	default:
		return run.Status
	}
}

// deriveTriggerType maps the execution mode to a trigger type. In "trigger"
// mode the workflow's nodes decide: a cron or schedule node wins over a
// webhook node. Returns the matched node's name as the trigger node.
func deriveTriggerType(mode string, nodes []WorkflowNode) (string, string) {
	switch mode {
	case "manual", "webhook", "cli":
		return mode, ""
	case "trigger":
	default:
		return mode, ""
	}

	var webhookNode *WorkflowNode

	for i := range nodes {
		nodeType := strings.ToLower(nodes[i].Type)
		if strings.Contains(nodeType, "cron") || strings.Contains(nodeType, "schedule") {
			return "schedule", nodes[i].Name
		}

		if webhookNode == nil && strings.Contains(nodeType, "webhook") {
			webhookNode = &nodes[i]
		}
	}

	if webhookNode != nil {
		return "webhook", webhookNode.Name
	}

	return "trigger", ""
}

func anonymousID(executionID string) string {
	if len(executionID) > 8 {
		executionID = executionID[:8]
	}

	return "anon_" + executionID
}

// classifyRunError prefers the error's declared type name and falls back to
// recognizing well-known syscall substrings in the message.
func classifyRunError(runErr *RunError) string {
	if runErr.Name != "" {
		return runErr.Name
	}

	switch {
	case strings.Contains(runErr.Message, "ECONNREFUSED"):
		return "ConnectionRefused"
	case strings.Contains(runErr.Message, "ETIMEDOUT"):
		return "Timeout"
	case strings.Contains(runErr.Message, "ENOTFOUND"):
		return "DNSError"
	default:
		return "Unknown"
	}
}
