package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder() *Builder {
	builder := NewBuilder(BuilderConfig{
		HostVersion:  "1.50.0",
		Environment:  "test",
		InstanceID:   "instance-1",
		InstanceType: "main",
	})
	builder.now = func() time.Time {
		return time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	}
	builder.newID = func() string {
		return "a81b3c6e-4bb1-4f52-b0d1-25e6a1ad7a31"
	}

	return builder
}

func startedContext() ExecutionContext {
	return ExecutionContext{
		ExecutionID: "exec-456",
		Mode:        "manual",
		UserID:      "user-789",
		Workflow: WorkflowDescriptor{
			ID:        "workflow-123",
			Name:      "Test Workflow",
			VersionID: "1",
			Nodes: []WorkflowNode{
				{ID: "node-1", Name: "Start", Type: "n8n-nodes-base.start"},
				{ID: "node-2", Name: "HTTP Request", Type: "n8n-nodes-base.httpRequest"},
			},
		},
		StartedAt: time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestBuild_StartedHappyPath(t *testing.T) {
	record := newTestBuilder().Build(startedContext(), KindStarted)

	assert.Equal(t, "track", record.Type)
	assert.Equal(t, "Workflow Started", record.Event)
	assert.Equal(t, "user-789", record.UserID)
	assert.Empty(t, record.AnonymousID)
	assert.Equal(t, "manual", record.Dimensions.ExecutionMode)
	assert.Equal(t, "Test Workflow", record.Dimensions.WorkflowName)
	assert.Empty(t, record.Dimensions.Status)
	assert.True(t, record.Flags.IsManualExecution)
	assert.False(t, record.Flags.IsRetry)
	assert.Equal(t, 2, record.Metrics.NodeCount)
	assert.Nil(t, record.Metrics.DurationMS)
	assert.Equal(t, "1", record.Properties.WorkflowVersion)
	assert.Equal(t, "2023-01-01T10:00:00.000Z", record.Properties.StartedAt)

	require.Len(t, record.Involves, 2)
	assert.Equal(t, Involved{Role: "WorkflowExecution", ID: "exec-456", IDType: "n8n"}, record.Involves[0])
	assert.Equal(t, Involved{Role: "Workflow", ID: "workflow-123", IDType: "n8n"}, record.Involves[1])

	assert.Equal(t, "n8n", record.Context.App.Name)
	assert.Equal(t, "1.50.0", record.Context.App.Version)
	assert.Equal(t, LibraryName, record.Context.Library.Name)
	assert.Equal(t, "instance-1", record.Context.Instance.ID)
	assert.Equal(t, "main", record.Context.N8N.InstanceType)

	require.NoError(t, Validate(record))
}

func TestBuild_CompletedWithDuration(t *testing.T) {
	ctx := startedContext()
	finished := time.Date(2023, 1, 1, 10, 1, 30, 0, time.UTC)
	ctx.FinishedAt = &finished
	ctx.Run = &RunSummary{Status: "success"}

	record := newTestBuilder().Build(ctx, KindCompleted)

	assert.Equal(t, "Workflow Completed", record.Event)
	assert.Equal(t, "success", record.Dimensions.Status)
	require.NotNil(t, record.Metrics.DurationMS)
	assert.Equal(t, int64(90000), *record.Metrics.DurationMS)
	assert.Equal(t, "2023-01-01T10:01:30.000Z", record.Properties.FinishedAt)
}

func TestBuild_StartedNeverCarriesDuration(t *testing.T) {
	ctx := startedContext()
	finished := ctx.StartedAt.Add(time.Minute)
	ctx.FinishedAt = &finished

	record := newTestBuilder().Build(ctx, KindStarted)

	assert.Nil(t, record.Metrics.DurationMS)
}

func TestBuild_FailedWithNodeError(t *testing.T) {
	ctx := startedContext()
	ctx.Run = &RunSummary{
		Status: "error",
		Error: &RunError{
			Name:    "NodeOperationError",
			Message: "HTTP request failed",
			Stack:   "NodeOperationError: HTTP request failed\n    at Object.execute",
			Node:    &NodeRef{ID: "node-2", Name: "HTTP Request"},
		},
	}

	record := newTestBuilder().Build(ctx, KindFailed)

	assert.Equal(t, "Workflow Failed", record.Event)
	assert.Equal(t, "error", record.Dimensions.Status)
	assert.Equal(t, "NodeOperationError", record.Dimensions.ErrorType)
	assert.Equal(t, "HTTP request failed", record.Properties.ErrorMessage)
	assert.Equal(t, "node-2", record.Properties.ErrorNodeID)
	assert.Equal(t, "HTTP Request", record.Properties.ErrorNodeName)
}

func TestBuild_StatusNormalization(t *testing.T) {
	testCases := []struct {
		hostStatus string
		expected   string
	}{
		{"success", "success"},
		{"error", "error"},
		{"cancelled", "cancelled"},
		{"canceled", "cancelled"},
		{"crashed", "error"},
		{"waiting", "waiting"},
		{"running", "running"},
		{"weird-status", "weird-status"},
	}

	for _, tc := range testCases {
		t.Run(tc.hostStatus, func(t *testing.T) {
			ctx := startedContext()
			ctx.Run = &RunSummary{Status: tc.hostStatus}

			record := newTestBuilder().Build(ctx, KindCompleted)

			assert.Equal(t, tc.expected, record.Dimensions.Status)
		})
	}
}

func TestBuild_TriggerTypeDerivation(t *testing.T) {
	testCases := []struct {
		name     string
		mode     string
		nodes    []WorkflowNode
		expected string
	}{
		{"manual mode", "manual", nil, "manual"},
		{"webhook mode", "webhook", nil, "webhook"},
		{"cli mode", "cli", nil, "cli"},
		{"other modes pass through", "integrated", nil, "integrated"},
		{
			"trigger mode with cron node",
			"trigger",
			[]WorkflowNode{{Name: "Cron", Type: "n8n-nodes-base.cron"}},
			"schedule",
		},
		{
			"trigger mode with schedule node",
			"trigger",
			[]WorkflowNode{{Name: "Schedule", Type: "n8n-nodes-base.scheduleTrigger"}},
			"schedule",
		},
		{
			"trigger mode with webhook node",
			"trigger",
			[]WorkflowNode{{Name: "Webhook", Type: "n8n-nodes-base.webhook"}},
			"webhook",
		},
		{
			"schedule node wins over webhook node",
			"trigger",
			[]WorkflowNode{
				{Name: "Webhook", Type: "n8n-nodes-base.webhook"},
				{Name: "Schedule", Type: "n8n-nodes-base.scheduleTrigger"},
			},
			"schedule",
		},
		{"trigger mode with no matching nodes", "trigger", []WorkflowNode{{Type: "n8n-nodes-base.set"}}, "trigger"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := startedContext()
			ctx.Mode = tc.mode
			ctx.Workflow.Nodes = tc.nodes

			record := newTestBuilder().Build(ctx, KindStarted)

			assert.Equal(t, tc.expected, record.Dimensions.TriggerType)
		})
	}
}

func TestBuild_AnonymousID(t *testing.T) {
	ctx := startedContext()
	ctx.UserID = ""

	record := newTestBuilder().Build(ctx, KindStarted)

	assert.Empty(t, record.UserID)
	assert.Equal(t, "anon_exec-456", record.AnonymousID)
}

func TestBuild_AnonymousIDShortExecution(t *testing.T) {
	ctx := startedContext()
	ctx.UserID = ""
	ctx.ExecutionID = "e1"

	record := newTestBuilder().Build(ctx, KindStarted)

	assert.Equal(t, "anon_e1", record.AnonymousID)
}

func TestBuild_RetryFlag(t *testing.T) {
	ctx := startedContext()
	ctx.Mode = "retry"
	ctx.RetryOf = "exec-100"

	record := newTestBuilder().Build(ctx, KindStarted)

	assert.True(t, record.Flags.IsRetry)
	assert.Equal(t, "exec-100", record.Properties.RetryOf)
}

func TestClassifyRunError(t *testing.T) {
	testCases := []struct {
		name     string
		runErr   *RunError
		expected string
	}{
		{"declared type wins", &RunError{Name: "NodeOperationError", Message: "ECONNREFUSED"}, "NodeOperationError"},
		{"connection refused", &RunError{Message: "connect ECONNREFUSED 10.0.0.1:443"}, "ConnectionRefused"},
		{"timed out", &RunError{Message: "connect ETIMEDOUT"}, "Timeout"},
		{"dns", &RunError{Message: "getaddrinfo ENOTFOUND example.test"}, "DNSError"},
		{"unknown", &RunError{Message: "boom"}, "Unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classifyRunError(tc.runErr))
		})
	}
}

func TestRecord_JSONRoundTrip(t *testing.T) {
	ctx := startedContext()
	finished := ctx.StartedAt.Add(90 * time.Second)
	ctx.FinishedAt = &finished
	ctx.Run = &RunSummary{Status: "success"}

	record := newTestBuilder().Build(ctx, KindCompleted)

	payload, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded ExecutionRecord
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, *record, decoded)
}

func TestRecord_JSONFieldNames(t *testing.T) {
	record := newTestBuilder().Build(startedContext(), KindStarted)

	payload, err := json.Marshal(record)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))

	for _, key := range []string{
		"type", "event", "userId", "timestamp", "messageId",
		"dimensions", "flags", "metrics", "tags", "involves", "properties", "context",
	} {
		assert.Contains(t, raw, key)
	}

	assert.NotContains(t, raw, "anonymousId")
}
