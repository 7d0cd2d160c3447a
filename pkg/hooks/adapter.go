// Package hooks binds the execution logger to the host workflow engine: a
// lifecycle adapter that turns execution hooks into pipeline records, and an
// integration service that follows the host's start and shutdown signals.
package hooks

import (
	"context"
	"log/slog"

	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
)

// Hook names on the host's lifecycle registry.
const (
	HookWorkflowExecuteBefore = "workflowExecuteBefore"
	HookWorkflowExecuteAfter  = "workflowExecuteAfter"
)

// ExecutionHandler receives the host's execution context when a hook fires.
type ExecutionHandler func(ctx context.Context, execution *events.ExecutionContext)

// LifecycleRegistry is the host surface for registering execution hooks.
type LifecycleRegistry interface {
	AddHandler(name string, handler ExecutionHandler)
}

// Ingestor is the slice of the pipeline the adapter needs.
type Ingestor interface {
	Ingest(ctx context.Context, record *events.ExecutionRecord)
}

// Adapter forwards host lifecycle hooks into the pipeline. Dispatch is
// fire-and-forget: the host's execution path never waits on the pipeline and
// never observes an error or panic from it.
type Adapter struct {
	pipeline Ingestor
	builder  *events.Builder
	logger   *slog.Logger
}

func NewAdapter(pipeline Ingestor, builder *events.Builder, logger *slog.Logger) *Adapter {
	return &Adapter{
		pipeline: pipeline,
		builder:  builder,
		logger:   logger.With("module", "lifecycle_adapter"),
	}
}

// Register installs the workflow execution hooks on the host registry.
func (a *Adapter) Register(registry LifecycleRegistry) {
	registry.AddHandler(HookWorkflowExecuteBefore, a.handleExecuteBefore)
	registry.AddHandler(HookWorkflowExecuteAfter, a.handleExecuteAfter)
}

func (a *Adapter) handleExecuteBefore(ctx context.Context, execution *events.ExecutionContext) {
	go a.dispatch(context.WithoutCancel(ctx), execution, events.KindStarted)
}

func (a *Adapter) handleExecuteAfter(ctx context.Context, execution *events.ExecutionContext) {
	kind := events.KindFailed

	if execution != nil && execution.Run != nil {
		switch execution.Run.Status {
		case "success":
			kind = events.KindCompleted
		case "canceled", "cancelled":
			kind = events.KindCancelled
		}
	}

	go a.dispatch(context.WithoutCancel(ctx), execution, kind)
}

func (a *Adapter) dispatch(ctx context.Context, execution *events.ExecutionContext, kind events.EventKind) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "Recovered panic in lifecycle dispatch", "panic", r)
		}
	}()

	if execution == nil {
		a.logger.WarnContext(ctx, "Lifecycle hook fired without execution context")

		return
	}

	record := a.builder.Build(*execution, kind)

	if err := events.Validate(record); err != nil {
		a.logger.ErrorContext(ctx, "Built an invalid execution record",
			"execution_id", execution.ExecutionID,
			"error", err)

		return
	}

	a.pipeline.Ingest(ctx, record)
}
