package hooks

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/n8n-extras/kafka-execution-logger/pkg/config"
	"github.com/n8n-extras/kafka-execution-logger/pkg/eventbus"
	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
	"github.com/n8n-extras/kafka-execution-logger/pkg/otelhelper"
	"github.com/n8n-extras/kafka-execution-logger/pkg/pipeline"
	"github.com/n8n-extras/kafka-execution-logger/pkg/producer"
	"github.com/n8n-extras/kafka-execution-logger/pkg/web"
)

// Integration wires the pipeline into the host process: hooks on the
// lifecycle registry, initialize on server start, shutdown on the shutdown
// signal. Repeated signals are absorbed.
type Integration struct {
	config   config.Config
	logger   *slog.Logger
	pipeline *pipeline.Service
	adapter  *Adapter
	health   *web.Server

	mu      sync.Mutex
	started bool
}

func NewIntegration(cfg config.Config, logger *slog.Logger) (*Integration, error) {
	prod, err := producer.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	service, err := pipeline.NewService(cfg, prod, logger)
	if err != nil {
		return nil, err
	}

	instanceID, instanceType := events.ResolveInstance()
	builder := events.NewBuilder(events.BuilderConfig{
		HostVersion:  hostVersion(),
		Environment:  cfg.Environment,
		InstanceID:   instanceID,
		InstanceType: instanceType,
	})

	integration := &Integration{
		config:   cfg,
		logger:   logger.With("module", "integration"),
		pipeline: service,
	}
	integration.adapter = NewAdapter(service, builder, logger)

	if cfg.Health.Addr != "" {
		integration.health = web.NewServer(service, logger)
	}

	return integration, nil
}

// Bind registers the execution hooks and subscribes to the host signals.
func (i *Integration) Bind(registry LifecycleRegistry, bus eventbus.EventBus) {
	i.adapter.Register(registry)

	bus.On(eventbus.SignalServerStarted, i.handleServerStarted)
	bus.On(eventbus.SignalShutdown, i.handleShutdown)
}

func (i *Integration) handleServerStarted(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.started {
		return
	}

	if !i.config.KafkaConfigured() {
		i.logger.WarnContext(ctx, "Kafka execution logging is not configured; staying dormant",
			"enabled", i.config.Enabled,
			"brokers", len(i.config.Kafka.Brokers))

		return
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		if _, err := otelhelper.NewTracer(ctx, events.LibraryName); err != nil {
			i.logger.WarnContext(ctx, "Failed to set up tracing", "error", err)
		}
	}

	if err := i.pipeline.Initialize(ctx); err != nil {
		i.logger.ErrorContext(ctx, "Failed to initialize execution log pipeline", "error", err)

		return
	}

	if i.health != nil {
		i.health.Start(i.config.Health.Addr)
	}

	i.started = true
}

func (i *Integration) handleShutdown(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.started {
		return
	}

	i.pipeline.Shutdown(ctx)

	if i.health != nil {
		i.health.Stop(ctx)
	}

	i.started = false
}

// Pipeline exposes the underlying service for the host's diagnostics.
func (i *Integration) Pipeline() *pipeline.Service {
	return i.pipeline
}

// hostVersion reads the embedding n8n version; "unknown" outside a host.
func hostVersion() string {
	if version := os.Getenv("N8N_VERSION"); version != "" {
		return version
	}

	return "unknown"
}
