// Package pipeline orchestrates delivery of execution records to Kafka:
// immediate sends on the fast path, a bounded queue drained by a periodic
// batch flusher, a circuit breaker around every producer call, and a local
// fallback log for records that cannot be delivered.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/n8n-extras/kafka-execution-logger/pkg/breaker"
	"github.com/n8n-extras/kafka-execution-logger/pkg/config"
	"github.com/n8n-extras/kafka-execution-logger/pkg/errcat"
	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
	"github.com/n8n-extras/kafka-execution-logger/pkg/fallback"
	"github.com/n8n-extras/kafka-execution-logger/pkg/metrics"
	"github.com/n8n-extras/kafka-execution-logger/pkg/otelhelper"
	"github.com/n8n-extras/kafka-execution-logger/pkg/producer"
	"github.com/n8n-extras/kafka-execution-logger/pkg/queue"
)

const tracerName = "kafka-execution-logger"

var errQueueFull = errors.New("queue full - message dropped")

// Service owns the delivery pipeline. Every public method is safe for
// concurrent use and none of them ever propagates an error to the host.
type Service struct {
	config config.Config
	logger *slog.Logger

	queue    *queue.Queue
	breaker  *breaker.CircuitBreaker
	producer producer.Producer
	health   *metrics.Health
	fallback *fallback.Writer
	tracer   trace.Tracer

	mu           sync.Mutex
	enabled      bool
	initialized  bool
	shuttingDown bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(cfg config.Config, prod producer.Producer, logger *slog.Logger) (*Service, error) {
	q, err := queue.New(cfg.Queue.MaxSize)
	if err != nil {
		return nil, err
	}

	cb, err := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		config:   cfg,
		logger:   logger.With("module", "pipeline"),
		queue:    q,
		breaker:  cb,
		producer: prod,
		health:   metrics.NewHealth(),
		fallback: fallback.NewWriter(fallback.Config{
			Directory:       cfg.Fallback.Directory,
			MaxFileSize:     cfg.Fallback.MaxFileSize,
			MaxFiles:        cfg.Fallback.MaxFiles,
			RotateOnStartup: cfg.Fallback.RotateOnStartup,
		}, logger),
		tracer:  otel.Tracer(tracerName),
		enabled: cfg.Enabled,
		stopCh:  make(chan struct{}),
	}, nil
}

// Initialize connects the producer and starts the periodic flusher. A
// configuration or authentication failure disables the pipeline; transient
// connect failures are tolerated, records queue until connectivity returns.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()

		return nil
	}
	s.mu.Unlock()

	if !s.config.Enabled {
		s.logger.InfoContext(ctx, "Execution logging disabled by configuration")

		return nil
	}

	err := s.breaker.Execute(ctx, s.producer.Connect)
	if err != nil {
		categorized := errcat.Classify(err)
		s.logCategorized(ctx, categorized, "Initial Kafka connect failed")

		if errcat.IsDisabling(categorized.Category) {
			s.disable(ctx, categorized)

			s.mu.Lock()
			s.initialized = true
			s.mu.Unlock()

			return nil
		}

		s.logger.WarnContext(ctx, "Continuing without Kafka connection; records will queue until it returns")
	}

	s.wg.Add(1)
	go s.flushLoop()

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Execution log pipeline initialized",
		"topic", s.config.Kafka.Topic,
		"flush_interval", s.config.Queue.FlushInterval,
		"queue_max_size", s.config.Queue.MaxSize)

	return nil
}

// Ingest accepts one record. The fast path sends immediately; otherwise the
// record is queued for the batch flusher. Ingest never blocks on network I/O
// when the producer is unavailable and never returns an error to the caller.
func (s *Service) Ingest(ctx context.Context, record *events.ExecutionRecord) {
	if !s.IsEnabled() || s.isShuttingDown() {
		return
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "pipeline.ingest",
		attribute.String(otelhelper.EventKey, record.Event),
		attribute.String(otelhelper.MessageIDKey, record.MessageID),
	)
	defer span.End()

	s.updateGauges()
	defer s.updateGauges()

	if s.breaker.State() == breaker.StateClosed && s.producer.IsConnected() && s.queue.IsEmpty() {
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			return s.producer.Send(ctx, record)
		})
		if err == nil {
			s.health.RecordSuccess()

			return
		}

		s.health.RecordFailure()

		categorized := errcat.Classify(err)
		s.logCategorized(ctx, categorized, "Immediate send failed")
		otelhelper.SetError(span, err)

		if !categorized.ShouldRetry {
			if categorized.ShouldFallback {
				s.fallback.LogMessage("Immediate send failed: "+reasonSuffix(categorized.Category), record)
			}

			return
		}
	}

	if dropped, admitted := s.queue.Enqueue(record); !admitted {
		categorized := errcat.Classify(errQueueFull)
		s.logCategorized(ctx, categorized, "Queue overflow")
		s.fallback.LogMessage("Queue overflow - message dropped", dropped)
	}
}

// Flush drains one batch from the queue through the breaker. Exposed for the
// final drain during shutdown and for tests; the flush loop calls it on every
// tick.
func (s *Service) Flush(ctx context.Context) {
	if !s.IsEnabled() {
		return
	}

	defer s.updateGauges()

	if s.queue.IsEmpty() {
		return
	}

	// an open breaker gates reconnection by itself; the next tick retries
	if s.breaker.State() == breaker.StateOpen {
		return
	}

	if !s.producer.IsConnected() {
		err := s.breaker.Execute(ctx, s.producer.Connect)
		if err != nil {
			categorized := errcat.Classify(err)
			s.logCategorized(ctx, categorized, "Kafka reconnect failed")

			if errcat.IsDisabling(categorized.Category) {
				s.disable(ctx, categorized)
			}

			return
		}
	}

	batch := s.queue.DequeueBatch(s.config.Queue.BatchSize)
	if len(batch) == 0 {
		return
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "pipeline.flush",
		attribute.Int(otelhelper.BatchSizeKey, len(batch)),
		attribute.String(otelhelper.TopicKey, s.config.Kafka.Topic),
	)
	defer span.End()

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		if len(batch) == 1 {
			return s.producer.Send(ctx, batch[0])
		}

		return s.producer.SendBatch(ctx, batch)
	})
	if err == nil {
		s.health.RecordSuccess()

		return
	}

	s.health.RecordFailure()
	otelhelper.SetError(span, err)

	categorized := errcat.Classify(err)
	s.logCategorized(ctx, categorized, "Batch send failed", "batch_size", len(batch))

	switch {
	case categorized.ShouldRetry:
		s.requeue(batch)
	case categorized.ShouldFallback:
		s.fallback.LogBatch("Send failed: "+reasonSuffix(categorized.Category), batch)
	default:
		// deterministic failure: the batch is dropped
		s.logger.WarnContext(ctx, "Dropping undeliverable batch", "batch_size", len(batch))
	}

	if errcat.IsDisabling(categorized.Category) {
		s.disable(ctx, categorized)
	}
}

// requeue puts a failed batch back at the tail. Relative order with records
// that arrived in the meantime is not preserved; at-least-once delivery wins
// over strict ordering here.
func (s *Service) requeue(batch []*events.ExecutionRecord) {
	for _, record := range batch {
		if dropped, admitted := s.queue.Enqueue(record); !admitted {
			s.fallback.LogMessage("Queue overflow - message dropped", dropped)
		}
	}
}

// Shutdown stops the flusher, drains the queue best-effort, and disconnects.
// It is idempotent and never raises.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.shuttingDown || !s.initialized {
		s.mu.Unlock()

		return
	}

	s.shuttingDown = true
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Shutting down execution log pipeline", "queued", s.queue.Size())

	close(s.stopCh)
	s.wg.Wait()

	for !s.queue.IsEmpty() {
		before := s.queue.Size()
		s.Flush(ctx)

		if s.queue.Size() >= before {
			break
		}
	}

	if err := s.producer.Disconnect(ctx); err != nil {
		s.logger.WarnContext(ctx, "Producer disconnect failed during shutdown", "error", err)
	}

	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Execution log pipeline stopped")
}

// IsEnabled reports whether the pipeline accepts records.
func (s *Service) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.initialized && s.enabled
}

// Metrics returns a snapshot of the pipeline's health counters.
func (s *Service) Metrics() metrics.Snapshot {
	s.updateGauges()

	return s.health.GetMetrics()
}

func (s *Service) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Queue.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Flush(context.Background())
		}
	}
}

func (s *Service) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.shuttingDown
}

// disable turns the pipeline into a no-op until the process restarts.
func (s *Service) disable(ctx context.Context, categorized *errcat.CategorizedError) {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()

	s.logger.ErrorContext(ctx, "Disabling execution log pipeline",
		"category", string(categorized.Category),
		"error", categorized.Err)
}

func (s *Service) updateGauges() {
	if err := s.health.SetQueueDepth(s.queue.Size()); err != nil {
		s.logger.Warn("Failed to update queue depth gauge", "error", err)
	}

	s.health.SetBreakerState(s.breaker.State().String())
}

func (s *Service) logCategorized(ctx context.Context, categorized *errcat.CategorizedError, msg string, args ...any) {
	args = append(args,
		"category", string(categorized.Category),
		"severity", string(categorized.Severity),
		"error", categorized.Err,
	)
	s.logger.Log(ctx, categorized.Severity.LogLevel(), msg, args...)
}

func reasonSuffix(category errcat.Category) string {
	return strings.ToUpper(string(category))
}
