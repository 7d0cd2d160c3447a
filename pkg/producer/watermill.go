package producer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	kafkawm "github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/n8n-extras/kafka-execution-logger/pkg/config"
	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
)

const partitionKeyMetadata = "key"

// WatermillProducer delivers records through a watermill Kafka publisher.
// Messages are keyed by messageId via a partitioning marshaler; the broker
// assigns the message timestamp.
type WatermillProducer struct {
	config config.Config
	logger *slog.Logger

	mu        sync.Mutex
	publisher message.Publisher
	connected bool

	newPublisher func(cfg config.Config, logger *slog.Logger) (message.Publisher, error)
}

func NewWatermillProducer(cfg config.Config, logger *slog.Logger) *WatermillProducer {
	return &WatermillProducer{
		config:       cfg,
		logger:       logger.With("module", "producer", "driver", "watermill"),
		newPublisher: newKafkaPublisher,
	}
}

func newKafkaPublisher(cfg config.Config, logger *slog.Logger) (message.Publisher, error) {
	saramaConfig := kafkawm.DefaultSaramaSyncPublisherConfig()
	saramaConfig.ClientID = cfg.Kafka.ClientID
	saramaConfig.Net.DialTimeout = cfg.Timeouts.Connect
	saramaConfig.Producer.Timeout = cfg.Timeouts.Send

	if cfg.Kafka.SSL {
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.Kafka.Auth != nil {
		if err := applySASL(saramaConfig, cfg.Kafka.Auth); err != nil {
			return nil, err
		}
	}

	marshaler := kafkawm.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(partitionKeyMetadata), nil
	})

	return kafkawm.NewPublisher(
		kafkawm.PublisherConfig{
			Brokers:               cfg.Kafka.Brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: saramaConfig,
		},
		watermill.NewSlogLogger(logger),
	)
}

func (p *WatermillProducer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return nil
	}

	resultCh := make(chan publisherResult, 1)

	go func() {
		publisher, err := p.newPublisher(p.config, p.logger)
		resultCh <- publisherResult{publisher: publisher, err: err}
	}()

	timer := time.NewTimer(p.config.Timeouts.Connect)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return fmt.Errorf("kafka connection failed: %w", result.err)
		}

		p.publisher = result.publisher
	case <-timer.C:
		go discardLatePublisher(resultCh, p.logger)

		return fmt.Errorf("kafka connection failed: %w", ErrConnectTimeout)
	case <-ctx.Done():
		go discardLatePublisher(resultCh, p.logger)

		return fmt.Errorf("kafka connection failed: %w", ctx.Err())
	}

	p.connected = true
	p.logger.InfoContext(ctx, "Connected to Kafka",
		"brokers", p.config.Kafka.Brokers,
		"topic", p.config.Kafka.Topic)

	return nil
}

type publisherResult struct {
	publisher message.Publisher
	err       error
}

// discardLatePublisher closes a publisher whose construction outlived the
// connect timeout.
func discardLatePublisher(resultCh <-chan publisherResult, logger *slog.Logger) {
	result := <-resultCh
	if result.publisher == nil {
		return
	}

	if err := result.publisher.Close(); err != nil {
		logger.Warn("Failed to close abandoned publisher", "error", err)
	}
}

func (p *WatermillProducer) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil
	}

	publisher := p.publisher
	p.publisher = nil
	p.connected = false

	err := runBounded(ctx, p.config.Timeouts.Disconnect, ErrDisconnectTimeout, publisher.Close)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to close Kafka publisher cleanly", "error", err)
	}

	p.logger.InfoContext(ctx, "Disconnected from Kafka")

	return nil
}

func (p *WatermillProducer) Send(ctx context.Context, record *events.ExecutionRecord) error {
	return p.SendBatch(ctx, []*events.ExecutionRecord{record})
}

func (p *WatermillProducer) SendBatch(ctx context.Context, records []*events.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}

	messages := make([]*message.Message, 0, len(records))

	for _, record := range records {
		payload, _, err := encodeRecord(record)
		if err != nil {
			return err
		}

		msg := message.NewMessage(record.MessageID, payload)
		msg.Metadata.Set(partitionKeyMetadata, record.MessageID)
		messages = append(messages, msg)
	}

	p.mu.Lock()
	publisher := p.publisher
	connected := p.connected
	p.mu.Unlock()

	if !connected || publisher == nil {
		return ErrNotConnected
	}

	return runBounded(ctx, p.config.Timeouts.Send, ErrSendTimeout, func() error {
		if err := publisher.Publish(p.config.Kafka.Topic, messages...); err != nil {
			return fmt.Errorf("kafka send failed: %w", err)
		}

		return nil
	})
}

func (p *WatermillProducer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connected
}
