package producer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/n8n-extras/kafka-execution-logger/pkg/config"
	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
)

// SaramaProducer delivers records through a sarama SyncProducer.
type SaramaProducer struct {
	config config.Config
	logger *slog.Logger

	mu        sync.Mutex
	producer  sarama.SyncProducer
	connected bool

	newSyncProducer func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error)
}

func NewSaramaProducer(cfg config.Config, logger *slog.Logger) *SaramaProducer {
	return &SaramaProducer{
		config:          cfg,
		logger:          logger.With("module", "producer", "driver", "sarama"),
		newSyncProducer: sarama.NewSyncProducer,
	}
}

// Connect is idempotent. On failure any partial state is discarded before the
// error is surfaced.
func (p *SaramaProducer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return nil
	}

	saramaConfig, err := buildSaramaConfig(p.config)
	if err != nil {
		return err
	}

	resultCh := make(chan connectResult, 1)

	go func() {
		producer, err := p.newSyncProducer(p.config.Kafka.Brokers, saramaConfig)
		resultCh <- connectResult{producer: producer, err: err}
	}()

	timer := time.NewTimer(p.config.Timeouts.Connect)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return fmt.Errorf("kafka connection failed: %w", result.err)
		}

		p.producer = result.producer
	case <-timer.C:
		go discardLateConnect(resultCh, p.logger)

		return fmt.Errorf("kafka connection failed: %w", ErrConnectTimeout)
	case <-ctx.Done():
		go discardLateConnect(resultCh, p.logger)

		return fmt.Errorf("kafka connection failed: %w", ctx.Err())
	}

	p.connected = true
	p.logger.InfoContext(ctx, "Connected to Kafka",
		"brokers", p.config.Kafka.Brokers,
		"topic", p.config.Kafka.Topic)

	return nil
}

// Disconnect is idempotent and never raises; the producer always ends up
// disconnected.
func (p *SaramaProducer) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil
	}

	producer := p.producer
	p.producer = nil
	p.connected = false

	err := runBounded(ctx, p.config.Timeouts.Disconnect, ErrDisconnectTimeout, producer.Close)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to close Kafka producer cleanly", "error", err)
	}

	p.logger.InfoContext(ctx, "Disconnected from Kafka")

	return nil
}

func (p *SaramaProducer) Send(ctx context.Context, record *events.ExecutionRecord) error {
	message, err := p.buildMessage(record)
	if err != nil {
		return err
	}

	producer, err := p.current()
	if err != nil {
		return err
	}

	return runBounded(ctx, p.config.Timeouts.Send, ErrSendTimeout, func() error {
		if _, _, err := producer.SendMessage(message); err != nil {
			return fmt.Errorf("kafka send failed: %w", err)
		}

		return nil
	})
}

func (p *SaramaProducer) SendBatch(ctx context.Context, records []*events.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}

	messages := make([]*sarama.ProducerMessage, 0, len(records))

	for _, record := range records {
		message, err := p.buildMessage(record)
		if err != nil {
			return err
		}

		messages = append(messages, message)
	}

	producer, err := p.current()
	if err != nil {
		return err
	}

	return runBounded(ctx, p.config.Timeouts.Send, ErrSendTimeout, func() error {
		if err := producer.SendMessages(messages); err != nil {
			return fmt.Errorf("kafka batch send failed: %w", err)
		}

		return nil
	})
}

func (p *SaramaProducer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connected
}

func (p *SaramaProducer) current() (sarama.SyncProducer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected || p.producer == nil {
		return nil, ErrNotConnected
	}

	return p.producer, nil
}

func (p *SaramaProducer) buildMessage(record *events.ExecutionRecord) (*sarama.ProducerMessage, error) {
	payload, timestamp, err := encodeRecord(record)
	if err != nil {
		return nil, err
	}

	return &sarama.ProducerMessage{
		Topic:     p.config.Kafka.Topic,
		Key:       sarama.StringEncoder(record.MessageID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: timestamp,
	}, nil
}

type connectResult struct {
	producer sarama.SyncProducer
	err      error
}

// discardLateConnect closes a client whose connect attempt outlived its
// timeout.
func discardLateConnect(resultCh <-chan connectResult, logger *slog.Logger) {
	result := <-resultCh
	if result.producer == nil {
		return
	}

	if err := result.producer.Close(); err != nil {
		logger.Warn("Failed to close abandoned producer", "error", err)
	}
}

func buildSaramaConfig(cfg config.Config) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.Kafka.ClientID
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
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

	return saramaConfig, nil
}

func applySASL(saramaConfig *sarama.Config, auth *config.AuthConfig) error {
	saramaConfig.Net.SASL.Enable = true
	saramaConfig.Net.SASL.User = auth.Username
	saramaConfig.Net.SASL.Password = auth.Password

	switch auth.Mechanism {
	case "plain":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case "scram-sha-256":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return newSCRAMClient(scramSHA256)
		}
	case "scram-sha-512":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return newSCRAMClient(scramSHA512)
		}
	default:
		return fmt.Errorf("invalid sasl mechanism: %s", auth.Mechanism)
	}

	return nil
}
