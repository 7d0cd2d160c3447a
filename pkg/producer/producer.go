// Package producer wraps the Kafka client behind a typed, timeout-bounded
// facade. Two drivers are provided: a direct sarama SyncProducer and a
// watermill publisher.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/n8n-extras/kafka-execution-logger/pkg/config"
	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
)

// Producer is the abstract Kafka producer the pipeline depends on.
type Producer interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, record *events.ExecutionRecord) error
	SendBatch(ctx context.Context, records []*events.ExecutionRecord) error
	IsConnected() bool
}

var (
	// ErrNotConnected is worded so the classifier files it under connection.
	ErrNotConnected = errors.New("kafka producer has no connection to a broker")

	ErrConnectTimeout    = errors.New("kafka connect timed out")
	ErrSendTimeout       = errors.New("kafka send timed out")
	ErrDisconnectTimeout = errors.New("kafka disconnect timed out")
)

// New builds the producer for the configured driver.
func New(cfg config.Config, logger *slog.Logger) (Producer, error) {
	switch cfg.Kafka.Driver {
	case "sarama", "":
		return NewSaramaProducer(cfg, logger), nil
	case "watermill":
		return NewWatermillProducer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("invalid kafka driver: %s", cfg.Kafka.Driver)
	}
}

// runBounded runs op against a deadline. A timed-out operation is abandoned;
// its goroutine drains into the buffered channel.
func runBounded(ctx context.Context, timeout time.Duration, timeoutErr error, op func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- op()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return timeoutErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func marshalRecord(record *events.ExecutionRecord) ([]byte, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("serialization failed: %w", err)
	}

	return payload, nil
}

// encodeRecord serializes a record and resolves its Kafka message timestamp.
func encodeRecord(record *events.ExecutionRecord) ([]byte, time.Time, error) {
	payload, err := marshalRecord(record)
	if err != nil {
		return nil, time.Time{}, err
	}

	ts, err := time.Parse(events.TimestampLayout, record.Timestamp)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("serialization failed: invalid record timestamp: %w", err)
	}

	return payload, ts, nil
}
