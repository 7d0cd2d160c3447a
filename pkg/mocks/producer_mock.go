// Package mocks provides shared testify mocks for the pipeline's interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
)

// MockProducer is a mock implementation of the producer.Producer interface.
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Connect(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockProducer) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockProducer) Send(ctx context.Context, record *events.ExecutionRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockProducer) SendBatch(ctx context.Context, records []*events.ExecutionRecord) error {
	args := m.Called(ctx, records)

	return args.Error(0)
}

func (m *MockProducer) IsConnected() bool {
	args := m.Called()

	return args.Bool(0)
}
