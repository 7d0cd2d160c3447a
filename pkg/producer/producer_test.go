package producer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n8n-extras/kafka-execution-logger/pkg/config"
	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Enabled = true
	cfg.Timeouts.Connect = 200 * time.Millisecond
	cfg.Timeouts.Send = 200 * time.Millisecond
	cfg.Timeouts.Disconnect = 200 * time.Millisecond

	return cfg
}

func testRecord(id string) *events.ExecutionRecord {
	return &events.ExecutionRecord{
		Type:      "track",
		Event:     "Workflow Started",
		UserID:    "user-1",
		Timestamp: "2023-01-01T10:00:00.000Z",
		MessageID: id,
		Tags:      []string{},
	}
}

func connectedProducer(t *testing.T) (*SaramaProducer, *mocks.SyncProducer) {
	t.Helper()

	mockProducer := mocks.NewSyncProducer(t, nil)

	p := NewSaramaProducer(testConfig(), testLogger())
	p.newSyncProducer = func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
		return mockProducer, nil
	}

	require.NoError(t, p.Connect(context.Background()))

	return p, mockProducer
}

func TestNew_DriverSelection(t *testing.T) {
	cfg := testConfig()

	p, err := New(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SaramaProducer{}, p)

	cfg.Kafka.Driver = "watermill"
	p, err = New(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &WatermillProducer{}, p)

	cfg.Kafka.Driver = "franz"
	_, err = New(cfg, testLogger())
	assert.Error(t, err)
}

func TestSaramaProducer_ConnectIsIdempotent(t *testing.T) {
	connections := 0
	mockProducer := mocks.NewSyncProducer(t, nil)

	p := NewSaramaProducer(testConfig(), testLogger())
	p.newSyncProducer = func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
		connections++

		return mockProducer, nil
	}

	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	require.NoError(t, p.Connect(ctx))

	assert.Equal(t, 1, connections)
	assert.True(t, p.IsConnected())
}

func TestSaramaProducer_ConnectFailureLeavesCleanState(t *testing.T) {
	p := NewSaramaProducer(testConfig(), testLogger())
	p.newSyncProducer = func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
		return nil, sarama.ErrOutOfBrokers
	}

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka connection failed")
	assert.False(t, p.IsConnected())
}

func TestSaramaProducer_ConnectTimeout(t *testing.T) {
	p := NewSaramaProducer(testConfig(), testLogger())
	p.newSyncProducer = func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
		time.Sleep(time.Second)

		return mocks.NewSyncProducer(t, nil), nil
	}

	err := p.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectTimeout)
	assert.False(t, p.IsConnected())
}

func TestSaramaProducer_SendWithoutConnection(t *testing.T) {
	p := NewSaramaProducer(testConfig(), testLogger())

	err := p.Send(context.Background(), testRecord("msg-1"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSaramaProducer_SendSerializesRecord(t *testing.T) {
	p, mockProducer := connectedProducer(t)

	record := testRecord("msg-1")
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var decoded events.ExecutionRecord
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}

		if decoded.MessageID != "msg-1" {
			return errors.New("unexpected messageId")
		}

		return nil
	})

	require.NoError(t, p.Send(context.Background(), record))
}

func TestSaramaProducer_SendFailureIsWrapped(t *testing.T) {
	p, mockProducer := connectedProducer(t)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)

	err := p.Send(context.Background(), testRecord("msg-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka send failed")
}

func TestSaramaProducer_SendRejectsBadTimestamp(t *testing.T) {
	p, _ := connectedProducer(t)

	record := testRecord("msg-1")
	record.Timestamp = "not-a-timestamp"

	err := p.Send(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialization failed")
}

func TestSaramaProducer_SendBatch(t *testing.T) {
	p, mockProducer := connectedProducer(t)

	records := []*events.ExecutionRecord{testRecord("msg-1"), testRecord("msg-2")}
	for range records {
		mockProducer.ExpectSendMessageAndSucceed()
	}

	require.NoError(t, p.SendBatch(context.Background(), records))
}

func TestSaramaProducer_EmptyBatchIsNoOp(t *testing.T) {
	p := NewSaramaProducer(testConfig(), testLogger())

	// no connection needed: an empty batch never reaches the client
	require.NoError(t, p.SendBatch(context.Background(), nil))
}

func TestSaramaProducer_DisconnectIsIdempotentAndSilent(t *testing.T) {
	p, mockProducer := connectedProducer(t)
	_ = mockProducer

	ctx := context.Background()
	require.NoError(t, p.Disconnect(ctx))
	assert.False(t, p.IsConnected())

	require.NoError(t, p.Disconnect(ctx))
}

func TestBuildSaramaConfig_SASLAndTLS(t *testing.T) {
	testCases := []struct {
		mechanism string
		expected  sarama.SASLMechanism
	}{
		{"plain", sarama.SASLTypePlaintext},
		{"scram-sha-256", sarama.SASLTypeSCRAMSHA256},
		{"scram-sha-512", sarama.SASLTypeSCRAMSHA512},
	}

	for _, tc := range testCases {
		t.Run(tc.mechanism, func(t *testing.T) {
			cfg := testConfig()
			cfg.Kafka.SSL = true
			cfg.Kafka.Auth = &config.AuthConfig{Username: "u", Password: "p", Mechanism: tc.mechanism}

			saramaConfig, err := buildSaramaConfig(cfg)
			require.NoError(t, err)

			assert.True(t, saramaConfig.Net.TLS.Enable)
			assert.True(t, saramaConfig.Net.SASL.Enable)
			assert.Equal(t, "u", saramaConfig.Net.SASL.User)
			assert.Equal(t, tc.expected, saramaConfig.Net.SASL.Mechanism)
			assert.Equal(t, cfg.Kafka.ClientID, saramaConfig.ClientID)
		})
	}
}

func TestBuildSaramaConfig_NoAuth(t *testing.T) {
	saramaConfig, err := buildSaramaConfig(testConfig())
	require.NoError(t, err)

	assert.False(t, saramaConfig.Net.SASL.Enable)
	assert.False(t, saramaConfig.Net.TLS.Enable)
}

func TestWatermillProducer_SendWithoutConnection(t *testing.T) {
	p := NewWatermillProducer(testConfig(), testLogger())

	err := p.Send(context.Background(), testRecord("msg-1"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWatermillProducer_EmptyBatchIsNoOp(t *testing.T) {
	p := NewWatermillProducer(testConfig(), testLogger())

	require.NoError(t, p.SendBatch(context.Background(), nil))
}

func TestSCRAMClient(t *testing.T) {
	client := newSCRAMClient(scramSHA256)

	require.NoError(t, client.Begin("user", "password", ""))

	first, err := client.Step("")
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.False(t, client.Done())
}
