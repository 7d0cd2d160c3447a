// Package eventbus carries host process signals to the execution logger.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Signal names the host lifecycle moments the logger binds to.
type Signal string

const (
	SignalServerStarted Signal = "server-started"
	SignalShutdown      Signal = "shutdown"
)

type HandlerFunc func(ctx context.Context)

// EventBus is the host surface the integration service subscribes through.
type EventBus interface {
	On(signal Signal, handler HandlerFunc)
	Publish(ctx context.Context, signal Signal) error
	Close() error
}

// WatermillEventBus is an in-process EventBus on a watermill GoChannel.
type WatermillEventBus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger

	mu         sync.Mutex
	handlers   map[Signal][]HandlerFunc
	subscribed map[Signal]bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWatermillEventBus(logger *slog.Logger) *WatermillEventBus {
	ctx, cancel := context.WithCancel(context.Background())

	return &WatermillEventBus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 16},
			watermill.NewSlogLogger(logger),
		),
		logger:     logger.With("module", "eventbus"),
		handlers:   make(map[Signal][]HandlerFunc),
		subscribed: make(map[Signal]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// On registers a handler for a signal. The first handler for a signal opens
// the underlying subscription.
func (b *WatermillEventBus) On(signal Signal, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[signal] = append(b.handlers[signal], handler)

	if b.subscribed[signal] {
		return
	}

	messages, err := b.pubSub.Subscribe(b.ctx, string(signal))
	if err != nil {
		b.logger.Error("Failed to subscribe to signal", "signal", string(signal), "error", err)

		return
	}

	b.subscribed[signal] = true

	go b.consume(signal, messages)
}

func (b *WatermillEventBus) consume(signal Signal, messages <-chan *message.Message) {
	for msg := range messages {
		b.mu.Lock()
		handlers := make([]HandlerFunc, len(b.handlers[signal]))
		copy(handlers, b.handlers[signal])
		b.mu.Unlock()

		for _, handler := range handlers {
			handler(b.ctx)
		}

		msg.Ack()
	}
}

func (b *WatermillEventBus) Publish(_ context.Context, signal Signal) error {
	msg := message.NewMessage(watermill.NewUUID(), nil)

	return b.pubSub.Publish(string(signal), msg)
}

func (b *WatermillEventBus) Close() error {
	b.cancel()

	return b.pubSub.Close()
}
