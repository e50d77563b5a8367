package bus

import (
	"context"
	"log/slog"
	"sync"
)

type OutboundHandler func(msg OutboundMessage)

// MessageBus connects transports to the gateway. Transports write Inbound,
// the gateway writes Outbound and DispatchOutbound routes by channel name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]OutboundHandler
	logger   *slog.Logger
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		handlers: make(map[string]OutboundHandler),
		logger:   slog.Default().With("component", "bus"),
	}
}

func (b *MessageBus) SetLogger(logger *slog.Logger) {
	if logger != nil {
		b.logger = logger.With("component", "bus")
	}
}

func (b *MessageBus) SubscribeOutbound(channel string, h OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = h
}

// Publish queues an outbound message, giving up when ctx is done.
func (b *MessageBus) Publish(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchOutbound delivers outbound messages until ctx is cancelled.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			h, ok := b.handlers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				b.logger.Warn("no handler for outbound channel", "channel", msg.Channel)
				continue
			}
			h(msg)
		case <-ctx.Done():
			return
		}
	}
}
