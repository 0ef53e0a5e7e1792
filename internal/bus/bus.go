package bus

import (
	"log/slog"
	"sync"
	"time"

	"askbot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound  chan domain.InboundEvent
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundEvent, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish delivers an inbound event to the router in arrival order.
// Blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(evt domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "event", evt.ID)
		return
	}

	select {
	case b.inbound <- evt:
	default:
		b.logger.Warn("inbound bus full, waiting...", "event", evt.ID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- evt:
			b.logger.Info("event delivered after wait", "event", evt.ID)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s", "event", evt.ID)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

// SendOutbound routes an outbound message to the handler registered for
// its channel. Delivery is best-effort; a missing handler is logged and
// the message dropped.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}

	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
