// Package bus implements the in-process message bus connecting Channels to
// the Agent Orchestrator: an in-memory, channel-buffered pub/sub adapted
// from the teacher's InMemoryBus.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"chatrelay/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based bus for in-process communication
// between Channels and the core.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given inbound buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish pushes an inbound message onto the bus, blocking up to
// publishTimeout if the buffer is full rather than dropping it.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("bus: publish attempted on closed bus", "id", msg.ID)
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("bus: inbound buffer full, waiting", "id", msg.ID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
		case <-timer.C:
			b.logger.Error("bus: message dropped after 10s wait", "id", msg.ID)
		}
	}
}

// Subscribe returns the inbound channel for the orchestrator's ingress
// loop.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound fans an outbound message out to every registered channel
// handler; a Channel implementation is responsible for ignoring messages
// not addressed to one of its own conversations.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handlers := make([]func(domain.OutboundMessage), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Warn("bus: no outbound handlers registered, message dropped")
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

// OnOutbound registers channelName's outbound handler.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Close marks the bus closed and closes the inbound channel. Safe to call
// more than once.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
