// Package bus provides the bounded message bus between channels and the agent core.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the capacity used when none is configured.
const DefaultQueueSize = 1000

// defaultPollInterval bounds how long a consumer waits before re-checking Stop.
const defaultPollInterval = time.Second

// InboundHandler processes one inbound message.
type InboundHandler func(ctx context.Context, msg *InboundMessage) error

// OutboundHandler processes one outbound message.
type OutboundHandler func(ctx context.Context, msg *OutboundMessage) error

// MessageBus decouples producers (channels, scheduler, heartbeat) from the agent core.
// Each queue has exactly one consumer loop, so handlers never run concurrently
// with each other for the same queue.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage

	mu          sync.RWMutex
	inHandlers  []InboundHandler
	outHandlers []OutboundHandler

	running      atomic.Bool
	pollInterval time.Duration
}

// NewMessageBus creates a bus whose queues hold at most capacity messages each.
func NewMessageBus(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &MessageBus{
		inbound:      make(chan *InboundMessage, capacity),
		outbound:     make(chan *OutboundMessage, capacity),
		pollInterval: defaultPollInterval,
	}
}

// OnInbound registers a handler for inbound messages.
func (b *MessageBus) OnInbound(h InboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inHandlers = append(b.inHandlers, h)
}

// OnOutbound registers a handler for outbound messages.
func (b *MessageBus) OnOutbound(h OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outHandlers = append(b.outHandlers, h)
}

// PublishInbound enqueues a message for the agent. It never blocks: when the
// queue is full the message is dropped and false is returned.
func (b *MessageBus) PublishInbound(msg *InboundMessage) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		slog.Debug("Inbound queued", "channel", msg.Channel, "chat_id", msg.ChatID, "content", preview(msg.Content))
		return true
	default:
		slog.Error("Inbound queue full, dropping message", "channel", msg.Channel, "chat_id", msg.ChatID, "capacity", cap(b.inbound))
		return false
	}
}

// PublishOutbound enqueues a reply for the channels. Same drop semantics as PublishInbound.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.outbound <- msg:
		slog.Debug("Outbound queued", "channel", msg.Channel, "chat_id", msg.ChatID, "content", preview(msg.Content))
		return true
	default:
		slog.Error("Outbound queue full, dropping message", "channel", msg.Channel, "chat_id", msg.ChatID, "capacity", cap(b.outbound))
		return false
	}
}

// Start runs both consumer loops and blocks until they exit, either because
// Stop was called or the context was cancelled.
func (b *MessageBus) Start(ctx context.Context) {
	b.running.Store(true)
	slog.Info("Message bus started", "capacity", cap(b.inbound))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		consume[*InboundMessage](ctx, b, b.inbound, b.inboundHandlers, "inbound")
	}()
	go func() {
		defer wg.Done()
		consume[*OutboundMessage](ctx, b, b.outbound, b.outboundHandlers, "outbound")
	}()
	wg.Wait()

	b.running.Store(false)
	slog.Info("Message bus stopped")
}

// Stop asks the consumer loops to exit at their next poll timeout.
// A handler that is already running completes first.
func (b *MessageBus) Stop() {
	b.running.Store(false)
}

// Running reports whether the consumer loops are active.
func (b *MessageBus) Running() bool {
	return b.running.Load()
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}

func (b *MessageBus) inboundHandlers() []func(context.Context, *InboundMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]func(context.Context, *InboundMessage) error, len(b.inHandlers))
	for i, h := range b.inHandlers {
		out[i] = h
	}
	return out
}

func (b *MessageBus) outboundHandlers() []func(context.Context, *OutboundMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]func(context.Context, *OutboundMessage) error, len(b.outHandlers))
	for i, h := range b.outHandlers {
		out[i] = h
	}
	return out
}

// consume pops from queue until the bus stops, running every handler in
// registration order before popping again.
func consume[T any](ctx context.Context, b *MessageBus, queue <-chan T, handlers func() []func(context.Context, T) error, name string) {
	timer := time.NewTimer(b.pollInterval)
	defer timer.Stop()

	for b.running.Load() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.pollInterval)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			continue
		case msg := <-queue:
			for i, h := range handlers() {
				if err := safeCall(ctx, h, msg); err != nil {
					slog.Error("Bus handler failed", "queue", name, "handler", i, "error", err)
				}
			}
		}
	}
}

func safeCall[T any](ctx context.Context, h func(context.Context, T) error, msg T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

func preview(s string) string {
	const max = 80
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
