package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bigknoxy/joshbot/internal/bus"
)

// Manager owns the enabled channels and routes outbound messages to them by
// channel name.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates a Manager and subscribes its router to b's outbound
// queue.
func NewManager(b *bus.MessageBus) *Manager {
	m := &Manager{channels: make(map[string]Channel)}
	if b != nil {
		b.OnOutbound(m.Dispatch)
	}
	return m
}

// Register adds a channel, replacing any channel with the same name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	slog.Info("Channel registered", "channel", ch.Name())
}

// Get returns the channel with the given name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch delivers msg through the channel it names. Messages for unknown
// channels are logged and dropped.
func (m *Manager) Dispatch(ctx context.Context, msg *bus.OutboundMessage) error {
	ch, ok := m.Get(msg.Channel)
	if !ok {
		slog.Warn("No channel for outbound message", "channel", msg.Channel, "chat_id", msg.ChatID)
		return nil
	}
	if err := ch.Send(ctx, msg.ChatID, msg.Content); err != nil {
		return fmt.Errorf("send via %s: %w", msg.Channel, err)
	}
	return nil
}

// Start runs every channel until ctx is cancelled. The first channel error
// cancels the others.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	list := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		list = append(list, ch)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range list {
		ch := ch
		g.Go(func() error {
			slog.Info("Starting channel", "channel", ch.Name())
			if err := ch.Start(gctx); err != nil {
				return fmt.Errorf("channel %s: %w", ch.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop stops every channel, returning the first error.
func (m *Manager) Stop() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first error
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			slog.Warn("Channel stop failed", "channel", name, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
