// Package channels connects chat transports to the message bus.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bigknoxy/joshbot/internal/bus"
)

// Channel defines the interface for chat transports (CLI, Slack, Kafka).
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start runs the channel listener until ctx is cancelled or the
	// transport ends.
	Start(ctx context.Context) error
	// Stop releases the transport.
	Stop() error
	// Send delivers text to a chat.
	Send(ctx context.Context, chatID, text string) error
	// IsAllowed reports whether senderID may talk to the agent.
	IsAllowed(senderID string) bool
}

// Publisher accepts inbound messages.
type Publisher interface {
	PublishInbound(msg *bus.InboundMessage) bool
}

// BaseChannel provides the allow-list and inbound publishing shared by all
// channels.
type BaseChannel struct {
	name      string
	bus       Publisher
	allowFrom map[string]bool
}

// NewBaseChannel creates a BaseChannel. An empty allowFrom admits everyone.
func NewBaseChannel(name string, b Publisher, allowFrom []string) BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsAllowed checks senderID against the allow-list. Composite IDs such as
// "12345|alice" match on any of their parts.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	if c.allowFrom[senderID] {
		return true
	}
	for _, part := range strings.Split(senderID, "|") {
		if part != "" && c.allowFrom[part] {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message from senderID. Messages from
// senders outside the allow-list are dropped. It reports whether the
// message was queued.
func (c *BaseChannel) HandleMessage(msg *bus.InboundMessage) bool {
	if !c.IsAllowed(msg.SenderID) {
		slog.Warn("Dropping message from unauthorized sender", "channel", c.name, "sender", msg.SenderID)
		return false
	}
	msg.Channel = c.name
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if !c.bus.PublishInbound(msg) {
		slog.Warn("Inbound queue full, message dropped", "channel", c.name, "chat_id", msg.ChatID)
		return false
	}
	return true
}

// chatKey prefixes a transport-native conversation ID with the channel name.
func chatKey(channel, nativeID string) string {
	if strings.HasPrefix(nativeID, channel+":") {
		return nativeID
	}
	return channel + ":" + nativeID
}

// nativeID strips the channel prefix added by chatKey.
func nativeID(channel, chatID string) string {
	return strings.TrimPrefix(chatID, channel+":")
}
