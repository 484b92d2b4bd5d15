package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigknoxy/joshbot/internal/bus"
)

const (
	startReply = "Hello! I'm joshbot, your personal AI assistant. How can I help you today?"
	newReply   = "Started a new conversation. Previous context has been saved to memory."
	helpReply  = "Available commands:\n" +
		"/start - Start a conversation\n" +
		"/new - Start fresh (saves memory first)\n" +
		"/help - Show this help\n" +
		"/status - Show system status\n\n" +
		"Just type normally to chat with me!"
)

// handleCommand answers slash commands without a model call. ok is false for
// anything that is not a known command.
func (l *Loop) handleCommand(ctx context.Context, msg *bus.InboundMessage) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(msg.Content)) {
	case "/start":
		return startReply, true
	case "/help":
		return helpReply, true
	case "/new":
		key := msg.SessionKey()
		sess := l.sessions.GetOrCreate(key)
		if n := sess.Len(); n > 0 {
			if err := l.consolidator.Consolidate(ctx, sess, n); err != nil {
				slog.Warn("Consolidation before reset failed", "session", key, "error", err)
			}
		}
		l.sessions.Delete(key)
		return newReply, true
	case "/status":
		sess := l.sessions.GetOrCreate(msg.SessionKey())
		return fmt.Sprintf("Status:\n  Model: %s\n  Tools: %d registered\n  Session messages: %d\n  Memory window: %d",
			l.model, l.registry.Len(), sess.Len(), l.memoryWindow), true
	}
	return "", false
}
