package tools

import (
	"context"
	"fmt"

	"github.com/bigknoxy/joshbot/internal/bus"
)

// OutboundPublisher accepts replies bound for a channel.
type OutboundPublisher interface {
	PublishOutbound(msg *bus.OutboundMessage) bool
}

// MessageTool sends a proactive message to a chat channel.
type MessageTool struct {
	bus OutboundPublisher
}

// NewMessageTool creates a MessageTool publishing to b.
func NewMessageTool(b OutboundPublisher) *MessageTool {
	return &MessageTool{bus: b}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to a chat channel. Use this to proactively communicate. Defaults to the current conversation."
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "Message content to send",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Channel name (e.g. 'slack', 'cli'); defaults to the current channel",
			},
			"chat_id": map[string]any{
				"type":        "string",
				"description": "Conversation key (e.g. 'slack:C123'); defaults to the current conversation",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	origin, _ := OriginFrom(ctx)
	channel := GetString(params, "channel", origin.Channel)
	chatID := GetString(params, "chat_id", origin.ChatID)
	content := GetString(params, "content", "")

	if channel == "" || chatID == "" {
		return "Error: channel and chat_id are required outside a conversation", nil
	}
	if content == "" {
		return "Error: content is required", nil
	}

	ok := t.bus.PublishOutbound(&bus.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Content:  content,
		Metadata: map[string]any{bus.MetaKeyProactive: true},
	})
	if !ok {
		return "", fmt.Errorf("outbound queue full")
	}
	return fmt.Sprintf("Message sent to %s (%s)", chatID, channel), nil
}
