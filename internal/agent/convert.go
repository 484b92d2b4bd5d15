package agent

import (
	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/session"
)

// toProviderMessages converts durable session messages to the wire form.
// Tool results at the head of the history lost their assistant call to a
// trim and are dropped.
func toProviderMessages(history []session.Message) []provider.Message {
	start := 0
	for start < len(history) && history[start].Role == session.RoleTool {
		start++
	}
	out := make([]provider.Message, 0, len(history)-start)
	for _, msg := range history[start:] {
		out = append(out, toProviderMessage(msg))
	}
	return out
}

func toProviderMessage(msg session.Message) provider.Message {
	pm := provider.Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
	}
	for _, p := range msg.Parts {
		pm.Parts = append(pm.Parts, provider.ContentPart{Type: p.Type, Text: p.Text, ImageURL: p.ImageURL})
	}
	for _, tc := range msg.ToolCalls {
		pm.ToolCalls = append(pm.ToolCalls, provider.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return pm
}

func toSessionMessage(msg provider.Message) session.Message {
	sm := session.Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
	}
	for _, p := range msg.Parts {
		sm.Parts = append(sm.Parts, session.ContentPart{Type: p.Type, Text: p.Text, ImageURL: p.ImageURL})
	}
	for _, tc := range msg.ToolCalls {
		sm.ToolCalls = append(sm.ToolCalls, session.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return sm
}
