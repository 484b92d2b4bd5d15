package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/session"
	"github.com/bigknoxy/joshbot/internal/timeline"
	"github.com/bigknoxy/joshbot/internal/tools"
)

const reflectionPrompt = "[System: Reflect on the tool results and decide your next action. If you have enough information to respond to the user, do so. Otherwise, use more tools.]"

// toolLoop is the bounded call-model / run-tools cycle shared by the main
// agent and subagents.
type toolLoop struct {
	provider      provider.LLMProvider
	registry      *tools.Registry
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	// reflect appends the reflection prompt to the working list after every
	// tool round except the last.
	reflect bool
	// blocked tool names are removed from model requests before anything is
	// recorded or executed.
	blocked map[string]bool
	trace   *tracer
}

// loopResult is the outcome of one toolLoop run.
type loopResult struct {
	// Content is the final assistant text; empty when Capped.
	Content string
	// Transcript holds the assistant and tool messages to persist, in order.
	// Reflection prompts are never part of it.
	Transcript []provider.Message
	Iterations int
	Capped     bool
}

func (t *toolLoop) toolDefinitions() []provider.ToolDefinition {
	list := t.registry.List()
	defs := make([]provider.ToolDefinition, 0, len(list))
	for _, tool := range list {
		if t.blocked[tool.Name()] {
			continue
		}
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

// run drives the loop over messages, which is treated as the working list
// and never shared with the caller's durable history.
func (t *toolLoop) run(ctx context.Context, messages []provider.Message) (*loopResult, error) {
	working := append([]provider.Message{}, messages...)
	toolDefs := t.toolDefinitions()
	res := &loopResult{}

	for i := 0; i < t.maxIterations; i++ {
		res.Iterations = i + 1
		req := &provider.ChatRequest{
			Messages:    working,
			Tools:       toolDefs,
			Model:       t.model,
			MaxTokens:   t.maxTokens,
			Temperature: t.temperature,
		}
		llmStart := time.Now()
		resp, err := t.provider.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}
		t.trace.llmSpan(i, llmStart, t.model, len(working), resp)

		calls := t.allowedCalls(resp.ToolCalls)
		if len(calls) == 0 {
			res.Content = resp.Content
			final := provider.Message{Role: session.RoleAssistant, Content: resp.Content}
			res.Transcript = append(res.Transcript, final)
			return res, nil
		}

		assistant := provider.Message{Role: session.RoleAssistant, Content: resp.Content, ToolCalls: calls}
		working = append(working, assistant)
		res.Transcript = append(res.Transcript, assistant)

		for _, tc := range calls {
			slog.Info("Executing tool", "tool", tc.Name, "args", argsPreview(tc.Arguments))
			toolStart := time.Now()
			result := t.registry.Execute(ctx, tc.Name, tc.Arguments)
			t.trace.toolSpan(tc, toolStart, result)

			toolMsg := provider.Message{Role: session.RoleTool, Content: result, ToolCallID: tc.ID, Name: tc.Name}
			working = append(working, toolMsg)
			res.Transcript = append(res.Transcript, toolMsg)
			slog.Debug("Tool executed", "name", tc.Name, "result_length", len(result))
		}

		if t.reflect && i < t.maxIterations-1 {
			working = append(working, provider.Message{Role: session.RoleUser, Content: reflectionPrompt})
		}
	}

	slog.Warn("Hit max tool iterations", "max", t.maxIterations)
	res.Capped = true
	return res, nil
}

func (t *toolLoop) allowedCalls(calls []provider.ToolCall) []provider.ToolCall {
	if len(t.blocked) == 0 {
		return calls
	}
	out := make([]provider.ToolCall, 0, len(calls))
	for _, tc := range calls {
		if t.blocked[tc.Name] {
			slog.Warn("Dropping restricted tool call", "tool", tc.Name)
			continue
		}
		out = append(out, tc)
	}
	return out
}

func argsPreview(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return truncateStr(string(data), 100)
}

// truncateStr returns s trimmed to maxLen characters.
func truncateStr(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

// tracer writes LLM and tool spans of one turn to the timeline. A nil tracer
// or one without a timeline records nothing.
type tracer struct {
	timeline *timeline.TimelineService
	traceID  string
	taskID   string
	channel  string
	chatID   string
}

func (tr *tracer) enabled() bool {
	return tr != nil && tr.timeline != nil && tr.traceID != ""
}

func (tr *tracer) llmSpan(iteration int, start time.Time, model string, messageCount int, resp *provider.ChatResponse) {
	if !tr.enabled() {
		return
	}
	duration := time.Since(start)
	summary := ""
	if len(resp.ToolCalls) > 0 {
		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Name
		}
		summary = " tools: " + strings.Join(names, ", ")
	}
	meta, _ := json.Marshal(map[string]any{
		"model":             model,
		"duration_ms":       duration.Milliseconds(),
		"finish_reason":     resp.FinishReason,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
		"response_text":     truncateStr(resp.Content, 10240),
		"message_count":     messageCount,
	})
	tr.add(&timeline.TimelineEvent{
		EventID:        fmt.Sprintf("LLM_%s_%d_%d", tr.traceID, iteration, time.Now().UnixNano()),
		Timestamp:      start,
		SenderName:     "LLM",
		ContentText:    fmt.Sprintf("model=%s tokens=%d duration=%dms%s", model, resp.Usage.TotalTokens, duration.Milliseconds(), summary),
		Classification: "LLM",
		Metadata:       string(meta),
	})
	if tr.taskID != "" {
		u := resp.Usage
		if err := tr.timeline.AddTaskUsage(tr.taskID, u.PromptTokens, u.CompletionTokens, u.TotalTokens); err != nil {
			slog.Debug("Failed to record token usage", "task", tr.taskID, "error", err)
		}
	}
}

func (tr *tracer) toolSpan(tc provider.ToolCall, start time.Time, result string) {
	if !tr.enabled() {
		return
	}
	duration := time.Since(start)
	meta, _ := json.Marshal(map[string]any{
		"tool_name":    tc.Name,
		"tool_call_id": tc.ID,
		"arguments":    tc.Arguments,
		"duration_ms":  duration.Milliseconds(),
		"result":       truncateStr(result, 10240),
	})
	tr.add(&timeline.TimelineEvent{
		EventID:        fmt.Sprintf("TOOL_%s_%s_%d", tr.traceID, tc.Name, time.Now().UnixNano()),
		Timestamp:      start,
		SenderName:     "Tool",
		ContentText:    fmt.Sprintf("tool=%s duration=%dms result_len=%d", tc.Name, duration.Milliseconds(), len(result)),
		Classification: "TOOL",
		Metadata:       string(meta),
	})
}

func (tr *tracer) add(evt *timeline.TimelineEvent) {
	evt.TraceID = tr.traceID
	evt.Channel = tr.channel
	evt.ChatID = tr.chatID
	evt.SenderID = "AGENT"
	if evt.EventType == "" {
		evt.EventType = timeline.EventSystem
	}
	if err := tr.timeline.AddEvent(evt); err != nil {
		slog.Debug("Failed to record timeline event", "event", evt.EventID, "error", err)
	}
}
