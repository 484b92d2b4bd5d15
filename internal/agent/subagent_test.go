package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/tools"
)

func TestSubagentRestrictedTools(t *testing.T) {
	echo := &countingTool{name: "echo"}
	spawn := &countingTool{name: "spawn"}
	message := &countingTool{name: "message"}
	registry := tools.NewRegistry()
	registry.Register(echo)
	registry.Register(spawn)
	registry.Register(message)

	prov := &scriptedProvider{responses: []*provider.ChatResponse{
		toolCallResponse("spawn", "echo", "message"),
		{Content: "all done"},
	}}
	runner := NewSubagentRunner(SubagentOptions{Provider: prov, Registry: registry})

	got := runner.Run(context.Background(), "summarize logs", "look at /var/log")
	if got != "all done" {
		t.Fatalf("unexpected result %q", got)
	}
	if spawn.count() != 0 || message.count() != 0 {
		t.Errorf("restricted tools executed: spawn=%d message=%d", spawn.count(), message.count())
	}
	if echo.count() != 1 {
		t.Errorf("expected echo to run once, got %d", echo.count())
	}

	calls := prov.calls()
	for _, def := range calls[0].Tools {
		if def.Function.Name == "spawn" || def.Function.Name == "message" {
			t.Errorf("restricted tool %s offered to subagent", def.Function.Name)
		}
	}
	user := calls[0].Messages[1].Content
	if user != "Task: summarize logs\n\nAdditional context: look at /var/log" {
		t.Errorf("unexpected task message %q", user)
	}

	second := calls[1].Messages
	var assistant provider.Message
	for _, m := range second {
		if m.Role == "assistant" {
			assistant = m
		}
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Name != "echo" {
		t.Errorf("restricted calls should be filtered from the recorded assistant message: %+v", assistant.ToolCalls)
	}
	if countReflections(second) != 0 {
		t.Error("subagents should not add reflection prompts")
	}
}

func TestSubagentOutcomes(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&countingTool{name: "echo"})

	tests := []struct {
		name string
		prov *scriptedProvider
		want string
	}{
		{"error", &scriptedProvider{err: errors.New("down")}, "Subagent error: "},
		{"empty", &scriptedProvider{responses: []*provider.ChatResponse{{Content: ""}}}, subagentNoOutput},
		{"capped", &scriptedProvider{responses: []*provider.ChatResponse{toolCallResponse("echo")}}, subagentCapped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := NewSubagentRunner(SubagentOptions{Provider: tt.prov, Registry: registry, MaxIterations: 2})
			got := runner.Run(context.Background(), "task", "")
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("got %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestSpawnToolUsesSubagent(t *testing.T) {
	prov := &scriptedProvider{responses: []*provider.ChatResponse{{Content: "background result"}}}
	loop := NewLoop(LoopOptions{Provider: prov, Workspace: t.TempDir()})

	out := loop.Registry().Execute(context.Background(), "spawn", map[string]any{"task": "dig"})
	if !strings.Contains(out, "background result") {
		t.Errorf("spawn did not run subagent: %q", out)
	}
}
