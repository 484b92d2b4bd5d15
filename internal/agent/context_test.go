package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigknoxy/joshbot/internal/memory"
	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/session"
	"github.com/bigknoxy/joshbot/internal/tools"
)

type staticSkills string

func (s staticSkills) Summary() string { return string(s) }

func TestContextBuilder(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "AGENTS.md"), []byte("Bootstrap Content"), 0o644)
	os.WriteFile(filepath.Join(tmpDir, "SOUL.md"), []byte("Be kind."), 0o644)
	os.Mkdir(filepath.Join(tmpDir, "memory"), 0o755)
	os.WriteFile(filepath.Join(tmpDir, "memory", "MEMORY.md"), []byte("Test Memory"), 0o644)

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(tools.Workspace{Root: tmpDir}))

	builder := NewContextBuilder(tmpDir, memory.NewStore(tmpDir), staticSkills(`<skill name="weather" available="true">Forecasts</skill>`), registry)
	builder.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC) }
	systemPrompt := builder.BuildSystemPrompt()

	for _, want := range []string{
		"You are joshbot",
		"<agents>\nBootstrap Content\n</agents>",
		"<soul>\nBe kind.\n</soul>",
		"<memory>\nTest Memory\n</memory>",
		"- read_file:",
		`<skill name="weather"`,
		"<current_time>2026-03-04 05:06 UTC</current_time>",
	} {
		if !strings.Contains(systemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(systemPrompt, "<user>") {
		t.Error("absent bootstrap file should be skipped")
	}
	if strings.Index(systemPrompt, "<memory>") > strings.Index(systemPrompt, "<tools>") {
		t.Error("memory should precede tools")
	}
}

func TestBuildMessages(t *testing.T) {
	builder := NewContextBuilder(t.TempDir(), nil, nil, tools.NewRegistry())
	history := []session.Message{
		{Role: session.RoleUser, Content: "Hello"},
		{Role: session.RoleAssistant, Content: "Hi there"},
	}
	msgs := builder.BuildMessages(history, session.Message{Role: session.RoleUser, Content: "Current message"})

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != session.RoleSystem {
		t.Errorf("first message should be system, got %s", msgs[0].Role)
	}
	if msgs[3].Content != "Current message" {
		t.Errorf("last message should be the current one, got %q", msgs[3].Content)
	}
}

func TestBuildMessagesDropsOrphanToolResults(t *testing.T) {
	builder := NewContextBuilder(t.TempDir(), nil, nil, tools.NewRegistry())
	history := []session.Message{
		{Role: session.RoleTool, Content: "stale", ToolCallID: "c0", Name: "exec"},
		{Role: session.RoleUser, Content: "next"},
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "c1", Name: "exec"}}},
		{Role: session.RoleTool, Content: "ok", ToolCallID: "c1", Name: "exec"},
	}
	msgs := builder.BuildMessages(history, session.Message{Role: session.RoleUser, Content: "now"})

	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[1].Role != session.RoleUser {
		t.Errorf("leading tool message not dropped: %+v", msgs[1])
	}
	if msgs[3].Role != session.RoleTool || msgs[3].ToolCallID != "c1" {
		t.Errorf("paired tool result lost: %+v", msgs[3])
	}
}

func TestMultipartUserMessage(t *testing.T) {
	builder := NewContextBuilder(t.TempDir(), nil, nil, nil)
	current := session.Message{
		Role:    session.RoleUser,
		Content: "what is this?",
		Parts: []session.ContentPart{
			{Type: provider.PartText, Text: "what is this?"},
			{Type: provider.PartImage, ImageURL: "https://example.com/a.png"},
		},
	}
	msgs := builder.BuildMessages(nil, current)
	last := msgs[len(msgs)-1]
	if len(last.Parts) != 2 || last.Parts[1].ImageURL != "https://example.com/a.png" {
		t.Fatalf("parts not carried: %+v", last.Parts)
	}
}
