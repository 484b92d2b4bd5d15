package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bigknoxy/joshbot/internal/identity"
	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/session"
	"github.com/bigknoxy/joshbot/internal/tools"
)

// MemoryContext supplies the long-term memory injected into every prompt.
type MemoryContext interface {
	GetContext() string
}

// SkillsSummarizer renders the skills block of the system prompt.
type SkillsSummarizer interface {
	Summary() string
}

// ContextBuilder assembles the system prompt and messages.
type ContextBuilder struct {
	workspace string
	memory    MemoryContext
	skills    SkillsSummarizer
	registry  *tools.Registry
	now       func() time.Time
}

// NewContextBuilder creates a new ContextBuilder. memory and skills may be nil.
func NewContextBuilder(workspace string, memory MemoryContext, skills SkillsSummarizer, registry *tools.Registry) *ContextBuilder {
	return &ContextBuilder{
		workspace: workspace,
		memory:    memory,
		skills:    skills,
		registry:  registry,
		now:       time.Now,
	}
}

// BuildSystemPrompt constructs the full system prompt: identity, bootstrap
// files, long-term memory, tools, skills and the current UTC time.
func (b *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{b.getIdentity()}

	for _, name := range identity.TemplateNames {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("Failed to read bootstrap file", "file", name, "error", err)
			}
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			tag := strings.ToLower(strings.TrimSuffix(name, ".md"))
			parts = append(parts, fmt.Sprintf("<%s>\n%s\n</%s>", tag, text, tag))
		}
	}

	if b.memory != nil {
		if mem := b.memory.GetContext(); mem != "" {
			parts = append(parts, "<memory>\n"+mem+"\n</memory>")
		}
	}

	if summary := b.toolsSummary(); summary != "" {
		parts = append(parts, "<tools>\n"+summary+"\n</tools>")
	}

	if b.skills != nil {
		if summary := strings.TrimSpace(b.skills.Summary()); summary != "" {
			parts = append(parts, "<skills>\n"+summary+"\n</skills>")
		}
	}

	parts = append(parts, "<current_time>"+b.now().UTC().Format("2006-01-02 15:04 UTC")+"</current_time>")
	return strings.Join(parts, "\n\n")
}

func (b *ContextBuilder) getIdentity() string {
	runtimeInfo := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return fmt.Sprintf(`You are joshbot, a personal AI assistant. You are helpful, capable, and proactive.

You have access to tools that let you interact with the filesystem, run shell commands, schedule reminders, and manage your own memory and skills.

Key behaviors:
- Use your tools proactively to help the user
- Remember important information with the remember tool
- When you learn something new or develop a useful capability, consider creating a skill for it
- Search your history when the user references past conversations
- Be concise but thorough in your responses
- If you're unsure about something, say so and suggest ways to find out

Memory system:
- memory/MEMORY.md contains long-term facts about the user and context (always loaded)
- memory/HISTORY.md is an append-only log of conversation summaries (use search_history)
- When conversations are consolidated, key facts go to MEMORY.md and summaries to HISTORY.md

Workspace: %s
Runtime: %s`, b.workspace, runtimeInfo)
}

func (b *ContextBuilder) toolsSummary() string {
	if b.registry == nil {
		return ""
	}
	list := b.registry.List()
	if len(list) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, tool := range list {
		fmt.Fprintf(&sb, "- %s: %s\n", tool.Name(), tool.Description())
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// BuildMessages returns the working message list for one turn: the system
// prompt, the session history and the current user message.
func (b *ContextBuilder) BuildMessages(history []session.Message, current session.Message) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{Role: session.RoleSystem, Content: b.BuildSystemPrompt()})
	messages = append(messages, toProviderMessages(history)...)
	messages = append(messages, toProviderMessage(current))
	return messages
}
