package agent

import (
	"context"
	"log/slog"

	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/session"
	"github.com/bigknoxy/joshbot/internal/timeline"
	"github.com/bigknoxy/joshbot/internal/tools"
	"github.com/google/uuid"
)

// DefaultSubagentIterations caps subagent tool rounds.
const DefaultSubagentIterations = 10

// RestrictedSubagentTools are never offered to or executed by subagents.
var RestrictedSubagentTools = []string{"message", "spawn"}

const subagentSystemPrompt = "You are a background task runner for joshbot. " +
	"Complete the assigned task using available tools. " +
	"Be thorough but efficient. When done, provide a clear summary of results."

const (
	subagentNoOutput = "(no output)"
	subagentCapped   = "Subagent reached maximum iterations. Partial results may be available."
)

// SubagentOptions configures a SubagentRunner.
type SubagentOptions struct {
	Provider      provider.LLMProvider
	Registry      *tools.Registry
	Timeline      *timeline.TimelineService
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
}

// SubagentRunner runs isolated background tasks without the ability to
// message users or spawn further subagents.
type SubagentRunner struct {
	opts SubagentOptions
}

// NewSubagentRunner creates a SubagentRunner.
func NewSubagentRunner(opts SubagentOptions) *SubagentRunner {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultSubagentIterations
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	return &SubagentRunner{opts: opts}
}

// Run executes task and returns its final text. Failures and the iteration
// cap are reported in the returned text.
func (r *SubagentRunner) Run(ctx context.Context, task, extra string) string {
	slog.Info("Subagent started", "task", truncateStr(task, 80))

	blocked := make(map[string]bool, len(RestrictedSubagentTools))
	for _, name := range RestrictedSubagentTools {
		blocked[name] = true
	}
	loop := &toolLoop{
		provider:      r.opts.Provider,
		registry:      r.opts.Registry.Without(RestrictedSubagentTools...),
		model:         r.opts.Model,
		maxTokens:     r.opts.MaxTokens,
		temperature:   r.opts.Temperature,
		maxIterations: r.opts.MaxIterations,
		blocked:       blocked,
		trace: &tracer{
			timeline: r.opts.Timeline,
			traceID:  "subagent-" + uuid.NewString(),
		},
	}
	if origin, ok := tools.OriginFrom(ctx); ok {
		loop.trace.channel = origin.Channel
		loop.trace.chatID = origin.ChatID
	}

	content := "Task: " + task
	if extra != "" {
		content += "\n\nAdditional context: " + extra
	}
	messages := []provider.Message{
		{Role: session.RoleSystem, Content: subagentSystemPrompt},
		{Role: session.RoleUser, Content: content},
	}

	res, err := loop.run(ctx, messages)
	if err != nil {
		slog.Error("Subagent failed", "error", err)
		return "Subagent error: " + err.Error()
	}
	if res.Capped {
		return subagentCapped
	}
	slog.Info("Subagent completed", "iterations", res.Iterations)
	if res.Content == "" {
		return subagentNoOutput
	}
	return res.Content
}
