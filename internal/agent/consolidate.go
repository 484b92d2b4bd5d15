package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/session"
)

const (
	memoryUpdateMarker = "---MEMORY_UPDATE---"
	historyEntryMarker = "---HISTORY_ENTRY---"

	consolidationMaxTokens   = 2000
	consolidationTemperature = 0.3
	transcriptLineChars      = 500
)

const consolidationPrompt = `Review this conversation transcript and extract two things:

1. MEMORY_UPDATE: Key facts about the user, their preferences, projects, decisions, and context that should be remembered long-term. Write as structured markdown.

2. HISTORY_ENTRY: A 2-5 sentence summary of what happened in this conversation, for the event log. Start with a timestamp.

Transcript:
%s

Respond in this exact format:
---MEMORY_UPDATE---
(your memory update here)
---HISTORY_ENTRY---
(your history entry here)`

// MemoryWriter is the subset of memory.Store consolidation writes to.
type MemoryWriter interface {
	AppendLongTerm(update string) error
	AppendHistory(entry string) error
}

// Consolidator folds the oldest part of a session into long-term memory and
// the history log.
type Consolidator struct {
	provider provider.LLMProvider
	memory   MemoryWriter
	model    string
}

// NewConsolidator creates a Consolidator.
func NewConsolidator(p provider.LLMProvider, memory MemoryWriter, model string) *Consolidator {
	return &Consolidator{provider: p, memory: memory, model: model}
}

// Consolidate summarizes the oldest cutoff messages of sess and trims them.
// When the model call fails the session is left untouched and the error is
// returned. Missing markers in the reply skip the memory writes but the
// prefix is still trimmed.
func (c *Consolidator) Consolidate(ctx context.Context, sess *session.Session, cutoff int) error {
	history := sess.History()
	if cutoff > len(history) {
		cutoff = len(history)
	}
	if cutoff <= 0 {
		return nil
	}

	transcript := buildTranscript(history[:cutoff])
	resp, err := c.provider.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: session.RoleUser, Content: fmt.Sprintf(consolidationPrompt, transcript)}},
		Model:       c.model,
		MaxTokens:   consolidationMaxTokens,
		Temperature: consolidationTemperature,
	})
	if err != nil {
		return fmt.Errorf("consolidation call: %w", err)
	}

	if update, entry, ok := parseConsolidation(resp.Content); ok {
		if err := c.memory.AppendLongTerm(update); err != nil {
			slog.Error("Failed to write memory update", "error", err)
		}
		if err := c.memory.AppendHistory(entry); err != nil {
			slog.Error("Failed to append history entry", "error", err)
		}
	} else {
		slog.Warn("Consolidation reply missing markers; memory not updated", "session", sess.Key)
	}

	trimmed := sess.TrimFront(cutoff)
	slog.Info("Memory consolidated", "session", sess.Key, "trimmed", trimmed)
	return nil
}

func buildTranscript(msgs []session.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		text := msg.Text()
		if text == "" {
			continue
		}
		text = truncateStr(text, transcriptLineChars)
		lines = append(lines, fmt.Sprintf("[%s] %s", msg.Role, text))
	}
	return strings.Join(lines, "\n")
}

// parseConsolidation extracts the memory update and history entry. ok is
// false unless both markers are present.
func parseConsolidation(content string) (update, entry string, ok bool) {
	if !strings.Contains(content, memoryUpdateMarker) || !strings.Contains(content, historyEntryMarker) {
		return "", "", false
	}
	before, after, _ := strings.Cut(content, historyEntryMarker)
	if _, rest, found := strings.Cut(before, memoryUpdateMarker); found {
		before = rest
	}
	update = strings.TrimSpace(before)
	entry = strings.TrimSpace(after)
	return update, entry, true
}
