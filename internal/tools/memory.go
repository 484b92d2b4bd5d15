package tools

import (
	"context"
	"fmt"
	"strings"
)

// MemoryStore is the subset of memory.Store the memory tools need.
type MemoryStore interface {
	AppendLongTerm(update string) error
	SearchHistory(query string, limit int) ([]string, error)
}

// RememberTool appends a fact to long-term memory.
type RememberTool struct {
	store MemoryStore
}

func NewRememberTool(store MemoryStore) *RememberTool {
	return &RememberTool{store: store}
}

func (t *RememberTool) Name() string { return "remember" }
func (t *RememberTool) Description() string {
	return "Store a fact in long-term memory (MEMORY.md). Use this when the user asks you to remember something."
}

func (t *RememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The information to remember",
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	content := strings.TrimSpace(GetString(params, "content", ""))
	if content == "" {
		return "Error: content is required", nil
	}
	if err := t.store.AppendLongTerm("- " + content); err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}
	return fmt.Sprintf("Remembered: %q", truncate(content, 80)), nil
}

// SearchHistoryTool searches the conversation event log.
type SearchHistoryTool struct {
	store MemoryStore
}

func NewSearchHistoryTool(store MemoryStore) *SearchHistoryTool {
	return &SearchHistoryTool{store: store}
}

func (t *SearchHistoryTool) Name() string { return "search_history" }
func (t *SearchHistoryTool) Description() string {
	return "Search past conversation summaries (HISTORY.md) by keyword. Returns the newest matching entries."
}

func (t *SearchHistoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Case-insensitive keyword to search for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of entries (default: 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchHistoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	limit := GetInt(params, "limit", 5)

	entries, err := t.store.SearchHistory(query, limit)
	if err != nil {
		return "", fmt.Errorf("search history: %w", err)
	}
	if len(entries) == 0 {
		return "No matching history entries.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d history entries:\n\n", len(entries))
	for _, e := range entries {
		sb.WriteString(e)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
