// Package memory implements the two-file memory layout: MEMORY.md holds
// long-term facts and is injected into every system prompt, HISTORY.md is an
// append-only event log that is only reachable through search.
package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultMaxMemoryChars bounds MEMORY.md growth across consolidations.
const DefaultMaxMemoryChars = 32000

const (
	memoryFile  = "MEMORY.md"
	historyFile = "HISTORY.md"
)

const memoryTemplate = `# Long-Term Memory

## User Information
- (joshbot will learn about you as you chat)

## Preferences
- (your preferences will be recorded here)

## Projects & Context
- (project details and context will be stored here)

## Important Notes
- (key decisions and notes will go here)
`

const historyHeader = "# Conversation History\n\nEvent log of conversation summaries.\n"

// Store reads and writes the workspace memory files.
type Store struct {
	dir      string
	maxChars int
	mu       sync.Mutex
	now      func() time.Time
}

// NewStore creates a store rooted at <workspace>/memory.
func NewStore(workspace string) *Store {
	return &Store{
		dir:      filepath.Join(workspace, "memory"),
		maxChars: DefaultMaxMemoryChars,
		now:      time.Now,
	}
}

// SetMaxChars overrides the MEMORY.md size cap. Values <= 0 disable the cap.
func (s *Store) SetMaxChars(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxChars = n
}

// MemoryPath returns the absolute path of MEMORY.md.
func (s *Store) MemoryPath() string { return filepath.Join(s.dir, memoryFile) }

// HistoryPath returns the absolute path of HISTORY.md.
func (s *Store) HistoryPath() string { return filepath.Join(s.dir, historyFile) }

// Initialize seeds missing memory files with their templates.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	if err := seed(s.MemoryPath(), memoryTemplate); err != nil {
		return err
	}
	return seed(s.HistoryPath(), historyHeader)
}

func seed(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("seed %s: %w", filepath.Base(path), err)
	}
	slog.Info("Initialized memory file", "file", filepath.Base(path))
	return nil
}

// GetContext returns the trimmed long-term memory, or "" when unavailable.
func (s *Store) GetContext() string {
	data, err := os.ReadFile(s.MemoryPath())
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read MEMORY.md", "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteLongTerm replaces MEMORY.md with text.
func (s *Store) WriteLongTerm(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = strings.TrimSpace(text)
	if s.maxChars > 0 && utf8.RuneCountInString(text) > s.maxChars {
		before := utf8.RuneCountInString(text)
		text = capParagraphs(text, s.maxChars)
		slog.Warn("MEMORY.md over size cap, dropped oldest paragraphs", "before", before, "after", utf8.RuneCountInString(text))
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	path := s.MemoryPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace memory: %w", err)
	}
	slog.Info("Updated MEMORY.md", "chars", len(text))
	return nil
}

// AppendLongTerm appends update to MEMORY.md separated by a blank line.
func (s *Store) AppendLongTerm(update string) error {
	update = strings.TrimSpace(update)
	if update == "" {
		return nil
	}
	existing := s.GetContext()
	if existing == "" {
		return s.WriteLongTerm(update)
	}
	return s.WriteLongTerm(existing + "\n\n" + update)
}

// AppendHistory appends one timestamped entry to HISTORY.md.
func (s *Store) AppendHistory(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	f, err := os.OpenFile(s.HistoryPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	stamp := s.now().UTC().Format("[2006-01-02 15:04]")
	if _, err := f.WriteString("\n" + stamp + " " + entry + "\n"); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	slog.Debug("Appended to HISTORY.md", "entry", truncate(entry, 80))
	return nil
}

// ReadHistory returns the full history log.
func (s *Store) ReadHistory() (string, error) {
	data, err := os.ReadFile(s.HistoryPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read history: %w", err)
	}
	return string(data), nil
}

// SearchHistory returns up to limit history entries containing query,
// newest first. Matching is case-insensitive.
func (s *Store) SearchHistory(query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	content, err := s.ReadHistory()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	entries := historyEntries(content)
	var out []string
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		if needle == "" || strings.Contains(strings.ToLower(entries[i]), needle) {
			out = append(out, entries[i])
		}
	}
	return out, nil
}

// historyEntries splits the log into timestamped blocks, skipping the header.
func historyEntries(content string) []string {
	var entries []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			entries = append(entries, strings.TrimSpace(strings.Join(cur, "\n")))
			cur = nil
		}
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "[") && len(line) > 18 && line[17] == ']' {
			flush()
			cur = append(cur, line)
			continue
		}
		if cur != nil && strings.TrimSpace(line) != "" {
			cur = append(cur, line)
		}
	}
	flush()
	return entries
}

// capParagraphs drops leading paragraphs until text fits in max bytes.
func capParagraphs(text string, max int) string {
	paras := strings.Split(text, "\n\n")
	for len(paras) > 1 && utf8.RuneCountInString(strings.Join(paras, "\n\n")) > max {
		paras = paras[1:]
	}
	out := strings.Join(paras, "\n\n")
	if r := []rune(out); len(r) > max {
		out = string(r[len(r)-max:])
	}
	return strings.TrimSpace(out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
