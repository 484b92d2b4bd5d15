package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxMessages caps how many messages a saved session retains.
const DefaultMaxMessages = 500

const metadataType = "metadata"

// Manager manages session caching and persistence.
type Manager struct {
	sessionsDir string
	maxMessages int
	cache       map[string]*Session
	mu          sync.Mutex
}

// NewManager creates a session manager persisting to dir.
func NewManager(dir string, maxMessages int) *Manager {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Session directory unavailable", "dir", dir, "error", err)
	}
	return &Manager{
		sessionsDir: dir,
		maxMessages: maxMessages,
		cache:       make(map[string]*Session),
	}
}

// Dir returns the directory sessions are stored in.
func (m *Manager) Dir() string {
	return m.sessionsDir
}

// GetOrCreate returns the cached session, loads it from disk, or creates a new one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s
	}

	s, err := m.load(key)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Session load failed, starting fresh", "key", key, "error", err)
		}
		s = NewSession(key)
	}

	m.cache[key] = s
	return s
}

// Save persists a session. The file is written to a temporary path and renamed
// over the target so readers never observe a partial write.
func (m *Manager) Save(s *Session) error {
	s.mu.Lock()
	if over := len(s.Messages) - m.maxMessages; over > 0 {
		s.Messages = append([]Message{}, s.Messages[over:]...)
		slog.Info("Session truncated before save", "key", s.Key, "dropped", over, "kept", m.maxMessages)
	}
	s.UpdatedAt = time.Now()
	data, err := encode(s)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	path := m.sessionPath(s.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session: %w", err)
	}

	m.mu.Lock()
	m.cache[s.Key] = s
	m.mu.Unlock()
	return nil
}

// Delete removes a session from the cache and from disk.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, cached := m.cache[key]
	delete(m.cache, key)

	if err := os.Remove(m.sessionPath(key)); err != nil {
		return cached
	}
	return true
}

// SessionInfo contains metadata about a persisted session.
type SessionInfo struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Path      string
}

// List returns information about all persisted sessions, newest first.
func (m *Manager) List() []SessionInfo {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return nil
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(m.sessionsDir, entry.Name())
		info := SessionInfo{Key: filenameKey(strings.TrimSuffix(entry.Name(), ".jsonl")), Path: path}
		if meta, err := readMetadata(path); err == nil {
			if meta.Key != "" {
				info.Key = meta.Key
			}
			info.CreatedAt = meta.CreatedAt
			info.UpdatedAt = meta.UpdatedAt
		}
		sessions = append(sessions, info)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions
}

type metadataRecord struct {
	Type      string         `json:"_type"`
	Key       string         `json:"key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(metadataRecord{
		Type:      metadataType,
		Key:       s.Key,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Metadata:  s.Metadata,
	}); err != nil {
		return nil, err
	}
	for _, msg := range s.Messages {
		if err := enc.Encode(msg); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (m *Manager) sessionPath(key string) string {
	return filepath.Join(m.sessionsDir, keyFilename(key)+".jsonl")
}

// keyFilename escapes a session key into a single path element. The
// mapping is reversible, so distinct keys never share a file. Separators
// are escaped by PathEscape; ':' is escaped too for Windows.
func keyFilename(key string) string {
	return strings.ReplaceAll(url.PathEscape(key), ":", "%3A")
}

// filenameKey reverses keyFilename.
func filenameKey(name string) string {
	if key, err := url.PathUnescape(name); err == nil {
		return key
	}
	return name
}

func (m *Manager) load(key string) (*Session, error) {
	file, err := os.Open(m.sessionPath(key))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	s := NewSession(key)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	first := true
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var meta metadataRecord
			if json.Unmarshal(line, &meta) == nil && meta.Type == metadataType {
				if !meta.CreatedAt.IsZero() {
					s.CreatedAt = meta.CreatedAt
				}
				if !meta.UpdatedAt.IsZero() {
					s.UpdatedAt = meta.UpdatedAt
				}
				if meta.Metadata != nil {
					s.Metadata = meta.Metadata
				}
				continue
			}
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil || msg.Role == "" {
			slog.Warn("Skipping malformed session line", "key", key)
			continue
		}
		s.Messages = append(s.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func readMetadata(path string) (metadataRecord, error) {
	var meta metadataRecord
	file, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return meta, err
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &meta); err != nil {
		return meta, err
	}
	if meta.Type != metadataType {
		return meta, fmt.Errorf("first line is not a metadata record")
	}
	return meta, nil
}
