// Package heartbeat periodically hands the open tasks of HEARTBEAT.md to the
// agent as a synthetic inbound message.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bigknoxy/joshbot/internal/bus"
)

// FileName is the task list read from the workspace root.
const FileName = "HEARTBEAT.md"

const (
	DefaultInterval = 30 * time.Minute
	// DefaultMinGap throttles checks triggered by file writes.
	DefaultMinGap = 10 * time.Second

	senderID   = "system"
	senderName = "Heartbeat"
	promptHead = "[Heartbeat] Please review and process the following tasks from HEARTBEAT.md:\n\n"
)

// Template is written by Initialize. An untouched template never triggers.
const Template = `# Heartbeat Tasks

Add tasks here for joshbot to process automatically.
Use checkbox format:

- [ ] Example task to process
- [x] Completed task (will be ignored)
`

// Publisher accepts synthetic inbound messages.
type Publisher interface {
	PublishInbound(msg *bus.InboundMessage) bool
}

// Options configures a Service.
type Options struct {
	Workspace string
	Bus       Publisher
	Interval  time.Duration
	MinGap    time.Duration
	// Channel and ChatID address the agent's reply.
	Channel string
	ChatID  string
	// Watch enables fsnotify triggers on HEARTBEAT.md writes.
	Watch bool
}

// Service checks HEARTBEAT.md on a ticker and, optionally, on file writes.
type Service struct {
	opts Options

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

// NewService creates a heartbeat service.
func NewService(opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MinGap <= 0 {
		opts.MinGap = DefaultMinGap
	}
	if opts.Channel == "" {
		opts.Channel = "cli"
	}
	if opts.ChatID == "" {
		opts.ChatID = "cli:heartbeat"
	}
	return &Service{opts: opts, now: time.Now}
}

// Path returns the location of HEARTBEAT.md.
func (s *Service) Path() string {
	return filepath.Join(s.opts.Workspace, FileName)
}

// Initialize writes the template when HEARTBEAT.md does not exist.
func (s *Service) Initialize() error {
	path := s.Path()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.opts.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", FileName, err)
	}
	slog.Info("Initialized HEARTBEAT.md", "path", path)
	return nil
}

// Start runs the heartbeat until ctx is cancelled. A watcher that cannot be
// created is logged and the ticker keeps running.
func (s *Service) Start(ctx context.Context) error {
	slog.Info("Heartbeat service started", "interval", s.opts.Interval, "watch", s.opts.Watch)
	defer slog.Info("Heartbeat service stopped")

	var events <-chan fsnotify.Event
	var errs <-chan error
	if s.opts.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("Heartbeat watcher unavailable", "error", err)
		} else {
			defer w.Close()
			// Watch the directory so editors that replace the file are seen.
			if err := w.Add(s.opts.Workspace); err != nil {
				slog.Warn("Heartbeat watch failed", "dir", s.opts.Workspace, "error", err)
			} else {
				events, errs = w.Events, w.Errors
			}
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != FileName || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if s.throttled() {
				continue
			}
			s.Check()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("Heartbeat watcher error", "error", err)
		}
	}
}

func (s *Service) throttled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastCheck.IsZero() && s.now().Sub(s.lastCheck) < s.opts.MinGap
}

// Check reads HEARTBEAT.md and publishes it when it holds open tasks. It
// reports whether a message was published.
func (s *Service) Check() bool {
	s.mu.Lock()
	s.lastCheck = s.now()
	s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read HEARTBEAT.md", "error", err)
		}
		return false
	}
	content := strings.TrimSpace(string(data))
	if !HasOpenTasks(content) {
		return false
	}

	slog.Info("Heartbeat: found actionable tasks")
	ok := s.opts.Bus.PublishInbound(&bus.InboundMessage{
		Channel:    s.opts.Channel,
		ChatID:     s.opts.ChatID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    promptHead + content,
		Metadata:   map[string]any{bus.MetaKeyHeartbeat: true},
		Timestamp:  s.now(),
	})
	if !ok {
		slog.Warn("Heartbeat message dropped; inbound queue full")
	}
	return ok
}

// HasOpenTasks reports whether content has an unchecked "- [ ]" or "- []"
// item and is not the untouched template.
func HasOpenTasks(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" || content == strings.TrimSpace(Template) {
		return false
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- [ ]") || strings.HasPrefix(line, "- []") {
			return true
		}
	}
	return false
}
