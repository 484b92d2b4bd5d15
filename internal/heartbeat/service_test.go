package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigknoxy/joshbot/internal/bus"
)

type recorder struct {
	mu   sync.Mutex
	msgs []*bus.InboundMessage
}

func (r *recorder) PublishInbound(msg *bus.InboundMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestHasOpenTasks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", false},
		{"template", Template, false},
		{"unchecked", "# Tasks\n- [ ] water plants", true},
		{"compact unchecked", "  - [] call bob", true},
		{"only done", "- [x] done\n- [X] also done", false},
		{"prose", "nothing to do here", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasOpenTasks(tt.content); got != tt.want {
				t.Errorf("HasOpenTasks(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestInitializeKeepsExistingFile(t *testing.T) {
	ws := t.TempDir()
	svc := NewService(Options{Workspace: ws, Bus: &recorder{}})
	if err := svc.Initialize(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(svc.Path())
	if string(data) != Template {
		t.Fatalf("unexpected template %q", data)
	}

	os.WriteFile(svc.Path(), []byte("- [ ] mine"), 0o644)
	if err := svc.Initialize(); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(svc.Path())
	if string(data) != "- [ ] mine" {
		t.Errorf("Initialize overwrote user content: %q", data)
	}
}

func TestCheckPublishesOpenTasks(t *testing.T) {
	ws := t.TempDir()
	rec := &recorder{}
	svc := NewService(Options{Workspace: ws, Bus: rec, Channel: "slack", ChatID: "C1"})

	if svc.Check() {
		t.Fatal("missing file should not publish")
	}
	svc.Initialize()
	if svc.Check() {
		t.Fatal("template should not publish")
	}

	os.WriteFile(filepath.Join(ws, FileName), []byte("# Tasks\n- [ ] summarize inbox\n"), 0o644)
	if !svc.Check() {
		t.Fatal("expected publish")
	}
	msg := rec.msgs[0]
	if msg.Channel != "slack" || msg.ChatID != "C1" || msg.SenderName != "Heartbeat" {
		t.Errorf("unexpected routing %+v", msg)
	}
	if !strings.HasPrefix(msg.Content, "[Heartbeat] Please review") || !strings.Contains(msg.Content, "summarize inbox") {
		t.Errorf("unexpected content %q", msg.Content)
	}
	if msg.Metadata[bus.MetaKeyHeartbeat] != true {
		t.Errorf("heartbeat metadata missing: %v", msg.Metadata)
	}
}

func TestStartTicks(t *testing.T) {
	ws := t.TempDir()
	os.WriteFile(filepath.Join(ws, FileName), []byte("- [ ] ping"), 0o644)
	rec := &recorder{}
	svc := NewService(Options{Workspace: ws, Bus: rec, Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if rec.count() == 0 {
		t.Fatal("ticker never published")
	}
}

func TestWriteTriggersCheck(t *testing.T) {
	ws := t.TempDir()
	rec := &recorder{}
	svc := NewService(Options{Workspace: ws, Bus: rec, Interval: time.Hour, Watch: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(filepath.Join(ws, FileName), []byte("- [ ] from editor"), 0o644)
	deadline := time.Now().Add(3 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("file write did not trigger a check")
	}
}
