package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/bigknoxy/joshbot/internal/bus"
	"github.com/bigknoxy/joshbot/internal/config"
	"github.com/bigknoxy/joshbot/internal/provider"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), ".joshbot")
	t.Setenv("HOME", filepath.Dir(home))
	t.Setenv("JOSHBOT_HOME", home)
	t.Setenv("JOSHBOT_CONFIG", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	configFile = ""
	return home
}

func TestOnboardNonInteractive(t *testing.T) {
	home := isolateHome(t)

	out, err := runRootCommand(t, "onboard", "--non-interactive", "--api-key", "sk-test", "--personality", "minimal")
	if err != nil {
		t.Fatalf("onboard failed: %v\n%s", err, out)
	}
	cfg, err := config.LoadFile(filepath.Join(home, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers["openrouter"].APIKey != "sk-test" {
		t.Errorf("api key not saved: %+v", cfg.Providers["openrouter"])
	}
	ws := cfg.WorkspaceDir()
	for _, name := range []string{"AGENTS.md", "SOUL.md", "HEARTBEAT.md", "memory/MEMORY.md", "memory/HISTORY.md"} {
		if _, err := os.Stat(filepath.Join(ws, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	out, err = runRootCommand(t, "onboard", "--non-interactive")
	if err != nil {
		t.Fatalf("second onboard failed: %v", err)
	}
	if !strings.Contains(out, "keeping it") {
		t.Errorf("second run should keep the existing config:\n%s", out)
	}
	cfg, _ = config.LoadFile(filepath.Join(home, "config.json"))
	if cfg.Providers["openrouter"].APIKey != "sk-test" {
		t.Error("second onboard lost the api key")
	}
}

func TestCronAddListRemove(t *testing.T) {
	isolateHome(t)

	out, err := runRootCommand(t, "cron", "add", "--name", "standup", "--schedule", "30m", "--message", "remind me")
	if err != nil {
		t.Fatalf("cron add: %v\n%s", err, out)
	}
	id := regexp.MustCompile(`job ([0-9a-f]{8})`).FindStringSubmatch(out)
	if id == nil {
		t.Fatalf("no job id in %q", out)
	}

	out, err = runRootCommand(t, "cron", "list")
	if err != nil || !strings.Contains(out, "standup") || !strings.Contains(out, "cli/cli:direct") {
		t.Fatalf("cron list: %v\n%s", err, out)
	}

	if _, err := runRootCommand(t, "cron", "remove", id[1]); err != nil {
		t.Fatalf("cron remove: %v", err)
	}
	if _, err := runRootCommand(t, "cron", "remove", id[1]); err == nil {
		t.Error("removing twice should fail")
	}

	if _, err := runRootCommand(t, "cron", "add", "--schedule", "every tuesday", "--message", "x"); err == nil {
		t.Error("invalid schedule should fail")
	}
}

func TestStatusCommand(t *testing.T) {
	isolateHome(t)
	if _, err := runRootCommand(t, "onboard", "--non-interactive"); err != nil {
		t.Fatal(err)
	}
	out, err := runRootCommand(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Model:", "openrouter", "Sessions:  0", "Jobs:      0", "Heartbeat: disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

type echoProvider struct{}

func (echoProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &provider.ChatResponse{Content: "echo: " + last.Content}, nil
}
func (echoProvider) Transcribe(context.Context, *provider.AudioRequest) (*provider.AudioResponse, error) {
	return &provider.AudioResponse{}, nil
}
func (echoProvider) DefaultModel() string { return "echo-model" }

func testRuntime(t *testing.T) *runtime {
	t.Helper()
	isolateHome(t)
	cfg := config.DefaultConfig()
	rt, err := newRuntime(cfg, runtimeOptions{prov: echoProvider{}, logLevel: "error"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.close() })
	return rt
}

func TestInteractiveSession(t *testing.T) {
	rt := testRuntime(t)
	var out bytes.Buffer
	in := strings.NewReader("hi there\n/status\nexit\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runInteractive(ctx, rt, in, &out); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	if !strings.Contains(text, "echo: hi there") || !strings.Contains(text, "Model: echo-model") {
		t.Errorf("unexpected transcript:\n%s", text)
	}
	if _, err := os.Stat(filepath.Join(rt.cfg.SessionsDir(), "cli%3Adirect.jsonl")); err != nil {
		t.Errorf("session not persisted: %v", err)
	}
}

func TestGatewayDeliversScheduledJob(t *testing.T) {
	rt := testRuntime(t)
	replies := make(chan *bus.OutboundMessage, 4)
	rt.bus.OnOutbound(func(_ context.Context, m *bus.OutboundMessage) error {
		replies <- m
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveGateway(ctx, rt) }()

	rt.bus.PublishInbound(&bus.InboundMessage{Channel: "kafka", ChatID: "kafka:ops", SenderID: "svc", Content: "ping"})
	select {
	case m := <-replies:
		if m.Content != "echo: ping" || m.ChatID != "kafka:ops" {
			t.Errorf("unexpected reply %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply from gateway")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("gateway returned %v", err)
	}
}
