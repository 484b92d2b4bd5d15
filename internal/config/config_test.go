package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("JOSHBOT_HOME", filepath.Join(home, ".joshbot"))
	t.Setenv("JOSHBOT_CONFIG", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("BRAVE_API_KEY", "")
	return home
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Agents.Defaults.Model != "z-ai/glm-4.5-air:free" {
		t.Errorf("expected default model z-ai/glm-4.5-air:free, got %s", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MaxTokens != 8192 {
		t.Errorf("expected maxTokens 8192, got %d", cfg.Agents.Defaults.MaxTokens)
	}
	if cfg.Agents.Defaults.MaxToolIterations != 20 {
		t.Errorf("expected 20 tool iterations, got %d", cfg.Agents.Defaults.MaxToolIterations)
	}
	if cfg.Agents.Defaults.MemoryWindow != 50 {
		t.Errorf("expected memory window 50, got %d", cfg.Agents.Defaults.MemoryWindow)
	}
	if cfg.Tools.Exec.Timeout != 60 {
		t.Errorf("expected exec timeout 60, got %d", cfg.Tools.Exec.Timeout)
	}
	if _, ok := cfg.Providers["openrouter"]; !ok {
		t.Error("expected an openrouter provider entry")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := filepath.Join(home, ".joshbot", "workspace")
	if cfg.WorkspaceDir() != want {
		t.Errorf("expected workspace %s, got %s", want, cfg.WorkspaceDir())
	}
	if cfg.SessionsDir() != filepath.Join(home, ".joshbot", "sessions") {
		t.Errorf("unexpected sessions dir %s", cfg.SessionsDir())
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
  "providers": {"openrouter": {"api_key": "sk-test", "extra_headers": {"X-Title": "joshbot"}}},
  "agents": {"defaults": {"model": "openai/gpt-4o", "memory_window": 10}},
  "tools": {"exec": {"timeout": 5}, "restrict_to_workspace": true}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Agents.Defaults.Model != "openai/gpt-4o" {
		t.Errorf("expected model from file, got %s", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MemoryWindow != 10 {
		t.Errorf("expected memory window 10, got %d", cfg.Agents.Defaults.MemoryWindow)
	}
	if cfg.Agents.Defaults.MaxTokens != 8192 {
		t.Errorf("unset field should keep default, got %d", cfg.Agents.Defaults.MaxTokens)
	}
	or := cfg.Providers["openrouter"]
	if or.APIKey != "sk-test" || or.ExtraHeaders["X-Title"] != "joshbot" {
		t.Errorf("unexpected provider config %+v", or)
	}
	if !cfg.Tools.RestrictToWorkspace || cfg.Tools.Exec.Timeout != 5 {
		t.Errorf("unexpected tools config %+v", cfg.Tools)
	}
}

func TestLoadFromYAMLFileWithInclude(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte("providers:\n  groq:\n    api_key: ${TEST_GROQ_KEY}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	main := "$include: secrets.yaml\nagents:\n  defaults:\n    temperature: 0.2\nheartbeat:\n  enabled: true\n  interval_minutes: 5\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(main), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_GROQ_KEY", "gsk-123")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Agents.Defaults.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", cfg.Agents.Defaults.Temperature)
	}
	if cfg.Providers["groq"].APIKey != "gsk-123" {
		t.Errorf("expected substituted groq key, got %q", cfg.Providers["groq"].APIKey)
	}
	if !cfg.Heartbeat.Enabled || cfg.Heartbeat.IntervalMinutes != 5 {
		t.Errorf("unexpected heartbeat config %+v", cfg.Heartbeat)
	}
}

func TestIncludeCycleIsRejected(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	os.WriteFile(a, []byte(`{"$include": "b.json"}`), 0o600)
	os.WriteFile(b, []byte(`{"$include": "a.json"}`), 0o600)

	if _, err := LoadFile(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("JOSHBOT_AGENTS_DEFAULTS_MODEL", "anthropic/claude-3-haiku")
	t.Setenv("JOSHBOT_AGENT_MEMORY_WINDOW", "8")
	t.Setenv("JOSHBOT_PROVIDERS_OPENROUTER_API_KEY", "env-key")
	t.Setenv("DEEPSEEK_API_KEY", "ds-key")
	t.Setenv("JOSHBOT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("JOSHBOT_LOG_LEVEL", "DEBUG")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Agents.Defaults.Model != "anthropic/claude-3-haiku" {
		t.Errorf("model override not applied: %s", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MemoryWindow != 8 {
		t.Errorf("memory window override not applied: %d", cfg.Agents.Defaults.MemoryWindow)
	}
	if cfg.Providers["openrouter"].APIKey != "env-key" {
		t.Errorf("provider key override not applied: %+v", cfg.Providers["openrouter"])
	}
	if cfg.Providers["deepseek"].APIKey != "ds-key" {
		t.Errorf("bare provider env key not applied: %+v", cfg.Providers["deepseek"])
	}
	if len(cfg.Channels.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.Channels.Kafka.Brokers)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected normalized log level, got %q", cfg.Log.Level)
	}
}

func TestConfigPathRespectsEnv(t *testing.T) {
	isolate(t)
	t.Setenv("JOSHBOT_HOME", "/srv/josh")
	if got := ConfigPath(); got != filepath.Join("/srv/josh", "config.json") {
		t.Fatalf("unexpected config path: %q", got)
	}
	t.Setenv("JOSHBOT_CONFIG", "/etc/joshbot.yaml")
	if got := ConfigPath(); got != "/etc/joshbot.yaml" {
		t.Fatalf("unexpected explicit config path: %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.Agents.Defaults.Model = "groq/llama-3.1-70b"
			cfg.Channels.Slack.AllowFrom = []string{"U1"}
			if err := SaveTo(cfg, path); err != nil {
				t.Fatalf("SaveTo() error: %v", err)
			}
			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile() error: %v", err)
			}
			if loaded.Agents.Defaults.Model != "groq/llama-3.1-70b" {
				t.Errorf("model lost in round trip: %s", loaded.Agents.Defaults.Model)
			}
			if len(loaded.Channels.Slack.AllowFrom) != 1 || loaded.Channels.Slack.AllowFrom[0] != "U1" {
				t.Errorf("allow list lost in round trip: %v", loaded.Channels.Slack.AllowFrom)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty model", func(c *Config) { c.Agents.Defaults.Model = " " }, "model"},
		{"zero tokens", func(c *Config) { c.Agents.Defaults.MaxTokens = 0 }, "max_tokens"},
		{"hot temperature", func(c *Config) { c.Agents.Defaults.Temperature = 2.5 }, "temperature"},
		{"zero iterations", func(c *Config) { c.Agents.Defaults.MaxToolIterations = 0 }, "max_tool_iterations"},
		{"tiny window", func(c *Config) { c.Agents.Defaults.MemoryWindow = 1 }, "memory_window"},
		{"session cap below window", func(c *Config) { c.Agents.Defaults.MaxSessionMessages = 10 }, "max_session_messages"},
		{"zero exec timeout", func(c *Config) { c.Tools.Exec.Timeout = 0 }, "exec.timeout"},
		{"slack without tokens", func(c *Config) { c.Channels.Slack.Enabled = true }, "slack"},
		{"kafka without brokers", func(c *Config) { c.Channels.Kafka.Enabled = true }, "broker"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"negative web timeout", func(c *Config) { c.Tools.Web.Timeout = -1 }, "web.timeout"},
		{"heartbeat without channel", func(c *Config) { c.Heartbeat.Enabled = true }, "heartbeat.channel"},
		{"heartbeat on disabled channel", func(c *Config) {
			c.Heartbeat = HeartbeatConfig{Enabled: true, IntervalMinutes: 5, Channel: "slack", ChatID: "C1"}
		}, "heartbeat.channel"},
		{"heartbeat on cli", func(c *Config) {
			c.Channels.Kafka = KafkaConfig{Enabled: true, Brokers: []string{"k:9092"}}
			c.Heartbeat = HeartbeatConfig{Enabled: true, IntervalMinutes: 5, Channel: "cli", ChatID: "cli:heartbeat"}
		}, "heartbeat.channel"},
		{"heartbeat without chat", func(c *Config) {
			c.Channels.Kafka = KafkaConfig{Enabled: true, Brokers: []string{"k:9092"}}
			c.Heartbeat = HeartbeatConfig{Enabled: true, IntervalMinutes: 5, Channel: "kafka"}
		}, "heartbeat.chat_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestHeartbeatOnEnabledChannelValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels.Kafka = KafkaConfig{Enabled: true, Brokers: []string{"k:9092"}}
	cfg.Heartbeat = HeartbeatConfig{Enabled: true, IntervalMinutes: 5, Channel: "kafka", ChatID: "ops"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid heartbeat config, got %v", err)
	}
	if got := cfg.EnabledChannels(); len(got) != 1 || got[0] != "kafka" {
		t.Errorf("EnabledChannels() = %v", got)
	}
}

func TestWebSearchKeyFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("BRAVE_API_KEY", "brave-1")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Tools.Web.SearchAPIKey != "brave-1" || cfg.Tools.Web.Timeout != DefaultWebTimeout {
		t.Errorf("unexpected web config %+v", cfg.Tools.Web)
	}

	t.Setenv("JOSHBOT_TOOLS_WEB_SEARCH_API_KEY", "explicit")
	cfg, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Tools.Web.SearchAPIKey != "explicit" {
		t.Errorf("explicit key should win, got %q", cfg.Tools.Web.SearchAPIKey)
	}
}

func TestEnsureDirs(t *testing.T) {
	home := isolate(t)
	cfg := DefaultConfig()
	cfg.Agents.Defaults.Workspace = filepath.Join(home, "ws")
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error: %v", err)
	}
	for _, dir := range []string{cfg.SessionsDir(), cfg.CronDir(), filepath.Join(home, "ws", "memory"), filepath.Join(home, "ws", "skills")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}
