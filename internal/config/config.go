// Package config provides configuration types and loading for joshbot.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

const (
	DefaultModel              = "z-ai/glm-4.5-air:free"
	DefaultMaxTokens          = 8192
	DefaultTemperature        = 0.7
	DefaultMaxToolIterations  = 20
	DefaultMemoryWindow       = 50
	DefaultMaxSessionMessages = 500
	DefaultMaxMemoryChars     = 32000
	DefaultSubagentIterations = 10
	DefaultExecTimeout        = 60
	DefaultWebTimeout         = 20
	DefaultBusCapacity        = 1000
	DefaultHeartbeatMinutes   = 30
)

// Config is the root configuration struct.
// Top-level groups: Providers, Agents, Channels, Tools, Heartbeat, Timeline, Log.
type Config struct {
	Providers     map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Agents        AgentsConfig              `json:"agents" yaml:"agents"`
	Channels      ChannelsConfig            `json:"channels" yaml:"channels"`
	Tools         ToolsConfig               `json:"tools" yaml:"tools"`
	Transcription TranscriptionConfig       `json:"transcription" yaml:"transcription"`
	Heartbeat     HeartbeatConfig           `json:"heartbeat" yaml:"heartbeat"`
	Timeline      TimelineConfig            `json:"timeline" yaml:"timeline"`
	Bus           BusConfig                 `json:"bus" yaml:"bus"`
	Log           LogConfig                 `json:"log" yaml:"log"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey       string            `json:"api_key" yaml:"api_key" envconfig:"API_KEY"`
	APIBase      string            `json:"api_base,omitempty" yaml:"api_base,omitempty" envconfig:"API_BASE"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty" yaml:"extra_headers,omitempty"`
}

// ---------------------------------------------------------------------------
// Agents – model and loop behaviour
// ---------------------------------------------------------------------------

// AgentsConfig holds the agent defaults block.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults" yaml:"defaults"`
}

// AgentDefaults contains model and agent-loop settings.
type AgentDefaults struct {
	Workspace          string  `json:"workspace" yaml:"workspace" envconfig:"WORKSPACE"`
	Model              string  `json:"model" yaml:"model" envconfig:"MODEL"`
	MaxTokens          int     `json:"max_tokens" yaml:"max_tokens" envconfig:"MAX_TOKENS"`
	Temperature        float64 `json:"temperature" yaml:"temperature" envconfig:"TEMPERATURE"`
	MaxToolIterations  int     `json:"max_tool_iterations" yaml:"max_tool_iterations" envconfig:"MAX_TOOL_ITERATIONS"`
	MemoryWindow       int     `json:"memory_window" yaml:"memory_window" envconfig:"MEMORY_WINDOW"`
	MaxSessionMessages int     `json:"max_session_messages" yaml:"max_session_messages" envconfig:"MAX_SESSION_MESSAGES"`
	MaxMemoryChars     int     `json:"max_memory_chars" yaml:"max_memory_chars" envconfig:"MAX_MEMORY_CHARS"`
	SubagentIterations int     `json:"subagent_iterations" yaml:"subagent_iterations" envconfig:"SUBAGENT_ITERATIONS"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Slack SlackConfig `json:"slack" yaml:"slack"`
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

// SlackConfig configures the Slack socket-mode channel.
type SlackConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	BotToken  string   `json:"bot_token" yaml:"bot_token" envconfig:"BOT_TOKEN"`
	AppToken  string   `json:"app_token" yaml:"app_token" envconfig:"APP_TOKEN"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from" envconfig:"ALLOW_FROM"`
}

// KafkaConfig configures the Kafka channel.
type KafkaConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	Brokers       []string `json:"brokers" yaml:"brokers" envconfig:"BROKERS"`
	GroupID       string   `json:"group_id" yaml:"group_id" envconfig:"GROUP_ID"`
	InboundTopic  string   `json:"inbound_topic" yaml:"inbound_topic" envconfig:"INBOUND_TOPIC"`
	OutboundTopic string   `json:"outbound_topic" yaml:"outbound_topic" envconfig:"OUTBOUND_TOPIC"`
	AllowFrom     []string `json:"allow_from" yaml:"allow_from" envconfig:"ALLOW_FROM"`
}

// ---------------------------------------------------------------------------
// Tools – tool-specific behaviour
// ---------------------------------------------------------------------------

// ToolsConfig contains tool-specific settings.
type ToolsConfig struct {
	Exec                ExecConfig `json:"exec" yaml:"exec"`
	Web                 WebConfig  `json:"web" yaml:"web"`
	RestrictToWorkspace bool       `json:"restrict_to_workspace" yaml:"restrict_to_workspace" envconfig:"RESTRICT_TO_WORKSPACE"`
}

// WebConfig contains web_search and web_fetch settings. Timeout is in
// seconds. An empty SearchAPIKey falls back to BRAVE_API_KEY.
type WebConfig struct {
	SearchAPIKey string `json:"search_api_key" yaml:"search_api_key" envconfig:"WEB_SEARCH_API_KEY"`
	Timeout      int    `json:"timeout" yaml:"timeout" envconfig:"WEB_TIMEOUT"`
}

// ExecConfig contains shell execution tool settings. Timeout is in seconds.
type ExecConfig struct {
	Timeout int `json:"timeout" yaml:"timeout" envconfig:"EXEC_TIMEOUT"`
}

// TranscriptionConfig selects how audio attachments become text.
type TranscriptionConfig struct {
	LocalWhisper LocalWhisperConfig `json:"local_whisper" yaml:"local_whisper"`
}

// LocalWhisperConfig contains settings for local Whisper transcription.
type LocalWhisperConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" envconfig:"WHISPER_ENABLED"`
	Model      string `json:"model" yaml:"model" envconfig:"WHISPER_MODEL"`
	BinaryPath string `json:"binary_path" yaml:"binary_path" envconfig:"WHISPER_BINARY_PATH"`
	Language   string `json:"language,omitempty" yaml:"language,omitempty" envconfig:"WHISPER_LANGUAGE"`
}

// ---------------------------------------------------------------------------
// Runtime – heartbeat, timeline, bus, logging
// ---------------------------------------------------------------------------

// HeartbeatConfig configures the autonomous HEARTBEAT.md trigger.
type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	IntervalMinutes int    `json:"interval_minutes" yaml:"interval_minutes" envconfig:"INTERVAL_MINUTES"`
	Channel         string `json:"channel" yaml:"channel" envconfig:"CHANNEL"`
	ChatID          string `json:"chat_id" yaml:"chat_id" envconfig:"CHAT_ID"`
}

// TimelineConfig configures the SQLite trace log.
type TimelineConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty" envconfig:"TIMELINE_PATH"`
}

// BusConfig sizes the message bus queues.
type BusConfig struct {
	Capacity int `json:"capacity" yaml:"capacity" envconfig:"CAPACITY"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level      string `json:"level" yaml:"level" envconfig:"LEVEL"`
	Format     string `json:"format" yaml:"format" envconfig:"FORMAT"`
	File       string `json:"file,omitempty" yaml:"file,omitempty" envconfig:"FILE"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" envconfig:"MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" envconfig:"MAX_BACKUPS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"openrouter": {},
		},
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Model:              DefaultModel,
				MaxTokens:          DefaultMaxTokens,
				Temperature:        DefaultTemperature,
				MaxToolIterations:  DefaultMaxToolIterations,
				MemoryWindow:       DefaultMemoryWindow,
				MaxSessionMessages: DefaultMaxSessionMessages,
				MaxMemoryChars:     DefaultMaxMemoryChars,
				SubagentIterations: DefaultSubagentIterations,
			},
		},
		Channels: ChannelsConfig{
			Kafka: KafkaConfig{
				GroupID:       "joshbot",
				InboundTopic:  "joshbot.inbound",
				OutboundTopic: "joshbot.outbound",
			},
		},
		Tools: ToolsConfig{
			Exec: ExecConfig{Timeout: DefaultExecTimeout},
			Web:  WebConfig{Timeout: DefaultWebTimeout},
		},
		Transcription: TranscriptionConfig{
			LocalWhisper: LocalWhisperConfig{
				Model:      "base",
				BinaryPath: "whisper",
			},
		},
		Heartbeat: HeartbeatConfig{
			IntervalMinutes: DefaultHeartbeatMinutes,
		},
		Bus: BusConfig{Capacity: DefaultBusCapacity},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// WorkspaceDir returns the agent workspace directory.
func (c *Config) WorkspaceDir() string {
	if c.Agents.Defaults.Workspace == "" {
		return filepath.Join(HomeDir(), "workspace")
	}
	return expandHome(c.Agents.Defaults.Workspace)
}

// SessionsDir returns the directory holding session JSONL files.
func (c *Config) SessionsDir() string {
	return filepath.Join(HomeDir(), "sessions")
}

// CronDir returns the scheduler directory (jobs.json, lock).
func (c *Config) CronDir() string {
	return filepath.Join(HomeDir(), "cron")
}

// MediaDir returns the directory for downloaded attachments.
func (c *Config) MediaDir() string {
	return filepath.Join(HomeDir(), "media")
}

// TimelinePath returns the SQLite trace database location.
func (c *Config) TimelinePath() string {
	if c.Timeline.Path != "" {
		return expandHome(c.Timeline.Path)
	}
	return filepath.Join(HomeDir(), "timeline.db")
}

// EnsureDirs creates all directories joshbot writes to.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		HomeDir(),
		c.WorkspaceDir(),
		c.SessionsDir(),
		c.CronDir(),
		c.MediaDir(),
		filepath.Join(c.WorkspaceDir(), "memory"),
		filepath.Join(c.WorkspaceDir(), "skills"),
	}
	for _, dir := range dirs {
		if err := EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// EnabledChannels lists the gateway channels switched on in the config.
func (c *Config) EnabledChannels() []string {
	var names []string
	if c.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	if c.Channels.Kafka.Enabled {
		names = append(names, "kafka")
	}
	return names
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	d := c.Agents.Defaults
	var errs []error
	if strings.TrimSpace(d.Model) == "" {
		errs = append(errs, errors.New("agents.defaults.model cannot be empty"))
	}
	if d.MaxTokens <= 0 {
		errs = append(errs, errors.New("agents.defaults.max_tokens must be positive"))
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		errs = append(errs, errors.New("agents.defaults.temperature must be between 0 and 2"))
	}
	if d.MaxToolIterations <= 0 {
		errs = append(errs, errors.New("agents.defaults.max_tool_iterations must be positive"))
	}
	if d.MemoryWindow < 2 {
		errs = append(errs, errors.New("agents.defaults.memory_window must be at least 2"))
	}
	if d.MaxSessionMessages > 0 && d.MaxSessionMessages < d.MemoryWindow {
		errs = append(errs, errors.New("agents.defaults.max_session_messages must not be below memory_window"))
	}
	if c.Tools.Exec.Timeout <= 0 {
		errs = append(errs, errors.New("tools.exec.timeout must be positive"))
	}
	if c.Tools.Web.Timeout < 0 {
		errs = append(errs, errors.New("tools.web.timeout must not be negative"))
	}
	if c.Bus.Capacity < 0 {
		errs = append(errs, errors.New("bus.capacity must not be negative"))
	}
	if c.Heartbeat.Enabled {
		if c.Heartbeat.IntervalMinutes < 1 {
			errs = append(errs, errors.New("heartbeat.interval_minutes must be at least 1"))
		}
		if !slices.Contains(c.EnabledChannels(), c.Heartbeat.Channel) {
			errs = append(errs, fmt.Errorf("heartbeat.channel %q must name an enabled channel (%s)",
				c.Heartbeat.Channel, strings.Join(c.EnabledChannels(), ", ")))
		}
		if strings.TrimSpace(c.Heartbeat.ChatID) == "" {
			errs = append(errs, errors.New("heartbeat.chat_id is required when heartbeat is enabled"))
		}
	}
	if c.Channels.Slack.Enabled && (c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "") {
		errs = append(errs, errors.New("channels.slack requires bot_token and app_token"))
	}
	if c.Channels.Kafka.Enabled && len(c.Channels.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("channels.kafka requires at least one broker"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of: debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}
