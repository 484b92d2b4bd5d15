package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the default home directory name.
	ConfigDir = ".joshbot"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// KnownProviders lists the provider names that receive environment overrides
// (JOSHBOT_PROVIDERS_<NAME>_API_KEY, <NAME>_API_KEY).
var KnownProviders = []string{"openrouter", "anthropic", "openai", "deepseek", "gemini", "groq", "custom", "vllm"}

// HomeDir returns the joshbot home directory. JOSHBOT_HOME overrides ~/.joshbot.
func HomeDir() string {
	if h := strings.TrimSpace(os.Getenv("JOSHBOT_HOME")); h != "" {
		return expandHome(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ConfigDir
	}
	return filepath.Join(home, ConfigDir)
}

// ConfigPath returns the path to the config file. JOSHBOT_CONFIG wins; else
// config.json in the home directory, or config.yaml when only that exists.
func ConfigPath() string {
	if explicit := strings.TrimSpace(os.Getenv("JOSHBOT_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	jsonPath := filepath.Join(HomeDir(), ConfigFile)
	if _, err := os.Stat(jsonPath); err != nil {
		for _, alt := range []string{"config.yaml", "config.yml"} {
			p := filepath.Join(HomeDir(), alt)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return jsonPath
}

// Load loads the configuration from ConfigPath and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	LoadEnvFiles()
	return LoadFile(ConfigPath())
}

// LoadFile loads the configuration from path (JSON, or YAML by extension)
// and applies environment overrides. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		target any
	}{
		{"JOSHBOT_AGENTS_DEFAULTS", &cfg.Agents.Defaults},
		{"JOSHBOT_AGENT", &cfg.Agents.Defaults},
		{"JOSHBOT_CHANNELS_SLACK", &cfg.Channels.Slack},
		{"JOSHBOT_SLACK", &cfg.Channels.Slack},
		{"JOSHBOT_CHANNELS_KAFKA", &cfg.Channels.Kafka},
		{"JOSHBOT_KAFKA", &cfg.Channels.Kafka},
		{"JOSHBOT_TOOLS", &cfg.Tools},
		{"JOSHBOT_TOOLS", &cfg.Tools.Exec},
		{"JOSHBOT_TOOLS", &cfg.Tools.Web},
		{"JOSHBOT", &cfg.Transcription.LocalWhisper},
		{"JOSHBOT_HEARTBEAT", &cfg.Heartbeat},
		{"JOSHBOT_TIMELINE", &cfg.Timeline},
		{"JOSHBOT_BUS", &cfg.Bus},
		{"JOSHBOT_LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("JOSHBOT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}

	if cfg.Tools.Web.SearchAPIKey == "" {
		cfg.Tools.Web.SearchAPIKey = os.Getenv("BRAVE_API_KEY")
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for _, name := range KnownProviders {
		upper := strings.ToUpper(name)
		p := cfg.Providers[name]
		before := p
		for _, prefix := range []string{"JOSHBOT_PROVIDERS_" + upper, "JOSHBOT_PROVIDER_" + upper} {
			if err := envconfig.Process(prefix, &p); err != nil {
				return fmt.Errorf("env %s: %w", prefix, err)
			}
		}
		if p.APIKey == "" {
			p.APIKey = os.Getenv(upper + "_API_KEY")
		}
		if !reflect.DeepEqual(p, before) {
			cfg.Providers[name] = p
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	d := &cfg.Agents.Defaults
	if d.Workspace == "" {
		d.Workspace = filepath.Join(HomeDir(), "workspace")
	}
	d.Workspace = expandHome(d.Workspace)
	if d.MaxSessionMessages <= 0 {
		d.MaxSessionMessages = DefaultMaxSessionMessages
	}
	if d.MaxMemoryChars <= 0 {
		d.MaxMemoryChars = DefaultMaxMemoryChars
	}
	if d.SubagentIterations <= 0 {
		d.SubagentIterations = DefaultSubagentIterations
	}
	if cfg.Bus.Capacity == 0 {
		cfg.Bus.Capacity = DefaultBusCapacity
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.File != "" {
		cfg.Log.File = expandHome(cfg.Log.File)
	}
}

// Save writes the configuration to ConfigPath.
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes the configuration to path, as YAML when the extension says so.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// loadResolvedConfig reads path with its $include chain and ${VAR}
// substitution and returns the merged document as JSON.
func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if isYAML(absPath) {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, dstIsMap := dst[key].(map[string]any)
		if !dstIsMap {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			name := envPattern.FindStringSubmatch(match)[1]
			if value, ok := os.LookupEnv(name); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
