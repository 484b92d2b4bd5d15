package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bigknoxy/joshbot/internal/config"
)

// Spec describes how a named provider is reached.
type Spec struct {
	Name string
	// Prefix marks model names routed to this provider; it is stripped
	// before the request.
	Prefix      string
	DefaultBase string
	NeedsBase   bool
}

// Specs lists the supported providers. All speak the OpenAI chat API.
var Specs = map[string]Spec{
	"openrouter": {Name: "openrouter", Prefix: "openrouter/", DefaultBase: "https://openrouter.ai/api/v1"},
	"anthropic":  {Name: "anthropic", DefaultBase: "https://api.anthropic.com/v1"},
	"openai":     {Name: "openai", DefaultBase: "https://api.openai.com/v1"},
	"deepseek":   {Name: "deepseek", Prefix: "deepseek/", DefaultBase: "https://api.deepseek.com/v1"},
	"gemini":     {Name: "gemini", Prefix: "gemini/", DefaultBase: "https://generativelanguage.googleapis.com/v1beta/openai"},
	"groq":       {Name: "groq", Prefix: "groq/", DefaultBase: "https://api.groq.com/openai/v1"},
	"custom":     {Name: "custom", Prefix: "openai/", NeedsBase: true},
	"vllm":       {Name: "vllm", Prefix: "hosted_vllm/", NeedsBase: true},
}

const groqWhisperModel = "whisper-large-v3"

// DetectProvider picks the provider for model: an explicit prefix wins, then
// well-known model families, then the first provider with a key (by name),
// then openrouter.
func DetectProvider(model string, providers map[string]config.ProviderConfig) string {
	names := make([]string, 0, len(Specs))
	for name := range Specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if spec := Specs[name]; spec.Prefix != "" && strings.HasPrefix(model, spec.Prefix) {
			return name
		}
	}
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1-"), strings.HasPrefix(model, "o3-"):
		return "openai"
	}

	configured := make([]string, 0, len(providers))
	for name, pc := range providers {
		if pc.APIKey != "" {
			configured = append(configured, name)
		}
	}
	sort.Strings(configured)
	if len(configured) > 0 {
		return configured[0]
	}
	return "openrouter"
}

// ResolveModelName strips the routing prefix of the chosen provider.
func ResolveModelName(providerName, model string) string {
	spec, ok := Specs[providerName]
	if !ok || spec.Prefix == "" {
		return model
	}
	return strings.TrimPrefix(model, spec.Prefix)
}

// Resolve builds the provider for the configured default model. Audio is
// routed to Groq Whisper when a Groq key exists, and to the local Whisper
// binary when that is enabled.
func Resolve(cfg *config.Config) (LLMProvider, error) {
	model := cfg.Agents.Defaults.Model
	name := DetectProvider(model, cfg.Providers)
	spec, ok := Specs[name]
	if !ok {
		spec = Spec{Name: name, NeedsBase: true}
	}
	pc := cfg.Providers[name]

	base := pc.APIBase
	if base == "" {
		base = spec.DefaultBase
	}
	if base == "" && spec.NeedsBase {
		return nil, &ProviderError{Provider: name, Hint: fmt.Sprintf("set providers.%s.api_base in config", name)}
	}
	if pc.APIKey == "" && !spec.NeedsBase {
		slog.Warn("Provider has no API key; requests will likely be rejected", "provider", name)
	}

	opts := OpenAIOptions{
		APIKey:       pc.APIKey,
		APIBase:      base,
		DefaultModel: ResolveModelName(name, model),
		ExtraHeaders: pc.ExtraHeaders,
	}
	if groq := cfg.Providers["groq"]; groq.APIKey != "" {
		opts.AudioAPIKey = groq.APIKey
		opts.AudioAPIBase = Specs["groq"].DefaultBase
		if groq.APIBase != "" {
			opts.AudioAPIBase = groq.APIBase
		}
		opts.AudioModel = groqWhisperModel
	}

	var prov LLMProvider = NewOpenAIProvider(opts)
	if cfg.Transcription.LocalWhisper.Enabled {
		prov = NewLocalWhisperProvider(cfg.Transcription.LocalWhisper, prov)
	}
	slog.Debug("Provider resolved", "provider", name, "model", opts.DefaultModel, "base", base)
	return prov, nil
}

// ProviderError is returned when a provider cannot be constructed.
type ProviderError struct {
	Provider string
	Hint     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q: %s", e.Provider, e.Hint)
}
