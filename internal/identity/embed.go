// Package identity provides the embedded workspace bootstrap templates and
// workspace scaffolding.
package identity

import (
	"embed"
	"fmt"
)

//go:embed templates/*.md templates/personalities/*.md
var templateFS embed.FS

// TemplateNames is the ordered list of bootstrap files injected into the
// system prompt when present in the workspace.
var TemplateNames = []string{
	"AGENTS.md",
	"SOUL.md",
	"USER.md",
	"TOOLS.md",
	"IDENTITY.md",
}

// DefaultPersonality seeds SOUL.md when none is chosen.
const DefaultPersonality = "friendly"

// Personality is a selectable SOUL.md preset.
type Personality struct {
	Key         string
	Name        string
	Description string
}

// Personalities lists the presets in menu order.
var Personalities = []Personality{
	{Key: "professional", Name: "Professional", Description: "Concise, task-focused, minimal small talk"},
	{Key: "friendly", Name: "Friendly", Description: "Warm, conversational, uses humor"},
	{Key: "sarcastic", Name: "Sarcastic", Description: "Witty, dry humor, still helpful underneath"},
	{Key: "minimal", Name: "Minimal", Description: "Extremely terse, just the facts"},
}

// Template returns the embedded content of a template file. SOUL.md resolves
// to the default personality.
func Template(name string) ([]byte, error) {
	if name == "SOUL.md" {
		return Soul(DefaultPersonality)
	}
	return templateFS.ReadFile("templates/" + name)
}

// Soul returns the SOUL.md preset for a personality key.
func Soul(key string) ([]byte, error) {
	data, err := templateFS.ReadFile("templates/personalities/" + key + ".md")
	if err != nil {
		return nil, fmt.Errorf("unknown personality %q", key)
	}
	return data, nil
}
