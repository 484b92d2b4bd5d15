// Package skills discovers workspace skills and renders their summary for
// the system prompt.
package skills

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFile is the file that marks a directory as a skill.
const SkillFile = "SKILL.md"

const maxDescriptionChars = 200

// Frontmatter is the YAML header of a SKILL.md file.
type Frontmatter struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Always       bool     `yaml:"always"`
	Requirements []string `yaml:"requirements"`
	Tags         []string `yaml:"tags"`
}

// Skill is a discovered skill directory.
type Skill struct {
	Name         string
	Description  string
	Path         string
	Always       bool
	Requirements []string
	Tags         []string
	body         string
}

// Available reports whether every requirement is met. Requirements are
// "bin:<name>" (binary on PATH) or "env:<VAR>" (non-empty variable).
func (s *Skill) Available() bool {
	for _, req := range s.Requirements {
		kind, val, _ := strings.Cut(req, ":")
		switch kind {
		case "bin":
			if !HasBinary(val) {
				return false
			}
		case "env":
			if os.Getenv(val) == "" {
				return false
			}
		}
	}
	return true
}

// Content returns the SKILL.md body without its frontmatter.
func (s *Skill) Content() string {
	return s.body
}

// SummaryLine renders the skill as one XML element.
func (s *Skill) SummaryLine() string {
	return fmt.Sprintf("  <skill name=%q available=\"%t\">%s</skill>",
		s.Name, s.Available(), html.EscapeString(s.Description))
}

// HasBinary reports whether name is on PATH.
func HasBinary(name string) bool {
	_, err := exec.LookPath(strings.TrimSpace(name))
	return err == nil
}

// ParseSkill reads dir/SKILL.md. The directory name is the fallback name and
// the first body paragraph the fallback description.
func ParseSkill(dir string) (*Skill, error) {
	data, err := os.ReadFile(filepath.Join(dir, SkillFile))
	if err != nil {
		return nil, err
	}
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}

	sk := &Skill{
		Name:         strings.TrimSpace(fm.Name),
		Description:  strings.TrimSpace(fm.Description),
		Path:         dir,
		Always:       fm.Always,
		Requirements: fm.Requirements,
		Tags:         fm.Tags,
		body:         body,
	}
	if sk.Name == "" {
		sk.Name = filepath.Base(dir)
	}
	if sk.Description == "" {
		para, _, _ := strings.Cut(body, "\n\n")
		sk.Description = strings.Join(strings.Fields(para), " ")
		if len(sk.Description) > maxDescriptionChars {
			sk.Description = sk.Description[:maxDescriptionChars]
		}
	}
	return sk, nil
}

func splitFrontmatter(data []byte) (Frontmatter, string, error) {
	var fm Frontmatter
	text := string(bytes.TrimPrefix(data, []byte("\ufeff")))
	if !strings.HasPrefix(text, "---") {
		return fm, strings.TrimSpace(text), nil
	}
	rest := strings.TrimPrefix(text, "---")
	header, body, ok := strings.Cut(rest, "\n---")
	if !ok {
		return fm, strings.TrimSpace(text), nil
	}
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	// Drop the remainder of the closing delimiter line.
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return fm, strings.TrimSpace(body), nil
}
