package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Loader discovers skills from a bundled directory and the workspace
// skills directory. Workspace skills override bundled ones with the same name.
type Loader struct {
	dirs []string

	mu     sync.RWMutex
	skills map[string]*Skill
	loaded bool
}

// NewLoader creates a loader over <workspace>/skills plus any extra
// directories, which are scanned first and therefore lose on name clashes.
func NewLoader(workspace string, bundled ...string) *Loader {
	dirs := append([]string{}, bundled...)
	dirs = append(dirs, filepath.Join(workspace, "skills"))
	return &Loader{dirs: dirs, skills: map[string]*Skill{}}
}

// Discover rescans every skill directory.
func (l *Loader) Discover() {
	found := map[string]*Skill{}
	for _, root := range l.dirs {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(root, e.Name())
			if _, err := os.Stat(filepath.Join(dir, SkillFile)); err != nil {
				continue
			}
			sk, err := ParseSkill(dir)
			if err != nil {
				slog.Warn("Skipping skill", "dir", dir, "error", err)
				continue
			}
			if _, dup := found[sk.Name]; dup {
				slog.Info("Skill overridden", "skill", sk.Name, "path", dir)
			}
			found[sk.Name] = sk
		}
	}

	l.mu.Lock()
	l.skills = found
	l.loaded = true
	l.mu.Unlock()
	slog.Debug("Skills discovered", "count", len(found))
}

func (l *Loader) ensureLoaded() {
	l.mu.RLock()
	loaded := l.loaded
	l.mu.RUnlock()
	if !loaded {
		l.Discover()
	}
}

// List returns discovered skills sorted by name.
func (l *Loader) List() []*Skill {
	l.ensureLoaded()
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Skill, 0, len(l.skills))
	for _, sk := range l.skills {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a skill by name.
func (l *Loader) Get(name string) (*Skill, bool) {
	l.ensureLoaded()
	l.mu.RLock()
	defer l.mu.RUnlock()
	sk, ok := l.skills[name]
	return sk, ok
}

// Summary renders the skills block injected into the system prompt. Skills
// marked always (and available) carry their full body.
func (l *Loader) Summary() string {
	list := l.List()
	if len(list) == 0 {
		return ""
	}
	lines := []string{"Available skills (use read_file on <path>/SKILL.md to load one when needed):"}
	for _, sk := range list {
		lines = append(lines, sk.SummaryLine())
		if sk.Always && sk.Available() && sk.Content() != "" {
			lines = append(lines, "  <skill-content name=\""+sk.Name+"\">\n"+sk.Content()+"\n  </skill-content>")
		}
	}
	return strings.Join(lines, "\n")
}
