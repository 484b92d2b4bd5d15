package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WorkspaceDirs are created inside every scaffolded workspace.
var WorkspaceDirs = []string{"memory", "skills"}

// ScaffoldResult lists the files written, the ones left in place and any
// per-file failures.
type ScaffoldResult struct {
	Created []string
	Skipped []string
	Errors  []string
}

// ScaffoldWorkspace lays out a workspace at path: the bootstrap files from
// TemplateNames plus WorkspaceDirs. SOUL.md comes from personality (empty
// selects DefaultPersonality). Existing files are kept unless force is set.
func ScaffoldWorkspace(path, personality string, force bool) (*ScaffoldResult, error) {
	if personality == "" {
		personality = DefaultPersonality
	}
	soul, err := Soul(personality)
	if err != nil {
		return nil, err
	}
	for _, dir := range append([]string{""}, WorkspaceDirs...) {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
	}

	res := &ScaffoldResult{}
	for _, name := range TemplateNames {
		dst := filepath.Join(path, name)
		if !force && exists(dst) {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		content := soul
		if name != "SOUL.md" {
			if content, err = Template(name); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
				continue
			}
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		res.Created = append(res.Created, name)
	}
	return res, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
