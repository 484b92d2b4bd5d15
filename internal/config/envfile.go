package config

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// EnvFiles lists the dotenv files read before the config, most specific
// first: $JOSHBOT_ENV_FILE, <home>/env, <home>/.env, ~/.config/joshbot/env.
func EnvFiles() []string {
	var files []string
	if explicit := strings.TrimSpace(os.Getenv("JOSHBOT_ENV_FILE")); explicit != "" {
		files = append(files, expandHome(explicit))
	}
	home := HomeDir()
	files = append(files, filepath.Join(home, "env"), filepath.Join(home, ".env"))
	if userHome, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(userHome, ".config", "joshbot", "env"))
	}
	return files
}

// LoadEnvFiles applies every readable file from EnvFiles and returns the
// ones that were loaded. Variables already in the environment win, and an
// earlier file wins over a later one.
func LoadEnvFiles() []string {
	var loaded []string
	seen := make(map[string]bool)
	for _, p := range EnvFiles() {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		n, err := loadEnvFile(p)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("Env file not loaded", "path", p, "error", err)
			}
			continue
		}
		slog.Debug("Env file loaded", "path", p, "vars", n)
		loaded = append(loaded, p)
	}
	return loaded
}

// loadEnvFile sets KEY=VALUE pairs that are not yet set and reports how
// many it set. Unquoted values lose trailing " #" comments; single-quoted
// values are literal; the others expand ${VAR}.
func loadEnvFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	set := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, raw, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, envValue(strings.TrimSpace(raw))); err != nil {
			return set, err
		}
		set++
	}
	return set, sc.Err()
}

func envValue(raw string) string {
	if len(raw) >= 2 {
		switch q := raw[0]; {
		case q == '\'' && raw[len(raw)-1] == q:
			return raw[1 : len(raw)-1]
		case q == '"' && raw[len(raw)-1] == q:
			return os.ExpandEnv(raw[1 : len(raw)-1])
		}
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return os.ExpandEnv(raw)
}
