package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// maxShellOutput bounds the combined output returned to the model.
const maxShellOutput = 10000

// DenyPatterns contains regex patterns for dangerous commands.
var DenyPatterns = []string{
	`\brm\s+-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*\s+[/~]`,  // rm -rf / or ~
	`\brm\s+(-[a-zA-Z]*f[a-zA-Z]*\s+)?/\s*$`,        // rm /
	`\bdd\b.*\bof=/dev/`,                            // dd to device
	`>\s*/dev/[sh]d[a-z]`,                           // write to raw disk
	`\bmkfs(\.|\b)`,                                 // filesystem format
	`\bfdisk\b`,                                     // partition tool
	`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;\s*:`,            // fork bomb
	`\bshutdown\b`,                                  // shutdown
	`\breboot\b`,                                    // reboot
	`\bhalt\b`,                                      // halt
	`\binit\s+[06]\b`,                               // init level change
	`\bformat\s+[a-zA-Z]:`,                          // Windows format
	`\bchmod\s+-R\s+777\s+/`,                        // chmod 777 on root
	`\bchown\s+-R\b.*\s+/\s*$`,                      // chown recursive on root
}

// PathPatterns detect path traversal attempts.
var PathPatterns = []string{
	`\.\.\/`, // ../
	`\.\.\\`, // ..\
}

// ExecTool executes shell commands.
type ExecTool struct {
	Timeout             time.Duration
	RestrictToWorkspace bool
	WorkDir             string
	denyRegexes         []*regexp.Regexp
	pathRegexes         []*regexp.Regexp
}

// NewExecTool creates a new ExecTool.
func NewExecTool(timeout time.Duration, restrictToWorkspace bool, workDir string) *ExecTool {
	return &ExecTool{
		Timeout:             timeout,
		RestrictToWorkspace: restrictToWorkspace,
		WorkDir:             workDir,
		denyRegexes:         compileAll(DenyPatterns),
		pathRegexes:         compileAll(PathPatterns),
	}
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use for running scripts, git, grep, and system commands."
}

func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Timeout in seconds (default: %d)", int(t.timeout().Seconds())),
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) timeout() time.Duration {
	if t.Timeout <= 0 {
		return 60 * time.Second
	}
	return t.Timeout
}

func (t *ExecTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command := strings.TrimSpace(GetString(params, "command", ""))
	if command == "" {
		return "Error: command is required", nil
	}
	if err := t.guardCommand(command); err != nil {
		return err.Error(), nil
	}

	timeout := t.timeout()
	if secs := GetInt(params, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if t.WorkDir != "" {
		cmd.Dir = expandHome(t.WorkDir)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	var result strings.Builder
	result.Write(stdout.Bytes())
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.Write(stderr.Bytes())
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("command timed out after %v: %w", timeout, context.DeadlineExceeded)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("run command: %w", err)
		}
		fmt.Fprintf(&result, "\nExit code: %d", exitErr.ExitCode())
	}

	out := result.String()
	if out == "" {
		return "(no output)", nil
	}
	if len(out) > maxShellOutput {
		out = out[:maxShellOutput] + fmt.Sprintf("\n... (truncated, %d chars total)", len(out))
	}
	return out, nil
}

func (t *ExecTool) guardCommand(command string) error {
	for _, re := range t.denyRegexes {
		if re.MatchString(command) {
			return fmt.Errorf("Error: command blocked by safety guard (%s)", re.String())
		}
	}

	if t.RestrictToWorkspace && t.WorkDir != "" {
		for _, re := range t.pathRegexes {
			if re.MatchString(command) {
				return fmt.Errorf("Error: path traversal not allowed")
			}
		}
		root, err := filepath.Abs(expandHome(t.WorkDir))
		if err != nil {
			return nil
		}
		for _, field := range strings.Fields(command) {
			if strings.HasPrefix(field, "/") && !isWithin(root, filepath.Clean(field)) {
				return fmt.Errorf("Error: path outside workspace: %s", field)
			}
		}
	}
	return nil
}
