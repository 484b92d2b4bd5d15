package tools

import "context"

// SpawnFunc runs a background task and returns its final text.
type SpawnFunc func(ctx context.Context, task, extra string) string

// SpawnTool delegates a task to a capability-restricted subagent.
type SpawnTool struct {
	spawn SpawnFunc
}

// NewSpawnTool creates a SpawnTool. fn may be set later with SetSpawnFunc.
func NewSpawnTool(fn SpawnFunc) *SpawnTool {
	return &SpawnTool{spawn: fn}
}

// SetSpawnFunc wires the runner after construction.
func (t *SpawnTool) SetSpawnFunc(fn SpawnFunc) { t.spawn = fn }

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Spawn a background task that runs independently. The task has access to tools but cannot send messages or spawn sub-tasks. Use for long-running operations."
}

func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Description of the task for the subagent to perform",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Additional context or instructions",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.spawn == nil {
		return "Error: subagent runner not configured", nil
	}
	task := GetString(params, "task", "")
	if task == "" {
		return "Error: task is required", nil
	}
	return t.spawn(ctx, task, GetString(params, "context", "")), nil
}
