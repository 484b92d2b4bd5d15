package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type stubTool struct {
	name   string
	params map[string]any
	run    func(ctx context.Context, params map[string]any) (string, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Parameters() map[string]any {
	if s.params != nil {
		return s.params
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s *stubTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if s.run == nil {
		return "ok", nil
	}
	return s.run(ctx, params)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "zeta"})
	r.Register(&stubTool{name: "alpha"})

	if !r.Has("alpha") || r.Has("missing") {
		t.Fatal("Has reported wrong membership")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 tools, got %d", r.Len())
	}
	if names := r.Names(); names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted names, got %v", names)
	}

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	fn := defs[0]["function"].(map[string]any)
	if defs[0]["type"] != "function" || fn["name"] != "alpha" {
		t.Fatalf("unexpected definition: %v", defs[0])
	}

	r.Unregister("zeta")
	if r.Has("zeta") {
		t.Fatal("expected zeta to be removed")
	}
}

func TestRegisterReplacesSameName(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "x", run: func(context.Context, map[string]any) (string, error) { return "first", nil }})
	r.Register(&stubTool{name: "x", run: func(context.Context, map[string]any) (string, error) { return "second", nil }})
	if got := r.Execute(context.Background(), "x", nil); got != "second" {
		t.Fatalf("expected last registration to win, got %q", got)
	}
}

func TestWithoutExcludesNames(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"message", "spawn", "read_file"} {
		r.Register(&stubTool{name: n})
	}
	sub := r.Without("message", "spawn")
	if sub.Len() != 1 || !sub.Has("read_file") {
		t.Fatalf("unexpected subset: %v", sub.Names())
	}
	if r.Len() != 3 {
		t.Fatal("Without must not modify the source registry")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "b"})
	r.Register(&stubTool{name: "a"})
	got := r.Execute(context.Background(), "nope", nil)
	want := "Error: Unknown tool 'nope'. Available tools: a, b"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExecuteFailureKinds(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
	tests := []struct {
		name string
		tool *stubTool
		args map[string]any
		want string
	}{
		{
			name: "validation",
			tool: &stubTool{name: "t", params: schema},
			args: map[string]any{},
			want: "t error: ValidationError: path: missing required parameter",
		},
		{
			name: "execution",
			tool: &stubTool{name: "t", run: func(context.Context, map[string]any) (string, error) {
				return "", errors.New("disk on fire")
			}},
			want: "t error: ExecutionError: disk on fire",
		},
		{
			name: "timeout",
			tool: &stubTool{name: "t", run: func(context.Context, map[string]any) (string, error) {
				return "", context.DeadlineExceeded
			}},
			want: "t error: Timeout: context deadline exceeded",
		},
		{
			name: "canceled",
			tool: &stubTool{name: "t", run: func(context.Context, map[string]any) (string, error) {
				return "", context.Canceled
			}},
			want: "t error: Canceled: context canceled",
		},
		{
			name: "panic",
			tool: &stubTool{name: "t", run: func(context.Context, map[string]any) (string, error) {
				panic("kaboom")
			}},
			want: "t error: Panic: kaboom",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			r.Register(tc.tool)
			if got := r.Execute(context.Background(), "t", tc.args); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExecuteDropsUnknownFields(t *testing.T) {
	var seen map[string]any
	r := NewRegistry()
	r.Register(&stubTool{
		name: "t",
		params: map[string]any{
			"type":       "object",
			"properties": map[string]any{"keep": map[string]any{"type": "string"}},
		},
		run: func(_ context.Context, params map[string]any) (string, error) {
			seen = params
			return "ok", nil
		},
	})
	r.Execute(context.Background(), "t", map[string]any{"keep": "x", "extra": 1})
	if _, ok := seen["extra"]; ok {
		t.Fatal("expected unknown field to be dropped")
	}
	if seen["keep"] != "x" {
		t.Fatalf("expected declared field to survive, got %v", seen)
	}
}

func TestValidateParamsTypesAndEnum(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"n":      map[string]any{"type": "integer"},
			"action": map[string]any{"type": "string", "enum": []string{"create", "list"}},
		},
	}
	if _, err := ValidateParams(schema, map[string]any{"n": float64(3)}); err != nil {
		t.Fatalf("integral float should pass: %v", err)
	}
	if _, err := ValidateParams(schema, map[string]any{"n": 2.5}); err == nil {
		t.Fatal("expected non-integral number to fail")
	}
	var verr *ValidationError
	if _, err := ValidateParams(schema, map[string]any{"action": "explode"}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for enum, got %v", err)
	}
}

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "test.txt"), []byte("Hello, World!"), 0o644)
	tool := NewReadFileTool(Workspace{Root: dir, Restrict: true})

	result, err := tool.Execute(context.Background(), map[string]any{"path": "test.txt"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "Hello, World!" {
		t.Errorf("expected 'Hello, World!', got '%s'", result)
	}

	result, _ = tool.Execute(context.Background(), map[string]any{"path": "missing.txt"})
	if !strings.Contains(result, "file not found") {
		t.Errorf("expected not-found error, got %q", result)
	}

	result, _ = tool.Execute(context.Background(), map[string]any{"path": "/etc/hostname"})
	if !strings.Contains(result, "outside workspace") {
		t.Errorf("expected workspace restriction, got %q", result)
	}
}

func TestWriteAndEditFileTools(t *testing.T) {
	dir := t.TempDir()
	ws := Workspace{Root: dir, Restrict: true}

	result, err := NewWriteFileTool(ws).Execute(context.Background(), map[string]any{
		"path":    "sub/new.txt",
		"content": "Hello, World! Hello!",
	})
	if err != nil || !strings.Contains(result, "Successfully wrote") {
		t.Fatalf("write failed: %q %v", result, err)
	}

	edit := NewEditFileTool(ws)
	result, _ = edit.Execute(context.Background(), map[string]any{
		"path": "sub/new.txt", "old_text": "Hello", "new_text": "Bye",
	})
	if !strings.Contains(result, "appears 2 times") {
		t.Fatalf("expected ambiguity error, got %q", result)
	}

	result, _ = edit.Execute(context.Background(), map[string]any{
		"path": "sub/new.txt", "old_text": "World", "new_text": "Go",
	})
	if !strings.Contains(result, "Successfully edited") {
		t.Fatalf("expected success, got %q", result)
	}
	content, _ := os.ReadFile(filepath.Join(dir, "sub", "new.txt"))
	if string(content) != "Hello, Go! Hello!" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestListDirTool(t *testing.T) {
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "child"), 0o755)
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("abc"), 0o644)

	result, err := NewListDirTool(Workspace{Root: dir}).Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "[DIR]  child/") || !strings.Contains(result, "[FILE] f.txt (3 bytes)") {
		t.Fatalf("unexpected listing:\n%s", result)
	}
}

func TestSpawnToolDelegates(t *testing.T) {
	var gotTask, gotExtra string
	tool := NewSpawnTool(func(_ context.Context, task, extra string) string {
		gotTask, gotExtra = task, extra
		return "done"
	})
	out, err := tool.Execute(context.Background(), map[string]any{"task": "count files", "context": "in /tmp"})
	if err != nil || out != "done" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
	if gotTask != "count files" || gotExtra != "in /tmp" {
		t.Fatalf("unexpected args %q %q", gotTask, gotExtra)
	}

	out, _ = NewSpawnTool(nil).Execute(context.Background(), map[string]any{"task": "x"})
	if !strings.HasPrefix(out, "Error:") {
		t.Fatalf("expected error without runner, got %q", out)
	}
}

func TestOriginRoundTrip(t *testing.T) {
	ctx := WithOrigin(context.Background(), "slack", "slack:C1")
	o, ok := OriginFrom(ctx)
	if !ok || o.Channel != "slack" || o.ChatID != "slack:C1" {
		t.Fatalf("unexpected origin %+v %v", o, ok)
	}
	if _, ok := OriginFrom(context.Background()); ok {
		t.Fatal("expected no origin on bare context")
	}
}

func TestExecToolTimeoutKind(t *testing.T) {
	r := NewRegistry()
	r.Register(NewExecTool(50*time.Millisecond, false, t.TempDir()))
	got := r.Execute(context.Background(), "exec", map[string]any{"command": "sleep 2"})
	if !strings.HasPrefix(got, "exec error: Timeout:") {
		t.Fatalf("expected timeout failure, got %q", got)
	}
}
