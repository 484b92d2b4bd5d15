package provider

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bigknoxy/joshbot/internal/config"
)

// LocalWhisperProvider transcribes audio with a local Whisper binary and
// delegates chat to an inner provider.
type LocalWhisperProvider struct {
	config config.LocalWhisperConfig
	inner  LLMProvider
}

// NewLocalWhisperProvider creates a new local Whisper provider.
func NewLocalWhisperProvider(cfg config.LocalWhisperConfig, inner LLMProvider) *LocalWhisperProvider {
	return &LocalWhisperProvider{config: cfg, inner: inner}
}

func (p *LocalWhisperProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.inner.Chat(ctx, req)
}

func (p *LocalWhisperProvider) DefaultModel() string {
	return p.inner.DefaultModel()
}

// Transcribe converts audio to text using the whisper command line tool.
func (p *LocalWhisperProvider) Transcribe(ctx context.Context, req *AudioRequest) (*AudioResponse, error) {
	if !p.config.Enabled {
		return p.inner.Transcribe(ctx, req)
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	tmpDir, err := os.MkdirTemp("", "whisper-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	args := []string{
		req.FilePath,
		"--model", model,
		"--output_dir", tmpDir,
		"--output_format", "txt",
		"--verbose", "False",
	}
	if p.config.Language != "" {
		args = append(args, "--language", p.config.Language)
	}

	cmd := exec.CommandContext(ctx, p.config.BinaryPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("whisper command failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	// Whisper writes <basename without extension>.txt into the output dir.
	base := filepath.Base(req.FilePath)
	txtPath := filepath.Join(tmpDir, strings.TrimSuffix(base, filepath.Ext(base))+".txt")
	txtData, err := os.ReadFile(txtPath)
	if err != nil {
		return nil, fmt.Errorf("read transcription output: %w", err)
	}
	return &AudioResponse{Text: strings.TrimSpace(string(txtData))}, nil
}
