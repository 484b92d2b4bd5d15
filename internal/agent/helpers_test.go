package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bigknoxy/joshbot/internal/bus"
	"github.com/bigknoxy/joshbot/internal/provider"
)

// scriptedProvider replays responses in order; the last one repeats.
type scriptedProvider struct {
	mu         sync.Mutex
	responses  []*provider.ChatResponse
	err        error
	requests   []provider.ChatRequest
	transcript string
}

func (p *scriptedProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := *req
	cp.Messages = append([]provider.Message{}, req.Messages...)
	p.requests = append(p.requests, cp)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &provider.ChatResponse{Content: "ok"}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) Transcribe(_ context.Context, req *provider.AudioRequest) (*provider.AudioResponse, error) {
	return &provider.AudioResponse{Text: p.transcript}, nil
}

func (p *scriptedProvider) DefaultModel() string { return "mock-model" }

func (p *scriptedProvider) calls() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.ChatRequest{}, p.requests...)
}

// countingTool records how often it ran.
type countingTool struct {
	name  string
	mu    sync.Mutex
	calls int
}

func (t *countingTool) Name() string        { return t.name }
func (t *countingTool) Description() string { return "test tool " + t.name }
func (t *countingTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *countingTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return fmt.Sprintf("%s result %d", t.name, t.calls), nil
}

func (t *countingTool) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func toolCallResponse(names ...string) *provider.ChatResponse {
	resp := &provider.ChatResponse{Content: "working"}
	for i, name := range names {
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
			ID:        fmt.Sprintf("call_%s_%d", name, i),
			Name:      name,
			Arguments: map[string]any{},
		})
	}
	return resp
}

// collectOutbound runs the bus and forwards every outbound message.
func collectOutbound(t *testing.T, b *bus.MessageBus) <-chan *bus.OutboundMessage {
	t.Helper()
	out := make(chan *bus.OutboundMessage, 16)
	b.OnOutbound(func(_ context.Context, m *bus.OutboundMessage) error {
		out <- m
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return out
}

func receive(t *testing.T, ch <-chan *bus.OutboundMessage) *bus.OutboundMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}
