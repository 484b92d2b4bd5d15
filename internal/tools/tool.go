// Package tools provides the tool framework and implementations for the agent.
package tools

import "context"

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with validated parameters.
	// Recoverable problems with the input are reported in the result text;
	// a returned error is surfaced to the model as an execution failure.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

type originKey struct{}

// Origin identifies the conversation a tool call was made from.
type Origin struct {
	Channel string
	ChatID  string
}

// WithOrigin attaches the originating conversation to ctx.
func WithOrigin(ctx context.Context, channel, chatID string) context.Context {
	return context.WithValue(ctx, originKey{}, Origin{Channel: channel, ChatID: chatID})
}

// OriginFrom returns the originating conversation stored in ctx, if any.
func OriginFrom(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
