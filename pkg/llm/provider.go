// Package llm normalizes LLM provider APIs behind a single request/response
// shape so the orchestration loop never inspects provider-specific unions.
package llm

import (
	"context"
	"net/http"
	"time"
)

// Role of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries the aggregated results of one tool round.
	RoleTool Role = "tool"
)

// EmptyReply stands in for an assistant reply that carried no text, since
// providers reject empty assistant turns.
const EmptyReply = "(no response)"

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object.
	Parameters map[string]any
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Message is one entry of the canonical conversation history.
type Message struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall
	Results   []ToolResult
}

// Usage reports token counters for one completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int64
	Temperature float64
	Tools       []ToolSpec
}

// Result is the normalized completion: either final text, tool calls, or
// both (text preceding the calls).
type Result struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
}

// Provider sends one completion request to an LLM. Implementations return
// errors already classified as *TimeoutError, *NetworkError or *APIError.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Result, error)
}

// Options configures an SDK-backed Provider. Retries are owned by the SDK.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	// MaxRetries is passed to the SDK; negative disables retries.
	MaxRetries int
	// Timeout bounds every request including retries.
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return opts
}
