// Package agent drives the tool-use conversation loop: it asks the model,
// runs the tools it requests through an MCP manager, feeds the results back
// and repeats until the model answers or the round limit is reached.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-agent-go/pkg/llm"
	"github.com/vikashloomba/mcp-agent-go/pkg/mcpmgr"
)

// ToolHost is the part of *mcpmgr.Manager the loop depends on.
type ToolHost interface {
	ListTools() []mcpmgr.ToolEntry
	ToolServer(name string) (string, bool)
	CallTool(ctx context.Context, name string, args map[string]any, server string) (*mcp.CallToolResult, error)
}

// ToolOutcome is the result of one tool call as seen by the loop. Failures
// are data here: Err is set and Content carries the text sent to the model.
type ToolOutcome struct {
	CallID  string
	Name    string
	Server  string
	Content string
	IsError bool
	Err     error
}

// Observer is notified around every tool call. Panics are recovered.
type Observer interface {
	ToolCall(server string, call llm.ToolCall)
	ToolResult(outcome ToolOutcome)
}

const (
	defaultMaxIterations = 10
	defaultMaxHistory    = 50
	defaultMaxTokens     = 4096

	iterationLimitNotice = "Stopped after reaching the maximum number of tool rounds without a final answer."
)

// Options configures an Agent.
type Options struct {
	Model        string
	// SystemPrompt defaults to DefaultSystemPrompt when empty.
	SystemPrompt string
	MaxTokens    int64
	Temperature  float64
	// MaxIterations caps model rounds per user turn.
	MaxIterations int
	// MaxHistory caps the transcript length in messages.
	MaxHistory int
	Observer   Observer
	Logger     *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = defaultMaxHistory
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Stats summarizes the session so far.
type Stats struct {
	Turns      int
	Messages   int
	ToolCalls  int
	LastUsage  llm.Usage
	TotalUsage llm.Usage
}

// Agent runs user turns against one provider and one tool host. Turns are
// serialized.
type Agent struct {
	host     ToolHost
	provider llm.Provider

	mu      sync.Mutex
	opts    Options
	logger  *slog.Logger
	history *History
	stats   Stats
}

// New wires an Agent to its collaborators.
func New(host ToolHost, provider llm.Provider, opts *Options) *Agent {
	o := opts.withDefaults()
	return &Agent{
		host:     host,
		provider: provider,
		opts:     o,
		logger:   o.Logger,
		history:  NewHistory(o.MaxHistory),
	}
}

// RunTurn processes one user message and returns the model's final text.
// Tool failures never end the turn; they are reported to the model as text.
// Provider failures end the turn with a classified llm error and leave the
// history as it was before the message. Hitting the round limit logs a
// warning and returns the best text seen so far.
func (a *Agent) RunTurn(ctx context.Context, userMessage string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history.Append(llm.Message{Role: llm.RoleUser, Content: userMessage})
	a.stats.Turns++

	best := ""
	for iteration := 1; iteration <= a.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			a.history.dropCurrentTurn()
			return "", err
		}

		res, err := a.provider.Complete(ctx, llm.Request{
			Model:       a.opts.Model,
			System:      a.opts.SystemPrompt,
			Messages:    a.history.Messages(),
			MaxTokens:   a.opts.MaxTokens,
			Temperature: a.opts.Temperature,
			Tools:       a.catalog(),
		})
		if err != nil {
			a.history.dropCurrentTurn()
			err = llm.Classify(a.provider.Name(), err)
			a.logger.Error("llm request failed", "provider", a.provider.Name(), "iteration", iteration, "error", err)
			return "", err
		}
		a.stats.LastUsage = res.Usage
		a.stats.TotalUsage.InputTokens += res.Usage.InputTokens
		a.stats.TotalUsage.OutputTokens += res.Usage.OutputTokens
		if strings.TrimSpace(res.Text) != "" {
			best = res.Text
		}

		if len(res.ToolCalls) == 0 {
			stored := res.Text
			if strings.TrimSpace(stored) == "" {
				stored = llm.EmptyReply
			}
			a.history.Append(llm.Message{Role: llm.RoleAssistant, Content: stored})
			return res.Text, nil
		}

		calls := withCallIDs(res.ToolCalls)
		a.history.Append(llm.Message{Role: llm.RoleAssistant, Content: res.Text, ToolCalls: calls})
		results := make([]llm.ToolResult, 0, len(calls))
		for _, call := range calls {
			outcome := a.execute(ctx, call)
			results = append(results, llm.ToolResult{
				CallID:  outcome.CallID,
				Name:    outcome.Name,
				Content: outcome.Content,
				IsError: outcome.IsError,
			})
		}
		a.history.Append(llm.Message{Role: llm.RoleTool, Results: results})
	}

	a.logger.Warn("tool round limit reached", "max_iterations", a.opts.MaxIterations)
	if best == "" {
		best = iterationLimitNotice
	}
	a.history.Append(llm.Message{Role: llm.RoleAssistant, Content: best})
	return best, nil
}

func (a *Agent) catalog() []llm.ToolSpec {
	entries := a.host.ListTools()
	specs := make([]llm.ToolSpec, 0, len(entries))
	for _, e := range entries {
		specs = append(specs, llm.ToolSpec{
			Name:        e.Name,
			Description: e.Description,
			Parameters:  e.InputSchema,
		})
	}
	return specs
}

func withCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		out[i] = c
	}
	return out
}

func (a *Agent) execute(ctx context.Context, call llm.ToolCall) ToolOutcome {
	server, _ := a.host.ToolServer(call.Name)
	a.notifyCall(server, call)
	a.stats.ToolCalls++

	outcome := ToolOutcome{CallID: call.ID, Name: call.Name, Server: server}
	res, err := a.callTool(ctx, call)
	if err != nil {
		a.logger.Warn("tool call failed", "tool", call.Name, "server", server, "error", err)
		outcome.Err = err
		outcome.IsError = true
		outcome.Content = failureText(err)
	} else {
		outcome.Content = RenderResult(res)
		outcome.IsError = res != nil && res.IsError
	}
	a.notifyResult(outcome)
	return outcome
}

func (a *Agent) callTool(ctx context.Context, call llm.ToolCall) (res *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("tool %q panicked: %v", call.Name, r)
		}
	}()
	return a.host.CallTool(ctx, call.Name, call.Arguments, "")
}

func (a *Agent) notifyCall(server string, call llm.ToolCall) {
	if a.opts.Observer == nil {
		return
	}
	defer a.recoverObserver()
	a.opts.Observer.ToolCall(server, call)
}

func (a *Agent) notifyResult(outcome ToolOutcome) {
	if a.opts.Observer == nil {
		return
	}
	defer a.recoverObserver()
	a.opts.Observer.ToolResult(outcome)
}

func (a *Agent) recoverObserver() {
	if r := recover(); r != nil {
		a.logger.Debug("observer panicked", "panic", r)
	}
}

// History returns a copy of the transcript.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.Messages()
}

// ClearHistory empties the transcript and resets the counters.
func (a *Agent) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Reset()
	a.stats = Stats{}
}

// SetSystemPrompt replaces the system prompt used from the next request on.
// An empty prompt restores DefaultSystemPrompt.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	a.opts.SystemPrompt = prompt
}

// Stats returns a snapshot of the session counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Messages = a.history.Len()
	return s
}
