package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/google/uuid"
)

// Anthropic adapts the Anthropic Messages API to Provider.
type Anthropic struct {
	client  *anthropic.Client
	timeout time.Duration
}

// NewAnthropic creates an Anthropic provider using the official client.
func NewAnthropic(opts *Options) *Anthropic {
	o := opts.withDefaults()
	clientOpts := []option.RequestOption{
		option.WithMaxRetries(o.MaxRetries),
		option.WithRequestTimeout(o.Timeout),
	}
	if o.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.BaseURL))
	}
	if o.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(o.HTTPClient))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Anthropic{client: &client, timeout: o.Timeout}
}

func (a *Anthropic) Name() string { return "anthropic" }

// Complete sends req through client.Messages.New and normalizes the content
// blocks of the response.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Result, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    anthropicMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.classify(err)
	}

	res := &Result{
		StopReason: string(resp.StopReason),
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			res.Text += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			id := tu.ID
			if id == "" {
				id = uuid.NewString()
			}
			res.ToolCalls = append(res.ToolCalls, ToolCall{
				ID:        id,
				Name:      tu.Name,
				Arguments: decodeArguments(tu.Input),
			})
		}
	}
	return res, nil
}

func (a *Anthropic) classify(err error) error {
	err = Classify(a.Name(), fmt.Errorf("anthropic: %w", err))
	var te *TimeoutError
	if errors.As(err, &te) && te.Timeout == 0 {
		te.Timeout = a.timeout
	}
	return err
}

func anthropicMessages(history []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Name))
			}
			if len(blocks) == 0 {
				// Keep user/assistant alternation for empty replies.
				blocks = append(blocks, anthropic.NewTextBlock(EmptyReply))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Results))
			for _, r := range m.Results {
				blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Content, r.IsError))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		default:
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return out
}

func anthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := tool.Parameters["properties"]; ok {
			schema.Properties = props
		} else {
			schema.Properties = map[string]any{}
		}
		schema.Required = requiredFields(tool.Parameters["required"])
		out[i] = anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" && out[i].OfTool != nil {
			out[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// decodeArguments turns whatever the SDK decoded for tool input (raw JSON,
// a map, or a JSON string) into an argument map.
func decodeArguments(input any) map[string]any {
	var raw []byte
	switch v := input.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case string:
		raw = []byte(v)
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return map[string]any{}
		}
		raw = b
	}
	if len(raw) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"input": string(raw)}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}
