package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI adapts the Chat Completions API to Provider.
type OpenAI struct {
	client  *openai.Client
	timeout time.Duration
}

// NewOpenAI creates an OpenAI provider using the official client.
func NewOpenAI(opts *Options) *OpenAI {
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
	if o.Organization != "" {
		clientOpts = append(clientOpts, option.WithOrganization(o.Organization))
	}
	if o.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(o.HTTPClient))
	}
	client := openai.NewClient(clientOpts...)
	return &OpenAI{client: &client, timeout: o.Timeout}
}

func (p *OpenAI) Name() string { return "openai" }

// Complete sends req as a chat completion and normalizes the first choice.
func (p *OpenAI) Complete(ctx context.Context, req Request) (*Result, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            openaiMessages(req.System, req.Messages),
		Model:               req.Model,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(req.MaxTokens),
	}
	if len(req.Tools) > 0 {
		params.Tools = openaiTools(req.Tools)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &APIError{Provider: p.Name(), Cause: errors.New("no choices returned")}
	}

	choice := resp.Choices[0]
	res := &Result{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return res, nil
}

func (p *OpenAI) classify(err error) error {
	err = Classify(p.Name(), fmt.Errorf("openai: %w", err))
	var te *TimeoutError
	if errors.As(err, &te) && te.Timeout == 0 {
		te.Timeout = p.timeout
	}
	return err
}

func openaiMessages(system string, history []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, call := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: encodeArguments(call.Arguments),
					},
				})
			}
			msg := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			if m.Content != "" {
				msg.Content.OfString = openai.String(m.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: msg})
		case RoleTool:
			for _, r := range m.Results {
				out = append(out, openai.ToolMessage(r.Content, r.CallID))
			}
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func openaiTools(tools []ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  params,
			},
		}
	}
	return out
}

func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
