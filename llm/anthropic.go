package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMessages captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService in production and a fake in
// tests.
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures the Anthropic-backed Client.
type AnthropicOptions struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// AnthropicClient implements Client on top of the Anthropic Messages API.
type AnthropicClient struct {
	msg          anthropicMessages
	defaultModel string
	maxTokens    int
	temperature  float64
}

// NewAnthropicClient builds a Client from an Anthropic Messages client.
func NewAnthropicClient(msg anthropicMessages, opts AnthropicOptions) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("llm: anthropic messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llm: anthropic default model is required")
	}
	return &AnthropicClient{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewAnthropicClientFromAPIKey wires up the real Anthropic SDK client from an
// API key, the way most deployments construct it.
func NewAnthropicClientFromAPIKey(apiKey, defaultModel string, opts AnthropicOptions) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: anthropic api key is required")
	}
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	opts.DefaultModel = defaultModel
	return NewAnthropicClient(&sdkClient.Messages, opts)
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return Response{}, fmt.Errorf("llm: anthropic messages.new: %w", err)
	}
	return translateAnthropicResponse(msg)
}

// Stream is not implemented for Anthropic in this adapter and always returns
// ErrStreamingUnsupported; the agent runner only ever calls Complete.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	return nil, ErrStreamingUnsupported
}

func (c *AnthropicClient) prepareRequest(req Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: anthropic request requires at least one message")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return nil, errors.New("llm: anthropic max_tokens must be positive")
	}

	msgs, err := encodeAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if temp := req.Temperature; temp > 0 {
		params.Temperature = sdk.Float(float64(temp))
	} else if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return &params, nil
}

func encodeAnthropicMessages(msgs []Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case ToolUsePart:
				var input any
				if len(v.Input) > 0 {
					if err := json.Unmarshal(v.Input, &input); err != nil {
						return nil, fmt.Errorf("llm: anthropic tool_use input: %w", err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
			case ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("llm: anthropic unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("llm: anthropic request requires at least one user/assistant message")
	}
	return out, nil
}

func encodeAnthropicTools(defs []ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		schemaMap, err := toMap(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("llm: anthropic tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaMap}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func toMap(schema any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func translateAnthropicResponse(msg *sdk.Message) (Response, error) {
	if msg == nil {
		return Response{}, errors.New("llm: anthropic response is nil")
	}
	var resp Response
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolUsePart{
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}
	resp.Usage = TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	resp.StopReason = string(msg.StopReason)
	return resp, nil
}
