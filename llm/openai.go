package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOptions configures the OpenAI-backed Client.
type OpenAIOptions struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// OpenAIClient implements Client on top of the OpenAI Chat Completions API.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
	temperature  float32
}

// NewOpenAIClient wires up a Client from an API key.
func NewOpenAIClient(apiKey string, opts OpenAIOptions) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llm: openai default model is required")
	}
	return &OpenAIClient{
		client:       openai.NewClient(apiKey),
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	chatReq, err := c.buildRequest(req, false)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("llm: openai returned no choices")
	}
	return translateOpenAIChoice(resp.Choices[0], resp.Usage), nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	chatReq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("llm: openai chat completion stream: %w", err)
	}
	return &openAIStreamer{stream: stream, toolCalls: map[int]*ToolUsePart{}}, nil
}

func (c *OpenAIClient) buildRequest(req Request, stream bool) (openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionRequest{}, errors.New("llm: openai request requires at least one message")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		encoded, err := encodeOpenAIMessage(m)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages = append(messages, encoded...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: messages,
		Stream:   stream,
	}
	if maxTokens := effectiveInt(req.MaxTokens, c.maxTokens); maxTokens > 0 {
		chatReq.MaxTokens = maxTokens
	}
	if temp := effectiveFloat32(req.Temperature, c.temperature); temp > 0 {
		chatReq.Temperature = temp
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = encodeOpenAITools(req.Tools)
	}
	return chatReq, nil
}

func encodeOpenAIMessage(m Message) ([]openai.ChatCompletionMessage, error) {
	var text string
	var toolCalls []openai.ToolCall
	var toolResults []openai.ChatCompletionMessage

	for _, part := range m.Parts {
		switch v := part.(type) {
		case TextPart:
			text += v.Text
		case ToolUsePart:
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   v.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      v.Name,
					Arguments: string(v.Input),
				},
			})
		case ToolResultPart:
			toolResults = append(toolResults, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    v.Content,
				ToolCallID: v.ToolUseID,
			})
		}
	}

	if len(toolResults) > 0 {
		return toolResults, nil
	}

	role, err := openAIRole(m.Role)
	if err != nil {
		return nil, err
	}
	msg := openai.ChatCompletionMessage{Role: role, Content: text}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}
	return []openai.ChatCompletionMessage{msg}, nil
}

func openAIRole(r Role) (string, error) {
	switch r {
	case RoleUser:
		return openai.ChatMessageRoleUser, nil
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant, nil
	case RoleSystem:
		return openai.ChatMessageRoleSystem, nil
	default:
		return "", fmt.Errorf("llm: openai unsupported message role %q", r)
	}
}

func encodeOpenAITools(defs []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if def.InputSchema != nil {
			if raw, err := json.Marshal(def.InputSchema); err == nil {
				_ = json.Unmarshal(raw, &schema)
			}
		}
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

func translateOpenAIChoice(choice openai.ChatCompletionChoice, usage openai.Usage) Response {
	var resp Response
	resp.Text = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolUsePart{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	resp.Usage = TokenUsage{InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens}
	resp.StopReason = string(choice.FinishReason)
	return resp
}

// openAIStreamer adapts openai.ChatCompletionStream to Streamer, buffering
// tool-call argument fragments across chunks the way the delta protocol
// requires before surfacing a complete ChunkToolCall.
type openAIStreamer struct {
	stream    *openai.ChatCompletionStream
	toolCalls map[int]*ToolUsePart
	pending   []Chunk
}

func (s *openAIStreamer) Recv() (Chunk, error) {
	if len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		return c, nil
	}

	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.pending = append(s.pending, s.flushToolCalls()...)
			s.pending = append(s.pending, Chunk{Type: ChunkStop, StopReason: "stop"})
			return s.Recv()
		}
		return Chunk{}, err
	}
	if len(resp.Choices) == 0 {
		return s.Recv()
	}
	delta := resp.Choices[0].Delta

	if delta.Content != "" {
		s.pending = append(s.pending, Chunk{Type: ChunkText, Text: delta.Content})
	}
	for _, tc := range delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		cur, ok := s.toolCalls[idx]
		if !ok {
			cur = &ToolUsePart{}
			s.toolCalls[idx] = cur
		}
		if tc.ID != "" {
			cur.ID = tc.ID
		}
		if tc.Function.Name != "" {
			cur.Name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			cur.Input = append(cur.Input, []byte(tc.Function.Arguments)...)
		}
	}
	if resp.Choices[0].FinishReason == "tool_calls" {
		s.pending = append(s.pending, s.flushToolCalls()...)
	}
	return s.Recv()
}

func (s *openAIStreamer) flushToolCalls() []Chunk {
	if len(s.toolCalls) == 0 {
		return nil
	}
	out := make([]Chunk, 0, len(s.toolCalls))
	for _, tc := range s.toolCalls {
		if tc.ID == "" || tc.Name == "" {
			continue
		}
		call := *tc
		out = append(out, Chunk{Type: ChunkToolCall, ToolCall: &call})
	}
	s.toolCalls = map[int]*ToolUsePart{}
	return out
}

func (s *openAIStreamer) Close() error { return s.stream.Close() }

func effectiveInt(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func effectiveFloat32(requested, fallback float32) float32 {
	if requested > 0 {
		return requested
	}
	return fallback
}
