package agentrunner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/event"
	"github.com/relaymesh/supervisor/llm"
	"github.com/relaymesh/supervisor/telemetry"
	"github.com/relaymesh/supervisor/toolreg"
)

// scriptedClient replays a fixed sequence of Complete responses, one per call.
type scriptedClient struct {
	responses []llm.Response
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req llm.Request) (llm.Streamer, error) {
	return nil, llm.ErrStreamingUnsupported
}

func newEchoRegistry(t *testing.T) *toolreg.Registry {
	t.Helper()
	reg := toolreg.New()
	err := reg.Register(toolreg.Descriptor{
		Name:         "echo",
		Capabilities: []string{"echo"},
		Invoker: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	})
	require.NoError(t, err)
	return reg
}

func drain(ch chan event.Event) []event.Event {
	close(ch)
	var out []event.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestRunner_Run_TextOnlyTurn(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{{Text: "final answer", StopReason: "end_turn"}}}
	runner := New(client, newEchoRegistry(t), telemetry.NewNoopLogger())

	agent := domain.AgentDescriptor{Name: "writer", SystemPrompt: "be helpful"}
	events := make(chan event.Event, 16)
	accum := ""

	result, err := runner.Run(context.Background(), agent, "write a haiku", "", events, &accum)
	require.NoError(t, err)
	assert.Equal(t, "final answer", result.Text)
	assert.Equal(t, "end_turn", result.StopReason)
	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, "final answer", accum)

	evs := drain(events)
	require.Len(t, evs, 3)
	assert.Equal(t, event.TypeAgentStarted, evs[0].Envelope().Type)
	assert.Equal(t, event.TypeAgentDelta, evs[1].Envelope().Type)
	assert.Equal(t, event.TypeAgentCompleted, evs[2].Envelope().Type)
}

func TestRunner_Run_ToolCallThenFinalAnswer(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolUsePart{{ID: "call_1", Name: "echo", Input: json.RawMessage(`{"q":"hi"}`)}}, StopReason: "tool_use"},
		{Text: "done", StopReason: "end_turn"},
	}}
	runner := New(client, newEchoRegistry(t), telemetry.NewNoopLogger())

	agent := domain.AgentDescriptor{Name: "researcher", Tools: []string{"echo"}}
	events := make(chan event.Event, 16)
	accum := ""

	result, err := runner.Run(context.Background(), agent, "look something up", "", events, &accum)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Text)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "echo", result.ToolCalls[0].Name)
	assert.Equal(t, 2, client.calls)

	evs := drain(events)
	var sawToolCall bool
	for _, e := range evs {
		if e.Envelope().Type == event.TypeToolCall {
			sawToolCall = true
		}
	}
	assert.True(t, sawToolCall)
}

func TestRunner_Run_InjectsConversationPrefix(t *testing.T) {
	var captured llm.Request
	client := &capturingClient{onComplete: func(req llm.Request) { captured = req }}
	runner := New(client, newEchoRegistry(t), telemetry.NewNoopLogger())

	agent := domain.AgentDescriptor{Name: "writer"}
	events := make(chan event.Event, 16)
	accum := ""

	_, err := runner.Run(context.Background(), agent, "continue please", "Previous conversation:\nUSER: hi\nASSISTANT: hello\n", events, &accum)
	require.NoError(t, err)
	drain(events)

	require.Len(t, captured.Messages, 1)
	text := captured.Messages[0].Parts[0].(llm.TextPart).Text
	assert.Contains(t, text, "Previous conversation:")
	assert.Contains(t, text, "User's current message: continue please")
}

type capturingClient struct {
	onComplete func(llm.Request)
}

func (c *capturingClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.onComplete(req)
	return llm.Response{Text: "ok", StopReason: "end_turn"}, nil
}

func (c *capturingClient) Stream(ctx context.Context, req llm.Request) (llm.Streamer, error) {
	return nil, llm.ErrStreamingUnsupported
}
