package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIClient_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient("", OpenAIOptions{DefaultModel: "gpt-4o"})
	assert.Error(t, err)
}

func TestNewOpenAIClient_RequiresDefaultModel(t *testing.T) {
	_, err := NewOpenAIClient("sk-test", OpenAIOptions{})
	assert.Error(t, err)
}

func TestEncodeOpenAIMessage_TextMessage(t *testing.T) {
	msgs, err := encodeOpenAIMessage(Message{Role: RoleUser, Parts: []Part{TextPart{Text: "hello"}}})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestEncodeOpenAIMessage_ToolResultBecomesOwnMessage(t *testing.T) {
	msgs, err := encodeOpenAIMessage(Message{
		Role:  RoleUser,
		Parts: []Part{ToolResultPart{ToolUseID: "call_1", Content: "42"}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "call_1", msgs[0].ToolCallID)
	assert.Equal(t, "42", msgs[0].Content)
}

func TestEncodeOpenAIMessage_AssistantToolCall(t *testing.T) {
	msgs, err := encodeOpenAIMessage(Message{
		Role:  RoleAssistant,
		Parts: []Part{ToolUsePart{ID: "call_1", Name: "search", Input: []byte(`{"q":"go"}`)}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "search", msgs[0].ToolCalls[0].Function.Name)
}

func TestEncodeOpenAIMessage_UnsupportedRole(t *testing.T) {
	_, err := encodeOpenAIMessage(Message{Role: Role("tool-direct"), Parts: []Part{TextPart{Text: "x"}}})
	assert.Error(t, err)
}

func TestEncodeOpenAITools_FallsBackToEmptySchema(t *testing.T) {
	tools := encodeOpenAITools([]ToolDefinition{{Name: "noop", Description: "does nothing"}})
	require.Len(t, tools, 1)
	assert.Equal(t, "noop", tools[0].Function.Name)
	assert.Equal(t, "object", tools[0].Function.Parameters.(map[string]any)["type"])
}

func TestEffectiveInt(t *testing.T) {
	assert.Equal(t, 10, effectiveInt(10, 5))
	assert.Equal(t, 5, effectiveInt(0, 5))
}

func TestEffectiveFloat32(t *testing.T) {
	assert.Equal(t, float32(0.7), effectiveFloat32(0.7, 0.2))
	assert.Equal(t, float32(0.2), effectiveFloat32(0, 0.2))
}
