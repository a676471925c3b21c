package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/supervisor/event"
)

func env(typ event.Type) event.Envelope {
	return event.New(typ, event.CategoryLifecycle, "", time.Unix(0, 0))
}

func TestToFrame_CoversEveryClosedEventType(t *testing.T) {
	events := []event.Event{
		event.WorkflowStatus{Envelope_: env(event.TypeWorkflowStatus), State: event.WorkflowInProgress, WorkflowID: "wf-1"},
		event.OrchestratorMessage{Envelope_: env(event.TypeOrchestratorMessage), Kind: event.KindAnalysis, Status: event.StatusStarted},
		event.ReasoningCompleted{Envelope_: env(event.TypeReasoningCompleted), Reasoning: "because"},
		event.AgentStarted{Envelope_: env(event.TypeAgentStarted), AgentID: "writer"},
		event.AgentCompleted{Envelope_: env(event.TypeAgentCompleted), AgentID: "writer", Duration: 2 * time.Second},
		event.AgentDelta{Envelope_: env(event.TypeAgentDelta), AgentID: "writer", Delta: "hi", Accumulated: "hi", AgentAccumulated: "hi"},
		event.ToolCall{Envelope_: env(event.TypeToolCall), AgentID: "writer", ToolName: "tavily_search", DurationMs: 120},
		event.Quality{Envelope_: env(event.TypeQuality), QualityPayload: event.QualityPayload{Score: 8}},
		event.Request{Envelope_: env(event.TypeRequest), RequestID: "r1", Kind: "approval"},
		event.WorkflowOutput{Envelope_: env(event.TypeWorkflowOutput), Result: "done", RunID: "run-1"},
		event.Error{Envelope_: env(event.TypeError), Code: "internal", Message: "boom"},
	}

	for _, ev := range events {
		require.NotPanics(t, func() { ToFrame(ev) }, "type %s", ev.Envelope().Type)
	}
}

func TestToFrame_AgentCompletedDurationInMilliseconds(t *testing.T) {
	f := ToFrame(event.AgentCompleted{Envelope_: env(event.TypeAgentCompleted), AgentID: "writer", Duration: 1500 * time.Millisecond})
	require.NotNil(t, f.DurationMs)
	assert.Equal(t, int64(1500), *f.DurationMs)
}

func TestToFrame_WorkflowOutputCarriesDurationsAndQuality(t *testing.T) {
	ev := event.WorkflowOutput{
		Envelope_: env(event.TypeWorkflowOutput),
		Result:    "final answer",
		RunID:     "run-42",
		Quality:   &event.QualityPayload{Score: 7.5, Feedback: "solid"},
		Durations: event.Durations{Total: 3 * time.Second},
	}
	f := ToFrame(ev)
	assert.Equal(t, "run-42", f.RunID)
	require.NotNil(t, f.Quality)
	assert.Equal(t, 7.5, f.Quality.Score)
	require.NotNil(t, f.Durations)
	assert.Equal(t, int64(3000), f.Durations.TotalMs)
}

func TestToFrame_UnknownTypePanics(t *testing.T) {
	assert.Panics(t, func() {
		ToFrame(event.WorkflowStatus{Envelope_: event.Envelope{Type: "BOGUS"}})
	})
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(event.TypeWorkflowOutput))
	assert.True(t, IsTerminal(event.TypeError))
	assert.False(t, IsTerminal(event.TypeAgentDelta))
}
