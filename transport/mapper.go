package transport

import (
	"fmt"

	"github.com/relaymesh/supervisor/event"
)

// mapperFunc converts one concrete event.Event into its wire Frame.
type mapperFunc func(event.Event) Frame

// dispatch is the event-type -> handler table Design Note 9.3 calls for,
// replacing what would otherwise be one long switch statement in ToFrame.
// The Supervisor only ever emits the Types registered here (event.Type is a
// closed set per spec §6.2); an unregistered Type is a programmer error,
// not a runtime condition a client needs to handle.
var dispatch = map[event.Type]mapperFunc{
	event.TypeWorkflowStatus:      mapWorkflowStatus,
	event.TypeOrchestratorMessage: mapOrchestratorMessage,
	event.TypeReasoningCompleted:  mapReasoningCompleted,
	event.TypeAgentStarted:        mapAgentStarted,
	event.TypeAgentCompleted:      mapAgentCompleted,
	event.TypeAgentDelta:          mapAgentDelta,
	event.TypeToolCall:            mapToolCall,
	event.TypeQuality:             mapQuality,
	event.TypeRequest:             mapRequest,
	event.TypeWorkflowOutput:      mapWorkflowOutput,
	event.TypeError:               mapError,
}

// ToFrame maps an internal event.Event to its wire Frame via an O(1) table
// lookup (Design Note 9.3). Panics on an event.Type outside the closed set
// event/event.go defines — that indicates a new event variant was added
// without a matching entry here, a programming error to catch in tests, not
// a condition to handle gracefully at runtime.
func ToFrame(e event.Event) Frame {
	fn, ok := dispatch[e.Envelope().Type]
	if !ok {
		panic(fmt.Sprintf("transport: no frame mapping registered for event type %q", e.Envelope().Type))
	}
	return fn(e)
}

func envelope(e event.Envelope) Frame {
	return Frame{Type: e.Type, Timestamp: e.Timestamp, Category: e.Category, UIHint: e.UIHint}
}

func mapWorkflowStatus(ev event.Event) Frame {
	e := ev.(event.WorkflowStatus)
	f := envelope(e.Envelope_)
	f.State = string(e.State)
	f.WorkflowID = e.WorkflowID
	f.Message = e.Message
	return f
}

func mapOrchestratorMessage(ev event.Event) Frame {
	e := ev.(event.OrchestratorMessage)
	f := envelope(e.Envelope_)
	f.Kind = string(e.Kind)
	f.Status = string(e.Status)
	f.Data = e.Data
	return f
}

func mapReasoningCompleted(ev event.Event) Frame {
	e := ev.(event.ReasoningCompleted)
	f := envelope(e.Envelope_)
	f.Reasoning = e.Reasoning
	f.AgentID = e.AgentID
	return f
}

func mapAgentStarted(ev event.Event) Frame {
	e := ev.(event.AgentStarted)
	f := envelope(e.Envelope_)
	f.AgentID = e.AgentID
	f.Subtask = e.Subtask
	return f
}

func mapAgentCompleted(ev event.Event) Frame {
	e := ev.(event.AgentCompleted)
	f := envelope(e.Envelope_)
	f.AgentID = e.AgentID
	f.Subtask = e.Subtask
	f.DurationMs = ms(e.Duration)
	return f
}

func mapAgentDelta(ev event.Event) Frame {
	e := ev.(event.AgentDelta)
	f := envelope(e.Envelope_)
	f.AgentID = e.AgentID
	f.Delta = e.Delta
	f.Accumulated = e.Accumulated
	f.AgentAccumulated = e.AgentAccumulated
	return f
}

func mapToolCall(ev event.Event) Frame {
	e := ev.(event.ToolCall)
	f := envelope(e.Envelope_)
	f.AgentID = e.AgentID
	f.ToolName = e.ToolName
	f.Input = e.Input
	f.OutputSummary = e.OutputSummary
	ms := e.DurationMs
	f.DurationMs = &ms
	return f
}

func mapQuality(ev event.Event) Frame {
	e := ev.(event.Quality)
	f := envelope(e.Envelope_)
	score := e.QualityPayload.Score
	f.Score = &score
	f.Missing = e.QualityPayload.Missing
	f.Feedback = e.QualityPayload.Feedback
	f.Dimensions = e.QualityPayload.Dimensions
	return f
}

func mapRequest(ev event.Event) Frame {
	e := ev.(event.Request)
	f := envelope(e.Envelope_)
	f.RequestID = e.RequestID
	f.Kind = e.Kind
	f.Payload = e.Payload
	return f
}

func mapWorkflowOutput(ev event.Event) Frame {
	e := ev.(event.WorkflowOutput)
	f := envelope(e.Envelope_)
	f.Result = e.Result
	f.RunID = e.RunID
	f.Durations = durationsMs(e.Durations)
	if e.Quality != nil {
		f.Quality = qualityPayload(*e.Quality)
	}
	return f
}

func mapError(ev event.Event) Frame {
	e := ev.(event.Error)
	f := envelope(e.Envelope_)
	f.Code = e.Code
	f.Message = e.Message
	f.Phase = e.Phase
	return f
}

// IsTerminal reports whether typ is one of the two terminal event types a
// client must treat as ending the stream (spec §6.2).
func IsTerminal(typ event.Type) bool {
	return typ == event.TypeWorkflowOutput || typ == event.TypeError
}
