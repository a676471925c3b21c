// Package agentrunner executes a single agent's turn within the Execution
// phase (spec §4.1 phase 3): it drives the agent's system prompt and
// conversation history through an llm.Client, dispatches any requested tool
// calls through the Tool Registry, streams AGENT_DELTA/TOOL_CALL events, and
// returns the accumulated Result. Shaped after the teacher's
// runtime/agent/run package (turn lifecycle, Prompted->Planning->
// ExecutingTools->Synthesizing phases) generalized from a single top-level
// agent to one of several agents cooperating under a Supervisor run.
package agentrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/event"
	"github.com/relaymesh/supervisor/llm"
	"github.com/relaymesh/supervisor/telemetry"
	"github.com/relaymesh/supervisor/toolreg"
)

// MaxToolRounds bounds how many LLM calls a single agent turn may make,
// guarding against a model that never stops requesting tools. When the bound
// is reached the turn ends with whatever text the model produced so far; no
// extra final-answer call is made.
const MaxToolRounds = 8

// Result is what one agent contributes to a Supervisor run.
type Result struct {
	AgentID    string
	Subtask    string
	Text       string
	ToolCalls  []ToolInvocation
	Usage      llm.TokenUsage
	Duration   time.Duration
	StopReason string

	// Err is set by a tolerant Strategy (Parallel with TolerateFailures) when
	// this agent's turn failed but the round as a whole continued; Strategy
	// implementations that abort the round on any failure (the default)
	// never populate it, since the round returns an error instead.
	Err error
}

// ToolInvocation records one tool call made during the turn, for
// attribution in FinalResult and the TOOL_CALL event stream.
type ToolInvocation struct {
	Name          string
	Input         json.RawMessage
	OutputSummary string
	Duration      time.Duration
	Err           error
}

// Runner executes one agent turn at a time. A single Runner is shared across
// agents within a run; it carries no per-turn state.
type Runner struct {
	client   llm.Client
	registry *toolreg.Registry
	logger   telemetry.Logger
}

// New constructs a Runner.
func New(client llm.Client, registry *toolreg.Registry, logger telemetry.Logger) *Runner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Runner{client: client, registry: registry, logger: logger}
}

// Run drives one agent's turn to completion: it loops between the LLM and
// tool invocations (if any are requested) until the model stops requesting
// tools or MaxToolRounds is hit, emitting events onto events as it goes.
// conversationPrefix carries injected prior-turn history (spec §4.8), only
// non-empty on an agent's first message in a fresh run.
func (r *Runner) Run(ctx context.Context, agent domain.AgentDescriptor, subtask string, conversationPrefix string, events chan<- event.Event, globalAccum *string) (Result, error) {
	start := time.Now()
	events <- event.AgentStarted{
		Envelope_: event.New(event.TypeAgentStarted, event.CategoryAgentTurn, "agent_started", time.Now()),
		AgentID:   agent.Name,
		Subtask:   subtask,
	}

	messages := []llm.Message{{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart{Text: r.composeUserText(conversationPrefix, subtask)}}}}
	toolDefs := r.toolDefinitions(agent)

	result := Result{AgentID: agent.Name, Subtask: subtask}
	var agentAccum string

	for round := 0; round < MaxToolRounds; round++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		resp, err := r.client.Complete(ctx, llm.Request{
			System:   agent.SystemPrompt,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return result, fmt.Errorf("agentrunner: agent %q: %w", agent.Name, err)
		}

		if resp.Text != "" {
			result.Text += resp.Text
			agentAccum += resp.Text
			if globalAccum != nil {
				*globalAccum += resp.Text
			}
			events <- event.AgentDelta{
				Envelope_:        event.New(event.TypeAgentDelta, event.CategoryAgentTurn, "agent_delta", time.Now()),
				AgentID:          agent.Name,
				Delta:            resp.Text,
				Accumulated:      derefOrEmpty(globalAccum),
				AgentAccumulated: agentAccum,
			}
		}
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		result.StopReason = resp.StopReason

		if len(resp.ToolCalls) == 0 {
			break
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Parts: toParts(resp.ToolCalls)})
		toolResults := make([]llm.Part, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			invocation := r.invokeTool(ctx, agent.Name, call, events)
			result.ToolCalls = append(result.ToolCalls, invocation)
			content := invocation.OutputSummary
			isError := invocation.Err != nil
			if isError {
				content = invocation.Err.Error()
			}
			toolResults = append(toolResults, llm.ToolResultPart{ToolUseID: call.ID, Content: content, IsError: isError})
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Parts: toolResults})
	}

	result.Duration = time.Since(start)
	events <- event.AgentCompleted{
		Envelope_: event.New(event.TypeAgentCompleted, event.CategoryAgentTurn, "agent_completed", time.Now()),
		AgentID:   agent.Name,
		Subtask:   subtask,
		Duration:  result.Duration,
	}
	return result, nil
}

func (r *Runner) invokeTool(ctx context.Context, agentID string, call llm.ToolUsePart, events chan<- event.Event) ToolInvocation {
	start := time.Now()
	out, err := r.registry.Invoke(ctx, call.Name, call.Input)
	duration := time.Since(start)

	inv := ToolInvocation{Name: call.Name, Input: call.Input, Duration: duration, Err: err}
	summary := summarizeOutput(out)
	if err != nil {
		summary = err.Error()
	}
	inv.OutputSummary = summary

	events <- event.ToolCall{
		Envelope_:     event.New(event.TypeToolCall, event.CategoryToolUse, "tool_call", time.Now()),
		AgentID:       agentID,
		ToolName:      call.Name,
		Input:         json.RawMessage(call.Input),
		OutputSummary: summary,
		DurationMs:    duration.Milliseconds(),
	}
	return inv
}

func (r *Runner) toolDefinitions(agent domain.AgentDescriptor) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(agent.Tools))
	for _, name := range agent.Tools {
		d, ok := r.registry.Resolve(name)
		if !ok {
			continue
		}
		defs = append(defs, llm.ToolDefinition{Name: d.Name, Description: describeFor(d)})
	}
	return defs
}

func describeFor(d *toolreg.Descriptor) string {
	if len(d.Capabilities) == 0 {
		return d.Name
	}
	return fmt.Sprintf("%s (capabilities: %v)", d.Name, d.Capabilities)
}

// composeUserText owns the "User's current message:" framing (spec §4.8);
// conversationPrefix is only the "Previous conversation:" history block
// (convmemory.BuildHistoryPrefix), never the subtask itself, so the current
// message is never duplicated under two headers.
func (r *Runner) composeUserText(conversationPrefix, subtask string) string {
	if conversationPrefix == "" {
		return subtask
	}
	return conversationPrefix + "\n\nUser's current message: " + subtask
}

func toParts(calls []llm.ToolUsePart) []llm.Part {
	out := make([]llm.Part, 0, len(calls))
	for _, c := range calls {
		out = append(out, c)
	}
	return out
}

func summarizeOutput(out json.RawMessage) string {
	const maxLen = 2000
	s := string(out)
	if len(s) > maxLen {
		return s[:maxLen] + "...(truncated)"
	}
	return s
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
