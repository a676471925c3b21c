package reasoner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/telemetry"
	"github.com/relaymesh/supervisor/toolreg"
)

// stubReasoner lets each test script the Reasoner's responses.
type stubReasoner struct {
	analysis     domain.TaskAnalysis
	analysisErr  error
	routing      domain.RoutingDecision
	routingErrs  []error // consumed in order, one per RouteTask call
	routingCalls int
	progress     domain.ProgressVerdict
	progressErr  error
	quality      domain.QualityVerdict
	qualityErr   error
}

func (s *stubReasoner) AnalyzeTask(ctx context.Context, task domain.Task, tools []toolreg.Description) (domain.TaskAnalysis, error) {
	return s.analysis, s.analysisErr
}

func (s *stubReasoner) RouteTask(ctx context.Context, task domain.Task, analysis domain.TaskAnalysis, agents []domain.AgentDescriptor, tools []toolreg.Description) (domain.RoutingDecision, error) {
	idx := s.routingCalls
	s.routingCalls++
	if idx < len(s.routingErrs) && s.routingErrs[idx] != nil {
		return domain.RoutingDecision{}, s.routingErrs[idx]
	}
	return s.routing, nil
}

func (s *stubReasoner) EvaluateProgress(ctx context.Context, task domain.Task, outputs map[string]string) (domain.ProgressVerdict, error) {
	return s.progress, s.progressErr
}

func (s *stubReasoner) AssessQuality(ctx context.Context, task domain.Task, finalOutput string) (domain.QualityVerdict, error) {
	return s.quality, s.qualityErr
}

func (s *stubReasoner) Version() string { return "stub-v1" }

func newTestRegistry() *toolreg.Registry {
	return toolreg.New()
}

func TestFacade_NoReasoner_AlwaysFallsBack(t *testing.T) {
	f := New(nil, newTestRegistry(), Config{DefaultAgent: "writer"}, telemetry.NewNoopLogger(), func() int { return 2026 })

	assert.Equal(t, "fallback", f.Version())

	analysis, usedFallback := f.AnalyzeTask(context.Background(), domain.Task{Text: "summarize this doc"})
	assert.True(t, usedFallback)
	assert.Equal(t, domain.ComplexityMedium, analysis.Complexity)

	routing, usedFallback := f.RouteTask(context.Background(), domain.Task{Text: "x"}, analysis, nil)
	assert.True(t, usedFallback)
	assert.Equal(t, domain.ModeDelegated, routing.Mode)
	assert.Equal(t, []string{"writer"}, routing.Assigned)

	progress, usedFallback := f.EvaluateProgress(context.Background(), domain.Task{}, nil)
	assert.True(t, usedFallback)
	assert.Equal(t, domain.ProgressComplete, progress.Status)

	quality, usedFallback := f.AssessQuality(context.Background(), domain.Task{}, "done")
	assert.True(t, usedFallback)
	assert.Equal(t, float64(6), quality.Score)
}

func TestFacade_AnalyzeTask_FallbackDetectsTimeSensitivity(t *testing.T) {
	f := New(nil, newTestRegistry(), Config{}, telemetry.NewNoopLogger(), func() int { return 2026 })
	analysis, _ := f.AnalyzeTask(context.Background(), domain.Task{Text: "what's the latest release"})
	assert.True(t, analysis.NeedsWebSearch)
}

func TestFacade_RouteTask_SucceedsOnFirstAttempt(t *testing.T) {
	reg := newTestRegistry()
	stub := &stubReasoner{
		routing: domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{"writer"}},
	}
	f := New(stub, reg, Config{MaxParallelAgents: 4}, telemetry.NewNoopLogger(), nil)

	agents := []domain.AgentDescriptor{{Name: "writer"}}
	decision, usedFallback := f.RouteTask(context.Background(), domain.Task{Text: "hi"}, domain.TaskAnalysis{}, agents)

	require.False(t, usedFallback)
	assert.Equal(t, []string{"writer"}, decision.Assigned)
	assert.Equal(t, 1, stub.routingCalls, "should not retry when the first attempt passes assertions")
}

func TestFacade_RouteTask_RetriesOnceThenFallsBack(t *testing.T) {
	reg := newTestRegistry()
	stub := &stubReasoner{
		// both attempts return an unassigned agent, failing assertRouting twice
		routing: domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{"not-configured"}},
	}
	f := New(stub, reg, Config{MaxParallelAgents: 4, DefaultAgent: "writer"}, telemetry.NewNoopLogger(), nil)

	agents := []domain.AgentDescriptor{{Name: "writer"}}
	decision, usedFallback := f.RouteTask(context.Background(), domain.Task{Text: "hi"}, domain.TaskAnalysis{}, agents)

	require.True(t, usedFallback)
	assert.Equal(t, []string{"writer"}, decision.Assigned)
	assert.Equal(t, 2, stub.routingCalls, "should retry exactly once before falling back")
}

func TestFacade_RouteTask_RecoversOnRetry(t *testing.T) {
	reg := newTestRegistry()
	stub := &stubReasoner{
		routingErrs: []error{errors.New("transient upstream error")},
		routing:     domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{"writer"}},
	}
	f := New(stub, reg, Config{MaxParallelAgents: 4}, telemetry.NewNoopLogger(), nil)

	agents := []domain.AgentDescriptor{{Name: "writer"}}
	decision, usedFallback := f.RouteTask(context.Background(), domain.Task{Text: "hi"}, domain.TaskAnalysis{}, agents)

	require.False(t, usedFallback)
	assert.Equal(t, []string{"writer"}, decision.Assigned)
	assert.Equal(t, 2, stub.routingCalls)
}

func TestFacade_RouteTask_NormalizesDelegatedWithMultipleAgentsToParallel(t *testing.T) {
	reg := newTestRegistry()
	stub := &stubReasoner{
		routing: domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{"writer", "researcher"}},
	}
	f := New(stub, reg, Config{MaxParallelAgents: 4}, telemetry.NewNoopLogger(), nil)

	agents := []domain.AgentDescriptor{{Name: "writer"}, {Name: "researcher"}}
	decision, usedFallback := f.RouteTask(context.Background(), domain.Task{Text: "hi"}, domain.TaskAnalysis{}, agents)

	require.False(t, usedFallback)
	assert.Equal(t, domain.ModeParallel, decision.Mode)
}

func TestFacade_EvaluateProgress_UnknownStatusFallsBack(t *testing.T) {
	reg := newTestRegistry()
	stub := &stubReasoner{progress: domain.ProgressVerdict{Status: domain.ProgressStatus("unknown")}}
	f := New(stub, reg, Config{}, telemetry.NewNoopLogger(), nil)

	verdict, usedFallback := f.EvaluateProgress(context.Background(), domain.Task{}, nil)
	assert.True(t, usedFallback)
	assert.Equal(t, domain.ProgressComplete, verdict.Status)
}

func TestFacade_AssessQuality_OutOfRangeScoreFallsBack(t *testing.T) {
	reg := newTestRegistry()
	stub := &stubReasoner{quality: domain.QualityVerdict{Score: 42}}
	f := New(stub, reg, Config{}, telemetry.NewNoopLogger(), nil)

	verdict, usedFallback := f.AssessQuality(context.Background(), domain.Task{}, "done")
	assert.True(t, usedFallback)
	assert.Equal(t, float64(6), verdict.Score)
}

func TestFacade_AssessQuality_AcceptsInRangeScore(t *testing.T) {
	reg := newTestRegistry()
	stub := &stubReasoner{quality: domain.QualityVerdict{Score: 8.5, Feedback: "solid"}}
	f := New(stub, reg, Config{}, telemetry.NewNoopLogger(), nil)

	verdict, usedFallback := f.AssessQuality(context.Background(), domain.Task{}, "done")
	assert.False(t, usedFallback)
	assert.Equal(t, 8.5, verdict.Score)
}
