package reasoner

import (
	"context"
	"fmt"

	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/toolreg"
)

// assertionError marks a RoutingDecision that failed a façade assertion and
// should trigger one retry, then fallback (spec §4.3).
type assertionError struct{ reason string }

func (e *assertionError) Error() string { return "reasoner assertion failed: " + e.reason }

// RouteTask runs Reasoner.route_task, applies the façade's hard assertions
// (retrying once on failure), normalizes the result, and falls back to the
// heuristic routing decision if the reasoner is unavailable or assertions
// still fail after the retry. The bool return reports whether fallback was
// used.
func (f *Facade) RouteTask(ctx context.Context, task domain.Task, analysis domain.TaskAnalysis, agents []domain.AgentDescriptor) (domain.RoutingDecision, bool) {
	if f.reasoner == nil {
		return f.fallbackRouting(task, analysis, agents), true
	}

	universe := f.registry.Describe()
	decision, err := f.attemptRoute(ctx, task, analysis, agents, universe)
	if err != nil {
		f.logger.Warn(ctx, "reasoner route_task failed on first attempt, retrying", "error", err.Error())
		decision, err = f.attemptRoute(ctx, task, analysis, agents, universe)
	}
	if err != nil {
		f.logger.Warn(ctx, "reasoner route_task failed after retry, using fallback", "error", err.Error())
		return f.fallbackRouting(task, analysis, agents), true
	}

	// Soft suggestions are logged only; the decision is left unchanged.
	if analysis.NeedsWebSearch && findAgentNamed(agents, "researcher") != "" && !contains(decision.Assigned, "researcher") {
		f.logger.Info(ctx, "routing suggestion: include researcher for a time-sensitive task", "assigned", decision.Assigned)
	}
	if decision.Mode == domain.ModeSequential && len(decision.Subtasks) > 1 {
		f.logger.Info(ctx, "routing suggestion: prefer parallel when subtasks are independent", "subtasks", len(decision.Subtasks))
	}

	decision = f.normalizeRouting(decision, task, analysis, agents)
	return decision, false
}

func (f *Facade) attemptRoute(ctx context.Context, task domain.Task, analysis domain.TaskAnalysis, agents []domain.AgentDescriptor, universe []toolreg.Description) (domain.RoutingDecision, error) {
	decision, err := f.reasoner.RouteTask(ctx, task, analysis, agents, universe)
	if err != nil {
		return domain.RoutingDecision{}, err
	}
	if err := validateAgainst(f.schemaFor(routingSchema), decision); err != nil {
		return domain.RoutingDecision{}, err
	}
	if err := f.assertRouting(decision, agents); err != nil {
		return domain.RoutingDecision{}, err
	}
	return decision, nil
}

// assertRouting enforces the hard constraints from spec §4.3:
//   - assigned ⊆ configured agent names
//   - 1 ≤ |assigned| ≤ maxParallelAgents
//   - each assigned agent's required tools ⊆ its declared tools or the registry
//   - mode is one of the allowed values
func (f *Facade) assertRouting(d domain.RoutingDecision, agents []domain.AgentDescriptor) error {
	switch d.Mode {
	case domain.ModeDelegated, domain.ModeSequential, domain.ModeParallel, domain.ModeHandoff, domain.ModeDiscussion:
	default:
		return &assertionError{reason: fmt.Sprintf("unknown mode %q", d.Mode)}
	}

	if len(d.Assigned) == 0 {
		return &assertionError{reason: "assigned must be non-empty"}
	}
	maxParallel := f.cfg.MaxParallelAgents
	if maxParallel <= 0 {
		maxParallel = 4
	}
	if len(d.Assigned) > maxParallel {
		return &assertionError{reason: "assigned exceeds maxParallelAgents"}
	}

	known := make(map[string]domain.AgentDescriptor, len(agents))
	for _, a := range agents {
		known[a.Name] = a
	}
	for _, name := range d.Assigned {
		agent, ok := known[name]
		if !ok {
			return &assertionError{reason: fmt.Sprintf("assigned agent %q is not configured", name)}
		}
		declared := make(map[string]bool, len(agent.Tools))
		for _, t := range agent.Tools {
			declared[t] = true
		}
		for _, required := range d.ToolRequirements[name] {
			if declared[required] {
				continue
			}
			if _, ok := f.registry.Resolve(required); !ok {
				return &assertionError{reason: fmt.Sprintf("agent %q requires unregistered tool %q", name, required)}
			}
		}
	}
	return nil
}

// normalizeRouting applies spec §4.1 Routing-phase normalization rules:
// delegated-with-multiple-agents gets rewritten to parallel, and a
// time-sensitive task ensures a web-search-capable agent is assigned.
func (f *Facade) normalizeRouting(d domain.RoutingDecision, task domain.Task, analysis domain.TaskAnalysis, agents []domain.AgentDescriptor) domain.RoutingDecision {
	if d.Mode == domain.ModeDelegated && len(d.Assigned) > 1 {
		d.Mode = domain.ModeParallel
	}

	if analysis.NeedsWebSearch {
		searchAgent := findWebSearchAgent(agents)
		if searchAgent != "" && !contains(d.Assigned, searchAgent) {
			d.Assigned = append(d.Assigned, searchAgent)
			d.Subtasks = append(d.Subtasks, "search for up to date information: "+task.Text)
			if d.ToolRequirements == nil {
				d.ToolRequirements = map[string][]string{}
			}
			d.ToolRequirements[searchAgent] = append(d.ToolRequirements[searchAgent], "tavily_search")
			if d.Mode == domain.ModeDelegated {
				d.Mode = domain.ModeSequential
			}
		}
	}
	return d
}

// fallbackRouting implements spec §4.3's routing fallback heuristic.
func (f *Facade) fallbackRouting(task domain.Task, analysis domain.TaskAnalysis, agents []domain.AgentDescriptor) domain.RoutingDecision {
	defaultAgent := f.cfg.DefaultAgent
	if defaultAgent == "" {
		defaultAgent = "writer"
	}

	if analysis.NeedsWebSearch {
		if researcher := findAgentNamed(agents, "researcher"); researcher != "" {
			return domain.RoutingDecision{
				Mode:     domain.ModeSequential,
				Assigned: []string{researcher, defaultAgent},
				Subtasks: []string{"search for up to date information: " + task.Text, task.Text},
			}
		}
	}
	return domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{defaultAgent}}
}

func findAgentNamed(agents []domain.AgentDescriptor, name string) string {
	for _, a := range agents {
		if a.Name == name {
			return a.Name
		}
	}
	return ""
}

func findWebSearchAgent(agents []domain.AgentDescriptor) string {
	for _, a := range agents {
		for _, c := range a.Capabilities() {
			if c == "web_search" {
				return a.Name
			}
		}
	}
	return ""
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
