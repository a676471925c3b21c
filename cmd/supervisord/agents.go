package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/supervisor/domain"
)

// agentFile is the on-disk shape an operator-supplied --agents YAML file
// deserializes into. Configuration-file parsing is explicitly out of scope
// for the runtime itself (spec §1); this is deliberately the smallest
// possible loader — a flat list of agent descriptors, no includes, no
// templating — kept at the CLI's edge rather than grown into a general
// config subsystem.
type agentFile struct {
	Agents []agentEntry `yaml:"agents"`
}

type agentEntry struct {
	Name            string   `yaml:"name"`
	Model           string   `yaml:"model"`
	Temperature     float64  `yaml:"temperature"`
	SystemPrompt    string   `yaml:"systemPrompt"`
	Tools           []string `yaml:"tools"`
	TimeoutMs       int64    `yaml:"timeoutMs"`
	MaxTokens       int      `yaml:"maxTokens"`
	ReasoningEffort string   `yaml:"reasoningEffort"`
}

// defaultRoster is the built-in agent set used when no --agents file is
// given, enough to exercise every execution strategy (a lone writer for
// Delegated/fast-path, a tool-bearing researcher for time-sensitive
// Sequential/Parallel routing).
func defaultRoster(defaultModel string) []domain.AgentDescriptor {
	return []domain.AgentDescriptor{
		{
			Name:         "writer",
			Model:        defaultModel,
			Temperature:  0.4,
			SystemPrompt: "You are a clear, concise writing assistant. Answer the user's task directly.",
			TimeoutMs:    60_000,
		},
		{
			Name:         "researcher",
			Model:        defaultModel,
			Temperature:  0.2,
			SystemPrompt: "You research facts using tavily_search before answering, and cite what you found.",
			Tools:        []string{"tavily_search"},
			TimeoutMs:    60_000,
		},
		{
			Name:         "coder",
			Model:        defaultModel,
			Temperature:  0.1,
			SystemPrompt: "You write and explain code. Prefer small, correct, idiomatic snippets.",
			TimeoutMs:    60_000,
		},
	}
}

// loadRoster reads path (if non-empty) and returns its agent descriptors,
// falling back to defaultRoster when path is empty.
func loadRoster(path, defaultModel string) ([]domain.AgentDescriptor, error) {
	if path == "" {
		return defaultRoster(defaultModel), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file %q: %w", path, err)
	}
	var f agentFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse agents file %q: %w", path, err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("agents file %q declares no agents", path)
	}
	out := make([]domain.AgentDescriptor, len(f.Agents))
	for i, a := range f.Agents {
		out[i] = domain.AgentDescriptor{
			Name:            a.Name,
			Model:           a.Model,
			Temperature:     a.Temperature,
			SystemPrompt:    a.SystemPrompt,
			Tools:           a.Tools,
			TimeoutMs:       a.TimeoutMs,
			MaxTokens:       a.MaxTokens,
			ReasoningEffort: a.ReasoningEffort,
		}
	}
	return out, nil
}
