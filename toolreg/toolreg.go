// Package toolreg implements the Tool Registry (spec §4.5): one-shot
// registration of tool descriptors, alias resolution, capability-tag
// lookup, and the minimal describe() blob the Reasoner façade consumes for
// routing. Shaped after the teacher's tools.ToolSpec
// (runtime/agent/tools/tools.go) and policy.ToolMetadata
// (runtime/agent/policy/policy.go), narrowed to this spec's fields.
package toolreg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// LatencyHint classifies how long a tool invocation typically takes, used by
// the Reasoner for scheduling hints.
type LatencyHint string

const (
	LatencyLow    LatencyHint = "low"
	LatencyMedium LatencyHint = "medium"
	LatencyHigh   LatencyHint = "high"
)

// Invoker executes a tool call. Implementations may be sync or async; the
// registry wraps both uniformly behind this single signature.
type Invoker func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Descriptor describes one registered tool (spec §3 ToolDescriptor).
type Descriptor struct {
	Name         string
	Aliases      []string
	Capabilities []string
	Invoker      Invoker
	LatencyHint  LatencyHint
	ResultTTLMs  int64
	Schema       *jsonschema.Schema
}

// Description is the minimal JSON shape describe() returns to the Reasoner
// (spec §4.5): enough for routing without leaking implementation details.
type Description struct {
	Name         string      `json:"name"`
	Capabilities []string    `json:"capabilities"`
	LatencyHint  LatencyHint `json:"latencyHint"`
	ResultTTLMs  int64       `json:"resultTTLms,omitempty"`
}

// Registry is a process-wide, read-mostly table of tool descriptors.
// Registration happens once at startup; Invoke/Describe/ByCapability are
// read paths safe for concurrent use from multiple runs.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]*Descriptor
	aliasToName map[string]string
	byCap       map[string][]string // capability -> ordered tool names
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byName:      make(map[string]*Descriptor),
		aliasToName: make(map[string]string),
		byCap:       make(map[string][]string),
	}
}

// Register adds a tool descriptor. Duplicate names (or aliases colliding
// with an existing name/alias) are rejected, matching spec §4.5's one-shot
// startup registration contract.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("toolreg: tool name must not be empty")
	}
	if d.Invoker == nil {
		return fmt.Errorf("toolreg: tool %q has no invoker", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("toolreg: tool %q already registered", d.Name)
	}
	if _, exists := r.aliasToName[d.Name]; exists {
		return fmt.Errorf("toolreg: name %q collides with an existing alias", d.Name)
	}
	for _, alias := range d.Aliases {
		if _, exists := r.byName[alias]; exists {
			return fmt.Errorf("toolreg: alias %q collides with an existing tool name", alias)
		}
		if owner, exists := r.aliasToName[alias]; exists {
			return fmt.Errorf("toolreg: alias %q already registered to %q", alias, owner)
		}
	}

	cp := d
	r.byName[d.Name] = &cp
	for _, alias := range d.Aliases {
		r.aliasToName[alias] = d.Name
	}
	for _, cap := range d.Capabilities {
		r.byCap[cap] = append(r.byCap[cap], d.Name)
	}
	return nil
}

// Resolve maps a name or alias to its canonical Descriptor.
func (r *Registry) Resolve(nameOrAlias string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.byName[nameOrAlias]; ok {
		return d, true
	}
	if canonical, ok := r.aliasToName[nameOrAlias]; ok {
		return r.byName[canonical], true
	}
	return nil, false
}

// ByCapability returns the ordered list of canonical tool names providing
// capability, in registration order.
func (r *Registry) ByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byCap[capability]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// HasCapability reports whether any registered tool provides capability.
func (r *Registry) HasCapability(capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCap[capability]) > 0
}

// Describe returns the minimal JSON the Reasoner consumes for every
// registered tool (spec §4.5).
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, Description{
			Name:         d.Name,
			Capabilities: d.Capabilities,
			LatencyHint:  d.LatencyHint,
			ResultTTLMs:  d.ResultTTLMs,
		})
	}
	return out
}

// Names returns every registered canonical tool name, used to build the
// "tool universe" fingerprinted by the Routing Cache.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Invoke resolves name (or alias) and calls its Invoker, validating input
// against the tool's schema when one is configured. Unknown fields in input
// are rejected by jsonschema's additionalProperties:false when the schema
// declares it (spec §4.5).
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	d, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("toolreg: unknown tool %q", name)
	}
	if d.Schema != nil {
		var doc any
		if err := json.Unmarshal(input, &doc); err != nil {
			return nil, fmt.Errorf("toolreg: tool %q: invalid input JSON: %w", name, err)
		}
		if err := d.Schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("toolreg: tool %q: input failed schema validation: %w", name, err)
		}
	}
	return d.Invoker(ctx, input)
}
