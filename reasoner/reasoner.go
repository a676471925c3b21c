// Package reasoner implements the Reasoner Façade (spec §4.3): a typed
// boundary around the four external reasoning operations
// (analyze_task/route_task/evaluate_progress/assess_quality). It validates
// loosely-structured upstream outputs against closed record types, enforces
// hard assertions with one retry then a deterministic fallback, and logs
// (never enforces) soft suggestions. Shaped after the teacher's
// planner.Planner contract (runtime/agent/planner/planner.go), which plays
// the same "typed boundary around an external reasoning collaborator" role
// for tool-calling planners.
package reasoner

import (
	"context"
	"encoding/json"
	"time"

	jsonschemav6 "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/telemetry"
	"github.com/relaymesh/supervisor/toolreg"
)

// Reasoner is the external structured-reasoning collaborator (out of scope
// per spec §1; only its interface is specified here). Concrete
// implementations typically wrap an LLM call producing JSON matching one of
// the four result types.
type Reasoner interface {
	AnalyzeTask(ctx context.Context, task domain.Task, toolUniverse []toolreg.Description) (domain.TaskAnalysis, error)
	RouteTask(ctx context.Context, task domain.Task, analysis domain.TaskAnalysis, availableAgents []domain.AgentDescriptor, toolUniverse []toolreg.Description) (domain.RoutingDecision, error)
	EvaluateProgress(ctx context.Context, task domain.Task, outputs map[string]string) (domain.ProgressVerdict, error)
	AssessQuality(ctx context.Context, task domain.Task, finalOutput string) (domain.QualityVerdict, error)

	// Version identifies the compiled reasoner artifact in use, folded into
	// the Routing Cache fingerprint (spec §4.6) so upgrading it invalidates
	// stale cache entries without an explicit flush.
	Version() string
}

// Config bounds the Façade's behavior.
type Config struct {
	MaxParallelAgents   int
	RecentYearThreshold int
	DefaultAgent        string
	RoutingConfigVersion string
}

// Facade validates, retries, and falls back around a Reasoner.
type Facade struct {
	reasoner Reasoner
	registry *toolreg.Registry
	cfg      Config
	logger   telemetry.Logger
	now      func() int // current year, overridable by tests
	schemas  *schemaSet // nil if schema compilation failed; validation is skipped
}

// New constructs a Facade. now defaults to the real current year if nil.
func New(r Reasoner, registry *toolreg.Registry, cfg Config, logger telemetry.Logger, currentYear func() int) *Facade {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if currentYear == nil {
		currentYear = defaultCurrentYear
	}
	schemas, err := compileSchemas()
	if err != nil {
		logger.Warn(context.Background(), "reasoner schema compilation failed, output validation disabled", "error", err.Error())
		schemas = nil
	}
	return &Facade{reasoner: r, registry: registry, cfg: cfg, logger: logger, now: currentYear, schemas: schemas}
}

// validateAgainst re-marshals a decoded Reasoner result and validates it
// against the matching compiled schema. The façade's Reasoner interface
// already returns typed structs (decoding rejects structurally invalid
// JSON), so this is a second, independent check that catches values that
// decode cleanly but violate a closed enum or a required-field constraint
// invopop/jsonschema derives from the struct tags (e.g. an out-of-range
// Complexity or Mode string). Returns nil when no schema is available.
func validateAgainst(schema *jsonschemav6.Schema, v any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return &assertionError{reason: "marshal for validation: " + err.Error()}
	}
	return validateJSON(schema, raw)
}

// Version returns the underlying reasoner's version, or "fallback" when no
// reasoner is configured (REASONER_ARTIFACT unset, spec §6.4).
func (f *Facade) Version() string {
	if f.reasoner == nil {
		return "fallback"
	}
	return f.reasoner.Version()
}

// AnalyzeTask runs Reasoner.analyze_task, falling back to the heuristic
// analysis on failure (spec §4.3/§4.1 phase 1). The bool return reports
// whether the fallback path was used, so the Supervisor can emit
// status=fallback instead of status=completed.
func (f *Facade) AnalyzeTask(ctx context.Context, task domain.Task) (domain.TaskAnalysis, bool) {
	if f.reasoner == nil {
		return f.fallbackAnalysis(task), true
	}
	universe := f.registry.Describe()
	analysis, err := f.reasoner.AnalyzeTask(ctx, task, universe)
	if err == nil {
		err = validateAgainst(f.schemaFor(analysisSchema), analysis)
	}
	if err != nil {
		f.logger.Warn(ctx, "reasoner analyze_task failed, using fallback", "error", err.Error())
		return f.fallbackAnalysis(task), true
	}
	return analysis, false
}

// schemaKind selects which compiled schema validateAgainst checks against.
type schemaKind int

const (
	analysisSchema schemaKind = iota
	routingSchema
	progressSchema
	qualitySchema
)

func (f *Facade) schemaFor(kind schemaKind) *jsonschemav6.Schema {
	if f.schemas == nil {
		return nil
	}
	switch kind {
	case analysisSchema:
		return f.schemas.analysis
	case routingSchema:
		return f.schemas.routing
	case progressSchema:
		return f.schemas.progress
	case qualitySchema:
		return f.schemas.quality
	default:
		return nil
	}
}

// fallbackAnalysis implements the heuristic from spec §4.3: medium
// complexity, needsWebSearch set when the task contains time-sensitive
// markers or a recent year.
func (f *Facade) fallbackAnalysis(task domain.Task) domain.TaskAnalysis {
	threshold := f.cfg.RecentYearThreshold
	if threshold == 0 {
		threshold = f.now()
	}
	needsSearch := isTimeSensitive(task.Text, threshold)
	return domain.TaskAnalysis{
		Complexity:     domain.ComplexityMedium,
		NeedsWebSearch: needsSearch,
	}
}

func defaultCurrentYear() int {
	return time.Now().Year() // used only when Config.RecentYearThreshold is unset.
}
