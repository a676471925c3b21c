package reasoner

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsonschemav6 "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/relaymesh/supervisor/domain"
)

// schemaSet holds the compiled validators for every Reasoner output type,
// built once at process start from the Go result structs via
// invopop/jsonschema (schema generation) and validated with
// santhosh-tekuri/jsonschema/v6 (compilation + runtime validation). This is
// the "typed boundary" Design Note 9.1 calls for: the façade never reflects
// over an arbitrary blob at the hot path, it validates against a schema
// compiled once.
type schemaSet struct {
	analysis *jsonschemav6.Schema
	routing  *jsonschemav6.Schema
	progress *jsonschemav6.Schema
	quality  *jsonschemav6.Schema
}

// compileSchemas generates and compiles the four schemas. Called once at
// Facade construction; a failure here is a programming error (the Go types
// themselves are malformed for schema generation) and is returned as an
// error, on which New logs a warning and disables output validation.
func compileSchemas() (*schemaSet, error) {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}

	compile := func(v any, name string) (*jsonschemav6.Schema, error) {
		raw, err := json.Marshal(reflector.Reflect(v))
		if err != nil {
			return nil, fmt.Errorf("reasoner: marshal schema for %s: %w", name, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("reasoner: decode schema for %s: %w", name, err)
		}
		compiler := jsonschemav6.NewCompiler()
		if err := compiler.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("reasoner: add schema resource %s: %w", name, err)
		}
		schema, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("reasoner: compile schema %s: %w", name, err)
		}
		return schema, nil
	}

	var (
		set schemaSet
		err error
	)
	if set.analysis, err = compile(domain.TaskAnalysis{}, "task_analysis"); err != nil {
		return nil, err
	}
	if set.routing, err = compile(domain.RoutingDecision{}, "routing_decision"); err != nil {
		return nil, err
	}
	if set.progress, err = compile(domain.ProgressVerdict{}, "progress_verdict"); err != nil {
		return nil, err
	}
	if set.quality, err = compile(domain.QualityVerdict{}, "quality_verdict"); err != nil {
		return nil, err
	}
	return &set, nil
}

// validateJSON validates raw JSON against schema, returning a typed error
// the façade treats as an assertion failure (one retry, then fallback).
func validateJSON(schema *jsonschemav6.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &assertionError{reason: "invalid JSON: " + err.Error()}
	}
	if err := schema.Validate(doc); err != nil {
		return &assertionError{reason: "schema validation failed: " + err.Error()}
	}
	return nil
}
