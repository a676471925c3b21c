package toolreg

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsonschemav6 "github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema generates a JSON Schema from v's struct tags via
// invopop/jsonschema and compiles it with santhosh-tekuri/jsonschema/v6,
// producing the *jsonschema.Schema a Descriptor.Schema field expects (spec
// §4.5's schemaRef). Mirrors the reasoner package's own compileSchemas
// helper (reasoner/validate.go), generalized here to arbitrary tool payload
// types instead of the four fixed Reasoner verdict structs.
//
// name must be unique per process; it is used only as the schema resource
// id and never surfaces to callers.
func CompileSchema(v any, name string) (*jsonschemav6.Schema, error) {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("toolreg: marshal schema for %s: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("toolreg: decode schema for %s: %w", name, err)
	}
	compiler := jsonschemav6.NewCompiler()
	if err := compiler.AddResource(name+".json", doc); err != nil {
		return nil, fmt.Errorf("toolreg: add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("toolreg: compile schema %s: %w", name, err)
	}
	return schema, nil
}
