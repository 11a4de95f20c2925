// Package schema compiles and evaluates the JSON Schemas attached to
// functions, variants, and tools.
//
// Schemas are compiled exactly once, at config-load time (component A in
// SPEC_FULL.md); a compilation failure is fatal to startup. At request time,
// Compiled.Validate is a pure, side-effect-free check — the gateway never
// recompiles a schema on the request path.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ferro-labs/inference-gateway/internal/gatewayerrors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Compiled wraps a compiled JSON Schema plus the raw document it came from,
// so a Tool's Parameters can be re-serialized into a vendor tool spec
// without re-marshaling a Go struct back into JSON Schema shape.
type Compiled struct {
	id     string
	raw    json.RawMessage
	schema *jsonschema.Schema
}

// Compile parses and compiles raw as a JSON Schema document. id is used only
// as the in-memory resource URL for error messages and is otherwise
// meaningless outside this process (schemas are never fetched remotely).
func Compile(id string, raw json.RawMessage) (*Compiled, error) {
	url := "mem://" + id
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: add resource: %w", id, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", id, err)
	}
	return &Compiled{id: id, raw: raw, schema: s}, nil
}

// Raw returns the original JSON Schema document, used when translating a
// tool's parameters into a vendor-specific tool spec.
func (c *Compiled) Raw() json.RawMessage { return c.raw }

// Validate checks v (already decoded into an any via encoding/json) against
// the compiled schema. On failure it returns a *gatewayerrors.ClassifiedError
// of the kind the caller supplies, since the same Validate call backs
// INPUT_VALIDATION (role/template coherence), OUTPUT_VALIDATION (structured
// function output) and BAD_TOOL_ARGS (tool-call arguments).
func (c *Compiled) Validate(v any, kind gatewayerrors.Kind) error {
	if err := c.schema.Validate(v); err != nil {
		return gatewayerrors.New(kind, fmt.Errorf("%s: %w", c.id, err))
	}
	return nil
}

// ValidateJSON decodes raw as JSON and validates the result, the shape tool
// call arguments and provider JSON-mode output arrive in.
func (c *Compiled) ValidateJSON(raw []byte, kind gatewayerrors.Kind) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, gatewayerrors.New(kind, fmt.Errorf("%s: invalid json: %w", c.id, err))
	}
	if err := c.Validate(v, kind); err != nil {
		return nil, err
	}
	return v, nil
}
