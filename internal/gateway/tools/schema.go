package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const inlineSchemaURL = "inline://tool-input"

// compileSchema compiles an inline JSON schema. Remote refs are refused.
func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	if !gjson.ValidBytes(schema) {
		return nil, fmt.Errorf("invalid JSON schema")
	}

	compiler := jsonschema.NewCompiler()
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		if url == inlineSchemaURL {
			return io.NopCloser(bytes.NewReader(schema)), nil
		}
		return nil, fmt.Errorf("unsupported schema ref: %s", url)
	}
	if err := compiler.AddResource(inlineSchemaURL, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(inlineSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return compiled, nil
}

// ParseArgs decodes the model supplied arguments and validates them against the
// tool's input schema when it has one. Empty input is an empty object.
func (t *Tool) ParseArgs(raw string) (map[string]any, error) {
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		raw = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	if t.schema != nil {
		if err := t.schema.Validate(v); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", t.QualifiedName(), err)
		}
	}
	return args, nil
}
