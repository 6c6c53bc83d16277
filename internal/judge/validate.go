package judge

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Compiled schemas are cached per schema name. The engine's schemas are
// fixed at build time (rubric verdicts, the phase-goal check), so names
// never collide with different definitions.
var compiledSchemas sync.Map // map[string]*jsonschema.Schema

// Check validates a candidate verdict against the schema. A nil schema
// accepts anything. Failures come back as *ErrInvalidVerdict carrying
// the rejected output.
func (s *Schema) Check(raw json.RawMessage) error {
	if s == nil {
		return nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ErrInvalidVerdict{Content: raw, Err: fmt.Errorf("not JSON: %w", err)}
	}

	compiled, err := s.compiled()
	if err != nil {
		return &ErrInvalidVerdict{Content: raw, Err: fmt.Errorf("compile schema %q: %w", s.Name, err)}
	}

	if err := compiled.Validate(doc); err != nil {
		return &ErrInvalidVerdict{Content: raw, Err: err}
	}
	return nil
}

func (s *Schema) compiled() (*jsonschema.Schema, error) {
	if cached, ok := compiledSchemas.Load(s.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// The compiler wants a decoded JSON document, not a Go map with
	// typed values; round-trip the definition through encoding/json.
	raw, err := json.Marshal(s.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("schema://%s.json", s.Name)
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}

	compiledSchemas.Store(s.Name, compiled)
	return compiled, nil
}
