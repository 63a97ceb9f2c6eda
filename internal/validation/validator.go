package validation

// Validator checks decoded documents against a compiled JSON Schema.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	// ValidateScenario validates a generic decoded scenario document
	// (maps, slices, scalars as produced by a YAML or JSON decoder).
	ValidateScenario(doc any) error
	// ValidateInput validates input data against a JSON Schema provided as raw bytes.
	ValidateInput(input map[string]any, inputSchema []byte) error
}
