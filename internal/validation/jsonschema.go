package validation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/relaysim/pkg/schema"
)

//go:embed scenario.schema.json
var scenarioSchema []byte

const scenarioSchemaURL = "https://relaysim.dev/schemas/scenario.json"

// JSONSchemaValidator checks scenario documents against the embedded
// scenario schema and request bodies against caller-supplied schemas.
// Caller schemas are compiled once per distinct document.
type JSONSchemaValidator struct {
	scenario *jsonschema.Schema

	inputs  sync.Map // schema text -> *jsonschema.Schema
	compile sync.Mutex
	seq     atomic.Int64
}

// NewJSONSchemaValidator compiles the scenario schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	sc, err := compileSchema(scenarioSchemaURL, scenarioSchema)
	if err != nil {
		return nil, fmt.Errorf("scenario schema: %w", err)
	}
	return &JSONSchemaValidator{scenario: sc}, nil
}

func (v *JSONSchemaValidator) ValidateScenario(doc any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "scenario document is empty")
	}
	return check(v.scenario, doc, "scenario document")
}

// ValidateInput checks input against inputSchema. An empty schema accepts
// any non-nil input.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil
	}
	sc, err := v.inputSchema(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	return check(sc, input, "input")
}

func (v *JSONSchemaValidator) inputSchema(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)
	if sc, ok := v.inputs.Load(key); ok {
		return sc.(*jsonschema.Schema), nil
	}

	v.compile.Lock()
	defer v.compile.Unlock()
	if sc, ok := v.inputs.Load(key); ok {
		return sc.(*jsonschema.Schema), nil
	}
	sc, err := compileSchema(fmt.Sprintf("relaysim://input/%d", v.seq.Add(1)), raw)
	if err != nil {
		return nil, err
	}
	v.inputs.Store(key, sc)
	return sc, nil
}

// cachedInputs counts the compiled caller schemas.
func (v *JSONSchemaValidator) cachedInputs() int {
	n := 0
	v.inputs.Range(func(any, any) bool { n++; return true })
	return n
}

// compileSchema compiles raw under url with its own compiler, so caller
// schemas never see each other's resources.
func compileSchema(url string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add %s: %w", url, err)
	}
	return c.Compile(url)
}

// check validates value after a JSON round trip, which turns numbers into
// json.Number as the validator expects.
func check(sc *jsonschema.Schema, value any, what string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "cannot encode %s", what).WithCause(err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "cannot decode %s", what).WithCause(err)
	}
	if err := sc.Validate(inst); err != nil {
		return violationError(what, err)
	}
	return nil
}

// violationError flattens a validation error tree into one VALIDATION_ERROR
// whose details list every leaf as "/location: message".
func violationError(what string, err error) *schema.RelayError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, "/"+strings.Join(e.InstanceLocation, "/")+": "+e.Error())
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)

	msg := fmt.Sprintf("%s is invalid: %s", what, strings.Join(leaves, "; "))
	if len(leaves) == 0 {
		msg = fmt.Sprintf("%s is invalid: %s", what, verr.Error())
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithCause(err).
		WithDetails(map[string]any{"violations": leaves})
}

var _ Validator = (*JSONSchemaValidator)(nil)
