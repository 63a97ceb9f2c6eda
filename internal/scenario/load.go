package scenario

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rendis/relaysim/internal/runlog"
	"github.com/rendis/relaysim/internal/validation"
	"github.com/rendis/relaysim/pkg/schema"
)

// file mirrors the on-disk YAML layout.
type file struct {
	Name        string        `yaml:"name"`
	LogCapacity int           `yaml:"log_capacity"`
	Stages      []stageFile   `yaml:"stages"`
	Transport   transportFile `yaml:"transport"`
	Items       []schema.Item `yaml:"items"`
}

type stageFile struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Steps    []string `yaml:"steps"`
	Interval string   `yaml:"interval"`
	Trailing string   `yaml:"trailing"`
}

type transportFile struct {
	ItemInterval  string `yaml:"item_interval"`
	BufferedDelay string `yaml:"buffered_delay"`
	Trailing      string `yaml:"trailing"`
}

// Loader parses and validates scenario documents.
type Loader struct {
	validator validation.Validator
}

// NewLoader creates a Loader backed by the embedded scenario JSON Schema.
func NewLoader() (*Loader, error) {
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("scenario: build validator: %w", err)
	}
	return &Loader{validator: v}, nil
}

// LoadFile reads and parses a scenario YAML file.
func (l *Loader) LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read scenario %s: %s", path, err.Error()).WithCause(err)
	}
	return l.Parse(data)
}

// Parse validates a YAML (or JSON) scenario document and converts it.
// Missing item IDs are filled with random UUIDs; missing timings fall back
// to the defaults.
func (l *Loader) Parse(data []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse scenario: %s", err.Error()).WithCause(err)
	}
	if err := l.validator.ValidateScenario(doc); err != nil {
		return nil, err
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode scenario: %s", err.Error()).WithCause(err)
	}

	sc, err := f.toScenario()
	if err != nil {
		return nil, err
	}
	if err := Check(sc).ToError(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (f *file) toScenario() (*Scenario, error) {
	def := Default()
	sc := &Scenario{
		Name:        f.Name,
		LogCapacity: f.LogCapacity,
		Transport:   def.Transport,
	}
	if sc.LogCapacity == 0 {
		sc.LogCapacity = runlog.DefaultCapacity
	}

	var err error
	for i, st := range f.Stages {
		spec := StageSpec{ID: st.ID, Name: st.Name, Steps: st.Steps}
		if spec.Name == "" {
			spec.Name = st.ID
		}
		if spec.Interval, err = parseDuration(st.Interval, 300*time.Millisecond, fmt.Sprintf("stages[%d].interval", i)); err != nil {
			return nil, err
		}
		if spec.Trailing, err = parseDuration(st.Trailing, 200*time.Millisecond, fmt.Sprintf("stages[%d].trailing", i)); err != nil {
			return nil, err
		}
		sc.Stages = append(sc.Stages, spec)
	}

	if sc.Transport.ItemInterval, err = parseDuration(f.Transport.ItemInterval, def.Transport.ItemInterval, "transport.item_interval"); err != nil {
		return nil, err
	}
	if sc.Transport.BufferedDelay, err = parseDuration(f.Transport.BufferedDelay, def.Transport.BufferedDelay, "transport.buffered_delay"); err != nil {
		return nil, err
	}
	if sc.Transport.Trailing, err = parseDuration(f.Transport.Trailing, def.Transport.Trailing, "transport.trailing"); err != nil {
		return nil, err
	}

	for _, it := range f.Items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		sc.Items = append(sc.Items, it)
	}
	return sc, nil
}

func parseDuration(s string, fallback time.Duration, path string) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", path, err.Error()).WithCause(err)
	}
	return d, nil
}

// Check runs the structural checks JSON Schema cannot express.
func Check(sc *Scenario) *schema.ValidationResult {
	res := &schema.ValidationResult{}

	seen := make(map[string]struct{}, len(sc.Stages))
	for i, st := range sc.Stages {
		if _, dup := seen[st.ID]; dup {
			res.AddError(fmt.Sprintf("stages[%d].id", i), "duplicate stage id %q", st.ID)
		}
		seen[st.ID] = struct{}{}
	}
	if sc.TransportIndex() < 0 {
		res.AddError("stages", "scenario has no transport stage")
	}

	ids := make(map[string]struct{}, len(sc.Items))
	var finishes, usages int
	for i, it := range sc.Items {
		path := fmt.Sprintf("items[%d]", i)
		if err := it.Validate(); err != nil {
			res.AddError(path, "%s", err.Error())
		}
		if _, dup := ids[it.ID]; dup {
			res.AddError(path+".id", "duplicate item id %q", it.ID)
		}
		ids[it.ID] = struct{}{}
		switch it.Kind {
		case schema.ItemFinish:
			finishes++
		case schema.ItemUsage:
			usages++
		}
	}
	if finishes > 1 {
		res.AddWarning("items", "more than one finish item; the last one wins")
	}
	if usages > 1 {
		res.AddWarning("items", "more than one usage item; the last one wins")
	}
	return res
}
