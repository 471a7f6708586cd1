package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/projection"
)

// Scenario is a sequence of delta messages and assertions on the final
// state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is the journal session id. Defaults to "test-session".
	Session string `yaml:"session,omitempty"`

	// Flat builds trees with families collapsed.
	Flat bool `yaml:"flat,omitempty"`

	// Steps are the messages, applied in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one delta message in wire shape.
type Step struct {
	Added   map[string]any `yaml:"added,omitempty"`
	Updated map[string]any `yaml:"updated,omitempty"`
	Pruned  map[string]any `yaml:"pruned,omitempty"`
}

// Delta converts the step into a delta. Unknown collection names are
// errors; record fields are free-form.
func (s Step) Delta() (model.Delta, error) {
	msg := make(map[string]any, 3)
	if s.Added != nil {
		msg["added"] = s.Added
	}
	if s.Updated != nil {
		msg["updated"] = s.Updated
	}
	if s.Pruned != nil {
		msg["pruned"] = s.Pruned
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return model.Delta{}, fmt.Errorf("encode step: %w", err)
	}

	var d model.Delta
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return model.Delta{}, fmt.Errorf("decode step: %w", err)
	}
	return d, nil
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Node is the entity id the assertion is about (field, latest_job,
	// previous_job, children, visible).
	Node string `yaml:"node,omitempty"`

	// Field is a dotted field path (field).
	Field string `yaml:"field,omitempty"`

	// Expect is the expected field value (field) or job id (latest_job,
	// previous_job). Omitted means absent.
	Expect any `yaml:"expect,omitempty"`

	// IDs lists entity ids (present, absent, children).
	IDs []string `yaml:"ids,omitempty"`

	// Entity is an entity type name (count).
	Entity string `yaml:"entity,omitempty"`

	// Count is the expected number of entities (count).
	Count int `yaml:"count,omitempty"`

	// Filter is the task filter to evaluate (visible).
	Filter projection.TaskFilter `yaml:"filter,omitempty"`

	// Visible is the expected verdict (visible).
	Visible *bool `yaml:"visible,omitempty"`
}

// Assertion type constants.
const (
	AssertField       = "field"
	AssertPresent     = "present"
	AssertAbsent      = "absent"
	AssertCount       = "count"
	AssertLatestJob   = "latest_job"
	AssertPreviousJob = "previous_job"
	AssertChildren    = "children"
	AssertVisible     = "visible"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	var out []*Scenario
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range s.Steps {
		if _, err := step.Delta(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertField:
		if a.Node == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: node and field are required for field", index)
		}
	case AssertPresent, AssertAbsent:
		if len(a.IDs) == 0 {
			return fmt.Errorf("assertions[%d]: ids are required for %s", index, a.Type)
		}
	case AssertCount:
		if _, err := model.ParseEntityType(a.Entity); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertLatestJob, AssertPreviousJob:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for %s", index, a.Type)
		}
		if _, ok := a.Expect.(string); a.Expect != nil && !ok {
			return fmt.Errorf("assertions[%d]: expect must be a job id for %s", index, a.Type)
		}
	case AssertChildren:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for children", index)
		}
	case AssertVisible:
		if a.Node == "" || a.Visible == nil {
			return fmt.Errorf("assertions[%d]: node and visible are required for visible", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
