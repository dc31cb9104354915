package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a sequence of graph snapshots followed by assertions on
// what the graph answers afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after every step has been applied.
	Assertions []Assertion `yaml:"assertions"`
}

// Step writes entities as of one instant.
type Step struct {
	At       int64        `yaml:"at"`
	Entities []EntitySpec `yaml:"entities"`
}

// EntitySpec is one entity and, per relationship role, its complete set
// of children.
type EntitySpec struct {
	Type     string                  `yaml:"type"`
	Props    map[string]any          `yaml:"props"`
	Children map[string][]EntitySpec `yaml:"children,omitempty"`
}

// Filter is one query filter.
type Filter struct {
	On    string `yaml:"on,omitempty"` // defaults to the target
	Prop  string `yaml:"prop"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value"`
}

// Assertion checks one answer of the graph.
type Assertion struct {
	Type  string `yaml:"type"`
	Label string `yaml:"label"`
	ID    string `yaml:"id,omitempty"`

	// At is the instant of query, count and state.
	At int64 `yaml:"at,omitempty"`

	// Left and Right bound a diff.
	Left  int64 `yaml:"left,omitempty"`
	Right int64 `yaml:"right,omitempty"`

	Filters []Filter `yaml:"filters,omitempty"`

	// Expect lists identities (query) or "Label:identity" (diff).
	Expect []string `yaml:"expect,omitempty"`

	// Times is the expected change instants, newest first.
	Times []int64 `yaml:"times,omitempty"`

	// Count is the expected number of rows.
	Count *int64 `yaml:"count,omitempty"`

	// Props is the expected property subset of a state assertion.
	Props map[string]any `yaml:"props,omitempty"`
}

// Assertion type constants.
const (
	AssertQuery = "query"
	AssertCount = "count"
	AssertTimes = "times"
	AssertDiff  = "diff"
	AssertState = "state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Reject unknown fields so "assertion:" is not silently ignored.
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if len(step.Entities) == 0 {
			return fmt.Errorf("steps[%d]: entities list is required", i)
		}
		for j, e := range step.Entities {
			if err := validateEntity(fmt.Sprintf("steps[%d].entities[%d]", i, j), e); err != nil {
				return err
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateEntity(path string, e EntitySpec) error {
	if e.Type == "" {
		return fmt.Errorf("%s: type is required", path)
	}
	for role, children := range e.Children {
		for i, c := range children {
			if err := validateEntity(fmt.Sprintf("%s.children.%s[%d]", path, role, i), c); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Label == "" {
		return fmt.Errorf("assertions[%d]: label is required", index)
	}

	switch a.Type {
	case AssertQuery:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for query (use [] for no rows)", index)
		}
	case AssertCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for count", index)
		}
	case AssertTimes:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for times", index)
		}
	case AssertDiff:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for diff", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for diff", index)
		}
	case AssertState:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for state", index)
		}
		if len(a.Props) == 0 {
			return fmt.Errorf("assertions[%d]: props is required for state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
