package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is a replication scenario.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Stores lists the replica names used by steps.
	Stores []string `yaml:"stores"`

	Steps []Step `yaml:"steps"`

	Expect Expectations `yaml:"expect"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op    string         `yaml:"op"`
	Store string         `yaml:"store,omitempty"`
	Doc   string         `yaml:"doc,omitempty"`
	Body  map[string]any `yaml:"body,omitempty"`

	// From and To name the source and target of a replicate step.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`
	// Docs restricts a replicate step to these documents.
	Docs      []string `yaml:"docs,omitempty"`
	BatchSize int      `yaml:"batch_size,omitempty"`

	// Error is the error code the step must fail with, e.g. CONFLICT.
	Error string `yaml:"error,omitempty"`
}

// Step operations.
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpResolve   = "resolve"
	OpReplicate = "replicate"
)

// Expectations are checked after the last step.
type Expectations struct {
	// Converged lists stores whose revision trees must be identical.
	Converged []string `yaml:"converged,omitempty"`

	Documents []DocumentExpectation `yaml:"documents,omitempty"`
}

// DocumentExpectation checks one document in one store. Unset fields are
// not checked.
type DocumentExpectation struct {
	Store      string         `yaml:"store"`
	Doc        string         `yaml:"doc"`
	Absent     bool           `yaml:"absent,omitempty"`
	Leaves     *int           `yaml:"leaves,omitempty"`
	Generation *int64         `yaml:"generation,omitempty"`
	Deleted    *bool          `yaml:"deleted,omitempty"`
	Conflicted *bool          `yaml:"conflicted,omitempty"`
	Body       map[string]any `yaml:"body,omitempty"`
}

// LoadScenario reads a scenario file, rejecting unknown fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "step:" vs "steps:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Stores) == 0 {
		return fmt.Errorf("stores list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(s.Stores))
	for _, name := range s.Stores {
		if name == "" {
			return fmt.Errorf("store names must be non-empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate store %q", name)
		}
		seen[name] = true
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	known := func(name string) bool { return slices.Contains(s.Stores, name) }

	for i, step := range s.Steps {
		switch step.Op {
		case OpCreate, OpUpdate, OpDelete, OpResolve:
			if !known(step.Store) {
				return fmt.Errorf("steps[%d]: unknown store %q", i, step.Store)
			}
			if step.Doc == "" && step.Op != OpCreate {
				return fmt.Errorf("steps[%d]: doc is required for %s", i, step.Op)
			}
		case OpReplicate:
			if !known(step.From) || !known(step.To) {
				return fmt.Errorf("steps[%d]: replicate needs known from and to stores", i)
			}
			if step.From == step.To {
				return fmt.Errorf("steps[%d]: cannot replicate %q into itself", i, step.From)
			}
			if step.BatchSize < 0 {
				return fmt.Errorf("steps[%d]: batch_size must be non-negative", i)
			}
		case "":
			return fmt.Errorf("steps[%d]: op is required", i)
		default:
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}

	for _, name := range s.Expect.Converged {
		if !known(name) {
			return fmt.Errorf("expect.converged: unknown store %q", name)
		}
	}
	for i, d := range s.Expect.Documents {
		if !known(d.Store) {
			return fmt.Errorf("expect.documents[%d]: unknown store %q", i, d.Store)
		}
		if d.Doc == "" {
			return fmt.Errorf("expect.documents[%d]: doc is required", i)
		}
	}
	return nil
}
