package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a session lifecycle scenario.
type Scenario struct {
	// Name uniquely identifies this scenario (and its golden file).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Store is the store name sessions open. Empty means session.DefaultStore.
	Store string `yaml:"store,omitempty"`

	// Steps run in order. Each step sets exactly one action field.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action.
type Step struct {
	// Open opens the labelled session and waits for the outcome.
	Open string `yaml:"open,omitempty"`

	// OpenAsync starts opening the labelled session without waiting.
	OpenAsync string `yaml:"open_async,omitempty"`

	// Version is the target version for open and open_async.
	Version int64 `yaml:"version,omitempty"`

	// Expect is "success" or "error" for open and wait. Defaults to success.
	Expect string `yaml:"expect,omitempty"`

	// Await waits until Session has logged this event.
	Await string `yaml:"await,omitempty"`

	// Session is the label Await refers to.
	Session string `yaml:"session,omitempty"`

	// Wait waits for the labelled open_async to resolve.
	Wait string `yaml:"wait,omitempty"`

	// Close closes the labelled session.
	Close string `yaml:"close,omitempty"`
}

// Open outcomes accepted by Step.Expect.
const (
	ExpectSuccess = "success"
	ExpectError   = "error"
)

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Session is the label the assertion is about.
	Session string `yaml:"session,omitempty"`

	// Event is used by trace_contains and trace_count.
	Event string `yaml:"event,omitempty"`

	// Events is the expected relative order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Container is the container name (container_exists).
	Container string `yaml:"container,omitempty"`

	// Version is the expected initial version (initial_version).
	Version int64 `yaml:"version,omitempty"`

	// State is "opened" or "closed" (state).
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceCount      = "trace_count"
	AssertTraceOrder      = "trace_order"
	AssertContainerExists = "container_exists"
	AssertInitialVersion  = "initial_version"
	AssertState           = "state"
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
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
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

	opened := make(map[string]bool)
	async := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, opened, async); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step, opened, async map[string]bool) error {
	actions := 0
	for _, v := range []string{step.Open, step.OpenAsync, step.Await, step.Wait, step.Close} {
		if v != "" {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of open, open_async, await, wait, close is required", index)
	}

	switch step.Expect {
	case "", ExpectSuccess, ExpectError:
	default:
		return fmt.Errorf("steps[%d]: expect must be %q or %q", index, ExpectSuccess, ExpectError)
	}

	switch {
	case step.Open != "" || step.OpenAsync != "":
		label := step.Open + step.OpenAsync
		if opened[label] {
			return fmt.Errorf("steps[%d]: session %q is opened twice", index, label)
		}
		opened[label] = true
		if step.OpenAsync != "" {
			async[label] = true
		}
	case step.Await != "":
		if !opened[step.Session] {
			return fmt.Errorf("steps[%d]: await needs the label of an opened session", index)
		}
	case step.Wait != "":
		if !async[step.Wait] {
			return fmt.Errorf("steps[%d]: wait refers to %q, which is not an open_async session", index, step.Wait)
		}
	case step.Close != "":
		if !opened[step.Close] {
			return fmt.Errorf("steps[%d]: close refers to unknown session %q", index, step.Close)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains, AssertTraceCount:
		if a.Session == "" || a.Event == "" {
			return fmt.Errorf("assertions[%d]: session and event are required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertTraceOrder:
		if a.Session == "" || len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: session and events are required for trace_order", index)
		}
	case AssertContainerExists:
		if a.Container == "" {
			return fmt.Errorf("assertions[%d]: container is required for container_exists", index)
		}
	case AssertInitialVersion:
		if a.Session == "" || a.Version < 1 {
			return fmt.Errorf("assertions[%d]: session and a positive version are required for initial_version", index)
		}
	case AssertState:
		if a.Session == "" || (a.State != "opened" && a.State != "closed") {
			return fmt.Errorf("assertions[%d]: session and state (opened|closed) are required for state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
