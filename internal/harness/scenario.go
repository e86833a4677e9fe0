package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// Scenario is one hook test.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	Options Options `yaml:"options,omitempty"`

	// Setup runs before the listener is registered.
	Setup []string `yaml:"setup,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Options configures the bridge and the recording listener.
type Options struct {
	// CommitVeto enables vetoing commits.
	CommitVeto bool `yaml:"commit_veto,omitempty"`

	// Veto, when set, is returned from OnCommit as the veto reason.
	Veto string `yaml:"veto,omitempty"`

	// Capabilities restricts delivered events. Empty means all.
	Capabilities []string `yaml:"capabilities,omitempty"`
}

// Step executes SQL.
type Step struct {
	SQL  string `yaml:"sql"`
	Args []any  `yaml:"args,omitempty"`

	// ExpectError is the sqlerr.Kind the step must fail with. Empty means
	// the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks the trace or the final database state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event is the event type for event_count and event_contains.
	Event string `yaml:"event,omitempty"`

	// Events is the expected relative order for event_order.
	Events []string `yaml:"events,omitempty"`

	// Match holds trace fields for event_contains (subset match).
	Match map[string]any `yaml:"match,omitempty"`

	// Table is the table for row_count.
	Table string `yaml:"table,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Expect is the expected in_transaction state.
	Expect *bool `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount    = "event_count"
	AssertEventOrder    = "event_order"
	AssertEventContains = "event_contains"
	AssertRowCount      = "row_count"
	AssertInTransaction = "in_transaction"
)

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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
	if _, err := hook.ParseCapabilities(s.Options.Capabilities); err != nil {
		return fmt.Errorf("options.capabilities: %w", err)
	}

	for i, step := range s.Steps {
		if step.SQL == "" {
			return fmt.Errorf("steps[%d]: sql is required", i)
		}
		if step.ExpectError != "" && !knownKind(step.ExpectError) {
			return fmt.Errorf("steps[%d]: unknown error kind %q", i, step.ExpectError)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func knownKind(k string) bool {
	switch sqlerr.Kind(k) {
	case sqlerr.KindMisuse, sqlerr.KindRange, sqlerr.KindConstraint, sqlerr.KindBusyOrLocked,
		sqlerr.KindIO, sqlerr.KindCorrupt, sqlerr.KindOutOfMemory, sqlerr.KindGeneric:
		return true
	}
	return false
}

func knownEvent(e string) bool {
	return e == EventRowChange || e == EventCommit || e == EventRollback
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventCount, AssertEventContains:
		if !knownEvent(a.Event) {
			return fmt.Errorf("assertions[%d]: unknown event %q for %s", index, a.Event, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
		for _, e := range a.Events {
			if !knownEvent(e) {
				return fmt.Errorf("assertions[%d]: unknown event %q", index, e)
			}
		}
	case AssertRowCount:
		if !validIdentifier.MatchString(a.Table) {
			return fmt.Errorf("assertions[%d]: invalid table name %q", index, a.Table)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertInTransaction:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for in_transaction", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
