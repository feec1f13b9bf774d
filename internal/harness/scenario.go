package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines one cart sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Strategy is the migration strategy used by login steps. Empty means
	// merge_quantities.
	Strategy string `yaml:"strategy,omitempty"`

	// Account is the server cart before the first step.
	Account []ItemSpec `yaml:"account,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// ItemSpec is a cart line in a scenario file.
type ItemSpec struct {
	Product  string `yaml:"product"`
	Size     string `yaml:"size"`
	Quantity int    `yaml:"quantity"`
	Price    int64  `yaml:"price"`
	// Age places AddedAt this long before Epoch.
	Age time.Duration `yaml:"age,omitempty"`
}

// Step is one scenario action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	Product  string `yaml:"product,omitempty"`
	Size     string `yaml:"size,omitempty"`
	Quantity int    `yaml:"quantity,omitempty"`
	Price    int64  `yaml:"price,omitempty"`

	// Error names the fault injected by fail_next (see Faults).
	Error string `yaml:"error,omitempty"`

	// Times repeats a fail_next fault.
	Times int `yaml:"times,omitempty"`

	// By is the advance duration.
	By time.Duration `yaml:"by,omitempty"`

	// Token is the bearer token used by login.
	Token string `yaml:"token,omitempty"`

	// ExpectError, when set, requires the step to fail with an error whose
	// text contains it. Without it any step error fails the scenario.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	ActionAdd         = "add"
	ActionUpdate      = "update"
	ActionRemove      = "remove"
	ActionClear       = "clear"
	ActionOffline     = "offline"
	ActionOnline      = "online"
	ActionProcess     = "process"
	ActionAdvance     = "advance"
	ActionFailNext    = "fail_next"
	ActionStock       = "stock"
	ActionPrice       = "price"
	ActionUnavailable = "unavailable"
	ActionPull        = "pull"
	ActionLogin       = "login"
	ActionLogout      = "logout"
)

var validActions = map[string]bool{
	ActionAdd: true, ActionUpdate: true, ActionRemove: true, ActionClear: true,
	ActionOffline: true, ActionOnline: true, ActionProcess: true, ActionAdvance: true,
	ActionFailNext: true, ActionStock: true, ActionPrice: true, ActionUnavailable: true,
	ActionPull: true, ActionLogin: true, ActionLogout: true,
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Product  string `yaml:"product,omitempty"`
	Size     string `yaml:"size,omitempty"`
	Quantity int    `yaml:"quantity,omitempty"`
	// Price is checked when non-zero.
	Price int64 `yaml:"price,omitempty"`

	// Count is used by queue_len and trace_count.
	Count int `yaml:"count"`

	// State is used by sync_state.
	State string `yaml:"state,omitempty"`

	// Event is the event name for trace_contains and trace_count.
	Event string `yaml:"event,omitempty"`
	// Detail is a substring the event detail must contain.
	Detail string `yaml:"detail,omitempty"`

	// Events is the expected order for trace_order.
	Events []string `yaml:"events,omitempty"`
}

// Assertion types.
const (
	AssertItem          = "item"
	AssertNoItem        = "no_item"
	AssertRemoteItem    = "remote_item"
	AssertQueueLen      = "queue_len"
	AssertSyncState     = "sync_state"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

var validAssertions = map[string]bool{
	AssertItem: true, AssertNoItem: true, AssertRemoteItem: true, AssertQueueLen: true,
	AssertSyncState: true, AssertTraceContains: true, AssertTraceOrder: true, AssertTraceCount: true,
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected.
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

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
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
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, it := range s.Account {
		if it.Product == "" || it.Size == "" {
			return fmt.Errorf("account[%d]: product and size are required", i)
		}
	}
	for i, st := range s.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, st.Action, err)
		}
	}
	for i, a := range s.Assertions {
		if !validAssertions[a.Type] {
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}

func validateStep(st Step) error {
	if !validActions[st.Action] {
		return fmt.Errorf("unknown action")
	}
	switch st.Action {
	case ActionAdd, ActionUpdate, ActionRemove:
		if st.Product == "" || st.Size == "" {
			return fmt.Errorf("product and size are required")
		}
	case ActionStock, ActionPrice, ActionUnavailable:
		if st.Product == "" {
			return fmt.Errorf("product is required")
		}
	case ActionFailNext:
		if _, ok := faults[st.Error]; !ok {
			return fmt.Errorf("unknown fault %q", st.Error)
		}
	case ActionAdvance:
		if st.By <= 0 {
			return fmt.Errorf("by must be positive")
		}
	}
	return nil
}
