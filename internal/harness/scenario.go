package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/testutil"
)

// Scenario is one offline-sync story: the remote's work units, a sequence
// of steps against the app, and assertions on the result.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Kind is the work-unit kind under test. Default: delivery.
	Kind model.Kind `yaml:"kind,omitempty"`

	// Identity is logged in before the first step.
	Identity string `yaml:"identity"`

	// Online is the connectivity state at startup.
	Online bool `yaml:"online"`

	// Tolerance overrides the geofence tolerance in meters.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// RejectBudget overrides sync.reject_budget.
	RejectBudget int `yaml:"reject_budget,omitempty"`

	// WorkUnits is what the remote returns on download.
	WorkUnits []WorkUnitFixture `yaml:"work_units"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// WorkUnitFixture is a work unit held by the scripted remote.
type WorkUnitFixture struct {
	ID        string   `yaml:"id"`
	Reference string   `yaml:"reference,omitempty"`
	Lat       *float64 `yaml:"lat,omitempty"`
	Lng       *float64 `yaml:"lng,omitempty"`
	AmountDue float64  `yaml:"amount_due,omitempty"`
	Priority  int      `yaml:"priority,omitempty"`
	Status    string   `yaml:"status,omitempty"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	Sync      *SyncStep    `yaml:"sync,omitempty"`
	SetOnline *bool        `yaml:"set_online,omitempty"`
	Capture   *CaptureStep `yaml:"capture,omitempty"`
	SetStatus *StatusStep  `yaml:"set_status,omitempty"`
	Fail      *FailStep    `yaml:"fail,omitempty"`
	Requeue   *RequeueStep `yaml:"requeue,omitempty"`
	Restart   bool         `yaml:"restart,omitempty"`
}

// SyncStep runs one cycle and optionally checks its report.
type SyncStep struct {
	Expect *SyncExpect `yaml:"expect,omitempty"`
}

// SyncExpect is a subset match on the cycle report. Error names a
// syncerr code such as "OFFLINE".
type SyncExpect struct {
	Uploaded   *int   `yaml:"uploaded,omitempty"`
	Failed     *int   `yaml:"failed,omitempty"`
	Parked     *int   `yaml:"parked,omitempty"`
	Deferred   *int   `yaml:"deferred,omitempty"`
	Downloaded *int   `yaml:"downloaded,omitempty"`
	Error      string `yaml:"error,omitempty"`
}

// CaptureStep captures evidence at OffsetMeters north of the unit's
// location. NoLocation simulates a device without a fix.
type CaptureStep struct {
	Unit           string  `yaml:"unit"`
	Type           string  `yaml:"type,omitempty"`
	Notes          string  `yaml:"notes,omitempty"`
	Action         string  `yaml:"action,omitempty"`
	Reason         string  `yaml:"reason,omitempty"`
	OffsetMeters   float64 `yaml:"offset_m,omitempty"`
	NoLocation     bool    `yaml:"no_location,omitempty"`
	Override       bool    `yaml:"override,omitempty"`
	OverrideReason string  `yaml:"override_reason,omitempty"`

	Expect *CaptureExpect `yaml:"expect,omitempty"`
}

// CaptureExpect checks a capture result.
type CaptureExpect struct {
	Accepted bool   `yaml:"accepted"`
	Reason   string `yaml:"reason,omitempty"`
}

// StatusStep records a status change without evidence.
type StatusStep struct {
	Unit   string `yaml:"unit"`
	Status string `yaml:"status"`
	Reason string `yaml:"reason,omitempty"`
}

// FailStep scripts remote failures: the next Times calls of Op for Unit
// fail with Error ("transport" or "rejected").
type FailStep struct {
	Op    testutil.Op `yaml:"op"`
	Unit  string      `yaml:"unit,omitempty"`
	Error string      `yaml:"error"`
	Times int         `yaml:"times,omitempty"`
}

// RequeueStep releases every parked item of the lane for retry.
type RequeueStep struct{}

// Assertion validates the recorded remote calls or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op and Unit select calls (call_count, call_order).
	Op   testutil.Op   `yaml:"op,omitempty"`
	Unit string        `yaml:"unit,omitempty"`
	Ops  []testutil.Op `yaml:"ops,omitempty"`

	// Count is the expected number of calls or pending items.
	Count int `yaml:"count"`

	// Table, Where and Expect drive final_state. Expect is a subset match
	// on the single row selected by Where.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertCallCount    = "call_count"
	AssertCallOrder    = "call_order"
	AssertPendingCount = "pending_count"
	AssertStuckCount   = "stuck_count"
	AssertFinalState   = "final_state"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a typo never silently disables a check.
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
	if scenario.Kind == "" {
		scenario.Kind = model.KindDelivery
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
	if !s.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, u := range s.WorkUnits {
		if u.ID == "" {
			return fmt.Errorf("work_units[%d]: id is required", i)
		}
		if (u.Lat == nil) != (u.Lng == nil) {
			return fmt.Errorf("work_units[%d]: lat and lng must be set together", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	set := 0
	for _, ok := range []bool{
		step.Sync != nil, step.SetOnline != nil, step.Capture != nil,
		step.SetStatus != nil, step.Fail != nil, step.Requeue != nil, step.Restart,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}
	switch {
	case step.Capture != nil && step.Capture.Unit == "":
		return fmt.Errorf("steps[%d].capture: unit is required", i)
	case step.SetStatus != nil && (step.SetStatus.Unit == "" || step.SetStatus.Status == ""):
		return fmt.Errorf("steps[%d].set_status: unit and status are required", i)
	case step.Fail != nil && step.Fail.Op == "":
		return fmt.Errorf("steps[%d].fail: op is required", i)
	case step.Fail != nil && step.Fail.Error != "transport" && step.Fail.Error != "rejected":
		return fmt.Errorf("steps[%d].fail: error must be transport or rejected", i)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertCallCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for call_count", index)
		}
	case AssertCallOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for call_order", index)
		}
	case AssertPendingCount, AssertStuckCount:
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
