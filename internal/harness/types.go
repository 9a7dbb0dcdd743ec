package harness

import "github.com/Adriangar333/Traceops-sub000/internal/testutil"

// StepTrace records what one step did.
type StepTrace struct {
	Seq     int    `json:"seq"`
	Step    string `json:"step"`
	Outcome string `json:"outcome"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Steps lists each step's outcome in order.
	Steps []StepTrace `json:"steps"`

	// Calls is every call the scripted remote received, in order.
	Calls []testutil.Call `json:"calls"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepTrace{},
		Calls:  []testutil.Call{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step trace.
func (r *Result) AddStep(step, outcome string) {
	r.Steps = append(r.Steps, StepTrace{Seq: len(r.Steps) + 1, Step: step, Outcome: outcome})
}
