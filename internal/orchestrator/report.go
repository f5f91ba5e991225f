package orchestrator

import (
	"time"

	"github.com/relstor/faultline/internal/fault"
)

// Outcome classifies how a step finished.
type Outcome string

const (
	// OutcomePass: setup, body and teardown all succeeded.
	OutcomePass Outcome = "pass"

	// OutcomeFail: a check failed — fixture diff mismatch, fault status
	// timeout, or catalog inconsistency. The scenario kept going.
	OutcomeFail Outcome = "fail"

	// OutcomeError: the step could not be executed — endpoint
	// unreachable, fixture execution error, authoring bug, or a body
	// panic.
	OutcomeError Outcome = "error"

	// OutcomeSkipped: the step's dependency failed, so its body never
	// ran. Teardown still did.
	OutcomeSkipped Outcome = "skipped"
)

// StepResult is the recorded outcome of one step.
type StepResult struct {
	// Name is the step name from the scenario.
	Name string `json:"name"`

	// Outcome classifies the result.
	Outcome Outcome `json:"outcome"`

	// Errors holds the failure messages, setup to teardown order.
	// A step can accumulate several: a body failure and a teardown
	// failure are both reported.
	Errors []string `json:"errors,omitempty"`

	// Cycles is the number of fault status polls performed, when the
	// step waited on a fault.
	Cycles int `json:"cycles,omitempty"`

	// LastStatus is the final fault status a timed-out wait observed.
	LastStatus string `json:"last_status,omitempty"`

	// Duration is the wall-clock step duration.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// fail records a failure message and degrades the outcome. Outcomes only
// ever degrade: error beats fail beats skipped beats pass.
func (r *StepResult) fail(outcome Outcome, msg string) {
	r.Errors = append(r.Errors, msg)
	if severity(outcome) > severity(r.Outcome) {
		r.Outcome = outcome
	}
}

func severity(o Outcome) int {
	switch o {
	case OutcomeError:
		return 3
	case OutcomeFail:
		return 2
	case OutcomeSkipped:
		return 1
	default:
		return 0
	}
}

// TraceEvent is one orchestration event: a fault primitive or a step body.
type TraceEvent struct {
	// Step is the step the event belongs to.
	Step string `json:"step"`

	// Kind is one of "arm", "await", "reset", "fixture", "action",
	// "check_catalog".
	Kind string `json:"kind"`

	// Point is the fault point involved, if any.
	Point string `json:"point,omitempty"`

	// Detail carries the event outcome, e.g. "suspend", "triggered
	// after 3 cycles", "2 files, 0 mismatches".
	Detail string `json:"detail,omitempty"`
}

// Report is the outcome of a scenario run. Step results preserve declared
// step order regardless of individual step latency.
type Report struct {
	// RunID uniquely identifies this run.
	RunID string `json:"run_id"`

	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is true when every step passed.
	Pass bool `json:"pass"`

	// Err is set when the scenario could not be run at all (unbound
	// template, begin-run failure). Steps is empty in that case.
	Err string `json:"err,omitempty"`

	// Steps holds per-step results in declaration order.
	Steps []StepResult `json:"steps"`

	// Trace holds the ordered orchestration events.
	Trace []TraceEvent `json:"trace"`
}

// newReport creates an empty passing report.
func newReport(runID, scenarioName string) *Report {
	return &Report{
		RunID:    runID,
		Scenario: scenarioName,
		Pass:     true,
		Steps:    []StepResult{},
		Trace:    []TraceEvent{},
	}
}

// addStep appends a step result and folds its outcome into Pass.
func (r *Report) addStep(res StepResult) {
	r.Steps = append(r.Steps, res)
	if res.Outcome != OutcomePass {
		r.Pass = false
	}
}

// addTrace appends an orchestration event.
func (r *Report) addTrace(step, kind string, point fault.Point, detail string) {
	ev := TraceEvent{Step: step, Kind: kind, Detail: detail}
	if point.Name != "" {
		ev.Point = point.String()
	}
	r.Trace = append(r.Trace, ev)
}
