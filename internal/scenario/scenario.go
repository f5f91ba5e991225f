// Package scenario defines the declarative scenario format for
// fault-synchronized storage tests.
//
// A scenario is an ordered list of named steps. Each step may arm a fault
// point, wait for a fault status, run a SQL fixture directory, and reset a
// fault during teardown. A loaded scenario is a template: fixture paths are
// relative until Bind resolves them against a suite root, and only a bound
// scenario is runnable.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/relstor/faultline/internal/fault"
)

// Scenario is an ordered sequence of steps sharing one GUC environment.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what interleaving this scenario exercises.
	Description string `yaml:"description"`

	// GUCs are server configuration flags applied to every fixture
	// session in the scenario. Values must be YAML strings; quote
	// numeric values.
	GUCs map[string]string `yaml:"gucs,omitempty"`

	// Steps run strictly in declared order.
	Steps []Step `yaml:"steps"`

	bound bool
}

// Step is one ordered unit: optional fault setup, a body, optional fault
// teardown. Setup runs immediately before the body, teardown immediately
// after it regardless of body outcome.
type Step struct {
	// Name identifies the step in reports. Unique within a scenario.
	Name string `yaml:"name"`

	// DependsOn names an earlier step whose success this step's body
	// requires. If that step failed, this body is skipped and reported
	// as a dependency failure rather than a primitive one.
	DependsOn string `yaml:"depends_on,omitempty"`

	// Arm, if set, installs a fault behavior during setup.
	Arm *ArmSpec `yaml:"arm,omitempty"`

	// Await, if set, blocks setup until the fault reports the wanted
	// status or the cycle budget runs out.
	Await *AwaitSpec `yaml:"await,omitempty"`

	// Fixture, if set, is the step body: a SQL fixture directory triple.
	Fixture *FixtureSpec `yaml:"fixture,omitempty"`

	// Action, if set, is the step body: the name of a callback
	// registered with the orchestrator. Mutually exclusive with Fixture.
	Action string `yaml:"action,omitempty"`

	// Reset, if set, disarms the fault during teardown.
	Reset *ResetSpec `yaml:"reset,omitempty"`

	// CheckCatalog runs the catalog consistency verifier during
	// teardown, after any fault reset.
	CheckCatalog bool `yaml:"check_catalog,omitempty"`
}

// ArmSpec installs a fault behavior.
type ArmSpec struct {
	Fault  string `yaml:"fault"`
	Action string `yaml:"action"`
	Role   string `yaml:"role"`
	SegID  int    `yaml:"seg_id"`
}

// Point returns the fault point this spec targets.
func (a *ArmSpec) Point() fault.Point {
	return fault.Point{Name: a.Fault, Role: fault.Role(a.Role), SegID: a.SegID}
}

// DefaultMaxCycle is the polling bound applied to await steps that omit
// max_cycle. A zero bound would time out before the first poll, so omission
// gets the conventional bound of the suites this format replaces.
const DefaultMaxCycle = 20

// AwaitSpec blocks until a fault point reports a status.
type AwaitSpec struct {
	Fault  string `yaml:"fault"`
	Role   string `yaml:"role"`
	SegID  int    `yaml:"seg_id"`
	Status string `yaml:"status"`

	// MaxCycle bounds the number of status polls. Omitted (or zero)
	// means DefaultMaxCycle.
	MaxCycle int `yaml:"max_cycle"`
}

// Point returns the fault point this spec targets.
func (a *AwaitSpec) Point() fault.Point {
	return fault.Point{Name: a.Fault, Role: fault.Role(a.Role), SegID: a.SegID}
}

// ResetSpec disarms a fault point.
type ResetSpec struct {
	Fault string `yaml:"fault"`
	Role  string `yaml:"role"`
	SegID int    `yaml:"seg_id"`
}

// Point returns the fault point this spec targets.
func (r *ResetSpec) Point() fault.Point {
	return fault.Point{Name: r.Fault, Role: fault.Role(r.Role), SegID: r.SegID}
}

// FixtureSpec is the sql/expected/output directory triple of a SQL fixture.
type FixtureSpec struct {
	SQLDir string `yaml:"sql_dir"`
	AnsDir string `yaml:"ans_dir"`
	OutDir string `yaml:"out_dir"`
}

// Load reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is structurally invalid.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse parses scenario YAML with strict field validation.
func Parse(data []byte) (*Scenario, error) {
	if err := vetSchema(data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	for i := range s.Steps {
		if aw := s.Steps[i].Await; aw != nil && aw.MaxCycle == 0 {
			aw.MaxCycle = DefaultMaxCycle
		}
	}
	return &s, nil
}

// Bind resolves the scenario's relative fixture directories against base and
// returns a runnable copy. The sql and expected directories must exist;
// output directories are created.
func (s *Scenario) Bind(base string) (*Scenario, error) {
	out := *s
	out.Steps = make([]Step, len(s.Steps))
	copy(out.Steps, s.Steps)

	for i := range out.Steps {
		fx := out.Steps[i].Fixture
		if fx == nil {
			continue
		}
		resolved := FixtureSpec{
			SQLDir: resolveDir(base, fx.SQLDir),
			AnsDir: resolveDir(base, fx.AnsDir),
			OutDir: resolveDir(base, fx.OutDir),
		}
		for _, dir := range []string{resolved.SQLDir, resolved.AnsDir} {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("step %q: fixture dir: %w", out.Steps[i].Name, err)
			}
		}
		if err := os.MkdirAll(resolved.OutDir, 0o755); err != nil {
			return nil, fmt.Errorf("step %q: create out dir: %w", out.Steps[i].Name, err)
		}
		out.Steps[i].Fixture = &resolved
	}

	out.bound = true
	return &out, nil
}

// Runnable reports whether the scenario has been bound to concrete fixture
// paths. Templates straight from Load are not runnable.
func (s *Scenario) Runnable() error {
	if s.bound {
		return nil
	}
	for _, step := range s.Steps {
		if step.Fixture != nil {
			return fmt.Errorf("scenario %q is a template: Bind it to a suite root before running", s.Name)
		}
	}
	// No fixtures at all: nothing to resolve.
	return nil
}

func resolveDir(base, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}

var validActions = map[string]bool{
	string(fault.ActionSuspend): true,
	string(fault.ActionError):   true,
	string(fault.ActionPanic):   true,
	string(fault.ActionSleep):   true,
}

var validStatuses = map[string]bool{
	string(fault.StatusNotTriggered): true,
	string(fault.StatusTriggered):    true,
	string(fault.StatusFailed):       true,
	string(fault.StatusReset):        true,
}

var validRoles = map[string]bool{
	string(fault.RolePrimary): true,
	string(fault.RoleMirror):  true,
}

// validate checks that required fields are present and valid.
func validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for guc := range s.GUCs {
		if guc == "" {
			return fmt.Errorf("gucs: empty flag name")
		}
	}

	seen := make(map[string]bool, len(s.Steps))
	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		if seen[step.Name] {
			return fmt.Errorf("steps[%d]: duplicate step name %q", i, step.Name)
		}

		if step.Fixture != nil && step.Action != "" {
			return fmt.Errorf("steps[%d]: fixture and action are mutually exclusive", i)
		}
		if step.Arm == nil && step.Await == nil && step.Fixture == nil &&
			step.Action == "" && step.Reset == nil && !step.CheckCatalog {
			return fmt.Errorf("steps[%d]: step does nothing", i)
		}

		if step.DependsOn != "" {
			if step.DependsOn == step.Name {
				return fmt.Errorf("steps[%d]: depends_on refers to itself", i)
			}
			if !seen[step.DependsOn] {
				return fmt.Errorf("steps[%d]: depends_on %q does not name an earlier step", i, step.DependsOn)
			}
		}
		seen[step.Name] = true

		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	if arm := step.Arm; arm != nil {
		if arm.Fault == "" {
			return fmt.Errorf("steps[%d].arm: fault is required", i)
		}
		if !validActions[arm.Action] {
			return fmt.Errorf("steps[%d].arm: unknown action %q", i, arm.Action)
		}
		if !validRoles[arm.Role] {
			return fmt.Errorf("steps[%d].arm: unknown role %q", i, arm.Role)
		}
		if arm.SegID < 0 {
			return fmt.Errorf("steps[%d].arm: seg_id must be non-negative", i)
		}
	}

	if aw := step.Await; aw != nil {
		if aw.Fault == "" {
			return fmt.Errorf("steps[%d].await: fault is required", i)
		}
		if !validStatuses[aw.Status] {
			return fmt.Errorf("steps[%d].await: unknown status %q", i, aw.Status)
		}
		if !validRoles[aw.Role] {
			return fmt.Errorf("steps[%d].await: unknown role %q", i, aw.Role)
		}
		if aw.MaxCycle < 0 {
			return fmt.Errorf("steps[%d].await: max_cycle must be non-negative", i)
		}
	}

	if rs := step.Reset; rs != nil {
		if rs.Fault == "" {
			return fmt.Errorf("steps[%d].reset: fault is required", i)
		}
		if !validRoles[rs.Role] {
			return fmt.Errorf("steps[%d].reset: unknown role %q", i, rs.Role)
		}
	}

	if fx := step.Fixture; fx != nil {
		if fx.SQLDir == "" || fx.AnsDir == "" || fx.OutDir == "" {
			return fmt.Errorf("steps[%d].fixture: sql_dir, ans_dir and out_dir are all required", i)
		}
	}

	return nil
}
