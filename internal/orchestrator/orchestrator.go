// Package orchestrator sequences fault-synchronized test scenarios.
//
// Each step runs setup (optional fault arm, optional bounded wait for a
// fault status), body (a SQL fixture directory or a registered action), and
// teardown (optional fault reset, optional catalog check). Teardown runs
// exactly once per step regardless of setup or body outcome, including body
// panics; a failed step never prevents later steps from running, but steps
// that declare a dependency on it are skipped and reported distinctly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relstor/faultline/internal/checker"
	"github.com/relstor/faultline/internal/fault"
	"github.com/relstor/faultline/internal/fixture"
	"github.com/relstor/faultline/internal/scenario"
	"github.com/relstor/faultline/internal/store"
	"github.com/relstor/faultline/internal/telemetry"
)

// Default delay between fault status polls. The bound comes from the
// scenario's max_cycle; the delay only sets how hard the endpoint is hit.
const defaultCycleDelay = time.Second

// ActionFunc is a registered step body. Actions let scenarios run arbitrary
// callbacks (and let tests exercise the driver without fixtures).
type ActionFunc func(ctx context.Context) error

// Orchestrator drives scenarios strictly sequentially: no two fault points
// are ever polled concurrently within one run.
type Orchestrator struct {
	faults   *fault.Controller
	fixtures fixture.Runner
	catalog  checker.Checker
	history  *store.Store
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	actions  map[string]ActionFunc

	cycleDelay time.Duration
	newRunID   func() string
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFixtureRunner sets the SQL fixture runner used for fixture bodies.
func WithFixtureRunner(r fixture.Runner) Option {
	return func(o *Orchestrator) { o.fixtures = r }
}

// WithChecker sets the catalog verifier used by check_catalog teardowns.
func WithChecker(c checker.Checker) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithHistory persists runs, step results and fault events to the store.
// Persistence is best-effort: a write failure is logged, never fails a run.
func WithHistory(s *store.Store) Option {
	return func(o *Orchestrator) { o.history = s }
}

// WithLogger sets the structured logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the prometheus collector set.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCycleDelay overrides the delay between fault status polls.
func WithCycleDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.cycleDelay = d }
}

// WithRunIDs replaces the run ID generator. Tests fix it for deterministic
// golden reports.
func WithRunIDs(gen func() string) Option {
	return func(o *Orchestrator) { o.newRunID = gen }
}

// New creates an Orchestrator over a fault controller.
func New(faults *fault.Controller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		faults:     faults,
		logger:     telemetry.Discard(),
		actions:    make(map[string]ActionFunc),
		cycleDelay: defaultCycleDelay,
		newRunID:   func() string { return uuid.NewString() },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterAction makes fn available to steps as `action: name`.
func (o *Orchestrator) RegisterAction(name string, fn ActionFunc) {
	o.actions[name] = fn
}

// Run executes the scenario's steps in declaration order and returns the
// report. Run never panics and never returns an error: scenario-level
// problems are reported through Report.Err, step-level ones through the
// per-step results.
func (o *Orchestrator) Run(ctx context.Context, sc *scenario.Scenario) *Report {
	rep := newReport(o.newRunID(), sc.Name)
	logger := telemetry.WithRun(o.logger, rep.RunID, sc.Name)

	if err := sc.Runnable(); err != nil {
		rep.Pass = false
		rep.Err = err.Error()
		return rep
	}

	started := o.now()
	if o.history != nil {
		if err := o.history.BeginRun(ctx, rep.RunID, sc.Name, started); err != nil {
			logger.Error("record run start", "error", err)
		}
	}
	logger.Info("scenario started", "steps", len(sc.Steps))

	failed := make(map[string]bool)
	for i := range sc.Steps {
		step := &sc.Steps[i]
		res := o.runStep(ctx, logger, sc, step, rep, failed)
		if res.Outcome != OutcomePass {
			failed[step.Name] = true
		}
		rep.addStep(res)
		o.metrics.ObserveStep(string(res.Outcome), res.Duration)
		logger.Info("step finished",
			"step", step.Name, "outcome", string(res.Outcome), "duration", res.Duration)
	}

	o.persist(ctx, logger, rep)
	logger.Info("scenario finished", "pass", rep.Pass)
	return rep
}

// runStep executes one step. The named return lets the deferred teardown
// and panic recovery keep mutating the result after the body bails out.
func (o *Orchestrator) runStep(ctx context.Context, logger *slog.Logger, sc *scenario.Scenario, step *scenario.Step, rep *Report, failed map[string]bool) (res StepResult) {
	res = StepResult{Name: step.Name, Outcome: OutcomePass}
	start := o.now()
	defer func() { res.Duration = o.now().Sub(start) }()

	func() {
		// Registered first so it runs after panic recovery: teardown
		// happens exactly once no matter how setup or body exit.
		defer o.teardown(ctx, logger, step, rep, &res)
		defer func() {
			if r := recover(); r != nil {
				res.fail(OutcomeError, fmt.Sprintf("step body panicked: %v", r))
			}
		}()

		if step.DependsOn != "" && failed[step.DependsOn] {
			res.fail(OutcomeSkipped, fmt.Sprintf("skipped: dependency %q failed", step.DependsOn))
			return
		}
		if !o.setup(ctx, step, rep, &res) {
			return
		}
		o.body(ctx, sc, step, rep, &res)
	}()

	return res
}

// setup arms and waits. Returns false when the body must not run.
func (o *Orchestrator) setup(ctx context.Context, step *scenario.Step, rep *Report, res *StepResult) bool {
	if arm := step.Arm; arm != nil {
		p := arm.Point()
		if err := o.faults.Arm(ctx, p, fault.Action(arm.Action)); err != nil {
			res.fail(OutcomeError, err.Error())
			rep.addTrace(step.Name, "arm", p, "failed: "+string(errCode(err)))
			return false
		}
		rep.addTrace(step.Name, "arm", p, arm.Action)
	}

	if aw := step.Await; aw != nil {
		p := aw.Point()
		cycles, err := o.faults.Await(ctx, p, fault.Status(aw.Status), aw.MaxCycle, o.cycleDelay)
		o.metrics.ObservePolls(cycles)
		res.Cycles = cycles
		if err != nil {
			var fe *fault.Error
			if errors.As(err, &fe) {
				res.LastStatus = string(fe.LastStatus)
			}
			outcome := OutcomeError
			if fault.IsTimeout(err) {
				outcome = OutcomeFail
			}
			res.fail(outcome, err.Error())
			rep.addTrace(step.Name, "await", p, "failed: "+string(errCode(err)))
			return false
		}
		res.LastStatus = aw.Status
		rep.addTrace(step.Name, "await", p,
			fmt.Sprintf("%s after %d cycle(s)", aw.Status, cycles))
	}

	return true
}

// body runs the fixture directory or the registered action.
func (o *Orchestrator) body(ctx context.Context, sc *scenario.Scenario, step *scenario.Step, rep *Report, res *StepResult) {
	if fx := step.Fixture; fx != nil {
		if o.fixtures == nil {
			res.fail(OutcomeError, "no fixture runner configured")
			return
		}
		results, err := o.fixtures.Run(ctx, *fx, sc.GUCs)
		if err != nil {
			res.fail(OutcomeError, err.Error())
			rep.addTrace(step.Name, "fixture", fault.Point{}, "execution error")
			return
		}
		mismatches := 0
		for _, fr := range results {
			if !fr.Pass {
				mismatches++
				res.fail(OutcomeFail, fmt.Sprintf("fixture %s: output mismatch", fr.Name))
			}
		}
		rep.addTrace(step.Name, "fixture", fault.Point{},
			fmt.Sprintf("%d file(s), %d mismatch(es)", len(results), mismatches))
		return
	}

	if step.Action != "" {
		fn, ok := o.actions[step.Action]
		if !ok {
			res.fail(OutcomeError, fmt.Sprintf("action %q is not registered", step.Action))
			return
		}
		if err := fn(ctx); err != nil {
			res.fail(OutcomeFail, fmt.Sprintf("action %s: %v", step.Action, err))
			rep.addTrace(step.Name, "action", fault.Point{}, step.Action+" failed")
			return
		}
		rep.addTrace(step.Name, "action", fault.Point{}, step.Action)
	}
}

// teardown resets the step's fault and runs the catalog check. Always
// invoked, exactly once, whatever happened before.
func (o *Orchestrator) teardown(ctx context.Context, logger *slog.Logger, step *scenario.Step, rep *Report, res *StepResult) {
	if rs := step.Reset; rs != nil {
		p := rs.Point()
		if err := o.faults.Reset(ctx, p); err != nil {
			res.fail(OutcomeError, err.Error())
			rep.addTrace(step.Name, "reset", p, "failed: "+string(errCode(err)))
		} else {
			rep.addTrace(step.Name, "reset", p, "ok")
		}
	}

	if step.CheckCatalog {
		o.checkCatalog(ctx, logger, step, rep, res)
	}
}

func (o *Orchestrator) checkCatalog(ctx context.Context, logger *slog.Logger, step *scenario.Step, rep *Report, res *StepResult) {
	if o.catalog == nil {
		res.fail(OutcomeError, "no catalog checker configured")
		return
	}
	report, err := o.catalog.Check(ctx)
	if err != nil {
		res.fail(OutcomeError, fmt.Sprintf("catalog check: %v", err))
		rep.addTrace(step.Name, "check_catalog", fault.Point{}, "error")
		return
	}
	if !report.Consistent {
		inc := checker.NewInconsistentError(report)
		res.fail(OutcomeFail, inc.Error())
		for _, c := range report.Checks {
			for _, v := range c.Violations {
				logger.Warn("catalog violation", "check", c.Name, "row", v)
			}
		}
		rep.addTrace(step.Name, "check_catalog", fault.Point{}, "inconsistent")
		return
	}
	rep.addTrace(step.Name, "check_catalog", fault.Point{}, "consistent")
}

// persist writes the finished run to the history store, best-effort.
func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, rep *Report) {
	if o.history == nil {
		return
	}

	for i, res := range rep.Steps {
		row := store.StepRow{
			Seq:        i,
			Name:       res.Name,
			Outcome:    string(res.Outcome),
			Error:      joinErrors(res.Errors),
			Cycles:     res.Cycles,
			LastStatus: res.LastStatus,
			Duration:   res.Duration,
		}
		if err := o.history.WriteStepResult(ctx, rep.RunID, row); err != nil {
			logger.Error("record step result", "step", res.Name, "error", err)
		}
	}

	for i, ev := range rep.Trace {
		row := store.EventRow{
			Seq:    i,
			Step:   ev.Step,
			Kind:   ev.Kind,
			Point:  ev.Point,
			Detail: ev.Detail,
		}
		if err := o.history.WriteFaultEvent(ctx, rep.RunID, row); err != nil {
			logger.Error("record fault event", "step", ev.Step, "error", err)
		}
	}

	if err := o.history.FinishRun(ctx, rep.RunID, rep.Pass, o.now()); err != nil {
		logger.Error("record run finish", "error", err)
	}
}

func joinErrors(msgs []string) string {
	switch len(msgs) {
	case 0:
		return ""
	case 1:
		return msgs[0]
	}
	joined := msgs[0]
	for _, m := range msgs[1:] {
		joined += "; " + m
	}
	return joined
}

// errCode extracts the fault error code for trace detail strings.
func errCode(err error) fault.ErrorCode {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return "ERROR"
}
