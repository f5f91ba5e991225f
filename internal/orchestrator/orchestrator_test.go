package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relstor/faultline/internal/checker"
	"github.com/relstor/faultline/internal/fault"
	"github.com/relstor/faultline/internal/fixture"
	"github.com/relstor/faultline/internal/scenario"
	"github.com/relstor/faultline/internal/store"
	"github.com/relstor/faultline/internal/testutil"
)

var reindexPoint = fault.Point{Name: "reindex_db", Role: fault.RolePrimary, SegID: 1}

// stubRunner returns canned fixture results without touching a database.
type stubRunner struct {
	results []fixture.FileResult
	err     error
	calls   int
	gucs    map[string]string
}

func (s *stubRunner) Run(_ context.Context, _ scenario.FixtureSpec, gucs map[string]string) ([]fixture.FileResult, error) {
	s.calls++
	s.gucs = gucs
	return s.results, s.err
}

// stubChecker returns a canned catalog report.
type stubChecker struct {
	report *checker.Report
	err    error
}

func (s *stubChecker) Check(context.Context) (*checker.Report, error) {
	return s.report, s.err
}

func newTestOrchestrator(t *testing.T, fake *fault.FakeInjector, opts ...Option) *Orchestrator {
	t.Helper()
	sleeper := &testutil.SleepRecorder{}
	ctl := fault.NewController(fake, fault.WithSleep(sleeper.Sleep))
	base := []Option{
		WithRunIDs(testutil.FixedRunID("run-00000000-0000-0000-0000-000000000001")),
		WithCycleDelay(time.Millisecond),
	}
	return New(ctl, append(base, opts...)...)
}

func armStep(name string) scenario.Step {
	return scenario.Step{
		Name:   name,
		Arm:    &scenario.ArmSpec{Fault: "reindex_db", Action: "suspend", Role: "primary", SegID: 1},
		Action: "reindex",
	}
}

func awaitStep(name, dependsOn string, maxCycle int) scenario.Step {
	return scenario.Step{
		Name:      name,
		DependsOn: dependsOn,
		Await: &scenario.AwaitSpec{
			Fault: "reindex_db", Role: "primary", SegID: 1,
			Status: "triggered", MaxCycle: maxCycle,
		},
		Action: "drop",
		Reset:  &scenario.ResetSpec{Fault: "reindex_db", Role: "primary", SegID: 1},
	}
}

func TestRun_InterleavedScenarioPasses(t *testing.T) {
	fake := fault.NewFakeInjector()
	fake.Script(reindexPoint, fault.StatusTriggered)

	o := newTestOrchestrator(t, fake)
	o.RegisterAction("reindex", func(context.Context) error { return nil })
	o.RegisterAction("drop", func(context.Context) error { return nil })

	sc := &scenario.Scenario{
		Name:        "reindex_db_interleave",
		Description: "d",
		Steps:       []scenario.Step{armStep("reindex_db"), awaitStep("drop_obj", "reindex_db", 20)},
	}

	rep := o.Run(context.Background(), sc)

	require.True(t, rep.Pass)
	require.Len(t, rep.Steps, 2)
	assert.Equal(t, OutcomePass, rep.Steps[0].Outcome)
	assert.Equal(t, OutcomePass, rep.Steps[1].Outcome)
	assert.Equal(t, 1, rep.Steps[1].Cycles)
	assert.Equal(t, "triggered", rep.Steps[1].LastStatus)

	// Arm, then reset during teardown, in that order.
	assert.Equal(t, []string{
		"suspend reindex_db@primary/1",
		"reset reindex_db@primary/1",
	}, fake.Injects())

	AssertGolden(t, "reindex_db_interleave", rep)
}

func TestRun_TimeoutFailsStepWithoutRunningBody(t *testing.T) {
	fake := fault.NewFakeInjector()
	// No script: every poll reports "not triggered".

	o := newTestOrchestrator(t, fake)
	bodyRan := false
	o.RegisterAction("drop", func(context.Context) error { bodyRan = true; return nil })

	sc := &scenario.Scenario{
		Name:        "timeout",
		Description: "d",
		Steps:       []scenario.Step{awaitStep("drop_obj", "", 3)},
	}

	rep := o.Run(context.Background(), sc)

	require.False(t, rep.Pass)
	require.Len(t, rep.Steps, 1)
	res := rep.Steps[0]
	assert.Equal(t, OutcomeFail, res.Outcome)
	assert.Equal(t, 3, res.Cycles)
	assert.Equal(t, "not triggered", res.LastStatus)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "TIMEOUT")
	assert.False(t, bodyRan)

	// Teardown still reset the fault.
	assert.Equal(t, []string{"reset reindex_db@primary/1"}, fake.Injects())
}

func TestRun_ZeroCycleBudgetTimesOutWithoutPolling(t *testing.T) {
	fake := fault.NewFakeInjector()
	o := newTestOrchestrator(t, fake)
	o.RegisterAction("drop", func(context.Context) error { return nil })

	sc := &scenario.Scenario{
		Name:        "zero-budget",
		Description: "d",
		Steps:       []scenario.Step{awaitStep("drop_obj", "", 0)},
	}

	rep := o.Run(context.Background(), sc)

	require.Len(t, rep.Steps, 1)
	assert.Equal(t, OutcomeFail, rep.Steps[0].Outcome)
	assert.Equal(t, 0, rep.Steps[0].Cycles)
	assert.Equal(t, 0, fake.Polls(reindexPoint))
}

func TestRun_PanickingBodyStillTearsDown(t *testing.T) {
	fake := fault.NewFakeInjector()
	o := newTestOrchestrator(t, fake)
	o.RegisterAction("explode", func(context.Context) error { panic("boom") })

	sc := &scenario.Scenario{
		Name:        "panic",
		Description: "d",
		Steps: []scenario.Step{{
			Name:   "s1",
			Action: "explode",
			Reset:  &scenario.ResetSpec{Fault: "reindex_db", Role: "primary", SegID: 1},
		}},
	}

	rep := o.Run(context.Background(), sc)

	require.Len(t, rep.Steps, 1)
	res := rep.Steps[0]
	assert.Equal(t, OutcomeError, res.Outcome)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "step body panicked: boom")

	// Exactly one reset, despite the panic.
	assert.Equal(t, []string{"reset reindex_db@primary/1"}, fake.Injects())
}

func TestRun_DependencyFailureSkipsDependents(t *testing.T) {
	fake := fault.NewFakeInjector()
	o := newTestOrchestrator(t, fake)
	o.RegisterAction("fail", func(context.Context) error { return errors.New("nope") })
	dropRan := false
	o.RegisterAction("drop", func(context.Context) error { dropRan = true; return nil })
	o.RegisterAction("verify", func(context.Context) error { return nil })

	sc := &scenario.Scenario{
		Name:        "deps",
		Description: "d",
		Steps: []scenario.Step{
			{Name: "s1", Action: "fail"},
			{
				Name: "s2", DependsOn: "s1", Action: "drop",
				Reset: &scenario.ResetSpec{Fault: "reindex_db", Role: "primary", SegID: 1},
			},
			{Name: "s3", Action: "verify"},
		},
	}

	rep := o.Run(context.Background(), sc)

	require.False(t, rep.Pass)
	require.Len(t, rep.Steps, 3)
	assert.Equal(t, OutcomeFail, rep.Steps[0].Outcome)
	assert.Equal(t, OutcomeSkipped, rep.Steps[1].Outcome)
	assert.Equal(t, []string{`skipped: dependency "s1" failed`}, rep.Steps[1].Errors)
	assert.Equal(t, OutcomePass, rep.Steps[2].Outcome)

	assert.False(t, dropRan)
	// Skipped steps still run teardown.
	assert.Equal(t, []string{"reset reindex_db@primary/1"}, fake.Injects())
}

func TestRun_UnboundTemplateIsRejected(t *testing.T) {
	sc := &scenario.Scenario{
		Name:        "template",
		Description: "d",
		Steps: []scenario.Step{{
			Name:    "s1",
			Fixture: &scenario.FixtureSpec{SQLDir: "a", AnsDir: "b", OutDir: "c"},
		}},
	}

	o := newTestOrchestrator(t, fault.NewFakeInjector())
	rep := o.Run(context.Background(), sc)

	assert.False(t, rep.Pass)
	assert.Contains(t, rep.Err, "template")
	assert.Empty(t, rep.Steps)
	assert.Empty(t, rep.Trace)
}

func TestRun_FixtureMismatchFailsStep(t *testing.T) {
	runner := &stubRunner{results: []fixture.FileResult{
		{Name: "setup.sql", Pass: true},
		{Name: "drop.sql", Pass: false, Diff: "-a\n+b\n"},
	}}

	sc := &scenario.Scenario{
		Name:        "mismatch",
		Description: "d",
		GUCs:        map[string]string{"optimizer": "off"},
		Steps:       []scenario.Step{{Name: "s1", Action: "noop"}},
	}
	// Fixture steps need a bound scenario; swap the body after binding.
	bound, err := sc.Bind(t.TempDir())
	require.NoError(t, err)
	bound.Steps[0].Action = ""
	bound.Steps[0].Fixture = &scenario.FixtureSpec{
		SQLDir: filepath.Join(t.TempDir(), "sql"),
		AnsDir: filepath.Join(t.TempDir(), "ans"),
		OutDir: filepath.Join(t.TempDir(), "out"),
	}

	o := newTestOrchestrator(t, fault.NewFakeInjector(), WithFixtureRunner(runner))
	rep := o.Run(context.Background(), bound)

	require.Len(t, rep.Steps, 1)
	res := rep.Steps[0]
	assert.Equal(t, OutcomeFail, res.Outcome)
	assert.Equal(t, []string{"fixture drop.sql: output mismatch"}, res.Errors)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, map[string]string{"optimizer": "off"}, runner.gucs)

	require.Len(t, rep.Trace, 1)
	assert.Equal(t, "fixture", rep.Trace[0].Kind)
	assert.Equal(t, "2 file(s), 1 mismatch(es)", rep.Trace[0].Detail)
}

func TestRun_FixtureExecutionErrorIsError(t *testing.T) {
	runner := &stubRunner{err: &fixture.Error{
		Code: fixture.ErrCodeExecution, File: "setup.sql", Message: "session failed",
	}}

	sc := &scenario.Scenario{
		Name:        "exec-error",
		Description: "d",
		Steps:       []scenario.Step{{Name: "s1", Action: "noop"}},
	}
	bound, err := sc.Bind(t.TempDir())
	require.NoError(t, err)
	bound.Steps[0].Action = ""
	bound.Steps[0].Fixture = &scenario.FixtureSpec{SQLDir: "a", AnsDir: "b", OutDir: "c"}

	o := newTestOrchestrator(t, fault.NewFakeInjector(), WithFixtureRunner(runner))
	rep := o.Run(context.Background(), bound)

	require.Len(t, rep.Steps, 1)
	assert.Equal(t, OutcomeError, rep.Steps[0].Outcome)
	assert.Contains(t, rep.Steps[0].Errors[0], "EXECUTION_ERROR")
}

func TestRun_UnregisteredActionIsError(t *testing.T) {
	o := newTestOrchestrator(t, fault.NewFakeInjector())
	sc := &scenario.Scenario{
		Name:        "missing-action",
		Description: "d",
		Steps:       []scenario.Step{{Name: "s1", Action: "ghost"}},
	}

	rep := o.Run(context.Background(), sc)

	require.Len(t, rep.Steps, 1)
	assert.Equal(t, OutcomeError, rep.Steps[0].Outcome)
	assert.Equal(t, []string{`action "ghost" is not registered`}, rep.Steps[0].Errors)
}

func TestRun_ArmUnreachableIsError(t *testing.T) {
	fake := fault.NewFakeInjector()
	fake.FailNext = 3 // exhaust the whole retry budget

	o := newTestOrchestrator(t, fake)
	bodyRan := false
	o.RegisterAction("reindex", func(context.Context) error { bodyRan = true; return nil })

	sc := &scenario.Scenario{
		Name:        "unreachable",
		Description: "d",
		Steps:       []scenario.Step{armStep("s1")},
	}

	rep := o.Run(context.Background(), sc)

	require.Len(t, rep.Steps, 1)
	assert.Equal(t, OutcomeError, rep.Steps[0].Outcome)
	assert.Contains(t, rep.Steps[0].Errors[0], "UNREACHABLE")
	assert.False(t, bodyRan)

	require.Len(t, rep.Trace, 1)
	assert.Equal(t, "failed: UNREACHABLE", rep.Trace[0].Detail)
}

func TestRun_CatalogCheckOutcomes(t *testing.T) {
	dirty := &checker.Report{
		Consistent: false,
		Checks: []checker.CheckResult{
			{Name: "index_without_relation", Violations: []string{"indexrelid=16384"}},
		},
	}

	tests := []struct {
		name        string
		chk         Option
		wantOutcome Outcome
		wantDetail  string
	}{
		{
			name:        "consistent",
			chk:         WithChecker(&stubChecker{report: &checker.Report{Consistent: true}}),
			wantOutcome: OutcomePass,
			wantDetail:  "consistent",
		},
		{
			name:        "inconsistent",
			chk:         WithChecker(&stubChecker{report: dirty}),
			wantOutcome: OutcomeFail,
			wantDetail:  "inconsistent",
		},
		{
			name:        "checker error",
			chk:         WithChecker(&stubChecker{err: errors.New("connection lost")}),
			wantOutcome: OutcomeError,
			wantDetail:  "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t, fault.NewFakeInjector(), tt.chk)
			sc := &scenario.Scenario{
				Name:        "catalog",
				Description: "d",
				Steps:       []scenario.Step{{Name: "s1", CheckCatalog: true}},
			}

			rep := o.Run(context.Background(), sc)

			require.Len(t, rep.Steps, 1)
			assert.Equal(t, tt.wantOutcome, rep.Steps[0].Outcome)
			require.Len(t, rep.Trace, 1)
			assert.Equal(t, "check_catalog", rep.Trace[0].Kind)
			assert.Equal(t, tt.wantDetail, rep.Trace[0].Detail)
		})
	}
}

func TestRun_NoCatalogCheckerConfigured(t *testing.T) {
	o := newTestOrchestrator(t, fault.NewFakeInjector())
	sc := &scenario.Scenario{
		Name:        "catalog",
		Description: "d",
		Steps:       []scenario.Step{{Name: "s1", CheckCatalog: true}},
	}

	rep := o.Run(context.Background(), sc)
	require.Len(t, rep.Steps, 1)
	assert.Equal(t, OutcomeError, rep.Steps[0].Outcome)
	assert.Equal(t, []string{"no catalog checker configured"}, rep.Steps[0].Errors)
}

func TestRun_BodyAndTeardownFailuresBothReported(t *testing.T) {
	fake := fault.NewFakeInjector()
	o := newTestOrchestrator(t, fake)
	// The body fails, then sabotages the transport so the teardown reset
	// fails too.
	o.RegisterAction("fail", func(context.Context) error {
		fake.FailNext = 3
		return errors.New("drop rejected")
	})

	sc := &scenario.Scenario{
		Name:        "double-failure",
		Description: "d",
		Steps: []scenario.Step{{
			Name:   "s1",
			Action: "fail",
			Reset:  &scenario.ResetSpec{Fault: "reindex_db", Role: "primary", SegID: 1},
		}},
	}

	rep := o.Run(context.Background(), sc)

	require.Len(t, rep.Steps, 1)
	res := rep.Steps[0]
	assert.Equal(t, OutcomeError, res.Outcome) // reset error outranks the body fail
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "drop rejected")
	assert.Contains(t, res.Errors[1], "UNREACHABLE")
}

func TestRun_PersistsHistory(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer st.Close()

	fake := fault.NewFakeInjector()
	fake.Script(reindexPoint, fault.StatusTriggered)

	clock := testutil.NewFakeClock(time.Second)
	o := newTestOrchestrator(t, fake, WithHistory(st))
	o.now = clock.Now
	o.RegisterAction("reindex", func(context.Context) error { return nil })
	o.RegisterAction("drop", func(context.Context) error { return nil })

	sc := &scenario.Scenario{
		Name:        "reindex_db_interleave",
		Description: "d",
		Steps:       []scenario.Step{armStep("reindex_db"), awaitStep("drop_obj", "reindex_db", 20)},
	}

	rep := o.Run(context.Background(), sc)
	require.True(t, rep.Pass)

	run, steps, events, err := st.ReadRun(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, "reindex_db_interleave", run.Scenario)
	assert.True(t, run.Pass)
	assert.True(t, run.FinishedAt.After(run.StartedAt))

	require.Len(t, steps, 2)
	assert.Equal(t, "reindex_db", steps[0].Name)
	assert.Equal(t, "pass", steps[0].Outcome)
	assert.Equal(t, "drop_obj", steps[1].Name)
	assert.Equal(t, 1, steps[1].Cycles)
	assert.Equal(t, "triggered", steps[1].LastStatus)

	require.Len(t, events, 5)
	assert.Equal(t, "arm", events[0].Kind)
	assert.Equal(t, "reset", events[4].Kind)
}

func TestRun_StepOrderIsDeclarationOrder(t *testing.T) {
	o := newTestOrchestrator(t, fault.NewFakeInjector())
	o.RegisterAction("noop", func(context.Context) error { return nil })

	sc := &scenario.Scenario{
		Name:        "order",
		Description: "d",
		Steps: []scenario.Step{
			{Name: "c", Action: "noop"},
			{Name: "a", Action: "noop"},
			{Name: "b", Action: "noop"},
		},
	}

	rep := o.Run(context.Background(), sc)
	require.Len(t, rep.Steps, 3)
	assert.Equal(t, "c", rep.Steps[0].Name)
	assert.Equal(t, "a", rep.Steps[1].Name)
	assert.Equal(t, "b", rep.Steps[2].Name)
}
