package fault

import (
	"context"
	"sync"
)

// FakeInjector is an in-memory Injector for tests. Status responses are
// scripted per point: each Status call pops the next queued status, and the
// final queued status repeats once the script is exhausted. Transport
// failures can be simulated by setting FailNext.
//
// Exported so scenario and orchestrator tests can drive the fault machinery
// without a cluster.
type FakeInjector struct {
	mu sync.Mutex

	// FailNext makes the next n Inject/Status calls return errTransport.
	FailNext int

	armed    map[Point]Action
	script   map[Point][]Status
	injects  []injectCall
	polls    map[Point]int
	failures int
}

type injectCall struct {
	Point  Point
	Action Action
}

type transportError struct{}

func (transportError) Error() string { return "connection refused" }

// NewFakeInjector creates an empty fake with no scripted statuses.
func NewFakeInjector() *FakeInjector {
	return &FakeInjector{
		armed:  make(map[Point]Action),
		script: make(map[Point][]Status),
		polls:  make(map[Point]int),
	}
}

// Script queues the statuses a point will report, in order.
func (f *FakeInjector) Script(p Point, statuses ...Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[p] = append(f.script[p], statuses...)
}

// Inject implements Injector.
func (f *FakeInjector) Inject(_ context.Context, p Point, action Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext > 0 {
		f.FailNext--
		f.failures++
		return transportError{}
	}
	f.injects = append(f.injects, injectCall{Point: p, Action: action})
	if action == ActionReset {
		delete(f.armed, p)
		f.script[p] = nil
	} else {
		f.armed[p] = action
	}
	return nil
}

// Status implements Injector.
func (f *FakeInjector) Status(_ context.Context, p Point) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext > 0 {
		f.FailNext--
		f.failures++
		return "", transportError{}
	}
	f.polls[p]++
	q := f.script[p]
	if len(q) == 0 {
		return StatusNotTriggered, nil
	}
	st := q[0]
	if len(q) > 1 {
		f.script[p] = q[1:]
	}
	return st, nil
}

// Polls returns how many Status calls the point has received.
func (f *FakeInjector) Polls(p Point) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[p]
}

// Armed returns the action currently installed at the point, if any.
func (f *FakeInjector) Armed(p Point) (Action, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.armed[p]
	return a, ok
}

// Injects returns the sequence of Inject calls received so far as
// "action point" strings, preserving order.
func (f *FakeInjector) Injects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.injects))
	for i, c := range f.injects {
		out[i] = string(c.Action) + " " + c.Point.String()
	}
	return out
}
