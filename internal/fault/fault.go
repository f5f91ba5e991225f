// Package fault provides the synchronization primitives used to coordinate
// test scenarios around named fault points in a running database cluster.
//
// A fault point is an instrumentation hook compiled into the server. Arming a
// point installs a behavior (suspend, error, ...) that fires when the server
// reaches the hooked code path. The package exposes three primitives over an
// external injection endpoint:
//
//   - Arm: install a behavior at a point
//   - Await: block until the point reports a wanted status, bounded by a
//     cycle budget
//   - Reset: disarm the point unconditionally
//
// The external endpoint owns the real fault table; this package only mirrors
// enough state to catch scenario authoring mistakes (double-arm) on the
// client side.
package fault

import "fmt"

// Role selects which half of a segment pair a fault targets.
type Role string

const (
	RolePrimary Role = "primary"
	RoleMirror  Role = "mirror"
)

// Point identifies a named fault point on one segment.
type Point struct {
	// Name is the server-side identifier of the instrumentation hook,
	// e.g. "reindex_db" or "reindex_relation".
	Name string

	// Role selects the primary or mirror of the target segment.
	Role Role

	// SegID is the content id of the target segment (non-negative).
	SegID int
}

// String returns the point in name@role/seg form for logs and errors.
func (p Point) String() string {
	return fmt.Sprintf("%s@%s/%d", p.Name, p.Role, p.SegID)
}

// Action is the behavior installed when a point is armed.
type Action string

const (
	// ActionSuspend pauses the server process at the hook until reset.
	ActionSuspend Action = "suspend"

	// ActionError makes the hooked code path raise an error once.
	ActionError Action = "error"

	// ActionPanic crashes the hooked process. Used by crash-recovery
	// scenarios; the point does not survive the restart.
	ActionPanic Action = "panic"

	// ActionSleep delays the hooked code path instead of blocking it.
	ActionSleep Action = "sleep"

	// ActionReset disarms the point. Exposed as an Action because the
	// injection endpoint models reset as just another inject call.
	ActionReset Action = "reset"
)

// Status is the observable state of an armed point, as reported by the
// injection endpoint.
type Status string

const (
	StatusNotTriggered Status = "not triggered"
	StatusTriggered    Status = "triggered"
	StatusFailed       Status = "failed"
	StatusReset        Status = "reset"
)

// state is the client-side mirror of a point's lifecycle:
// unarmed -> armed -> {triggered, failed} -> unarmed (via reset).
type state int

const (
	stateUnarmed state = iota
	stateArmed
	stateTriggered
	stateFailed
)
