package fault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relstor/faultline/internal/testutil"
)

var testPoint = Point{Name: "reindex_db", Role: RolePrimary, SegID: 1}

func newTestController(inj Injector) (*Controller, *testutil.SleepRecorder) {
	rec := &testutil.SleepRecorder{}
	return NewController(inj, WithSleep(rec.Sleep)), rec
}

func TestArm_InstallsAction(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)

	require.NoError(t, c.Arm(context.Background(), testPoint, ActionSuspend))

	action, ok := inj.Armed(testPoint)
	require.True(t, ok)
	assert.Equal(t, ActionSuspend, action)
	assert.True(t, c.IsArmed(testPoint))
}

func TestArm_AlreadyArmed(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)
	ctx := context.Background()

	require.NoError(t, c.Arm(ctx, testPoint, ActionSuspend))

	err := c.Arm(ctx, testPoint, ActionSuspend)
	require.Error(t, err)
	assert.True(t, IsAlreadyArmed(err))
	// Rejected client-side: the endpoint saw exactly one inject.
	assert.Len(t, inj.Injects(), 1)
}

func TestArm_TriggeredPointRequiresReset(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)
	ctx := context.Background()

	require.NoError(t, c.Arm(ctx, testPoint, ActionSuspend))
	inj.Script(testPoint, StatusTriggered)
	_, err := c.Await(ctx, testPoint, StatusTriggered, 5, time.Millisecond)
	require.NoError(t, err)

	// Triggered is still armed: re-arming without reset is rejected.
	err = c.Arm(ctx, testPoint, ActionError)
	require.Error(t, err)
	assert.True(t, IsAlreadyArmed(err))
	assert.Len(t, inj.Injects(), 1)

	require.NoError(t, c.Reset(ctx, testPoint))
	require.NoError(t, c.Arm(ctx, testPoint, ActionError))

	// Same discipline once the point reports failed.
	inj.Script(testPoint, StatusFailed)
	_, err = c.Await(ctx, testPoint, StatusFailed, 5, time.Millisecond)
	require.NoError(t, err)
	err = c.Arm(ctx, testPoint, ActionSuspend)
	assert.True(t, IsAlreadyArmed(err))
}

func TestArm_AfterResetSucceeds(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)
	ctx := context.Background()

	require.NoError(t, c.Arm(ctx, testPoint, ActionSuspend))
	require.NoError(t, c.Reset(ctx, testPoint))
	require.NoError(t, c.Arm(ctx, testPoint, ActionSuspend))
	assert.True(t, c.IsArmed(testPoint))
}

func TestReset_IdempotentOnUnarmedPoint(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)
	ctx := context.Background()

	// Never armed: reset is not an error.
	require.NoError(t, c.Reset(ctx, testPoint))
	assert.False(t, c.IsArmed(testPoint))

	// And again.
	require.NoError(t, c.Reset(ctx, testPoint))
	assert.False(t, c.IsArmed(testPoint))
}

func TestAwait_ZeroCyclesFailsWithoutPolling(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)

	cycles, err := c.Await(context.Background(), testPoint, StatusTriggered, 0, time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, 0, cycles)
	assert.Equal(t, 0, inj.Polls(testPoint))
}

func TestAwait_TimeoutAfterExactBudget(t *testing.T) {
	inj := NewFakeInjector()
	c, rec := newTestController(inj)
	// Status never leaves "not triggered".

	cycles, err := c.Await(context.Background(), testPoint, StatusTriggered, 5, 10*time.Millisecond)
	require.Error(t, err)
	require.True(t, IsTimeout(err))
	assert.Equal(t, 5, cycles)
	assert.Equal(t, 5, inj.Polls(testPoint))
	// Sleeps happen between polls, so 4 of them.
	assert.Equal(t, 4, rec.Count())

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrCodeTimeout, fe.Code)
	assert.Equal(t, 5, fe.Cycles)
	assert.Equal(t, StatusNotTriggered, fe.LastStatus)
}

func TestAwait_SucceedsWhenStatusFlips(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)
	inj.Script(testPoint, StatusNotTriggered, StatusNotTriggered, StatusTriggered)

	require.NoError(t, c.Arm(context.Background(), testPoint, ActionSuspend))
	cycles, err := c.Await(context.Background(), testPoint, StatusTriggered, 20, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, cycles)
	assert.Equal(t, 3, inj.Polls(testPoint))
	assert.True(t, c.IsArmed(testPoint), "triggered still counts as armed until reset")
}

func TestWithRetry_TransientTransportFailureRecovers(t *testing.T) {
	inj := NewFakeInjector()
	c, rec := newTestController(inj)
	inj.FailNext = 2 // first two calls fail, third succeeds

	require.NoError(t, c.Arm(context.Background(), testPoint, ActionSuspend))
	// Two backoff sleeps for the two failed attempts.
	require.Equal(t, 2, rec.Count())
	assert.Equal(t, []time.Duration{defaultInitialBackoff, 2 * defaultInitialBackoff}, rec.Sleeps())
}

func TestWithRetry_ExhaustedBudgetSurfacesUnreachable(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)
	inj.FailNext = defaultMaxAttempts

	err := c.Arm(context.Background(), testPoint, ActionSuspend)
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
	assert.False(t, c.IsArmed(testPoint))

	// Logical errors are not retried: a double-arm fails immediately.
	require.NoError(t, c.Arm(context.Background(), testPoint, ActionSuspend))
	err = c.Arm(context.Background(), testPoint, ActionSuspend)
	assert.True(t, IsAlreadyArmed(err))
	assert.False(t, IsUnreachable(err))
}

func TestAwait_ContextCancellationStopsPolling(t *testing.T) {
	inj := NewFakeInjector()
	c, _ := newTestController(inj)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Await(ctx, testPoint, StatusTriggered, 5, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, inj.Polls(testPoint))
}
