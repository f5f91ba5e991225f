package fault

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Default transport retry policy. Logical errors are never retried.
const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 100 * time.Millisecond
)

// Controller owns the client-side lifecycle of fault points and layers the
// retry and state-machine discipline over a raw Injector.
//
// Lifecycle per point: Unarmed -> Armed(action) -> {Triggered, Failed} ->
// Unarmed (via Reset). Reset is a self-loop from any state back to Unarmed.
//
// Controller methods are safe for concurrent use, though scenarios drive
// them strictly sequentially.
type Controller struct {
	injector Injector
	logger   *slog.Logger

	maxAttempts    int
	initialBackoff time.Duration
	sleep          func(time.Duration)

	mu     sync.Mutex
	states map[Point]state
	armed  map[Point]Action
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRetry overrides the transport retry policy.
func WithRetry(maxAttempts int, initialBackoff time.Duration) Option {
	return func(c *Controller) {
		c.maxAttempts = maxAttempts
		c.initialBackoff = initialBackoff
	}
}

// WithSleep replaces the sleep function used between poll cycles and retry
// backoffs. Tests use this to run polling loops without real delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// NewController creates a Controller over the given injector.
func NewController(injector Injector, opts ...Option) *Controller {
	c := &Controller{
		injector:       injector,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		sleep:          time.Sleep,
		states:         make(map[Point]state),
		armed:          make(map[Point]Action),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Arm installs action at the point.
//
// Fails with ALREADY_ARMED if the point is not in the Unarmed state, without
// contacting the endpoint. Triggered and Failed points count as armed: only
// Reset returns a point to Unarmed. Transport failures are retried with
// bounded backoff before surfacing UNREACHABLE.
func (c *Controller) Arm(ctx context.Context, p Point, action Action) error {
	c.mu.Lock()
	if c.states[p] != stateUnarmed {
		prev := c.armed[p]
		c.mu.Unlock()
		return newAlreadyArmed(p, prev)
	}
	c.mu.Unlock()

	err := c.withRetry(ctx, p, func() error {
		return c.injector.Inject(ctx, p, action)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.states[p] = stateArmed
	c.armed[p] = action
	c.mu.Unlock()

	c.logger.Info("fault armed", "point", p.String(), "action", string(action))
	return nil
}

// Await polls the point until it reports want, up to maxCycles polls with
// cycleDelay sleeps between them. Returns the number of polls performed.
//
// maxCycles == 0 fails immediately with TIMEOUT and performs zero polls.
// A TIMEOUT carries the cycles attempted and the last observed status; it
// marks the waiting step failed but leaves the controller state intact.
// Context cancellation is honored between cycles.
func (c *Controller) Await(ctx context.Context, p Point, want Status, maxCycles int, cycleDelay time.Duration) (int, error) {
	last := Status("")
	for cycle := 0; cycle < maxCycles; cycle++ {
		if cycle > 0 {
			c.sleep(cycleDelay)
		}
		if err := ctx.Err(); err != nil {
			return cycle, err
		}

		var st Status
		err := c.withRetry(ctx, p, func() error {
			var serr error
			st, serr = c.injector.Status(ctx, p)
			return serr
		})
		if err != nil {
			return cycle, err
		}
		last = st

		if st == want {
			c.observe(p, st)
			c.logger.Info("fault status reached",
				"point", p.String(), "status", string(st), "cycles", cycle+1)
			return cycle + 1, nil
		}
	}

	c.logger.Warn("fault status wait exhausted",
		"point", p.String(), "want", string(want), "cycles", maxCycles, "last", string(last))
	return maxCycles, newTimeout(p, want, maxCycles, last)
}

// Reset disarms the point unconditionally and returns it to Unarmed.
// Resetting a point that was never armed is not an error; the endpoint
// treats reset as idempotent and so does the controller. Only UNREACHABLE
// is possible.
func (c *Controller) Reset(ctx context.Context, p Point) error {
	err := c.withRetry(ctx, p, func() error {
		return c.injector.Inject(ctx, p, ActionReset)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.states[p] = stateUnarmed
	delete(c.armed, p)
	c.mu.Unlock()

	c.logger.Info("fault reset", "point", p.String())
	return nil
}

// IsArmed reports whether the controller believes the point is currently
// armed, triggered included.
func (c *Controller) IsArmed(p Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.states[p]
	return s == stateArmed || s == stateTriggered || s == stateFailed
}

// observe folds a polled status into the client-side state machine.
func (c *Controller) observe(p Point, st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch st {
	case StatusTriggered:
		c.states[p] = stateTriggered
	case StatusFailed:
		c.states[p] = stateFailed
	case StatusReset:
		c.states[p] = stateUnarmed
		delete(c.armed, p)
	}
}

// withRetry runs fn, retrying transport failures with exponential backoff up
// to the configured attempt budget. An exhausted budget surfaces as
// UNREACHABLE wrapping the final transport error.
func (c *Controller) withRetry(ctx context.Context, p Point, fn func() error) error {
	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("injection endpoint call failed",
			"point", p.String(), "attempt", attempt, "error", lastErr)
		if attempt < c.maxAttempts {
			c.sleep(backoff)
			backoff *= 2
		}
	}
	return newUnreachable(p, c.maxAttempts, lastErr)
}
