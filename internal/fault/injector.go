package fault

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Injector is the narrow contract over the external fault-injection
// endpoint. Implementations report transport problems as plain errors; the
// Controller owns retry classification and the client-side state machine.
type Injector interface {
	// Inject installs action at the given point.
	Inject(ctx context.Context, p Point, action Action) error

	// Status reports the current status of the given point.
	Status(ctx context.Context, p Point) (Status, error)
}

// Querier is the subset of pgx connection behavior SQLInjector needs.
// Both *pgxpool.Pool and *pgx.Conn satisfy it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQLInjector drives fault points through the server's gp_inject_fault
// function, issued against the coordinator. Segment targets are resolved to
// dbids through gp_segment_configuration and cached for the injector's
// lifetime (segment ids are stable within a test run).
type SQLInjector struct {
	db Querier

	mu    sync.Mutex
	dbids map[Point]int
}

// NewSQLInjector creates an injector over an open coordinator connection.
func NewSQLInjector(db Querier) *SQLInjector {
	return &SQLInjector{
		db:    db,
		dbids: make(map[Point]int),
	}
}

// Inject implements Injector.
func (s *SQLInjector) Inject(ctx context.Context, p Point, action Action) error {
	dbid, err := s.resolveDBID(ctx, p)
	if err != nil {
		return err
	}

	var ack string
	err = s.db.QueryRow(ctx,
		"SELECT gp_inject_fault($1, $2, $3)",
		p.Name, string(action), dbid,
	).Scan(&ack)
	if err != nil {
		return fmt.Errorf("inject %s %s: %w", action, p, err)
	}
	return nil
}

// Status implements Injector. The server reports status as a text blob; the
// relevant token is the fault state keyword.
func (s *SQLInjector) Status(ctx context.Context, p Point) (Status, error) {
	dbid, err := s.resolveDBID(ctx, p)
	if err != nil {
		return "", err
	}

	var report string
	err = s.db.QueryRow(ctx,
		"SELECT gp_inject_fault($1, 'status', $2)",
		p.Name, dbid,
	).Scan(&report)
	if err != nil {
		return "", fmt.Errorf("status %s: %w", p, err)
	}
	return ParseStatus(report), nil
}

// resolveDBID maps (role, content) to the segment's dbid.
func (s *SQLInjector) resolveDBID(ctx context.Context, p Point) (int, error) {
	s.mu.Lock()
	if dbid, ok := s.dbids[p]; ok {
		s.mu.Unlock()
		return dbid, nil
	}
	s.mu.Unlock()

	roleChar := "p"
	if p.Role == RoleMirror {
		roleChar = "m"
	}

	var dbid int
	err := s.db.QueryRow(ctx,
		"SELECT dbid FROM gp_segment_configuration WHERE role = $1 AND content = $2",
		roleChar, p.SegID,
	).Scan(&dbid)
	if err != nil {
		return 0, fmt.Errorf("resolve dbid for %s: %w", p, err)
	}

	s.mu.Lock()
	s.dbids[p] = dbid
	s.mu.Unlock()
	return dbid, nil
}

// ParseStatus extracts the fault status keyword from a server status report.
// "not triggered" must be checked before "triggered" (substring overlap).
// Unrecognized reports map to StatusNotTriggered so a garbled report reads as
// "keep polling" rather than a spurious match.
func ParseStatus(report string) Status {
	r := strings.ToLower(report)
	switch {
	case strings.Contains(r, string(StatusNotTriggered)):
		return StatusNotTriggered
	case strings.Contains(r, string(StatusTriggered)):
		return StatusTriggered
	case strings.Contains(r, string(StatusFailed)):
		return StatusFailed
	case strings.Contains(r, string(StatusReset)):
		return StatusReset
	default:
		return StatusNotTriggered
	}
}
