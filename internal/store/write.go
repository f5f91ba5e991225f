package store

import (
	"context"
	"fmt"
	"time"
)

// StepRow is one persisted step result.
type StepRow struct {
	Seq        int
	Name       string
	Outcome    string
	Error      string
	Cycles     int
	LastStatus string
	Duration   time.Duration
}

// EventRow is one persisted fault event.
type EventRow struct {
	Seq    int
	Step   string
	Kind   string
	Point  string
	Detail string
}

// RunRow is one persisted scenario run.
type RunRow struct {
	ID         string
	Scenario   string
	StartedAt  time.Time
	FinishedAt time.Time
	Pass       bool
}

// BeginRun records the start of a scenario run.
func (s *Store) BeginRun(ctx context.Context, id, scenarioName string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, started_at, pass)
		VALUES (?, ?, ?, 0)
	`, id, scenarioName, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a scenario run.
func (s *Store) FinishRun(ctx context.Context, id string, pass bool, finishedAt time.Time) error {
	passInt := 0
	if pass {
		passInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET pass = ?, finished_at = ? WHERE id = ?
	`, passInt, finishedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// WriteStepResult inserts one step result for a run.
// Uses ON CONFLICT DO NOTHING for idempotency on (run_id, seq).
func (s *Store) WriteStepResult(ctx context.Context, runID string, row StepRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_results
		(run_id, seq, name, outcome, error, cycles, last_status, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		runID,
		row.Seq,
		row.Name,
		row.Outcome,
		row.Error,
		row.Cycles,
		row.LastStatus,
		row.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("write step result: %w", err)
	}
	return nil
}

// WriteFaultEvent appends one fault event to a run's trace.
func (s *Store) WriteFaultEvent(ctx context.Context, runID string, ev EventRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fault_events (run_id, seq, step, kind, point, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, ev.Seq, ev.Step, ev.Kind, ev.Point, ev.Detail)
	if err != nil {
		return fmt.Errorf("write fault event: %w", err)
	}
	return nil
}
