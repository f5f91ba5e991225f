package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReadRun returns a run with its step results and fault events.
// Steps and events are ordered by seq; empty slices (not nil) are returned
// when nothing was recorded.
func (s *Store) ReadRun(ctx context.Context, id string) (RunRow, []StepRow, []EventRow, error) {
	run, err := s.readRunRow(ctx, id)
	if err != nil {
		return RunRow{}, nil, nil, err
	}

	steps, err := s.readSteps(ctx, id)
	if err != nil {
		return RunRow{}, nil, nil, err
	}

	events, err := s.readEvents(ctx, id)
	if err != nil {
		return RunRow{}, nil, nil, err
	}

	return run, steps, events, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, started_at, finished_at, pass
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRow{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (s *Store) readRunRow(ctx context.Context, id string) (RunRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, started_at, finished_at, pass
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRow{}, fmt.Errorf("run %q not found", id)
	}
	return run, err
}

func (s *Store) readSteps(ctx context.Context, runID string) ([]StepRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, name, outcome, error, cycles, last_status, duration_ms
		FROM step_results
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query step results: %w", err)
	}
	defer rows.Close()

	steps := []StepRow{}
	for rows.Next() {
		var (
			row        StepRow
			errText    sql.NullString
			lastStatus sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&row.Seq, &row.Name, &row.Outcome, &errText,
			&row.Cycles, &lastStatus, &durationMS); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		row.Error = errText.String
		row.LastStatus = lastStatus.String
		row.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step results: %w", err)
	}
	return steps, nil
}

func (s *Store) readEvents(ctx context.Context, runID string) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, step, kind, point, detail
		FROM fault_events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fault events: %w", err)
	}
	defer rows.Close()

	events := []EventRow{}
	for rows.Next() {
		var (
			ev     EventRow
			point  sql.NullString
			detail sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &ev.Step, &ev.Kind, &point, &detail); err != nil {
			return nil, fmt.Errorf("scan fault event: %w", err)
		}
		ev.Point = point.String
		ev.Detail = detail.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fault events: %w", err)
	}
	return events, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRow, error) {
	var (
		run        RunRow
		startedAt  string
		finishedAt sql.NullString
		pass       int
	)
	if err := sc.Scan(&run.ID, &run.Scenario, &startedAt, &finishedAt, &pass); err != nil {
		return RunRow{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return RunRow{}, fmt.Errorf("parse started_at: %w", err)
	}
	run.StartedAt = t

	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return RunRow{}, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = t
	}

	run.Pass = pass == 1
	return run, nil
}
