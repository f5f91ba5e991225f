// Package fixture runs SQL fixture directories: every .sql file under a
// fixture's sql_dir is executed against a live session, its captured output
// written to out_dir, and diffed against the matching .ans file in ans_dir.
package fixture

import (
	"context"
	"errors"
	"fmt"

	"github.com/relstor/faultline/internal/scenario"
)

// Runner executes a fixture directory triple under a GUC environment and
// reports a per-file verdict. The orchestrator invokes this as a step body.
type Runner interface {
	Run(ctx context.Context, spec scenario.FixtureSpec, gucs map[string]string) ([]FileResult, error)
}

// FileResult is the verdict for one fixture file.
type FileResult struct {
	// Name is the fixture file name, e.g. "reindex_db_setup.sql".
	Name string `json:"name"`

	// Pass is true when actual output matched the expected output.
	Pass bool `json:"pass"`

	// Diff holds the mismatch between expected and actual output when
	// Pass is false.
	Diff string `json:"diff,omitempty"`
}

// Error represents a fixture execution failure.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// File is the fixture file involved.
	File string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes fixture errors.
type ErrorCode string

const (
	// ErrCodeDiffMismatch indicates actual output diverged from expected.
	ErrCodeDiffMismatch ErrorCode = "DIFF_MISMATCH"

	// ErrCodeExecution indicates a fixture could not be executed at all
	// (unreadable file, session failure, write failure).
	ErrCodeExecution ErrorCode = "EXECUTION_ERROR"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.File, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.File, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsDiffMismatch reports whether err is a DIFF_MISMATCH fixture error.
func IsDiffMismatch(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == ErrCodeDiffMismatch
}
