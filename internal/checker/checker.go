// Package checker verifies catalog consistency after a scenario has poked at
// reindex and vacuum code paths. It runs a fixed set of cross-catalog
// queries; each returned row is a violation.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// Checker is the catalog verifier contract the orchestrator consumes.
type Checker interface {
	Check(ctx context.Context) (*Report, error)
}

// Report is the outcome of a catalog consistency pass.
type Report struct {
	// Consistent is true when every check came back clean.
	Consistent bool `json:"consistent"`

	// Checks holds per-check diagnostics in execution order.
	Checks []CheckResult `json:"checks"`
}

// CheckResult is the outcome of one cross-catalog query.
type CheckResult struct {
	// Name identifies the check.
	Name string `json:"name"`

	// Violations lists offending catalog rows, one string per row.
	// Empty when the check passed.
	Violations []string `json:"violations,omitempty"`
}

// Error reports catalog inconsistency found by a check pass.
type Error struct {
	// Report carries the per-check diagnostics.
	Report *Report
}

// ErrCodeCatalogInconsistent is the single error category of this package.
const ErrCodeCatalogInconsistent = "CATALOG_INCONSISTENT"

// Error implements the error interface.
func (e *Error) Error() string {
	n := 0
	for _, c := range e.Report.Checks {
		n += len(c.Violations)
	}
	return fmt.Sprintf("%s: %d violation(s) across %d check(s)",
		ErrCodeCatalogInconsistent, n, len(e.Report.Checks))
}

// IsInconsistent reports whether err is a catalog inconsistency error.
func IsInconsistent(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// NewInconsistentError wraps a failed report as an error.
func NewInconsistentError(report *Report) *Error {
	return &Error{Report: report}
}

// Querier is the subset of pgx connection behavior CatalogChecker needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// catalogCheck pairs a check name with the query that finds its violations.
// Each query returns one text column describing the offending row.
type catalogCheck struct {
	name  string
	query string
}

// The check set mirrors what reindex scenarios can actually corrupt:
// index catalog entries, their parent relations, and dependency rows.
var catalogChecks = []catalogCheck{
	{
		name: "index_without_relation",
		query: `SELECT 'indexrelid=' || i.indexrelid
		          FROM pg_index i
		          LEFT JOIN pg_class c ON c.oid = i.indexrelid
		         WHERE c.oid IS NULL`,
	},
	{
		name: "index_on_missing_table",
		query: `SELECT 'indrelid=' || i.indrelid
		          FROM pg_index i
		          LEFT JOIN pg_class c ON c.oid = i.indrelid
		         WHERE c.oid IS NULL`,
	},
	{
		name: "index_relation_without_entry",
		query: `SELECT 'oid=' || c.oid || ' relname=' || c.relname
		          FROM pg_class c
		          LEFT JOIN pg_index i ON i.indexrelid = c.oid
		         WHERE c.relkind = 'i' AND i.indexrelid IS NULL`,
	},
	{
		name: "dangling_dependency",
		query: `SELECT 'objid=' || d.objid
		          FROM pg_depend d
		          LEFT JOIN pg_class c ON c.oid = d.objid
		         WHERE d.classid = 'pg_class'::regclass AND c.oid IS NULL`,
	},
}

// CatalogChecker runs the catalog check set over a coordinator connection.
type CatalogChecker struct {
	db     Querier
	logger *slog.Logger
}

// NewCatalogChecker creates a checker over an open coordinator connection.
func NewCatalogChecker(db Querier, logger *slog.Logger) *CatalogChecker {
	return &CatalogChecker{db: db, logger: logger}
}

// Check implements Checker. Transport failures abort the pass; violations do
// not (every check always runs so the report is complete).
func (c *CatalogChecker) Check(ctx context.Context) (*Report, error) {
	report := &Report{Consistent: true}
	for _, check := range catalogChecks {
		violations, err := c.runCheck(ctx, check)
		if err != nil {
			return nil, fmt.Errorf("catalog check %s: %w", check.name, err)
		}
		if len(violations) > 0 {
			report.Consistent = false
			c.logger.Warn("catalog check failed",
				"check", check.name, "violations", len(violations))
		}
		report.Checks = append(report.Checks, CheckResult{
			Name:       check.name,
			Violations: violations,
		})
	}
	return report, nil
}

func (c *CatalogChecker) runCheck(ctx context.Context, check catalogCheck) ([]string, error) {
	rows, err := c.db.Query(ctx, check.query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []string
	for rows.Next() {
		var row string
		if err := rows.Scan(&row); err != nil {
			return nil, err
		}
		violations = append(violations, row)
	}
	return violations, rows.Err()
}
