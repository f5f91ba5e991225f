package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relstor/faultline/internal/scenario"
)

// Session is one database session. GUCs set on it persist for its lifetime,
// which is why every fixture file gets a fresh session.
type Session interface {
	// Run executes a single statement and returns its captured output in
	// the fixture text format. Server-side SQL errors are part of the
	// captured output, not Go errors; only transport-level failures
	// surface as errors.
	Run(ctx context.Context, stmt string) (string, error)

	// Close releases the session.
	Close(ctx context.Context) error
}

// ConnectFunc opens a new Session.
type ConnectFunc func(ctx context.Context) (Session, error)

// SQLRunner executes fixture directories over per-file database sessions.
type SQLRunner struct {
	connect ConnectFunc
	logger  *slog.Logger
}

// NewSQLRunner creates a runner that connects with pgx using the given DSN.
func NewSQLRunner(dsn string, logger *slog.Logger) *SQLRunner {
	return &SQLRunner{
		connect: func(ctx context.Context) (Session, error) {
			conn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return nil, err
			}
			return &pgxSession{conn: conn}, nil
		},
		logger: logger,
	}
}

// NewRunnerWithConnect creates a runner over a custom session factory.
// Tests use this to substitute scripted sessions.
func NewRunnerWithConnect(connect ConnectFunc, logger *slog.Logger) *SQLRunner {
	return &SQLRunner{connect: connect, logger: logger}
}

// Run implements Runner. Fixture files execute in lexical order, each in a
// fresh session with the scenario GUCs applied first. Output mismatches are
// reported per file; only environment problems (unreadable fixture, missing
// expected file, transport failure) abort the run.
func (r *SQLRunner) Run(ctx context.Context, spec scenario.FixtureSpec, gucs map[string]string) ([]FileResult, error) {
	entries, err := os.ReadDir(spec.SQLDir)
	if err != nil {
		return nil, &Error{Code: ErrCodeExecution, File: spec.SQLDir, Message: "read fixture dir", Err: err}
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	results := make([]FileResult, 0, len(files))
	for _, name := range files {
		res, err := r.runFile(ctx, spec, name, gucs)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *SQLRunner) runFile(ctx context.Context, spec scenario.FixtureSpec, name string, gucs map[string]string) (FileResult, error) {
	script, err := os.ReadFile(filepath.Join(spec.SQLDir, name))
	if err != nil {
		return FileResult{}, &Error{Code: ErrCodeExecution, File: name, Message: "read fixture", Err: err}
	}

	sess, err := r.connect(ctx)
	if err != nil {
		return FileResult{}, &Error{Code: ErrCodeExecution, File: name, Message: "open session", Err: err}
	}
	defer sess.Close(ctx)

	// GUC environment first; a GUC that does not apply is an environment
	// problem, not a fixture mismatch.
	gucNames := make([]string, 0, len(gucs))
	for guc := range gucs {
		gucNames = append(gucNames, guc)
	}
	sort.Strings(gucNames)
	for _, guc := range gucNames {
		if _, err := sess.Run(ctx, fmt.Sprintf("SET %s TO '%s'", guc, gucs[guc])); err != nil {
			return FileResult{}, &Error{Code: ErrCodeExecution, File: name, Message: "apply guc " + guc, Err: err}
		}
	}

	var out strings.Builder
	for _, stmt := range SplitStatements(string(script)) {
		captured, err := sess.Run(ctx, stmt)
		if err != nil {
			return FileResult{}, &Error{Code: ErrCodeExecution, File: name, Message: "execute statement", Err: err}
		}
		out.WriteString(captured)
		if !strings.HasSuffix(captured, "\n") {
			out.WriteString("\n")
		}
	}

	actual := out.String()
	outName := strings.TrimSuffix(name, ".sql") + ".out"
	if err := os.WriteFile(filepath.Join(spec.OutDir, outName), []byte(actual), 0o644); err != nil {
		return FileResult{}, &Error{Code: ErrCodeExecution, File: name, Message: "write output", Err: err}
	}

	ansName := strings.TrimSuffix(name, ".sql") + ".ans"
	expected, err := os.ReadFile(filepath.Join(spec.AnsDir, ansName))
	if err != nil {
		return FileResult{}, &Error{Code: ErrCodeExecution, File: name, Message: "read expected output", Err: err}
	}

	diff := Diff(string(expected), actual)
	if diff != "" {
		r.logger.Warn("fixture output mismatch", "file", name)
		return FileResult{Name: name, Pass: false, Diff: diff}, nil
	}
	return FileResult{Name: name, Pass: true}, nil
}

// SplitStatements splits a SQL script into statements on semicolons outside
// string literals and comments. Block comments nest, as in Postgres.
// Statement text keeps its internal formatting; empty statements are dropped.
func SplitStatements(script string) []string {
	var (
		stmts      []string
		current    strings.Builder
		inQuote    bool
		inIdent    bool
		inComment  bool
		blockDepth int
	)

	for i := 0; i < len(script); i++ {
		ch := script[i]

		if inComment {
			current.WriteByte(ch)
			if ch == '\n' {
				inComment = false
			}
			continue
		}

		if blockDepth > 0 {
			current.WriteByte(ch)
			if ch == '*' && i+1 < len(script) && script[i+1] == '/' {
				current.WriteByte('/')
				i++
				blockDepth--
			} else if ch == '/' && i+1 < len(script) && script[i+1] == '*' {
				current.WriteByte('*')
				i++
				blockDepth++
			}
			continue
		}

		switch {
		case inQuote:
			current.WriteByte(ch)
			if ch == '\'' {
				inQuote = false
			}
		case inIdent:
			current.WriteByte(ch)
			if ch == '"' {
				inIdent = false
			}
		case ch == '\'':
			inQuote = true
			current.WriteByte(ch)
		case ch == '"':
			inIdent = true
			current.WriteByte(ch)
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			inComment = true
			current.WriteByte(ch)
		case ch == '/' && i+1 < len(script) && script[i+1] == '*':
			blockDepth = 1
			current.WriteString("/*")
			i++
		case ch == ';':
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

// pgxSession captures statement output in the fixture text format over a
// dedicated pgx connection.
type pgxSession struct {
	conn *pgx.Conn
}

func (s *pgxSession) Run(ctx context.Context, stmt string) (string, error) {
	rows, err := s.conn.Query(ctx, stmt)
	if err != nil {
		return captureSQLError(err)
	}
	defer rows.Close()

	headers := make([]string, 0, 4)
	for _, fd := range rows.FieldDescriptions() {
		headers = append(headers, string(fd.Name))
	}

	var table [][]string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return captureSQLError(err)
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			if v == nil {
				row[i] = ""
			} else {
				row[i] = fmt.Sprint(v)
			}
		}
		table = append(table, row)
	}
	if err := rows.Err(); err != nil {
		return captureSQLError(err)
	}

	if len(headers) == 0 {
		// Utility statement: capture the command tag, like psql does.
		return rows.CommandTag().String(), nil
	}
	return FormatTable(headers, table), nil
}

func (s *pgxSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// captureSQLError turns server-reported errors into captured fixture output;
// anything else (broken connection) stays a Go error.
func captureSQLError(err error) (string, error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "ERROR:  " + pgErr.Message, nil
	}
	return "", err
}

// FormatTable renders a result set in the fixture text format: pipe-separated
// header, one row per line, and a psql-style row count trailer.
func FormatTable(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(headers, " | "))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(strings.Join(row, " | "))
		b.WriteString("\n")
	}
	if len(rows) == 1 {
		b.WriteString("(1 row)\n")
	} else {
		fmt.Fprintf(&b, "(%d rows)\n", len(rows))
	}
	return b.String()
}
