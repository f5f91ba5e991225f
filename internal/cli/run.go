package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relstor/faultline/internal/checker"
	"github.com/relstor/faultline/internal/fault"
	"github.com/relstor/faultline/internal/fixture"
	"github.com/relstor/faultline/internal/orchestrator"
	"github.com/relstor/faultline/internal/scenario"
	"github.com/relstor/faultline/internal/store"
	"github.com/relstor/faultline/internal/telemetry"
)

// RunOptions holds flags specific to the run command.
type RunOptions struct {
	SuiteRoot  string
	CycleDelay time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a scenario against a live cluster",
		Long: `Execute a fault-synchronized scenario against a live cluster.

Fixture directories in the scenario are resolved against --suite-root
(default: the scenario file's directory). Requires --db.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SuiteRoot, "suite-root", "", "base directory for fixture paths")
	cmd.Flags().DurationVar(&opts.CycleDelay, "cycle-delay", time.Second, "delay between fault status polls")

	return cmd
}

func runScenario(rootOpts *RootOptions, opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	if rootOpts.DB == "" {
		return NewExitError(ExitCommandError, "run requires --db")
	}

	template, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load scenario", err)
	}

	base := opts.SuiteRoot
	if base == "" {
		base = filepath.Dir(path)
	}
	sc, err := template.Bind(base)
	if err != nil {
		return WrapExitError(ExitCommandError, "bind scenario", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, rootOpts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect to database", err)
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return WrapExitError(ExitCommandError, "ping database", err)
	}

	logger := telemetry.NewLogger(cmd.ErrOrStderr())
	if !rootOpts.Verbose {
		logger = telemetry.Discard()
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithCycleDelay(opts.CycleDelay),
		orchestrator.WithFixtureRunner(fixture.NewSQLRunner(rootOpts.DB, logger)),
		orchestrator.WithChecker(checker.NewCatalogChecker(pool, logger)),
		orchestrator.WithMetrics(telemetry.NewMetrics(prometheus.NewRegistry())),
	}

	if rootOpts.History != "" {
		history, err := store.Open(rootOpts.History)
		if err != nil {
			return WrapExitError(ExitCommandError, "open history database", err)
		}
		defer history.Close()
		orchOpts = append(orchOpts, orchestrator.WithHistory(history))
	}

	faults := fault.NewController(fault.NewSQLInjector(pool), fault.WithLogger(logger))
	orch := orchestrator.New(faults, orchOpts...)

	report := orch.Run(ctx, sc)

	if rootOpts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		formatter.PrintReport(report)
	}

	if !report.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", report.Scenario))
	}
	return nil
}
