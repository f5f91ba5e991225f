package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relstor/faultline/internal/store"
)

// TraceData is the JSON payload of the trace command.
type TraceData struct {
	Run    store.RunRow     `json:"run"`
	Steps  []store.StepRow  `json:"steps"`
	Events []store.EventRow `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Inspect recorded runs",
		Long: `Inspect runs recorded in the history database.

Without arguments, lists recent runs. With a run id, prints that run's step
results and fault events in order. Requires --history.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runTrace(rootOpts, runID, limit, cmd)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")

	return cmd
}

func runTrace(rootOpts *RootOptions, runID string, limit int, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	if rootOpts.History == "" {
		return NewExitError(ExitCommandError, "trace requires --history")
	}

	history, err := store.Open(rootOpts.History)
	if err != nil {
		return WrapExitError(ExitCommandError, "open history database", err)
	}
	defer history.Close()

	ctx := cmd.Context()

	if runID == "" {
		runs, err := history.ListRuns(ctx, limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "list runs", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(runs)
		}
		for _, run := range runs {
			verdict := "FAIL"
			if run.Pass {
				verdict = "PASS"
			}
			fmt.Fprintf(formatter.Writer, "%s  %-24s %s  %s\n",
				run.ID, run.Scenario, run.StartedAt.Format(time.RFC3339), verdict)
		}
		return nil
	}

	run, steps, events, err := history.ReadRun(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "read run", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(TraceData{Run: run, Steps: steps, Events: events})
	}

	fmt.Fprintf(formatter.Writer, "Run %s: scenario %s\n", run.ID, run.Scenario)
	for _, step := range steps {
		fmt.Fprintf(formatter.Writer, "  [%s] %-20s %s\n", step.Outcome, step.Name, step.Duration)
		if step.Error != "" {
			fmt.Fprintf(formatter.Writer, "      %s\n", step.Error)
		}
	}
	fmt.Fprintln(formatter.Writer, "Events:")
	for _, ev := range events {
		fmt.Fprintf(formatter.Writer, "  %3d %-14s %-10s %-28s %s\n",
			ev.Seq, ev.Step, ev.Kind, ev.Point, ev.Detail)
	}
	return nil
}
