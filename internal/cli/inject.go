package cli

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/relstor/faultline/internal/fault"
	"github.com/relstor/faultline/internal/telemetry"
)

// InjectOptions holds flags specific to the inject command.
type InjectOptions struct {
	Action string
	Role   string
	SegID  int
}

// NewInjectCommand creates the inject command, a one-shot arm/reset used
// while authoring scenarios.
func NewInjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InjectOptions{}

	cmd := &cobra.Command{
		Use:   "inject <fault-name>",
		Short: "Arm or reset a single fault point",
		Long: `Arm or reset a single fault point on a live cluster.

Useful for debugging scenarios interactively:

  faultline inject reindex_db --action suspend --role primary --seg 1
  faultline inject reindex_db --action reset --role primary --seg 1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInject(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", "suspend", "fault action (suspend|error|panic|sleep|reset)")
	cmd.Flags().StringVar(&opts.Role, "role", "primary", "target role (primary|mirror)")
	cmd.Flags().IntVar(&opts.SegID, "seg", 0, "target segment content id")

	return cmd
}

func runInject(rootOpts *RootOptions, opts *InjectOptions, name string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	if rootOpts.DB == "" {
		return NewExitError(ExitCommandError, "inject requires --db")
	}
	if opts.SegID < 0 {
		return NewExitError(ExitCommandError, "--seg must be non-negative")
	}

	ctx := cmd.Context()
	pool, err := pgxpool.New(ctx, rootOpts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect to database", err)
	}
	defer pool.Close()

	logger := telemetry.Discard()
	if rootOpts.Verbose {
		logger = telemetry.NewLogger(cmd.ErrOrStderr())
	}
	faults := fault.NewController(fault.NewSQLInjector(pool), fault.WithLogger(logger))

	point := fault.Point{Name: name, Role: fault.Role(opts.Role), SegID: opts.SegID}
	if opts.Action == string(fault.ActionReset) {
		err = faults.Reset(ctx, point)
	} else {
		err = faults.Arm(ctx, point, fault.Action(opts.Action))
	}
	if err != nil {
		if ferr := formatter.Error("E_INJECT", err.Error(), nil); ferr != nil {
			return ferr
		}
		return NewExitError(ExitFailure, "inject failed")
	}

	return formatter.Success(fmt.Sprintf("%s %s", opts.Action, point))
}
