package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relstor/faultline/internal/scenario"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool   `json:"valid"`
	Scenario string `json:"scenario,omitempty"`
	Steps    int    `json:"steps,omitempty"`
	Message  string `json:"message,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Validate a scenario file without running it",
		Long: `Validate a scenario file against the schema and structural rules.

Checks YAML syntax, unknown fields, fault actions and statuses, role names,
cycle bounds, and step dependency ordering. No database connection needed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sc, err := scenario.Load(path)
	if err != nil {
		if ferr := formatter.Error("E_INVALID_SCENARIO", err.Error(), nil); ferr != nil {
			return ferr
		}
		return NewExitError(ExitFailure, "scenario is invalid")
	}

	formatter.VerboseLog("scenario %q: %d step(s)", sc.Name, len(sc.Steps))

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:    true,
			Scenario: sc.Name,
			Steps:    len(sc.Steps),
		})
	}
	return formatter.Success(fmt.Sprintf("OK: scenario %q with %d step(s)", sc.Name, len(sc.Steps)))
}
