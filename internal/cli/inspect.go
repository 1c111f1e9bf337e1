package cli

import (
	"github.com/spf13/cobra"
)

// NewInspectCommand creates the inspect command for printing step records.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var executionID string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the step records of an execution",
		Long: `Print every step record of an execution in sequence order.

RUNNING records are steps whose outcome was never confirmed; the next
pass runs them again.`,
		Example:       `  durable inspect --execution onboard-1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.closeAndLog()

			records, err := s.engine.History(cmd.Context(), executionID)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read execution", err)
			}
			if err := writeRecords(cmd.OutOrStdout(), rootOpts.Format, executionID, records); err != nil {
				return WrapExitError(ExitFailure, "failed to write output", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&executionID, "execution", "", "execution id to inspect (required)")
	_ = cmd.MarkFlagRequired("execution")

	return cmd
}
