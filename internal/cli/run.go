package cli

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/durable-go/durable"
	"github.com/dshills/durable-go/internal/onboarding"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ExecutionID string
	Name        string
	Email       string
	Manager     string
	Courses     []string
	CrashBefore string
	CrashDuring string
	FailAt      string
}

// NewRunCommand creates the run command for starting an onboarding.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an onboarding execution",
		Long: `Run the first pass of an onboarding execution.

A new execution id is generated unless --execution is given. The
--crash-before, --crash-during and --fail flags take a step label and
inject a fault so the execution can be resumed afterwards.

Exit codes: 0 completed, 3 interrupted (resume later), 1 failed.`,
		Example: `  durable run --name "Alice Smith" --manager bob --course security
  durable run --execution onboard-1 --name Alice --crash-during provision_laptop`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "execution id (default: new uuid)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "employee name (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "employee email")
	cmd.Flags().StringVar(&opts.Manager, "manager", "", "manager to notify")
	cmd.Flags().StringSliceVar(&opts.Courses, "course", []string{"security-basics"}, "training course to enroll in (repeatable)")
	cmd.Flags().StringVar(&opts.CrashBefore, "crash-before", "", "interrupt just before this step")
	cmd.Flags().StringVar(&opts.CrashDuring, "crash-during", "", "interrupt while this step runs")
	cmd.Flags().StringVar(&opts.FailAt, "fail", "", "make this step fail")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runRun(opts *RunOptions, cmd *cobra.Command) error {
	sim := onboarding.Simulation{
		CrashBefore: opts.CrashBefore,
		CrashDuring: opts.CrashDuring,
		FailAt:      opts.FailAt,
	}
	for _, label := range []string{sim.CrashBefore, sim.CrashDuring, sim.FailAt} {
		if label != "" && !slices.Contains(onboarding.Labels, label) {
			return NewExitError(ExitCommandError,
				fmt.Sprintf("unknown step %q: must be one of %v", label, onboarding.Labels))
		}
	}

	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.closeAndLog()

	execID := opts.ExecutionID
	if execID == "" {
		execID = durable.NewExecutionID()
	}

	emp := onboarding.Employee{
		Name:    opts.Name,
		Email:   opts.Email,
		Manager: opts.Manager,
		Courses: opts.Courses,
	}
	return runPass(cmd, opts.RootOptions, s, execID, emp, sim)
}

// NewResumeCommand creates the resume command for continuing an execution.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	var executionID string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Run another pass of an existing execution",
		Long: `Resume an execution started with run.

Completed steps return their recorded results without running again.
Steps left RUNNING by a crash run again; FAILED steps follow
DURABLE_FAILED_POLICY (retry or keep).`,
		Example:       `  durable resume --execution onboard-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.closeAndLog()

			records, err := s.store.List(cmd.Context(), executionID)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read execution", err)
			}
			if len(records) == 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("no recorded steps for execution %q", executionID))
			}

			// The recorded input step supplies the employee.
			return runPass(cmd, rootOpts, s, executionID, onboarding.Employee{}, onboarding.Simulation{})
		},
	}

	cmd.Flags().StringVar(&executionID, "execution", "", "execution id to resume (required)")
	_ = cmd.MarkFlagRequired("execution")

	return cmd
}

// runPass executes one pass with SIGINT and SIGTERM wired to the
// interruption signal. Store calls keep the command's context so a signal
// never cancels a record write.
func runPass(cmd *cobra.Command, opts *RootOptions, s *session, execID string, emp onboarding.Employee, sim onboarding.Simulation) error {
	ctx := cmd.Context()
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sig := durable.InterruptOnDone(sigCtx)
	svc := onboarding.NewFakeServices(s.logger)

	res, err := durable.Run(ctx, s.engine, execID, sig, onboarding.Workflow(emp, svc, sim, sig))
	outcome := durable.Classify(err)

	report := passReport{ExecutionID: execID, Outcome: outcome.String()}
	if err != nil {
		report.Error = err.Error()
	} else {
		report.Result = res
	}
	if werr := writeReport(cmd.OutOrStdout(), opts.Format, report); werr != nil {
		return WrapExitError(ExitFailure, "failed to write output", werr)
	}

	switch outcome {
	case durable.OutcomeSuccess:
		return nil
	case durable.OutcomeInterrupted:
		return NewExitError(ExitInterrupted,
			fmt.Sprintf("execution %s interrupted; continue with: durable resume --execution %s", execID, execID))
	default:
		return WrapExitError(ExitFailure, fmt.Sprintf("execution %s failed", execID), err)
	}
}
