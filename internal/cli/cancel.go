package cli

import (
	"github.com/spf13/cobra"
)

// cancelResult is the JSON/text payload for a cancel attempt.
type cancelResult struct {
	Branch  string `json:"branch"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (r cancelResult) String() string {
	return r.Message
}

// NewCancelCommand creates the cancel command: abort a live build
// attached to a log branch.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <branch>",
		Short: "Cancel a live build",
		Long: `Cancel the live build attached to <branch>, if one is running.

This command connects to the store directly rather than to a running
"forge run" process, so it only sees builds that are live within its
own short-lived sync pass. When no build is currently attached there,
it prints a not-found message and exits with status 1.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runCancel(rootOpts *RootOptions, branch string, cmd *cobra.Command) error {
	out := newFormatter(rootOpts, cmd)

	eng, closeEng, err := openOfflineEngine(cmd, rootOpts, out)
	if err != nil {
		return err
	}
	defer closeEng()

	if err := eng.Sync(cmd.Context()); err != nil {
		_ = out.Error(ErrCodeSync, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to sync engine state", err)
	}

	ok, message := eng.Cancel(branch)
	result := cancelResult{Branch: branch, OK: ok, Message: message}
	if !ok {
		_ = out.Success(result)
		return NewExitError(ExitFailure, message)
	}
	return out.Success(result)
}
