package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenwick-ci/forge/internal/cache"
	"github.com/fenwick-ci/forge/internal/config"
	"github.com/fenwick-ci/forge/internal/engine"
	"github.com/fenwick-ci/forge/internal/livelog"
)

// rebuildResult is the JSON/text payload for a successful rebuild.
type rebuildResult struct {
	Branch string `json:"branch"`
	Status string `json:"status"`
}

func (r rebuildResult) String() string {
	return fmt.Sprintf("rebuild triggered for %s", r.Branch)
}

// NewRebuildCommand creates the rebuild command: force a cached build
// to rerun and recalculate every job that referenced it.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild <branch>",
		Short: "Force a cached build to rerun",
		Long: `Force the build saved at <branch> to rebuild, then recalculate
every job whose last evaluation referenced it.

This connects to the store directly; it does not talk to a running
engine process over any RPC surface.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRebuild(rootOpts *RootOptions, branch string, cmd *cobra.Command) error {
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

	if err := eng.Rebuild(cmd.Context(), branch); err != nil {
		_ = out.Error(ErrCodeRebuild, err.Error(), map[string]string{"branch": branch})
		return WrapExitError(ExitFailure, "rebuild failed", err)
	}
	return out.Success(rebuildResult{Branch: branch, Status: "triggered"})
}

// openOfflineEngine loads config and constructs an Engine without
// starting its Run loop, so one-shot commands (rebuild, cancel) can
// use its public API against the live store. Failures are reported
// through out before being wrapped into an *ExitError, so --format json
// callers see a structured error even when construction never reaches
// the command's own RunE logic.
func openOfflineEngine(cmd *cobra.Command, rootOpts *RootOptions, out *OutputFormatter) (*engine.Engine, func(), error) {
	cfg, err := config.Load(rootOpts.Config)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), map[string]string{"path": rootOpts.Config})
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	econf, err := cfg.Resolve(engine.BuiltinCatalog())
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, nil, WrapExitError(ExitCommandError, "failed to resolve config", err)
	}

	st, err := econf.StoreConnector(cmd.Context())
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error(), nil)
		return nil, nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	logs := livelog.NewManager()
	cch := cache.New(st, logs)
	eng := engine.New(econf, logs, cch, nil)
	return eng, func() { _ = st.Close() }, nil
}
