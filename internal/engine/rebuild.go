package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fenwick-ci/forge/internal/term"
)

type matchedJob struct {
	target *Target
	job    *Job
}

// collectSavedLogs walks logs looking for every Saved node addressing
// branch: Pair recurses both sides; Live and any other-branched Saved
// never match.
func collectSavedLogs(logs term.LogTree, branch string) (thunks []func() error, matched bool) {
	switch lt := logs.(type) {
	case term.SavedLog:
		if lt.Branch == branch && lt.Rebuild != nil {
			return []func() error{lt.Rebuild}, true
		}
		return nil, false
	case term.PairLog:
		leftThunks, leftMatch := collectSavedLogs(lt.Left, branch)
		rightThunks, rightMatch := collectSavedLogs(lt.Right, branch)
		return append(leftThunks, rightThunks...), leftMatch || rightMatch
	default:
		return nil, false
	}
}

// Rebuild forces every saved log addressed by branch to rebuild, then
// recalculates every job whose LogTree referenced it. It fails with a
// message naming branch if no job's LogTree matches.
func (e *Engine) Rebuild(ctx context.Context, branch string) error {
	e.targetsMu.Lock()
	var matches []matchedJob
	var thunks []func() error
	for _, byKey := range e.targets {
		for _, target := range byKey {
			for _, job := range target.Jobs {
				jobThunks, matched := collectSavedLogs(job.State().Logs, branch)
				if !matched {
					continue
				}
				matches = append(matches, matchedJob{target: target, job: job})
				thunks = append(thunks, jobThunks...)
			}
		}
	}
	e.targetsMu.Unlock()

	if len(matches) == 0 {
		return fmt.Errorf("engine: rebuild: no saved log found for branch %q", branch)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, thunk := range thunks {
		thunk := thunk
		g.Go(func() error { return thunk() })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine: rebuild %q: %w", branch, err)
	}

	db, err := e.awaitDB(gctx)
	if err != nil {
		return err
	}

	e.termLock.Lock()
	defer e.termLock.Unlock()
	snap, err := db.mirror.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("engine: rebuild %q: refresh snapshot: %w", branch, err)
	}
	for _, m := range matches {
		e.recalculate(ctx, snap, m.target, m.job)
	}
	return nil
}

// Cancel aborts the live build attached to branch, if any. ok is false
// if no build is currently attached there (the router's 404 case).
func (e *Engine) Cancel(branch string) (ok bool, message string) {
	return e.logs.Cancel(branch)
}
