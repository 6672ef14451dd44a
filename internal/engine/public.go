package engine

import (
	"context"
	"fmt"

	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/store"
)

// ProjectView is one project's currently known PRs and refs, as
// returned by Projects.
type ProjectView struct {
	PRs  map[int]model.PR
	Refs map[string]model.Ref
}

// Projects returns every registered project's current PRs and refs,
// read fresh from the metadata mirror.
func (e *Engine) Projects(ctx context.Context) (map[model.ProjectID]ProjectView, error) {
	db, err := e.awaitDB(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := db.mirror.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[model.ProjectID]ProjectView, len(e.cfg.Projects))
	for id := range e.cfg.Projects {
		prs, refs, err := snap.Project(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("engine: projects: %w", err)
		}
		out[id] = ProjectView{PRs: prs, Refs: refs}
	}
	return out, nil
}

// Jobs returns target's current jobs. ok is false if target is not
// currently tracked.
func (e *Engine) Jobs(target TargetID) (jobs []*Job, ok bool) {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()
	byKey := e.targets[target.Project]
	if byKey == nil {
		return nil, false
	}
	t, found := byKey[target.key()]
	if !found {
		return nil, false
	}
	return append([]*Job(nil), t.Jobs...), true
}

// Title returns target's last-observed title (empty for refs). ok is
// false if target is not currently tracked.
func (e *Engine) Title(target TargetID) (title string, ok bool) {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()
	byKey := e.targets[target.Project]
	if byKey == nil {
		return "", false
	}
	t, found := byKey[target.key()]
	if !found {
		return "", false
	}
	return t.Title, true
}

// Store returns the current Store handle, letting a web layer serve
// saved logs directly. ok is false while a connection attempt is still
// in flight.
func (e *Engine) Store() (s *store.Store, ok bool) {
	e.dbMu.Lock()
	fut := e.db
	e.dbMu.Unlock()
	if fut == nil {
		return nil, false
	}
	select {
	case <-fut.ready:
		return fut.db.store, fut.err == nil
	default:
		return nil, false
	}
}
