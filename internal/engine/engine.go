package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-ci/forge/internal/cache"
	"github.com/fenwick-ci/forge/internal/livelog"
	"github.com/fenwick-ci/forge/internal/mirror"
	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/path"
	"github.com/fenwick-ci/forge/internal/store"
	"github.com/fenwick-ci/forge/internal/term"
)

const probeBranch = "master"

// dbHandle is the current store/mirror pair the engine evaluates
// against.
type dbHandle struct {
	store  *store.Store
	mirror *mirror.Mirror
}

// dbFuture is a single pending-or-resolved connection attempt.
type dbFuture struct {
	ready chan struct{}
	db    *dbHandle
	err   error
}

// Engine is the single-writer CI evaluation loop: it owns the
// in-memory target/job set, recomputes jobs under termLock whenever the
// metadata mirror observes a new snapshot, and exposes a read-only
// public API for an out-of-scope web layer.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	cache  *cache.Cache
	logs   *livelog.Manager

	dbMu sync.Mutex
	db   *dbFuture

	termLock sync.Mutex

	targetsMu sync.Mutex
	targets   map[model.ProjectID]map[string]*Target
}

// New constructs an Engine. logs and cch are shared with the term
// evaluator's build nodes so a future web layer can attach to
// in-progress builds via the same registry the evaluator uses.
func New(cfg Config, logs *livelog.Manager, cch *cache.Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		cache:   cch,
		logs:    logs,
		targets: make(map[model.ProjectID]map[string]*Target),
	}
}

// connect opens a new Store connection, wraps it with a Mirror, and
// retries with cfg.ReconnectBackoff on failure until ctx is cancelled.
func (e *Engine) connect(ctx context.Context) (*dbHandle, error) {
	backoff := e.cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = 10 * time.Second
	}
	for {
		s, err := e.cfg.StoreConnector(ctx)
		if err == nil {
			return &dbHandle{store: s, mirror: mirror.New(s, e.logger)}, nil
		}
		e.logger.Error("engine: store connect failed", "err", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// reconnect replaces the current db with a fresh pending connection. It
// is idempotent: if a connect attempt is already in flight, reconnect
// does nothing.
func (e *Engine) reconnect(ctx context.Context) {
	e.dbMu.Lock()
	if e.db != nil {
		select {
		case <-e.db.ready:
			// previous attempt resolved; fall through and start a new one
		default:
			e.dbMu.Unlock()
			return // already connecting
		}
	}
	fut := &dbFuture{ready: make(chan struct{})}
	e.db = fut
	e.dbMu.Unlock()

	go func() {
		db, err := e.connect(ctx)
		fut.db, fut.err = db, err
		close(fut.ready)
	}()
}

// awaitDB blocks for the current connection attempt to resolve,
// triggering one if none is in flight yet.
func (e *Engine) awaitDB(ctx context.Context) (*dbHandle, error) {
	e.dbMu.Lock()
	fut := e.db
	e.dbMu.Unlock()
	if fut == nil {
		e.reconnect(ctx)
		e.dbMu.Lock()
		fut = e.db
		e.dbMu.Unlock()
	}
	select {
	case <-fut.ready:
		return fut.db, fut.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// autoRestart awaits the current db, runs fn, and on failure decides
// whether the failure is store-related: if a probe of the master branch
// still succeeds, the failure is unrelated to connectivity and is
// returned as-is; otherwise it reconnects and retries fn.
func (e *Engine) autoRestart(ctx context.Context, label string, fn func(db *dbHandle) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		db, err := e.awaitDB(ctx)
		if err != nil {
			return err
		}
		err = fn(db)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, _, probeErr := db.store.Branch(probeBranch).Head(ctx); probeErr == nil {
			return fmt.Errorf("engine: %s: %w", label, err)
		}
		e.logger.Warn("engine: store probe failed, reconnecting", "label", label, "err", err)
		e.reconnect(ctx)
	}
}

// Run drives the engine's monitor loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	err := e.autoRestart(ctx, "monitor", func(db *dbHandle) error {
		if err := db.mirror.EnableMonitoring(ctx, e.registeredProjects()); err != nil {
			return err
		}
		return db.mirror.Monitor(ctx, func(snap *mirror.Snapshot) error {
			return e.step(ctx, snap)
		})
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Sync performs one synchronous snapshot-and-recalculate pass against
// the current store state: it diffs every registered project's PRs
// and refs against the in-memory target set and recalculates every
// resulting job, exactly as Run's loop does on each mirror change. A
// one-shot caller (e.g. the rebuild/cancel CLI commands) calls this
// once after construction so Jobs/LogTree state reflects the store
// before acting on it, without starting the long-running Run loop.
func (e *Engine) Sync(ctx context.Context) error {
	db, err := e.awaitDB(ctx)
	if err != nil {
		return err
	}
	if err := db.mirror.EnableMonitoring(ctx, e.registeredProjects()); err != nil {
		return err
	}
	snap, err := db.mirror.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("engine: sync: %w", err)
	}
	return e.step(ctx, snap)
}

func (e *Engine) registeredProjects() []model.ProjectID {
	ids := make([]model.ProjectID, 0, len(e.cfg.Projects))
	for id := range e.cfg.Projects {
		ids = append(ids, id)
	}
	return ids
}

// step is the per-snapshot synchronization: diff each project's PRs and
// refs against the in-memory target set, then recalculate every current
// job under termLock.
func (e *Engine) step(ctx context.Context, snap *mirror.Snapshot) error {
	for projectID, projCfg := range e.cfg.Projects {
		prs, refs, err := snap.Project(ctx, projectID)
		if err != nil {
			return fmt.Errorf("engine: snapshot project %s: %w", projectID, err)
		}
		e.syncProject(projectID, projCfg, prs, refs)
	}

	e.termLock.Lock()
	defer e.termLock.Unlock()
	e.targetsMu.Lock()
	allTargets := make([]*Target, 0)
	for _, byKey := range e.targets {
		for _, t := range byKey {
			allTargets = append(allTargets, t)
		}
	}
	e.targetsMu.Unlock()

	for _, target := range allTargets {
		for _, job := range target.Jobs {
			e.recalculate(ctx, snap, target, job)
		}
	}
	return nil
}

// syncProject diffs one project's discovered PRs/refs against its
// in-memory target set, applying canary filtering first. Closed PRs and
// vanished refs have every job cancelled and are removed; new targets
// are materialized fresh from the project's pipeline map; surviving
// targets have their Head/Title updated in place so job identity and
// prior state are preserved.
func (e *Engine) syncProject(id model.ProjectID, cfg ProjectConfig, prs map[int]model.PR, refs map[string]model.Ref) {
	canary := e.cfg.Canaries[id]

	present := make(map[string]bool)
	for number, pr := range prs {
		tid := prTarget(id, number)
		if canary != nil {
			if _, ok := canary[tid]; !ok {
				continue
			}
		}
		present[tid.key()] = true
		e.upsertTarget(id, cfg, tid, pr.HeadCommit, pr.Title)
	}
	for name, ref := range refs {
		tid := refTarget(id, name)
		if canary != nil {
			if _, ok := canary[tid]; !ok {
				continue
			}
		}
		present[tid.key()] = true
		e.upsertTarget(id, cfg, tid, ref.HeadCommit, "")
	}

	e.targetsMu.Lock()
	byKey := e.targets[id]
	var removed []*Target
	for key, target := range byKey {
		if !present[key] {
			removed = append(removed, target)
			delete(byKey, key)
		}
	}
	e.targetsMu.Unlock()

	for _, target := range removed {
		for _, job := range target.Jobs {
			job.cancelEvaluation()
		}
	}
}

func (e *Engine) upsertTarget(id model.ProjectID, cfg ProjectConfig, tid TargetID, head, title string) {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()
	byKey := e.targets[id]
	if byKey == nil {
		byKey = make(map[string]*Target)
		e.targets[id] = byKey
	}
	if target, ok := byKey[tid.key()]; ok {
		target.Head = head
		target.Title = title
		return
	}
	target := &Target{ID: tid, Head: head, Title: title}
	for name, factory := range cfg.Pipeline {
		target.Jobs = append(target.Jobs, newJob(name, factory(tid, head)))
	}
	byKey[tid.key()] = target
}

// recalculate re-evaluates job against snap, must be called with
// termLock held. It cancels the job's prior evaluation, runs a fresh
// one, catches panics as a synthesized failure, and — only if the
// published triple actually changed — writes the new state back onto
// the metadata branch.
func (e *Engine) recalculate(ctx context.Context, snap *mirror.Snapshot, target *Target, job *Job) {
	job.cancelEvaluation()

	// Rebuild the term against the target's current head, so a head
	// update yields a term (and build fingerprint) for the new commit.
	if factory, ok := e.cfg.Projects[target.ID.Project].Pipeline[job.Name]; ok {
		job.Term = factory(target.ID, target.Head)
	}

	db, err := e.awaitDB(ctx)
	if err != nil {
		return
	}

	runID := uuid.NewString()
	e.logger.Debug("engine: recalculate", "run_id", runID, "target", target.ID.String(), "job", job.Name)

	recalc := func() {
		go func() {
			e.termLock.Lock()
			defer e.termLock.Unlock()
			freshSnap, err := db.mirror.Snapshot(ctx)
			if err != nil {
				e.logger.Error("engine: recalc snapshot refresh failed", "job", job.Name, "err", err)
				return
			}
			e.recalculate(ctx, freshSnap, target, job)
		}()
	}

	fut, cancel := term.Run(ctx, snap, jobID(target.ID, job.Name), recalc, e.cache, db.store, job.Term)
	job.mu.Lock()
	job.cancel = cancel
	job.mu.Unlock()

	result, logTree, err := fut.Wait(ctx)
	if err != nil {
		return // ctx cancelled; a later snapshot will recalculate
	}

	e.publish(ctx, db, target, job, result, logTree)
}

func jobID(target TargetID, jobName string) string {
	return target.key() + ":" + jobName
}

// publish maps the evaluation outcome to a forge status and, only if it
// differs from what was last published for this commit, writes it to
// the metadata branch.
func (e *Engine) publish(ctx context.Context, db *dbHandle, target *Target, job *Job, result term.Result, logTree term.LogTree) {
	status := statusFor(result)

	job.mu.Lock()
	changed := job.publishedHash != target.Head || job.state.Status != result.State || job.state.Description != result.Description
	job.publishedHash = target.Head
	job.state = JobState{Status: result.State, Description: result.Description, Logs: logTree}
	job.mu.Unlock()

	if !changed {
		return
	}
	if !model.IsCommitHash(target.Head) {
		return
	}

	commit, err := model.NewCommit(target.ID.Project.Repo, target.Head)
	if err != nil {
		e.logger.Error("engine: publish: invalid commit", "err", err)
		return
	}
	message := fmt.Sprintf("Set state of %s: %s = %s", target.dump(), job.Name, status)
	targetURL := e.targetURL(target.ID)
	if err := db.mirror.SetState(ctx, commit, path.MustNew(job.Name), status, result.Description, targetURL, message); err != nil {
		e.logger.Error("engine: publish status failed", "job", job.Name, "err", err)
	}
}

func statusFor(r term.Result) model.StatusState {
	switch r.State {
	case term.StateSuccess:
		return model.StatusSuccess
	case term.StatePending:
		return model.StatusPending
	default:
		return model.StatusFailure
	}
}

func (e *Engine) targetURL(id TargetID) string {
	if e.cfg.WebBaseURL == "" {
		return ""
	}
	return e.cfg.WebBaseURL + "/" + id.WebPath()
}
