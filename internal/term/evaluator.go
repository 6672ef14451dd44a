package term

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fenwick-ci/forge/internal/cache"
	"github.com/fenwick-ci/forge/internal/mirror"
	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/store"
)

// Future resolves, exactly once, to the final (status, description, log)
// triple a Run invocation produces.
type Future struct {
	done chan struct{}

	mu      sync.Mutex
	result  Result
	logTree LogTree
}

// Wait blocks until the evaluation resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (Result, LogTree, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.logTree, nil
	case <-ctx.Done():
		return Result{}, EmptyLog{}, ctx.Err()
	}
}

func (f *Future) resolve(result Result, logTree LogTree) {
	f.mu.Lock()
	f.result = result
	f.logTree = logTree
	f.mu.Unlock()
	close(f.done)
}

// nodeState memoizes one term's evaluation within a single run, letting
// duplicate sub-terms sharing structural identity fan in to a single
// evaluation.
type nodeState struct {
	once    sync.Once
	status  Status
	result  Result
	logTree LogTree
}

// evaluation holds the per-run state an evaluator dispatch needs:
// the snapshot being evaluated against, the recalc hook, the shared
// cache, and the node memoization table.
type evaluation struct {
	ctx      context.Context
	snapshot *mirror.Snapshot
	jobID    string
	recalc   func()
	cache    *cache.Cache
	store    *store.Store

	mu    sync.Mutex
	nodes map[string]*nodeState
}

// Run evaluates term against snapshot and returns a Future resolving to
// its final outcome, plus a cancel function that aborts every in-flight
// sub-computation belonging to this evaluation. cancel is idempotent.
// recalc is invoked at most once, asynchronously, if a cache entry this
// evaluation used is later forced to rebuild; Run itself never loops on
// it — scheduling a fresh Run is the caller's responsibility. st is used
// only to stamp completed build nodes' SavedLog.Commit with the cache
// entry's current head.
func Run(ctx context.Context, snapshot *mirror.Snapshot, jobID string, recalc func(), cch *cache.Cache, st *store.Store, t Term) (*Future, func()) {
	evalCtx, cancel := context.WithCancel(ctx)
	e := &evaluation{
		ctx:      evalCtx,
		snapshot: snapshot,
		jobID:    jobID,
		recalc:   recalc,
		cache:    cch,
		store:    st,
		nodes:    make(map[string]*nodeState),
	}
	fut := &Future{done: make(chan struct{})}
	go func() {
		result, logTree := e.evalTop(t)
		fut.resolve(result, logTree)
	}()
	return fut, cancel
}

func (e *evaluation) evalTop(t Term) (result Result, logTree LogTree) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{State: StateFailure, Description: fmt.Sprintf("term evaluation of %s panicked: %v", e.jobID, r)}
			logTree = EmptyLog{}
		}
	}()
	return e.eval(t)
}

// eval dispatches t exactly once per run, no matter how many ancestors
// reach it with the same structural key; later arrivals block on the
// first evaluation's sync.Once rather than re-running it.
func (e *evaluation) eval(t Term) (Result, LogTree) {
	st := e.nodeFor(t)
	st.once.Do(func() {
		st.status = Running
		select {
		case <-e.ctx.Done():
			st.status = Cancelled
			st.result = Result{State: StateFailure, Description: "cancelled"}
			st.logTree = EmptyLog{}
			return
		default:
		}
		st.result, st.logTree = e.runNode(t)
		st.status = finalStatus(st.result)
	})
	return st.result, st.logTree
}

func finalStatus(r Result) Status {
	switch r.State {
	case StateSuccess:
		return Done
	case StatePending:
		return Pending
	default:
		return Failed
	}
}

func (e *evaluation) nodeFor(t Term) *nodeState {
	k := t.key()
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.nodes[k]; ok {
		return st
	}
	st := &nodeState{status: Queued}
	e.nodes[k] = st
	return st
}

func (e *evaluation) runNode(t Term) (Result, LogTree) {
	switch n := t.(type) {
	case *constTerm:
		return n.result, EmptyLog{}
	case *observeTerm:
		return e.runObserve(n)
	case *andTerm:
		return e.runAnd(n)
	case *seqTerm:
		return e.runSeq(n)
	case *mapTerm:
		inner, logTree := e.eval(n.inner)
		return n.fn(inner), logTree
	case *buildTerm:
		return e.runBuild(n)
	default:
		return Result{State: StateFailure, Description: fmt.Sprintf("term: unknown node type %T", t)}, EmptyLog{}
	}
}

func (e *evaluation) runObserve(n *observeTerm) (Result, LogTree) {
	res, err := n.fn(e.ctx, e.snapshot)
	if err != nil {
		return Result{State: StateFailure, Description: err.Error()}, EmptyLog{}
	}
	return res, EmptyLog{}
}

func (e *evaluation) runAnd(n *andTerm) (Result, LogTree) {
	var leftRes, rightRes Result
	var leftLogs, rightLogs LogTree
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				leftRes = Result{State: StateFailure, Description: fmt.Sprintf("term evaluation of %s panicked: %v", e.jobID, r)}
				leftLogs = EmptyLog{}
			}
		}()
		leftRes, leftLogs = e.eval(n.left)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				rightRes = Result{State: StateFailure, Description: fmt.Sprintf("term evaluation of %s panicked: %v", e.jobID, r)}
				rightLogs = EmptyLog{}
			}
		}()
		rightRes, rightLogs = e.eval(n.right)
	}()
	wg.Wait()
	return combineAnd(leftRes, rightRes), PairLog{Left: leftLogs, Right: rightLogs}
}

func combineAnd(a, b Result) Result {
	if a.State == StateFailure {
		return a
	}
	if b.State == StateFailure {
		return b
	}
	if a.State == StatePending {
		return a
	}
	if b.State == StatePending {
		return b
	}
	return Result{State: StateSuccess, Description: joinDescriptions(a.Description, b.Description)}
}

func joinDescriptions(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "; " + b
}

func (e *evaluation) runSeq(n *seqTerm) (Result, LogTree) {
	firstRes, firstLogs := e.eval(n.first)
	if firstRes.State != StateSuccess {
		return firstRes, firstLogs
	}
	thenRes, thenLogs := e.eval(n.then)
	return thenRes, PairLog{Left: firstLogs, Right: thenLogs}
}

func (e *evaluation) runBuild(n *buildTerm) (Result, LogTree) {
	res, err := e.cache.Demand(e.ctx, n.fingerprint, n.build)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{State: StateFailure, Description: "cancelled"}, EmptyLog{}
		}
		return Result{State: StateFailure, Description: err.Error()}, EmptyLog{}
	}

	fingerprint := n.fingerprint
	if e.recalc != nil {
		e.cache.Subscribe(fingerprint, e.recalc)
	}

	logs := SavedLog{
		Branch: fingerprint,
		Rebuild: func() error {
			return e.cache.ForceRebuild(context.Background(), fingerprint)
		},
	}
	if e.store != nil {
		if commit, ok, err := e.store.Branch(fingerprint).Head(e.ctx); err == nil && ok {
			logs.Commit = commit
		}
	}
	return Result{State: fromStatusState(res.Status), Description: res.Description}, logs
}

// fromStatusState narrows the cache's four-state forge vocabulary
// (success/pending/failure/error) down to the term evaluator's
// three-state outcome: error collapses into failure.
func fromStatusState(s model.StatusState) ResultState {
	switch s {
	case model.StatusSuccess:
		return StateSuccess
	case model.StatusPending:
		return StatePending
	default:
		return StateFailure
	}
}
