package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fenwick-ci/forge/internal/livelog"
	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/path"
	"github.com/fenwick-ci/forge/internal/store"
)

var (
	resultPath        = path.MustNew("result")
	logPath           = path.MustNew("log")
	rebuildNeededPath = path.MustNew("rebuild_needed")
)

// Result is the memoized outcome of a cache entry's build.
type Result struct {
	Status      model.StatusState `json:"status"`
	Description string            `json:"description"`
}

// Builder runs a fingerprint's underlying work, appending its output to
// log as it goes. It is invoked at most once per fingerprint per demand
// cycle; coincident demands share its execution.
type Builder func(ctx context.Context, log *livelog.Log) (Result, error)

// Cache is the content-addressed build cache described in the data
// model: a cache entry is a Store branch whose tip commit carries
// {result, log, rebuild-needed flag}.
type Cache struct {
	store  *store.Store
	logs   *livelog.Manager
	flight singleflight.Group

	mu        sync.Mutex
	observers map[string][]func()
}

// New returns a Cache backed by s, publishing in-progress builds through
// logs.
func New(s *store.Store, logs *livelog.Manager) *Cache {
	return &Cache{store: s, logs: logs, observers: make(map[string][]func())}
}

// Subscribe registers fn to run exactly once, the next time fingerprint
// is forced to rebuild via ForceRebuild. Used by a term evaluation that
// has already read fingerprint's result to learn about a later
// invalidation without polling. The registration is one-shot: a caller
// that wants to hear about a second rebuild must Subscribe again.
func (c *Cache) Subscribe(fingerprint string, fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.observers[fingerprint] = append(c.observers[fingerprint], fn)
	c.mu.Unlock()
}

func (c *Cache) notifyRebuild(fingerprint string) {
	c.mu.Lock()
	fns := c.observers[fingerprint]
	delete(c.observers, fingerprint)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Demand returns the cached Result for fingerprint, running build to
// produce it if no complete, non-stale entry exists. Coincident demands
// for the same fingerprint share a single execution of build.
func (c *Cache) Demand(ctx context.Context, fingerprint string, build Builder) (Result, error) {
	if res, ok, err := c.readComplete(ctx, fingerprint); err != nil {
		return Result{}, err
	} else if ok {
		return res, nil
	}

	v, err, _ := c.flight.Do(fingerprint, func() (any, error) {
		return c.runBuild(ctx, fingerprint, build)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Attach returns the live log currently associated with fingerprint, if
// a build is in flight for it anywhere in this process.
func (c *Cache) Attach(fingerprint string) (*livelog.Log, bool) {
	return c.logs.Lookup(fingerprint)
}

func (c *Cache) runBuild(ctx context.Context, fingerprint string, build Builder) (Result, error) {
	// Re-check: a concurrent rebuild or a prior singleflight leader may
	// have completed this entry between Demand's check and this call.
	if res, ok, err := c.readComplete(ctx, fingerprint); err != nil {
		return Result{}, err
	} else if ok {
		return res, nil
	}

	l, err := c.logs.Create(fingerprint, func() error { return c.ForceRebuild(ctx, fingerprint) })
	if err != nil {
		return Result{}, fmt.Errorf("cache: %s: %w", fingerprint, err)
	}
	defer c.logs.Close(fingerprint)

	res, err := build(ctx, l)
	if err != nil {
		return Result{}, err
	}
	if err := c.persist(ctx, fingerprint, res, l.Bytes()); err != nil {
		return Result{}, err
	}
	return res, nil
}

// readComplete reads a fingerprint's persisted Result, ok=false if no
// entry exists yet or the existing one is marked for rebuild.
func (c *Cache) readComplete(ctx context.Context, fingerprint string) (Result, bool, error) {
	tree, ok, err := c.store.Branch(fingerprint).HeadTree(ctx)
	if err != nil {
		return Result{}, false, fmt.Errorf("cache: read %s: %w", fingerprint, err)
	}
	if !ok {
		return Result{}, false, nil
	}
	needsRebuild, err := tree.ExistsFile(ctx, rebuildNeededPath)
	if err != nil {
		return Result{}, false, fmt.Errorf("cache: check rebuild flag for %s: %w", fingerprint, err)
	}
	if needsRebuild {
		return Result{}, false, nil
	}
	data, err := tree.ReadFile(ctx, resultPath)
	if store.IsNoEntry(err) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("cache: read result for %s: %w", fingerprint, err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, false, fmt.Errorf("cache: decode result for %s: %w", fingerprint, err)
	}
	return res, true, nil
}

func (c *Cache) persist(ctx context.Context, fingerprint string, res Result, logData []byte) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache: encode result for %s: %w", fingerprint, err)
	}

	var txErr error
	commitErr := c.store.Branch(fingerprint).WithTransaction(ctx, func(tx *store.Transaction) store.Outcome {
		if err := tx.CreateOrReplaceFile(ctx, resultPath, data); err != nil {
			txErr = err
			return tx.Abort()
		}
		if err := tx.CreateOrReplaceFile(ctx, logPath, logData); err != nil {
			txErr = err
			return tx.Abort()
		}
		if err := tx.Remove(ctx, rebuildNeededPath); err != nil && !store.IsNoEntry(err) {
			txErr = err
			return tx.Abort()
		}
		return tx.Commit(fmt.Sprintf("cache: build %s complete", fingerprint))
	})
	if txErr != nil {
		return fmt.Errorf("cache: persist %s: %w", fingerprint, txErr)
	}
	return commitErr
}

// ForceRebuild marks fingerprint's cache entry as stale: the next Demand
// for it runs build again instead of returning the existing Result.
// Calling it repeatedly, or on a fingerprint with no entry yet, is a
// harmless no-op.
func (c *Cache) ForceRebuild(ctx context.Context, fingerprint string) error {
	var txErr error
	var flagged bool
	commitErr := c.store.Branch(fingerprint).WithTransaction(ctx, func(tx *store.Transaction) store.Outcome {
		hasResult, err := tx.ExistsFile(ctx, resultPath)
		if err != nil {
			txErr = err
			return tx.Abort()
		}
		if !hasResult {
			return tx.Abort() // nothing built yet, nothing to invalidate
		}
		alreadyFlagged, err := tx.ExistsFile(ctx, rebuildNeededPath)
		if err != nil {
			txErr = err
			return tx.Abort()
		}
		if alreadyFlagged {
			return tx.Abort()
		}
		if err := tx.CreateFile(ctx, rebuildNeededPath, []byte{}); err != nil {
			txErr = err
			return tx.Abort()
		}
		flagged = true
		return tx.Commit(fmt.Sprintf("cache: mark %s for rebuild", fingerprint))
	})
	if txErr != nil {
		return fmt.Errorf("cache: force rebuild %s: %w", fingerprint, txErr)
	}
	if commitErr == nil && flagged {
		c.notifyRebuild(fingerprint)
	}
	return commitErr
}
