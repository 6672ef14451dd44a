package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/path"
	"github.com/fenwick-ci/forge/internal/store"
)

// MetadataBranch is the Store branch the mirror reads and writes.
const MetadataBranch = "github-metadata"

// Mirror reads and writes the forge's PR/ref/commit-status model against
// a single Store branch.
type Mirror struct {
	store *store.Store
	log   *slog.Logger
}

// New returns a Mirror backed by s. A nil logger falls back to
// slog.Default().
func New(s *store.Store, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{store: s, log: logger}
}

func (m *Mirror) branch() *store.Branch {
	return m.store.Branch(MetadataBranch)
}

// Entity is a marker interface unifying PR and Ref for the generic parts
// of project walking (malformed-entry skip+log, DFS traversal).
type Entity interface {
	model.PR | model.Ref
}

// Snapshot returns a new Snapshot pinned to the metadata branch's current
// head. It fails if the branch has no commits yet.
func (m *Mirror) Snapshot(ctx context.Context) (*Snapshot, error) {
	b := m.branch()
	head, ok, err := b.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: read %s head: %w", MetadataBranch, err)
	}
	if !ok {
		return nil, fmt.Errorf("mirror: metadata branch %q does not exist", MetadataBranch)
	}
	tree, _, err := b.HeadTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: read %s tree: %w", MetadataBranch, err)
	}
	return newSnapshot(m, tree, head), nil
}

// CommitState reads the three status leaves for a single (commit, ci
// context) pair. It returns ok=false, not an error, if no status has
// ever been written there.
func (m *Mirror) CommitState(ctx context.Context, commit model.Commit, ciContext path.Path) (model.Status, bool, error) {
	tree, ok, err := m.branch().HeadTree(ctx)
	if err != nil {
		return model.Status{}, false, fmt.Errorf("mirror: read %s tree: %w", MetadataBranch, err)
	}
	if !ok {
		return model.Status{}, false, nil
	}
	return readStatus(ctx, tree, commit, ciContext)
}

func statusDir(commit model.Commit, ciContext path.Path) path.Path {
	return path.MustNew(commit.Repo.User, commit.Repo.Repo, "commit", commit.Hash, "status").Join(ciContext)
}

func readStatus(ctx context.Context, tree *store.Tree, commit model.Commit, ciContext path.Path) (model.Status, bool, error) {
	dir := statusDir(commit, ciContext)
	stateData, err := tree.ReadFile(ctx, dir.MustAppend("state"))
	if store.IsNoEntry(err) {
		return model.Status{}, false, nil
	}
	if err != nil {
		return model.Status{}, false, fmt.Errorf("mirror: read status state: %w", err)
	}
	status := model.Status{
		Commit:  commit,
		Context: ciContext,
		State:   model.StatusState(trimNewline(stateData)),
	}
	if descData, err := tree.ReadFile(ctx, dir.MustAppend("description")); err == nil {
		status.Description = trimNewline(descData)
	} else if !store.IsNoEntry(err) {
		return model.Status{}, false, fmt.Errorf("mirror: read status description: %w", err)
	}
	if urlData, err := tree.ReadFile(ctx, dir.MustAppend("target_url")); err == nil {
		status.URL = trimNewline(urlData)
	} else if !store.IsNoEntry(err) {
		return model.Status{}, false, fmt.Errorf("mirror: read status target_url: %w", err)
	}
	return status, true, nil
}

// SetState writes a status report under commit/<hash>/status/<ci…>/ on
// the metadata branch and commits with message. The transaction is
// retried on transient conflict by the underlying Store.
func (m *Mirror) SetState(ctx context.Context, commit model.Commit, ciContext path.Path, state model.StatusState, description, targetURL, message string) error {
	dir := statusDir(commit, ciContext)
	return m.branch().WithTransaction(ctx, func(tx *store.Transaction) store.Outcome {
		if err := tx.MakeDirs(ctx, dir); err != nil {
			m.log.Error("mirror: make status dirs", "error", err)
			return tx.Abort()
		}
		if err := tx.CreateOrReplaceFile(ctx, dir.MustAppend("state"), withNewline(string(state))); err != nil {
			m.log.Error("mirror: write status state", "error", err)
			return tx.Abort()
		}
		if err := tx.CreateOrReplaceFile(ctx, dir.MustAppend("description"), withNewline(description)); err != nil {
			m.log.Error("mirror: write status description", "error", err)
			return tx.Abort()
		}
		urlPath := dir.MustAppend("target_url")
		if targetURL == "" {
			if err := tx.Remove(ctx, urlPath); err != nil && !store.IsNoEntry(err) {
				m.log.Error("mirror: remove status target_url", "error", err)
				return tx.Abort()
			}
		} else if err := tx.CreateOrReplaceFile(ctx, urlPath, withNewline(targetURL)); err != nil {
			m.log.Error("mirror: write status target_url", "error", err)
			return tx.Abort()
		}
		return tx.Commit(message)
	})
}

// EnableMonitoring creates a ".monitor" marker for each project that
// lacks one, in a single transaction. The transaction is aborted (no
// commit) if every project is already monitored.
func (m *Mirror) EnableMonitoring(ctx context.Context, projects []model.ProjectID) error {
	return m.branch().WithTransaction(ctx, func(tx *store.Transaction) store.Outcome {
		added := 0
		for _, id := range projects {
			marker := id.Path().MustAppend(model.MonitorMarker)
			exists, err := tx.ExistsFile(ctx, marker)
			if err != nil {
				m.log.Error("mirror: check monitor marker", "project", id, "error", err)
				return tx.Abort()
			}
			if exists {
				continue
			}
			if err := tx.CreateFile(ctx, marker, []byte{}); err != nil {
				m.log.Error("mirror: create monitor marker", "project", id, "error", err)
				return tx.Abort()
			}
			added++
		}
		if added == 0 {
			return tx.Abort()
		}
		return tx.Commit(fmt.Sprintf("Enable monitoring for %d project(s)", added))
	})
}

// Monitor streams every new metadata-branch head as a Snapshot to
// onSnapshot until ctx is cancelled, at which point it returns
// ctx.Err().
func (m *Mirror) Monitor(ctx context.Context, onSnapshot func(*Snapshot) error) error {
	b := m.branch()
	return b.WaitForHead(ctx, func(head store.ObjectID, ok bool) (bool, error) {
		if !ok {
			return false, nil
		}
		tree, err := m.treeAt(ctx, head)
		if err != nil {
			return false, err
		}
		if err := onSnapshot(newSnapshot(m, tree, head)); err != nil {
			return false, err
		}
		return false, nil // keep monitoring until ctx is cancelled
	})
}

func (m *Mirror) treeAt(ctx context.Context, head store.ObjectID) (*store.Tree, error) {
	tree, err := m.store.CommitTree(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("mirror: resolve commit %s: %w", head, err)
	}
	return tree, nil
}

func trimNewline(data []byte) string {
	s := string(data)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func withNewline(s string) []byte {
	return []byte(s + "\n")
}
