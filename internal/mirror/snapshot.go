package mirror

import (
	"context"
	"strconv"
	"sync"

	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/path"
	"github.com/fenwick-ci/forge/internal/store"
)

// Snapshot is a read-only, immutable view of the mirror at a specific
// Store commit. Per-project PR/Ref walks are memoized inside the
// Snapshot so repeated calls don't re-walk the tree.
type Snapshot struct {
	mirror *Mirror
	tree   *store.Tree
	commit store.ObjectID

	mu       sync.Mutex
	projects map[model.ProjectID]*projectEntry
}

type projectEntry struct {
	once sync.Once
	prs  map[int]model.PR
	refs map[string]model.Ref
	err  error
}

func newSnapshot(m *Mirror, tree *store.Tree, commit store.ObjectID) *Snapshot {
	return &Snapshot{mirror: m, tree: tree, commit: commit, projects: make(map[model.ProjectID]*projectEntry)}
}

// Commit returns the metadata-branch commit this Snapshot is pinned to.
func (s *Snapshot) Commit() store.ObjectID { return s.commit }

// Project returns the PRs (indexed by number) and Refs (indexed by their
// "/"-joined name) observed for id. The underlying tree walk runs at
// most once per Snapshot per project.
func (s *Snapshot) Project(ctx context.Context, id model.ProjectID) (map[int]model.PR, map[string]model.Ref, error) {
	entry := s.entryFor(id)
	entry.once.Do(func() {
		entry.prs, entry.err = s.mirror.walkPRs(ctx, s.tree, id)
		if entry.err != nil {
			return
		}
		entry.refs, entry.err = s.mirror.walkRefs(ctx, s.tree, id)
	})
	return entry.prs, entry.refs, entry.err
}

func (s *Snapshot) entryFor(id model.ProjectID) *projectEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.projects[id]
	if !ok {
		entry = &projectEntry{}
		s.projects[id] = entry
	}
	return entry
}

// PR returns a single lazily-hydrated PR, or ok=false if it doesn't
// exist or was skipped as malformed.
func (s *Snapshot) PR(ctx context.Context, id model.ProjectID, number int) (model.PR, bool, error) {
	prs, _, err := s.Project(ctx, id)
	if err != nil {
		return model.PR{}, false, err
	}
	pr, ok := prs[number]
	return pr, ok, nil
}

// Ref returns a single lazily-hydrated Ref by its "/"-joined name, or
// ok=false if it doesn't exist or was skipped as malformed.
func (s *Snapshot) Ref(ctx context.Context, id model.ProjectID, name string) (model.Ref, bool, error) {
	_, refs, err := s.Project(ctx, id)
	if err != nil {
		return model.Ref{}, false, err
	}
	ref, ok := refs[name]
	return ref, ok, nil
}

// resolveHead reads the head file at headPath, validates it as a commit
// hash, and builds a T from it; ok is false (no error) if the head is
// missing or malformed, which the caller logs and skips. Shared between
// the PR and Ref walks, which differ only in how they enumerate entries
// and construct the resulting entity.
func resolveHead[T Entity](ctx context.Context, m *Mirror, tree *store.Tree, headPath path.Path, kind string, key any, build func(hash string) T) (T, bool, error) {
	var zero T
	headData, err := tree.ReadFile(ctx, headPath)
	if store.IsNoEntry(err) {
		m.log.Warn("mirror: skipping "+kind+" without head", "key", key)
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	hash := trimNewline(headData)
	if !model.IsCommitHash(hash) {
		m.log.Warn("mirror: skipping "+kind+" with malformed head", "key", key, "head", hash)
		return zero, false, nil
	}
	return build(hash), true, nil
}

func (m *Mirror) walkPRs(ctx context.Context, tree *store.Tree, id model.ProjectID) (map[int]model.PR, error) {
	prDir := id.Path().MustAppend("pr")
	names, err := tree.ReadDir(ctx, prDir)
	if store.IsNoEntry(err) {
		return map[int]model.PR{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[int]model.PR, len(names))
	for _, name := range names {
		number, convErr := strconv.Atoi(name)
		if convErr != nil {
			m.log.Warn("mirror: skipping malformed PR number", "project", id, "entry", name, "error", convErr)
			continue
		}
		prPath := prDir.MustAppend(name)
		pr, ok, err := resolveHead(ctx, m, tree, prPath.MustAppend("head"), "PR", number, func(hash string) model.PR {
			return model.PR{
				Repo:       id.Repo,
				Number:     number,
				State:      model.PRStateOpen, // presence in the mirror implies open; closed PRs are absent
				HeadCommit: hash,
			}
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		pr.Title = m.readTitle(ctx, tree, prPath.MustAppend("title"))
		out[number] = pr
	}
	return out, nil
}

func (m *Mirror) readTitle(ctx context.Context, tree *store.Tree, titlePath path.Path) string {
	titleData, err := tree.ReadFile(ctx, titlePath)
	if err != nil {
		return model.BadTitlePlaceholder(err)
	}
	return trimNewline(titleData)
}

func (m *Mirror) walkRefs(ctx context.Context, tree *store.Tree, id model.ProjectID) (map[string]model.Ref, error) {
	out := make(map[string]model.Ref)
	refRoot := id.Path().MustAppend("ref")
	if err := m.walkRefDir(ctx, tree, id, refRoot, path.Path{}, out); err != nil {
		if store.IsNoEntry(err) {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

// walkRefDir implements the spec's DFS rule: a directory containing a
// "head" file is a ref at that path; otherwise recurse into it.
func (m *Mirror) walkRefDir(ctx context.Context, tree *store.Tree, id model.ProjectID, dir, rel path.Path, out map[string]model.Ref) error {
	names, err := tree.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if rel.Empty() && name == model.MonitorMarker {
			continue // reserved marker, never a ref
		}
		childDir := dir.MustAppend(name)
		childRel := rel.MustAppend(name)

		hasHead, err := tree.ExistsFile(ctx, childDir.MustAppend("head"))
		if err != nil {
			return err
		}
		if !hasHead {
			if err := m.walkRefDir(ctx, tree, id, childDir, childRel, out); err != nil {
				return err
			}
			continue
		}

		ref, ok, err := resolveHead(ctx, m, tree, childDir.MustAppend("head"), "ref", childRel.String(), func(hash string) model.Ref {
			return model.Ref{Repo: id.Repo, Name: childRel, HeadCommit: hash}
		})
		if err != nil {
			return err
		}
		if ok {
			out[childRel.String()] = ref
		}
	}
	return nil
}
