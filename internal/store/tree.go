package store

import (
	"context"
	"sort"

	"github.com/fenwick-ci/forge/internal/path"
)

// Tree is a read-only, immutable view of the object graph rooted at a
// specific commit's tree. Trees are cheap to construct — nothing is read
// until a path inside them is actually navigated to.
type Tree struct {
	store *Store
	root  *node
}

func newTree(s *Store, dirID ObjectID) *Tree {
	return &Tree{store: s, root: newRootNode(dirID)}
}

// ReadFile returns the contents of the file at p, or a NoEntry error if
// it doesn't exist.
func (t *Tree) ReadFile(ctx context.Context, p path.Path) ([]byte, error) {
	n, err := walk(ctx, t.store.db, t.root, p, false)
	if err != nil {
		return nil, err
	}
	if n.isDir {
		return nil, newNoEntry(p.String())
	}
	if err := n.ensureData(ctx, t.store.db); err != nil {
		return nil, err
	}
	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, nil
}

// ReadDir returns the sorted names of p's immediate children, or a
// NoEntry error if p doesn't exist or isn't a directory.
func (t *Tree) ReadDir(ctx context.Context, p path.Path) ([]string, error) {
	n, err := walk(ctx, t.store.db, t.root, p, false)
	if err != nil {
		return nil, err
	}
	if !n.isDir {
		return nil, newNoEntry(p.String())
	}
	if err := n.ensureExpanded(ctx, t.store.db); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ExistsFile reports whether p exists and is a file.
func (t *Tree) ExistsFile(ctx context.Context, p path.Path) (bool, error) {
	n, err := walk(ctx, t.store.db, t.root, p, false)
	if IsNoEntry(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !n.isDir, nil
}
