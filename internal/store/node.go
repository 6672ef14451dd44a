package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fenwick-ci/forge/internal/path"
)

// node is an in-memory, lazily-hydrated view of one tree entry. A subtree
// that hasn't been touched keeps only its ObjectID reference; it is
// expanded into a live children map on first navigation into it. This
// lets a transaction mutate a handful of leaves in a large tree without
// paying to load the rest of it.
type node struct {
	isDir bool

	// Directory fields.
	dirID    ObjectID // unmodified, unexpanded subtree reference
	expanded bool
	children map[string]*node

	// File fields.
	blobID  ObjectID // unmodified, unread blob reference
	data    []byte
	dataSet bool
}

func newRootNode(dirID ObjectID) *node {
	return &node{isDir: true, dirID: dirID}
}

func newDirNode(id ObjectID) *node {
	return &node{isDir: true, dirID: id}
}

func newFileNode(id ObjectID) *node {
	return &node{isDir: false, blobID: id}
}

func newEmptyDirNode() *node {
	return &node{isDir: true, expanded: true, children: map[string]*node{}}
}

// ensureExpanded loads this directory's immediate children from storage
// if they haven't been materialized yet.
func (n *node) ensureExpanded(ctx context.Context, db *sql.DB) error {
	if n.expanded {
		return nil
	}
	n.children = map[string]*node{}
	if n.dirID == "" {
		n.expanded = true
		return nil
	}
	var data []byte
	err := db.QueryRowContext(ctx, "SELECT data FROM trees WHERE id = ?", string(n.dirID)).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: tree object %s referenced but missing", n.dirID)
	}
	if err != nil {
		return fmt.Errorf("store: read tree object %s: %w", n.dirID, err)
	}
	var entries []treeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("store: decode tree object %s: %w", n.dirID, err)
	}
	for _, e := range entries {
		if e.Kind == kindTree {
			n.children[e.Name] = newDirNode(e.ID)
		} else {
			n.children[e.Name] = newFileNode(e.ID)
		}
	}
	n.expanded = true
	return nil
}

// ensureData loads this file node's content if it hasn't been read or
// written yet.
func (n *node) ensureData(ctx context.Context, db *sql.DB) error {
	if n.dataSet {
		return nil
	}
	if n.blobID == "" {
		n.data = nil
		n.dataSet = true
		return nil
	}
	var data []byte
	err := db.QueryRowContext(ctx, "SELECT data FROM blobs WHERE id = ?", string(n.blobID)).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: blob object %s referenced but missing", n.blobID)
	}
	if err != nil {
		return fmt.Errorf("store: read blob object %s: %w", n.blobID, err)
	}
	n.data = data
	n.dataSet = true
	return nil
}

// walk navigates to the node at p, expanding directories as it goes.
// If create is true, intermediate directories are created rather than
// reported as missing.
func walk(ctx context.Context, db *sql.DB, root *node, p path.Path, create bool) (*node, error) {
	cur := root
	segs := p.Segments()
	for i, seg := range segs {
		if !cur.isDir {
			return nil, newNoEntry(p.String())
		}
		if err := cur.ensureExpanded(ctx, db); err != nil {
			return nil, err
		}
		child, ok := cur.children[seg]
		if !ok {
			if !create {
				return nil, newNoEntry(p.String())
			}
			child = newEmptyDirNode()
			cur.children[seg] = child
		}
		if i == len(segs)-1 {
			return child, nil
		}
		cur = child
	}
	return cur, nil
}

// parentDir navigates to and returns the (expanded) directory node that
// should contain p's final segment, creating intermediate directories if
// create is true. p must be non-empty.
func parentDir(ctx context.Context, db *sql.DB, root *node, p path.Path, create bool) (*node, string, error) {
	parent, ok := p.Parent()
	base, _ := p.Base()
	if !ok {
		return nil, "", fmt.Errorf("store: empty path has no parent")
	}
	dir, err := walk(ctx, db, root, parent, create)
	if err != nil {
		return nil, "", err
	}
	if !dir.isDir {
		return nil, "", fmt.Errorf("store: %q is not a directory", parent.String())
	}
	if err := dir.ensureExpanded(ctx, db); err != nil {
		return nil, "", err
	}
	return dir, base, nil
}
