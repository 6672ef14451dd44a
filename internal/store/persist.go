package store

import (
	"context"
	"database/sql"
	"fmt"
)

// persistNode flushes a (possibly partially-expanded) node tree to
// content-addressed blob/tree rows, returning the ObjectID a parent
// entry should reference. Untouched subtrees short-circuit on their
// existing ObjectID without re-reading or re-hashing anything.
func persistNode(ctx context.Context, tx *sql.Tx, n *node) (ObjectID, entryKind, error) {
	if !n.isDir {
		if !n.dataSet {
			// Untouched file: its blob already exists.
			return n.blobID, kindBlob, nil
		}
		data := n.data
		if data == nil {
			data = []byte{} // a nil slice is bound as SQL NULL, not an empty blob
		}
		id := blobID(data)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO blobs (id, data) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
			string(id), data); err != nil {
			return "", "", fmt.Errorf("store: write blob %s: %w", id, err)
		}
		return id, kindBlob, nil
	}

	if !n.expanded {
		// Untouched directory: its tree object already exists.
		return n.dirID, kindTree, nil
	}

	entries := make([]treeEntry, 0, len(n.children))
	for name, child := range n.children {
		childID, childKind, err := persistNode(ctx, tx, child)
		if err != nil {
			return "", "", err
		}
		entries = append(entries, treeEntry{Name: name, Kind: childKind, ID: childID})
	}
	canonical, err := canonicalTree(entries)
	if err != nil {
		return "", "", err
	}
	id := treeID(canonical)
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO trees (id, data) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
		string(id), canonical); err != nil {
		return "", "", fmt.Errorf("store: write tree %s: %w", id, err)
	}
	return id, kindTree, nil
}
