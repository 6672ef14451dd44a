package store

import (
	"context"
	"fmt"

	"github.com/fenwick-ci/forge/internal/path"
)

// Transaction is the mutable tree supplied to a WithTransaction callback.
// All reads see the transaction's own in-progress mutations; nothing is
// made durable until the callback returns a commit Outcome.
type Transaction struct {
	store *Store
	root  *node
	done  bool
}

// outcomeKind distinguishes the two ways a transaction callback can end.
type outcomeKind int

const (
	outcomeCommit outcomeKind = iota + 1
	outcomeAbort
)

// Outcome is the value a WithTransaction callback must return: either
// the result of Transaction.Commit or Transaction.Abort.
type Outcome struct {
	kind    outcomeKind
	message string
}

// Commit requests that the transaction be made durable with the given
// commit message once the callback returns.
func (tx *Transaction) Commit(message string) Outcome {
	return Outcome{kind: outcomeCommit, message: message}
}

// Abort requests that all mutations made so far be discarded.
func (tx *Transaction) Abort() Outcome {
	return Outcome{kind: outcomeAbort}
}

// ReadFile reads a file as it currently stands within this transaction,
// including any of the transaction's own uncommitted writes.
func (tx *Transaction) ReadFile(ctx context.Context, p path.Path) ([]byte, error) {
	n, err := walk(ctx, tx.store.db, tx.root, p, false)
	if err != nil {
		return nil, err
	}
	if n.isDir {
		return nil, newNoEntry(p.String())
	}
	if err := n.ensureData(ctx, tx.store.db); err != nil {
		return nil, err
	}
	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, nil
}

// ReadDir lists p's immediate children as they currently stand within
// this transaction.
func (tx *Transaction) ReadDir(ctx context.Context, p path.Path) ([]string, error) {
	t := &Tree{store: tx.store, root: tx.root}
	return t.ReadDir(ctx, p)
}

// ExistsFile reports whether p currently exists as a file within this
// transaction.
func (tx *Transaction) ExistsFile(ctx context.Context, p path.Path) (bool, error) {
	t := &Tree{store: tx.store, root: tx.root}
	return t.ExistsFile(ctx, p)
}

// MakeDirs ensures every directory along p exists, creating any that
// don't.
func (tx *Transaction) MakeDirs(ctx context.Context, p path.Path) error {
	segs := p.Segments()
	cur := tx.root
	for _, seg := range segs {
		if !cur.isDir {
			return fmt.Errorf("store: %q is not a directory", p.String())
		}
		if err := cur.ensureExpanded(ctx, tx.store.db); err != nil {
			return err
		}
		child, ok := cur.children[seg]
		if !ok {
			child = newEmptyDirNode()
			cur.children[seg] = child
		}
		cur = child
	}
	return nil
}

// CreateFile creates a new file at p with the given contents. It fails
// if anything already exists at p.
func (tx *Transaction) CreateFile(ctx context.Context, p path.Path, data []byte) error {
	dir, base, err := parentDir(ctx, tx.store.db, tx.root, p, true)
	if err != nil {
		return err
	}
	if _, exists := dir.children[base]; exists {
		return fmt.Errorf("store: %q already exists", p.String())
	}
	dir.children[base] = &node{isDir: false, data: append([]byte(nil), data...), dataSet: true}
	return nil
}

// CreateOrReplaceFile creates or overwrites the file at p.
func (tx *Transaction) CreateOrReplaceFile(ctx context.Context, p path.Path, data []byte) error {
	dir, base, err := parentDir(ctx, tx.store.db, tx.root, p, true)
	if err != nil {
		return err
	}
	dir.children[base] = &node{isDir: false, data: append([]byte(nil), data...), dataSet: true}
	return nil
}

// Remove deletes the entry at p. It fails with a NoEntry error if
// nothing exists there.
func (tx *Transaction) Remove(ctx context.Context, p path.Path) error {
	dir, base, err := parentDir(ctx, tx.store.db, tx.root, p, false)
	if err != nil {
		return err
	}
	if _, exists := dir.children[base]; !exists {
		return newNoEntry(p.String())
	}
	delete(dir.children, base)
	return nil
}
