package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// maxTransactionRetries bounds the CAS retry loop in WithTransaction.
// A transient conflict is retried; this many consecutive losses is
// treated as a fatal contention failure rather than retried forever.
const maxTransactionRetries = 20

// Branch is a handle to a named, mutable line of commits. It need not
// exist yet — HeadTree and WithTransaction treat an unknown branch name
// the same as one with no commits.
type Branch struct {
	store *Store
	name  string
}

// Name returns the branch's name.
func (b *Branch) Name() string { return b.name }

// Head returns the branch's current head commit ID. ok is false if the
// branch has no commits yet (not an error).
func (b *Branch) Head(ctx context.Context) (ObjectID, bool, error) {
	var headID sql.NullString
	err := b.store.db.QueryRowContext(ctx, "SELECT head_id FROM branches WHERE name = ?", b.name).Scan(&headID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: read head of %q: %w", b.name, err)
	}
	if !headID.Valid || headID.String == "" {
		return "", false, nil
	}
	return ObjectID(headID.String), true, nil
}

// HeadTree returns a read-only Tree view at the branch's current head.
// ok is false if the branch has no commits yet.
func (b *Branch) HeadTree(ctx context.Context) (*Tree, bool, error) {
	head, ok, err := b.Head(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	tid, err := b.store.commitTreeID(ctx, head)
	if err != nil {
		return nil, false, err
	}
	return newTree(b.store, tid), true, nil
}

// CommitTree returns a read-only Tree view of the tree referenced by an
// arbitrary commit ID, such as one delivered by WaitForHead. Unlike
// HeadTree this does not re-read the branch's current head.
func (s *Store) CommitTree(ctx context.Context, commit ObjectID) (*Tree, error) {
	tid, err := s.commitTreeID(ctx, commit)
	if err != nil {
		return nil, err
	}
	return newTree(s, tid), nil
}

// commitTreeID looks up the tree object referenced by a commit. A
// missing commit is a store-level corruption, not a NoEntry condition —
// callers only ever pass a commit ID they just read as a live head.
func (s *Store) commitTreeID(ctx context.Context, commit ObjectID) (ObjectID, error) {
	var tid string
	err := s.db.QueryRowContext(ctx, "SELECT tree_id FROM commits WHERE id = ?", string(commit)).Scan(&tid)
	if err != nil {
		return "", fmt.Errorf("store: read commit %s: %w", commit, err)
	}
	return ObjectID(tid), nil
}

// WithTransaction supplies fn a mutable Transaction rooted at the
// branch's current head. If fn returns Commit, the mutated tree is
// flushed to content-addressed objects and the branch head advances
// atomically; if the head moved concurrently the transaction is rebuilt
// against the new head and fn runs again. If fn returns Abort, nothing
// is written.
func (b *Branch) WithTransaction(ctx context.Context, fn func(*Transaction) Outcome) error {
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		head, hadHead, err := b.Head(ctx)
		if err != nil {
			return err
		}
		var rootID ObjectID
		if hadHead {
			rootID, err = b.store.commitTreeID(ctx, head)
			if err != nil {
				return err
			}
		}

		tx := &Transaction{store: b.store, root: newRootNode(rootID)}
		outcome := fn(tx)

		switch outcome.kind {
		case outcomeAbort:
			return nil
		case outcomeCommit:
			committed, err := b.tryCommit(ctx, head, hadHead, tx.root, outcome.message)
			if err != nil {
				return err
			}
			if committed {
				b.store.mu.Lock()
				b.store.notifyBranchLocked(b.name)
				b.store.mu.Unlock()
				return nil
			}
			// Lost the CAS race: rebuild against the new head and retry.
			continue
		default:
			return fmt.Errorf("store: transaction for %q returned no outcome (forgot Commit/Abort?)", b.name)
		}
	}
	return &ConflictError{Branch: b.name, Retries: maxTransactionRetries}
}

// tryCommit flushes root to objects and attempts to CAS the branch head
// from (expectedHead, hadHead) to the new commit. Returns committed=false
// on a lost race, leaving the database unchanged.
func (b *Branch) tryCommit(ctx context.Context, expectedHead ObjectID, hadHead bool, root *node, message string) (bool, error) {
	dbTx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin commit transaction: %w", err)
	}
	defer dbTx.Rollback() //nolint:errcheck

	var currentHead sql.NullString
	err = dbTx.QueryRowContext(ctx, "SELECT head_id FROM branches WHERE name = ?", b.name).Scan(&currentHead)
	switch {
	case err == sql.ErrNoRows:
		if hadHead {
			return false, nil // branch disappeared — treat as a race
		}
	case err != nil:
		return false, fmt.Errorf("store: read head for commit: %w", err)
	default:
		cur := ObjectID("")
		if currentHead.Valid {
			cur = ObjectID(currentHead.String)
		}
		if cur != expectedHead {
			return false, nil // raced with a concurrent transaction
		}
	}

	newTreeID, _, err := persistNode(ctx, dbTx, root)
	if err != nil {
		return false, err
	}

	rec := commitRecord{
		Tree:    newTreeID,
		Parent:  expectedHead,
		Message: message,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	commitID, _, err := commitObjectID(rec)
	if err != nil {
		return false, err
	}
	if _, err := dbTx.ExecContext(ctx,
		"INSERT INTO commits (id, tree_id, parent_id, message, committed_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
		string(commitID), string(newTreeID), nullableID(rec.Parent), rec.Message, rec.Time); err != nil {
		return false, fmt.Errorf("store: write commit object: %w", err)
	}

	if _, err := dbTx.ExecContext(ctx,
		"INSERT INTO branches (name, head_id) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET head_id = excluded.head_id",
		b.name, string(commitID)); err != nil {
		return false, fmt.Errorf("store: advance branch %q: %w", b.name, err)
	}

	if err := dbTx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit transaction: %w", err)
	}
	return true, nil
}

func nullableID(id ObjectID) any {
	if id == "" {
		return nil
	}
	return string(id)
}

// WaitForHead repeatedly invokes pred with the branch's current head
// (and whether it has one), waiting for pred to signal done or ctx to be
// cancelled. Delivered heads are monotonically more recent; intermediate
// heads may be skipped if they change faster than the caller observes.
func (b *Branch) WaitForHead(ctx context.Context, pred func(head ObjectID, ok bool) (done bool, err error)) error {
	for {
		// Subscribe before reading the head so a commit landing between
		// the read and the wait still wakes this loop.
		ch := b.store.subscribe(b.name)
		head, ok, err := b.Head(ctx)
		if err != nil {
			return err
		}
		done, err := pred(head, ok)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			// loop back around and re-check the head
		}
	}
}
