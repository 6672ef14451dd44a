package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpath "github.com/fenwick-ci/forge/internal/path"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBranchHeadAbsentInitially(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, ok, err := s.Branch("github-metadata").Head(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionCommitAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := s.Branch("github-metadata")

	p := fpath.MustParse("foo/bar/pr/7/head")
	err := b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		if err := tx.CreateFile(ctx, p, []byte("abcdef0123456789abcdef0123456789abcdef01\n")); err != nil {
			t.Fatal(err)
		}
		return tx.Commit("seed pr 7")
	})
	require.NoError(t, err)

	tree, ok, err := b.HeadTree(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := tree.ReadFile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef01\n", string(data))

	exists, err := tree.ExistsFile(ctx, p)
	require.NoError(t, err)
	assert.True(t, exists)

	names, err := tree.ReadDir(ctx, fpath.MustParse("foo/bar/pr"))
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, names)
}

func TestTreeReadMissingIsNoEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := s.Branch("github-metadata")

	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateFile(ctx, fpath.MustParse("a/b"), []byte("x"))
		return tx.Commit("seed")
	}))

	tree, ok, err := b.HeadTree(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = tree.ReadFile(ctx, fpath.MustParse("a/missing"))
	assert.True(t, IsNoEntry(err))
}

func TestAbortDiscardsMutations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := s.Branch("github-metadata")

	err := b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateFile(ctx, fpath.MustParse("a/b"), []byte("x"))
		return tx.Abort()
	})
	require.NoError(t, err)

	_, ok, err := b.Head(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "abort must not advance the branch")
}

func TestCreateFileRejectsExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := s.Branch("github-metadata")

	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateFile(ctx, fpath.MustParse("a/b"), []byte("x"))
		return tx.Commit("first")
	}))

	err := b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		createErr := tx.CreateFile(ctx, fpath.MustParse("a/b"), []byte("y"))
		if createErr == nil {
			t.Fatal("expected CreateFile to fail on an existing path")
		}
		return tx.Abort()
	})
	require.NoError(t, err)
}

func TestCreateOrReplaceAndRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := s.Branch("github-metadata")
	p := fpath.MustParse("a/b")

	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateOrReplaceFile(ctx, p, []byte("v1"))
		return tx.Commit("v1")
	}))
	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateOrReplaceFile(ctx, p, []byte("v2"))
		return tx.Commit("v2")
	}))

	tree, _, err := b.HeadTree(ctx)
	require.NoError(t, err)
	data, err := tree.ReadFile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		if err := tx.Remove(ctx, p); err != nil {
			t.Fatal(err)
		}
		return tx.Commit("remove")
	}))

	tree, _, err = b.HeadTree(ctx)
	require.NoError(t, err)
	_, err = tree.ReadFile(ctx, p)
	assert.True(t, IsNoEntry(err))
}

func TestUnrelatedSubtreeUntouchedByCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := s.Branch("github-metadata")

	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateFile(ctx, fpath.MustParse("foo/bar/pr/1/head"), []byte("a"))
		_ = tx.CreateFile(ctx, fpath.MustParse("foo/bar/pr/2/head"), []byte("b"))
		return tx.Commit("seed two PRs")
	}))

	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateOrReplaceFile(ctx, fpath.MustParse("foo/bar/pr/1/head"), []byte("a2"))
		return tx.Commit("update pr 1 only")
	}))

	tree, _, err := b.HeadTree(ctx)
	require.NoError(t, err)
	data, err := tree.ReadFile(ctx, fpath.MustParse("foo/bar/pr/2/head"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data), "untouched PR 2 subtree must survive the commit that only changed PR 1")
}

func TestWithTransactionRetriesOnConcurrentCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := s.Branch("github-metadata")

	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateFile(ctx, fpath.MustParse("count"), []byte("0"))
		return tx.Commit("seed")
	}))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := b.WithTransaction(ctx, func(tx *Transaction) Outcome {
				_ = tx.CreateOrReplaceFile(ctx, fpath.MustParse("count"), []byte{byte('0' + n)})
				return tx.Commit("bump")
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, ok, err := b.Head(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForHeadWakesOnCommit(t *testing.T) {
	s := openTestStore(t)
	b := s.Branch("github-metadata")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seen := make(chan ObjectID, 1)
	go func() {
		_ = b.WaitForHead(ctx, func(head ObjectID, ok bool) (bool, error) {
			if !ok {
				return false, nil
			}
			seen <- head
			return true, nil
		})
	}()

	require.NoError(t, b.WithTransaction(ctx, func(tx *Transaction) Outcome {
		_ = tx.CreateFile(ctx, fpath.MustParse("x"), []byte("y"))
		return tx.Commit("trigger")
	}))

	select {
	case head := <-seen:
		assert.NotEmpty(t, head)
	case <-time.After(time.Second):
		t.Fatal("WaitForHead did not observe the new commit")
	}
}

func TestWaitForHeadRespectsContextCancellation(t *testing.T) {
	s := openTestStore(t)
	b := s.Branch("github-metadata")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- b.WaitForHead(ctx, func(head ObjectID, ok bool) (bool, error) {
			return false, nil
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("WaitForHead did not observe cancellation")
	}
}
