package mirror

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/path"
	"github.com/fenwick-ci/forge/internal/store"
)

func openTestMirror(t *testing.T) (*Mirror, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, nil), s
}

func seed(t *testing.T, s *store.Store, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Branch(MetadataBranch).WithTransaction(ctx, func(tx *store.Transaction) store.Outcome {
		for p, data := range files {
			if err := tx.CreateOrReplaceFile(ctx, path.MustParse(p), []byte(data)); err != nil {
				t.Fatal(err)
			}
		}
		return tx.Commit("seed")
	}))
}

func TestSnapshotFailsWithoutMetadataBranch(t *testing.T) {
	m, _ := openTestMirror(t)
	_, err := m.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestProjectWalksPRsAndRefs(t *testing.T) {
	m, s := openTestMirror(t)
	seed(t, s, map[string]string{
		"foo/bar/pr/7/head":            "abcdef0123456789abcdef0123456789abcdef01\n",
		"foo/bar/pr/7/title":           "my change\n",
		"foo/bar/ref/heads/main/head":  "1111111111111111111111111111111111111111\n",
		"foo/bar/ref/tags/v1.0.0/head": "2222222222222222222222222222222222222222\n",
	})

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	id := model.ProjectID{Repo: model.Repo{User: "foo", Repo: "bar"}}
	prs, refs, err := snap.Project(context.Background(), id)
	require.NoError(t, err)

	require.Contains(t, prs, 7)
	assert.Equal(t, "my change", prs[7].Title)
	assert.Equal(t, model.PRStateOpen, prs[7].State)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", prs[7].HeadCommit)

	require.Contains(t, refs, "heads/main")
	assert.Equal(t, "1111111111111111111111111111111111111111", refs["heads/main"].HeadCommit)
	require.Contains(t, refs, "tags/v1.0.0")
}

func TestProjectSkipsPRMissingHead(t *testing.T) {
	m, s := openTestMirror(t)
	seed(t, s, map[string]string{
		"foo/bar/pr/7/title": "no head here\n",
	})

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	id := model.ProjectID{Repo: model.Repo{User: "foo", Repo: "bar"}}
	prs, _, err := snap.Project(context.Background(), id)
	require.NoError(t, err)
	assert.NotContains(t, prs, 7)
}

func TestProjectSkipsMalformedPRNumber(t *testing.T) {
	m, s := openTestMirror(t)
	seed(t, s, map[string]string{
		"foo/bar/pr/not-a-number/head": "abcdef0123456789abcdef0123456789abcdef01\n",
	})

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	id := model.ProjectID{Repo: model.Repo{User: "foo", Repo: "bar"}}
	prs, _, err := snap.Project(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, prs)
}

func TestProjectYieldsBadTitlePlaceholderWhenTitleUnreadable(t *testing.T) {
	m, s := openTestMirror(t)
	seed(t, s, map[string]string{
		"foo/bar/pr/7/head": "abcdef0123456789abcdef0123456789abcdef01\n",
	})

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	id := model.ProjectID{Repo: model.Repo{User: "foo", Repo: "bar"}}
	prs, _, err := snap.Project(context.Background(), id)
	require.NoError(t, err)
	require.Contains(t, prs, 7)
	assert.Contains(t, prs[7].Title, "Bad title:")
}

func TestMonitorMarkerUnderRefRootIsSkippedNotRecursedInto(t *testing.T) {
	m, s := openTestMirror(t)
	seed(t, s, map[string]string{
		"foo/bar/ref/.monitor":       "",
		"foo/bar/ref/heads/main/head": "1111111111111111111111111111111111111111\n",
	})

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	id := model.ProjectID{Repo: model.Repo{User: "foo", Repo: "bar"}}
	_, refs, err := snap.Project(context.Background(), id)
	require.NoError(t, err, "a reserved marker sitting directly under ref/ must not be recursed into as if it were a directory")
	assert.NotContains(t, refs, ".monitor")
	assert.Contains(t, refs, "heads/main")
}

func TestSetStateWritesAndCommitStateReadsBack(t *testing.T) {
	m, _ := openTestMirror(t)
	ctx := context.Background()
	commit, err := model.NewCommit(model.Repo{User: "foo", Repo: "bar"}, "abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)
	ciContext := path.MustParse("ci/unit-tests")

	require.NoError(t, m.SetState(ctx, commit, ciContext, model.StatusSuccess, "all green", "https://ci.example/42", "Set state of PR#7: t = success"))

	status, ok, err := m.CommitState(ctx, commit, ciContext)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusSuccess, status.State)
	assert.Equal(t, "all green", status.Description)
	assert.Equal(t, "https://ci.example/42", status.URL)
}

func TestSetStateWithEmptyURLRemovesTargetURL(t *testing.T) {
	m, _ := openTestMirror(t)
	ctx := context.Background()
	commit, err := model.NewCommit(model.Repo{User: "foo", Repo: "bar"}, "abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)
	ciContext := path.MustParse("ci/unit-tests")

	require.NoError(t, m.SetState(ctx, commit, ciContext, model.StatusPending, "running", "https://ci.example/42", "first"))
	require.NoError(t, m.SetState(ctx, commit, ciContext, model.StatusSuccess, "done", "", "second"))

	status, ok, err := m.CommitState(ctx, commit, ciContext)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, status.URL)
}

func TestCommitStateAbsentIsNotError(t *testing.T) {
	m, _ := openTestMirror(t)
	ctx := context.Background()
	commit, err := model.NewCommit(model.Repo{User: "foo", Repo: "bar"}, "abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)

	_, ok, err := m.CommitState(ctx, commit, path.MustParse("ci/unit-tests"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnableMonitoringCreatesMarkerOnce(t *testing.T) {
	m, s := openTestMirror(t)
	ctx := context.Background()
	id := model.ProjectID{Repo: model.Repo{User: "foo", Repo: "bar"}}

	require.NoError(t, m.EnableMonitoring(ctx, []model.ProjectID{id}))
	headAfterFirst, _, err := s.Branch(MetadataBranch).Head(ctx)
	require.NoError(t, err)

	require.NoError(t, m.EnableMonitoring(ctx, []model.ProjectID{id}))
	headAfterSecond, _, err := s.Branch(MetadataBranch).Head(ctx)
	require.NoError(t, err)

	assert.Equal(t, headAfterFirst, headAfterSecond, "re-enabling monitoring for an already-monitored project must not create a new commit")
}

func TestMonitorStreamsNewSnapshots(t *testing.T) {
	m, s := openTestMirror(t)
	seed(t, s, map[string]string{"foo/bar/.monitor": ""})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seen := make(chan *Snapshot, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.Monitor(ctx, func(s *Snapshot) error {
			select {
			case seen <- s:
			default:
			}
			return nil
		})
	}()

	seed(t, s, map[string]string{"foo/bar/pr/9/head": "3333333333333333333333333333333333333333\n"})

	select {
	case <-seen:
	case <-time.After(time.Second):
		t.Fatal("Monitor did not observe the new snapshot")
	}

	cancel()
	<-done
}
