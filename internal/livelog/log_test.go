package livelog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRejectsDuplicateBranch(t *testing.T) {
	m := NewManager()
	_, err := m.Create("build/1", nil)
	require.NoError(t, err)

	_, err = m.Create("build/1", nil)
	assert.Error(t, err)
}

func TestLookupMissing(t *testing.T) {
	m := NewManager()
	_, ok := m.Lookup("build/unknown")
	assert.False(t, ok)
}

func TestSubscribeReplaysBufferedPrefix(t *testing.T) {
	m := NewManager()
	l, err := m.Create("build/1", nil)
	require.NoError(t, err)

	l.Append([]byte("line one\n"))
	l.Append([]byte("line two\n"))

	stream := l.Subscribe()
	defer stream.Close()

	ctx := context.Background()
	data, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "line one\n", string(data))

	data, ok, err = stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "line two\n", string(data))
}

func TestSubscribeReceivesLiveAppends(t *testing.T) {
	m := NewManager()
	l, err := m.Create("build/1", nil)
	require.NoError(t, err)

	stream := l.Subscribe()
	defer stream.Close()

	go l.Append([]byte("async\n"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "async\n", string(data))
}

func TestCloseEndsStream(t *testing.T) {
	m := NewManager()
	l, err := m.Create("build/1", nil)
	require.NoError(t, err)

	stream := l.Subscribe()
	defer stream.Close()

	m.Close("build/1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseDeliversBufferedDataBeforeEndOfStream(t *testing.T) {
	m := NewManager()
	l, err := m.Create("build/1", nil)
	require.NoError(t, err)

	l.Append([]byte("one\n"))
	stream := l.Subscribe()
	defer stream.Close()
	m.Close("build/1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one\n", string(data))

	_, ok, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelWithoutFunctionReportsNotCancellable(t *testing.T) {
	m := NewManager()
	_, err := m.Create("build/1", nil)
	require.NoError(t, err)

	ok, msg := m.Cancel("build/1")
	assert.False(t, ok)
	assert.NotEmpty(t, msg)
}

func TestCancelInvokesRegisteredFunction(t *testing.T) {
	m := NewManager()
	l, err := m.Create("build/1", nil)
	require.NoError(t, err)

	l.SetCancelFunc(func() (bool, string) { return true, "" })
	ok, _ := m.Cancel("build/1")
	assert.True(t, ok)
}

func TestCancelOnUnknownBranchReportsFailure(t *testing.T) {
	m := NewManager()
	ok, msg := m.Cancel("build/missing")
	assert.False(t, ok)
	assert.Contains(t, msg, "build/missing")
}

func TestForceRebuildRunsTriggerExactlyOnce(t *testing.T) {
	m := NewManager()
	calls := 0
	l, err := m.Create("build/1", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, l.ForceRebuild())
	require.NoError(t, l.ForceRebuild())
	assert.Equal(t, 1, calls)
}
