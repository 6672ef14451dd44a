package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"a",
		"a/b",
		"heads/feature/foo",
		"user/repo/pr/7/head",
	}
	for _, s := range cases {
		p, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, p.String(), "round-trip of %q", s)
	}
}

func TestParseRejectsInvalidSegments(t *testing.T) {
	cases := []string{
		"a//b",
		"a/./b",
		"a/../b",
		".",
		"..",
	}
	for _, s := range cases {
		_, err := Parse(s)
		assert.Error(t, err, "expected %q to be rejected", s)
		var invalid *InvalidSegmentError
		assert.ErrorAs(t, err, &invalid)
	}
}

func TestNewRejectsEmptySegment(t *testing.T) {
	_, err := New("a", "", "b")
	require.Error(t, err)
}

func TestAppendAndJoin(t *testing.T) {
	base := MustParse("user/repo")
	withSeg, err := base.Append("pr")
	require.NoError(t, err)
	assert.Equal(t, "user/repo/pr", withSeg.String())

	joined := base.Join(MustParse("ref/heads/main"))
	assert.Equal(t, "user/repo/ref/heads/main", joined.String())

	// Join does not mutate the receiver's backing slice.
	assert.Equal(t, "user/repo", base.String())
}

func TestAppendRejectsInvalidSegment(t *testing.T) {
	base := MustParse("a")
	_, err := base.Append("..")
	assert.Error(t, err)
}

func TestParentAndBase(t *testing.T) {
	p := MustParse("a/b/c")
	base, ok := p.Base()
	require.True(t, ok)
	assert.Equal(t, "c", base)

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "a/b", parent.String())

	root := Path{}
	_, ok = root.Parent()
	assert.False(t, ok)
	_, ok = root.Base()
	assert.False(t, ok)
}

func TestEqualAndCompare(t *testing.T) {
	a := MustParse("a/b")
	b := MustParse("a/b")
	c := MustParse("a/c")
	shorter := MustParse("a")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, 0, Compare(a, b))
	assert.Negative(t, Compare(a, c))
	assert.Positive(t, Compare(c, a))
	assert.True(t, Less(shorter, a))
	assert.False(t, Less(a, shorter))
}

func TestHasPrefix(t *testing.T) {
	p := MustParse("user/repo/pr/7/head")
	assert.True(t, p.HasPrefix(MustParse("user/repo")))
	assert.True(t, p.HasPrefix(Path{}))
	assert.False(t, p.HasPrefix(MustParse("user/other")))
	assert.False(t, MustParse("a").HasPrefix(MustParse("a/b")))
}

func TestOrderingForPathIndexedContainers(t *testing.T) {
	names := []Path{
		MustParse("tags/v2"),
		MustParse("heads/main"),
		MustParse("heads/feature/a"),
		MustParse("heads/feature"),
	}
	want := []string{"heads/feature", "heads/feature/a", "heads/main", "tags/v2"}

	// Insertion-sort using Less, mirroring how a path-indexed map would
	// need to order its enumeration for deterministic iteration.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && Less(names[j], names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	got := make([]string, len(names))
	for i, p := range names {
		got[i] = p.String()
	}
	assert.Equal(t, want, got)
}
