package path

import (
	"fmt"
	"strings"
)

// Path is an ordered, immutable sequence of validated segments.
// The zero value is the empty (root) path.
type Path struct {
	segments []string
}

// InvalidSegmentError reports a structural failure in a single segment.
type InvalidSegmentError struct {
	Segment string
	Reason  string
}

func (e *InvalidSegmentError) Error() string {
	return fmt.Sprintf("invalid path segment %q: %s", e.Segment, e.Reason)
}

// validateSegment rejects the empty, "." and ".." components and any
// segment containing a "/".
func validateSegment(s string) error {
	switch {
	case s == "":
		return &InvalidSegmentError{Segment: s, Reason: "empty segment"}
	case s == ".":
		return &InvalidSegmentError{Segment: s, Reason: "segment is \".\""}
	case s == "..":
		return &InvalidSegmentError{Segment: s, Reason: "segment is \"..\""}
	case strings.Contains(s, "/"):
		return &InvalidSegmentError{Segment: s, Reason: "segment contains \"/\""}
	}
	return nil
}

// New constructs a Path from already-split segments, validating each one.
func New(segments ...string) (Path, error) {
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return Path{}, err
		}
	}
	out := make([]string, len(segments))
	copy(out, segments)
	return Path{segments: out}, nil
}

// MustNew is like New but panics on error. Use only for literal,
// known-valid segments (tests, constants).
func MustNew(segments ...string) Path {
	p, err := New(segments...)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse splits a "/"-joined string into a Path, validating each segment.
// The empty string parses to the empty (root) Path.
func Parse(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	return New(strings.Split(s, "/")...)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the Path as a "/"-joined string.
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

// Segments returns a defensive copy of the underlying segment slice.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// Empty reports whether the Path has no segments.
func (p Path) Empty() bool {
	return len(p.segments) == 0
}

// Append validates a single segment and returns a new Path with it added.
// The receiver is left unmodified.
func (p Path) Append(segment string) (Path, error) {
	if err := validateSegment(segment); err != nil {
		return Path{}, err
	}
	out := make([]string, len(p.segments)+1)
	copy(out, p.segments)
	out[len(p.segments)] = segment
	return Path{segments: out}, nil
}

// MustAppend is like Append but panics on error.
func (p Path) MustAppend(segment string) Path {
	q, err := p.Append(segment)
	if err != nil {
		panic(err)
	}
	return q
}

// Join concatenates two already-valid Paths (the "/@" operator in the spec).
func (p Path) Join(other Path) Path {
	out := make([]string, len(p.segments)+len(other.segments))
	copy(out, p.segments)
	copy(out[len(p.segments):], other.segments)
	return Path{segments: out}
}

// HasPrefix reports whether prefix is a leading sub-sequence of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segments) > len(p.segments) {
		return false
	}
	for i, s := range prefix.segments {
		if p.segments[i] != s {
			return false
		}
	}
	return true
}

// Parent returns the Path without its final segment. ok is false for the
// empty Path, which has no parent.
func (p Path) Parent() (Path, bool) {
	if len(p.segments) == 0 {
		return Path{}, false
	}
	return Path{segments: p.segments[:len(p.segments)-1]}, true
}

// Base returns the final segment. ok is false for the empty Path.
func (p Path) Base() (string, bool) {
	if len(p.segments) == 0 {
		return "", false
	}
	return p.segments[len(p.segments)-1], true
}

// Equal reports whether two Paths have identical segment sequences.
func (p Path) Equal(other Path) bool {
	return Compare(p, other) == 0
}

// Compare orders Paths lexicographically over their segment sequences,
// segment-by-segment, with a shorter Path ordering before a longer one
// that shares its segments as a prefix. Returns -1, 0, or 1.
func Compare(a, b Path) int {
	n := len(a.segments)
	if len(b.segments) < n {
		n = len(b.segments)
	}
	for i := 0; i < n; i++ {
		if a.segments[i] != b.segments[i] {
			if a.segments[i] < b.segments[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a.segments) < len(b.segments):
		return -1
	case len(a.segments) > len(b.segments):
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b under Compare. Suitable for
// sort.Slice and path-indexed container ordering.
func Less(a, b Path) bool {
	return Compare(a, b) < 0
}
