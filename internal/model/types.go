package model

import (
	"fmt"
	"regexp"

	"github.com/fenwick-ci/forge/internal/path"
)

// Repo identifies a repository hosted by the forge.
type Repo struct {
	User string
	Repo string
}

func (r Repo) String() string {
	return r.User + "/" + r.Repo
}

// ProjectID is a Repo paired with its derived metadata-tree path.
type ProjectID struct {
	Repo Repo
}

// Path returns the "<user>/<repo>" tree path under which this project's
// metadata lives.
func (p ProjectID) Path() path.Path {
	return path.MustNew(p.Repo.User, p.Repo.Repo)
}

func (p ProjectID) String() string {
	return p.Repo.String()
}

var hexSHA1 = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsCommitHash reports whether s is a well-formed 40-hex SHA-1 hash.
func IsCommitHash(s string) bool {
	return hexSHA1.MatchString(s)
}

// Commit identifies a single commit on a repository by its 40-hex hash.
type Commit struct {
	Repo Repo
	Hash string
}

// NewCommit validates the hash before constructing a Commit.
func NewCommit(repo Repo, hash string) (Commit, error) {
	if !IsCommitHash(hash) {
		return Commit{}, fmt.Errorf("model: %q is not a 40-hex commit hash", hash)
	}
	return Commit{Repo: repo, Hash: hash}, nil
}

// ShortHash returns the conventional 7-character abbreviation, or the
// full hash if it is shorter than that (should not happen for valid
// commits, but keeps this safe for malformed/placeholder data).
func (c Commit) ShortHash() string {
	if len(c.Hash) <= 7 {
		return c.Hash
	}
	return c.Hash[:7]
}

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
)

// PR mirrors a single pull request as observed in the metadata tree.
type PR struct {
	Repo       Repo
	Number     int
	Title      string
	Base       string
	State      PRState
	HeadCommit string // 40-hex hash
}

// BadTitlePlaceholder is the synthetic title substituted when a PR's
// title leaf cannot be read. Preserved as an explicit, test-visible
// contract rather than silently dropping the PR.
func BadTitlePlaceholder(err error) string {
	return fmt.Sprintf("Bad title: %s", err)
}

// Ref mirrors a single branch or tag ref as observed in the metadata tree.
// Name begins with "heads/" or "tags/".
type Ref struct {
	Repo       Repo
	Name       path.Path
	HeadCommit string // 40-hex hash
}

// MonitorMarker is the reserved leading segment that shadows the
// per-project monitoring marker; a ref named exactly this at project
// root is disallowed.
const MonitorMarker = ".monitor"

// StatusState is the forge commit-status vocabulary. Case-sensitive.
type StatusState string

const (
	StatusError   StatusState = "error"
	StatusPending StatusState = "pending"
	StatusSuccess StatusState = "success"
	StatusFailure StatusState = "failure"
)

// ValidStatusState reports whether s is one of the four allowed states.
func ValidStatusState(s StatusState) bool {
	switch s {
	case StatusError, StatusPending, StatusSuccess, StatusFailure:
		return true
	default:
		return false
	}
}

// Status is a single CI status report attached to a commit under a
// named context (e.g. "ci/unit-tests", stored as path segments).
type Status struct {
	Commit      Commit
	Context     path.Path
	State       StatusState
	Description string
	URL         string // optional; empty means absent
}
