package engine

import (
	"fmt"
	"sync"

	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/term"
)

// TargetKind distinguishes a pull request target from a ref target.
type TargetKind int

const (
	TargetPR TargetKind = iota
	TargetRef
)

// TargetID identifies a pipeline subject within a project: either a PR
// number or a ref name, never both.
type TargetID struct {
	Project model.ProjectID
	Kind    TargetKind
	Number  int    // valid when Kind == TargetPR
	Ref     string // valid when Kind == TargetRef
}

func prTarget(project model.ProjectID, number int) TargetID {
	return TargetID{Project: project, Kind: TargetPR, Number: number}
}

func refTarget(project model.ProjectID, name string) TargetID {
	return TargetID{Project: project, Kind: TargetRef, Ref: name}
}

// key is the in-memory map key for this target within its project's
// target set; unrelated to any Store path.
func (t TargetID) key() string {
	if t.Kind == TargetPR {
		return fmt.Sprintf("pr:%d", t.Number)
	}
	return "ref:" + t.Ref
}

// String renders the target's identity alone, e.g. "PR#7" or
// "ref heads/main"; Target.dump adds the commit and title.
func (t TargetID) String() string {
	switch t.Kind {
	case TargetPR:
		return fmt.Sprintf("PR#%d", t.Number)
	default:
		return "ref " + t.Ref
	}
}

// dump renders the target for a publication message, e.g.
// "PR#7 (commit=abcdef;title=x)" or "ref heads/main (commit=abcdef)".
func (t *Target) dump() string {
	if t.ID.Kind == TargetPR {
		return fmt.Sprintf("PR#%d (commit=%s;title=%s)", t.ID.Number, shortHash(t.Head), t.Title)
	}
	return fmt.Sprintf("ref %s (commit=%s)", t.ID.Ref, shortHash(t.Head))
}

func shortHash(hash string) string {
	if len(hash) <= 7 {
		return hash
	}
	return hash[:7]
}

// WebPath returns the path segment under webBaseURL this target's
// status page lives at.
func (t TargetID) WebPath() string {
	switch t.Kind {
	case TargetPR:
		return fmt.Sprintf("pr/%s/%d", t.Project, t.Number)
	default:
		return fmt.Sprintf("ref/%s/%s", t.Project, t.Ref)
	}
}

// Target is a PR or ref under evaluation, owning the jobs materialized
// from its project's pipeline map. Target identity survives head
// updates: a snapshot diff mutates Head/Title of an existing Target in
// place rather than replacing it, so Jobs keep their prior state and
// cancellation handles across recalculation.
type Target struct {
	ID    TargetID
	Head  string
	Title string
	Jobs  []*Job
}

// JobState is the last published outcome of a Job's evaluation, as
// exposed through job_state.
type JobState struct {
	Status      term.ResultState
	Description string
	Logs        term.LogTree
}

// Job is one named pipeline step of a Target. publishedHash is the
// commit hash the last published JobState was computed against, kept
// explicit rather than re-derived from the target's (possibly already
// mutated) Head, since Target.Head is updated in place on every
// snapshot diff.
type Job struct {
	Name string
	Term term.Term

	mu            sync.Mutex
	publishedHash string
	state         JobState
	cancel        func()
}

func newJob(name string, t term.Term) *Job {
	return &Job{Name: name, Term: t}
}

// State returns the job's last published outcome.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// cancelEvaluation invokes the job's current evaluation cancel handle,
// if any, exactly once, then clears it.
func (j *Job) cancelEvaluation() {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
