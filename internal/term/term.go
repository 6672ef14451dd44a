package term

import (
	"fmt"

	"github.com/fenwick-ci/forge/internal/livelog"
	"github.com/fenwick-ci/forge/internal/store"
)

// Status is a term node's lifecycle state.
type Status int

const (
	Queued Status = iota
	Running
	Pending
	Done
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("term.Status(%d)", int(s))
	}
}

// ResultState is the reportable outcome of a resolved term evaluation.
type ResultState string

const (
	StateSuccess ResultState = "success"
	StatePending ResultState = "pending"
	StateFailure ResultState = "failure"
)

// Result is a node's pure evaluation outcome: a state plus a
// human-readable description, never I/O or side effects themselves.
type Result struct {
	State       ResultState
	Description string
}

// LogTree describes where a node's log output lives, mirroring the
// shape of the term that produced it.
type LogTree interface {
	logTreeNode()
}

// EmptyLog marks a node that produced no log output of its own.
type EmptyLog struct{}

func (EmptyLog) logTreeNode() {}

// LiveLog marks a build node whose underlying work is still in flight;
// Log is the in-process live log a caller can subscribe to for a live
// tail. The evaluator itself never returns this variant from Run
// (runBuild blocks until the build resolves), and no other package in
// this module constructs it.
type LiveLog struct {
	Branch string
	Log    *livelog.Log
}

func (LiveLog) logTreeNode() {}

// SavedLog marks a completed build node: its log was persisted onto
// branch, and Rebuild forces the underlying cache entry to be rebuilt on
// next demand.
type SavedLog struct {
	Branch  string
	Rebuild func() error
	Commit  store.ObjectID
}

func (SavedLog) logTreeNode() {}

// PairLog combines the LogTrees of a combinator's two operands.
type PairLog struct {
	Left, Right LogTree
}

func (PairLog) logTreeNode() {}

// Term is a pure, declarative node in the evaluation DAG.
type Term interface {
	// key uniquely identifies this node's evaluation for fan-in: two
	// terms with equal keys are evaluated at most once per run.
	key() string
}
