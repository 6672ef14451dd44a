package term

import (
	"context"
	"fmt"

	"github.com/fenwick-ci/forge/internal/cache"
	"github.com/fenwick-ci/forge/internal/mirror"
)

// ConstResult returns a term that always yields result without touching
// the snapshot or the cache.
func ConstResult(result Result) Term {
	return &constTerm{
		k:      fmt.Sprintf("const:%s:%s", result.State, result.Description),
		result: result,
	}
}

// Const returns a term that always succeeds with description.
func Const(description string) Term {
	return ConstResult(Result{State: StateSuccess, Description: description})
}

type constTerm struct {
	k      string
	result Result
}

func (t *constTerm) key() string { return t.k }

// ObserveFunc reads the metadata snapshot and reports a Result. It must
// not mutate the snapshot or the store.
type ObserveFunc func(ctx context.Context, snapshot *mirror.Snapshot) (Result, error)

// Observe returns a leaf term that computes its Result by reading
// snapshot data. key must uniquely identify what this leaf reads (e.g.
// the project and path it inspects), since fn itself carries no
// structural identity the evaluator can use for fan-in.
func Observe(key string, fn ObserveFunc) Term {
	return &observeTerm{k: "observe:" + key, fn: fn}
}

type observeTerm struct {
	k  string
	fn ObserveFunc
}

func (t *observeTerm) key() string { return t.k }

// And runs left and right concurrently and succeeds only if both do.
// Either side failing fails the whole node; otherwise either side
// pending makes the whole node pending.
func And(left, right Term) Term {
	return &andTerm{left: left, right: right}
}

type andTerm struct{ left, right Term }

func (t *andTerm) key() string { return "and(" + t.left.key() + "," + t.right.key() + ")" }

// Seq runs first, then runs then only if first succeeded; otherwise it
// short-circuits with first's own outcome.
func Seq(first, then Term) Term {
	return &seqTerm{first: first, then: then}
}

type seqTerm struct{ first, then Term }

func (t *seqTerm) key() string { return "seq(" + t.first.key() + "," + t.then.key() + ")" }

// MapFunc transforms a resolved Result into another Result, e.g. to
// rewrite its description or demote a success to pending.
type MapFunc func(Result) Result

// Map evaluates inner and transforms its Result through fn. keyFragment
// must uniquely identify fn's behavior for fan-in, since functions
// themselves carry no structural identity.
func Map(keyFragment string, inner Term, fn MapFunc) Term {
	return &mapTerm{k: "map:" + keyFragment + "(" + inner.key() + ")", inner: inner, fn: fn}
}

type mapTerm struct {
	k     string
	inner Term
	fn    MapFunc
}

func (t *mapTerm) key() string { return t.k }

// Build returns the distinguished memoized, side-effectful node: its
// result is demanded from the shared Cache keyed by fingerprint, so
// coincident jobs sharing a fingerprint run build at most once.
func Build(fingerprint string, build cache.Builder) Term {
	return &buildTerm{fingerprint: fingerprint, build: build}
}

type buildTerm struct {
	fingerprint string
	build       cache.Builder
}

func (t *buildTerm) key() string { return "build:" + t.fingerprint }
