package engine

import (
	"context"
	"fmt"

	"github.com/fenwick-ci/forge/internal/cache"
	"github.com/fenwick-ci/forge/internal/livelog"
	"github.com/fenwick-ci/forge/internal/mirror"
	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/term"
)

// BuiltinCatalog resolves the handful of term names a process
// configuration can name without writing Go code: a constant pass,
// a presence check against the snapshot, and a cached build step. A
// deployment with real pipeline steps registers its own Catalog instead
// of (or alongside) this one.
func BuiltinCatalog() Catalog {
	return Catalog{
		"ok":           constOKFactory,
		"head-present": headPresentFactory,
		"echo-commit":  echoCommitFactory,
	}
}

func constOKFactory(TargetID, string) term.Term {
	return term.Const("ok")
}

// headPresentFactory builds an Observe leaf that succeeds only if
// commitHash, the target head the term was built with, is a well-formed
// commit hash. It does not read the snapshot it is handed.
func headPresentFactory(target TargetID, commitHash string) term.Term {
	return term.Observe(fmt.Sprintf("head-present:%s", target.key()), func(ctx context.Context, snap *mirror.Snapshot) (term.Result, error) {
		if !model.IsCommitHash(commitHash) {
			return term.Result{State: term.StateFailure, Description: "missing head commit"}, nil
		}
		return term.Result{State: term.StateSuccess, Description: "head present: " + commitHash[:7]}, nil
	})
}

// echoCommitFactory builds a cached step whose fingerprint is the
// target and commit pair, so the same (target, commit) never rebuilds
// twice. The build itself only appends the commit hash to its log —
// real deployments register a factory whose Builder actually runs
// their pipeline.
func echoCommitFactory(target TargetID, commitHash string) term.Term {
	fingerprint := fmt.Sprintf("echo/%s/%s/%s", target.Project, target.key(), commitHash)
	return term.Build(fingerprint, func(ctx context.Context, log *livelog.Log) (cache.Result, error) {
		log.Append([]byte("commit " + commitHash + "\n"))
		return cache.Result{Status: model.StatusSuccess, Description: "commit " + commitHash[:7]}, nil
	})
}
