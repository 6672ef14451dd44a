package engine

import (
	"context"
	"time"

	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/store"
	"github.com/fenwick-ci/forge/internal/term"
)

// TermFactory builds a job's term for one evaluation. target and
// commitHash identify what is being built, so a factory can fold them
// into a cache.Build fingerprint: distinct (target, commit) pairs
// naturally get distinct cache entries.
type TermFactory func(target TargetID, commitHash string) term.Term

// Catalog resolves the job names a ProjectConfig's pipeline map names
// (themselves loaded from YAML as plain strings) to the Go code that
// builds their terms.
type Catalog map[string]TermFactory

// ProjectConfig names the jobs materialized for every target discovered
// under one project. The same pipeline map applies uniformly to every
// PR and ref in the project.
type ProjectConfig struct {
	Pipeline map[string]TermFactory
}

// StoreConnector opens a fresh Store connection, e.g. against a SQLite
// file named in process configuration.
type StoreConnector func(ctx context.Context) (*store.Store, error)

// Config is the engine's resolved, process-wide configuration: the YAML
// document loaded by internal/config, after its job-name strings have
// been resolved against a Catalog into TermFactory values.
type Config struct {
	WebBaseURL string

	// Canaries, if non-nil for a project, restricts evaluation to the
	// named targets; every other target in that project is dropped.
	Canaries map[model.ProjectID]map[TargetID]struct{}

	Projects map[model.ProjectID]ProjectConfig

	StoreConnector   StoreConnector
	ReconnectBackoff time.Duration
}
