// Package config loads the process-wide YAML configuration: which
// projects to watch, which jobs each one runs, the optional canary
// filter, the metadata store connection, and the reconnect backoff.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fenwick-ci/forge/internal/engine"
	"github.com/fenwick-ci/forge/internal/model"
	"github.com/fenwick-ci/forge/internal/store"
)

// Config is the raw shape read from YAML, before target strings and
// store settings are resolved against a Catalog and a real connector.
type Config struct {
	WebBaseURL string `yaml:"web_base_url"`

	Store StoreConfig `yaml:"store"`

	RawReconnectBackoff string        `yaml:"reconnect_backoff"`
	ReconnectBackoff    time.Duration `yaml:"-"`

	// Canaries, per project (keyed by "<user>/<repo>"), restricts
	// evaluation to the listed targets (e.g. "pr:7", "ref:heads/main").
	// A project absent from this map is evaluated unrestricted.
	Canaries map[string][]string `yaml:"canaries"`

	// Projects maps "<user>/<repo>" to a job-name -> catalog-term-name
	// pipeline, resolved against a Catalog by Resolve.
	Projects map[string]ProjectConfig `yaml:"projects"`
}

type ProjectConfig struct {
	Pipeline map[string]string `yaml:"pipeline"`
}

// StoreConfig names the metadata store backend. Only "sqlite" is
// implemented; the field exists so a future backend can be added
// without changing the YAML shape.
type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// Load reads, defaults, and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() error {
	if c.RawReconnectBackoff == "" {
		c.RawReconnectBackoff = "10s"
	}
	d, err := time.ParseDuration(c.RawReconnectBackoff)
	if err != nil {
		return fmt.Errorf("config: parse reconnect_backoff %q: %w", c.RawReconnectBackoff, err)
	}
	c.ReconnectBackoff = d

	if c.Store.Kind == "" {
		c.Store.Kind = "sqlite"
	}

	return nil
}

func (c *Config) validate() error {
	if len(c.Projects) == 0 {
		return fmt.Errorf("no projects configured")
	}
	switch c.Store.Kind {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for store.kind=sqlite")
		}
	default:
		return fmt.Errorf("store.kind %q not supported (sqlite)", c.Store.Kind)
	}
	for key, p := range c.Projects {
		if _, err := parseProjectKey(key); err != nil {
			return fmt.Errorf("projects: %w", err)
		}
		for job, term := range p.Pipeline {
			if term == "" {
				return fmt.Errorf("projects[%s].pipeline[%s]: term name required", key, job)
			}
		}
	}
	for key := range c.Canaries {
		if _, err := parseProjectKey(key); err != nil {
			return fmt.Errorf("canaries: %w", err)
		}
	}
	return nil
}

// Resolve builds the engine.Config this file describes, resolving
// every pipeline entry's term name against catalog and opening a
// connector for the configured store backend.
func (c *Config) Resolve(catalog engine.Catalog) (engine.Config, error) {
	cfg := engine.Config{
		WebBaseURL:       c.WebBaseURL,
		ReconnectBackoff: c.ReconnectBackoff,
		Projects:         make(map[model.ProjectID]engine.ProjectConfig, len(c.Projects)),
	}

	for key, p := range c.Projects {
		pid, err := parseProjectKey(key)
		if err != nil {
			return engine.Config{}, err
		}
		pipeline := make(map[string]engine.TermFactory, len(p.Pipeline))
		for job, termName := range p.Pipeline {
			factory, ok := catalog[termName]
			if !ok {
				return engine.Config{}, fmt.Errorf("config: projects[%s].pipeline[%s]: unknown term %q", key, job, termName)
			}
			pipeline[job] = factory
		}
		cfg.Projects[pid] = engine.ProjectConfig{Pipeline: pipeline}
	}

	if len(c.Canaries) > 0 {
		cfg.Canaries = make(map[model.ProjectID]map[engine.TargetID]struct{}, len(c.Canaries))
		for key, targets := range c.Canaries {
			pid, err := parseProjectKey(key)
			if err != nil {
				return engine.Config{}, err
			}
			set := make(map[engine.TargetID]struct{}, len(targets))
			for _, raw := range targets {
				tid, err := parseTarget(pid, raw)
				if err != nil {
					return engine.Config{}, fmt.Errorf("config: canaries[%s]: %w", key, err)
				}
				set[tid] = struct{}{}
			}
			cfg.Canaries[pid] = set
		}
	}

	connector, err := c.storeConnector()
	if err != nil {
		return engine.Config{}, err
	}
	cfg.StoreConnector = connector

	return cfg, nil
}

func (c *Config) storeConnector() (engine.StoreConnector, error) {
	switch c.Store.Kind {
	case "sqlite":
		path := c.Store.Path
		return func(ctx context.Context) (*store.Store, error) {
			return store.Open(path)
		}, nil
	default:
		return nil, fmt.Errorf("config: store.kind %q not supported", c.Store.Kind)
	}
}

func parseProjectKey(key string) (model.ProjectID, error) {
	user, repo, ok := strings.Cut(key, "/")
	if !ok || user == "" || repo == "" {
		return model.ProjectID{}, fmt.Errorf("project key %q must be \"<user>/<repo>\"", key)
	}
	return model.ProjectID{Repo: model.Repo{User: user, Repo: repo}}, nil
}

// parseTarget parses a canary entry of the form "pr:<number>" or
// "ref:<name>" into an engine.TargetID within project.
func parseTarget(project model.ProjectID, raw string) (engine.TargetID, error) {
	kind, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return engine.TargetID{}, fmt.Errorf("target %q must be \"pr:<number>\" or \"ref:<name>\"", raw)
	}
	switch kind {
	case "pr":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return engine.TargetID{}, fmt.Errorf("target %q: invalid PR number: %w", raw, err)
		}
		return engine.TargetID{Project: project, Kind: engine.TargetPR, Number: n}, nil
	case "ref":
		if rest == "" {
			return engine.TargetID{}, fmt.Errorf("target %q: empty ref name", raw)
		}
		return engine.TargetID{Project: project, Kind: engine.TargetRef, Ref: rest}, nil
	default:
		return engine.TargetID{}, fmt.Errorf("target %q: unknown kind %q (pr|ref)", raw, kind)
	}
}
