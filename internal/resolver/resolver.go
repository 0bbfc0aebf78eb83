// Package resolver turns a configured "namespace.callable" reference into the
// application the bridge invokes. Resolution happens once, at startup; any
// error means the process must not serve.
package resolver

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"appbridge/internal/bridge"
	"appbridge/internal/shared"

	"go.uber.org/zap"
)

type Config struct {
	// SearchPath roots are tried in order, as "root/namespace", before the
	// bare namespace.
	SearchPath []string
	// Reference names the application as "namespace.callable".
	Reference string
	// EnvPath optionally points at an isolated environment directory.
	EnvPath string
}

// Resolved is the application handle shared read-only by every invocation.
type Resolved struct {
	Application bridge.Application
	Reference   string
	Namespace   string
	Callable    string
	// Variables come from the activated isolated environment, if any.
	Variables map[string]string
	Activated bool
}

type Resolver struct {
	cfg Config
	reg *Registry
	log *zap.SugaredLogger
}

func New(cfg Config, reg *Registry, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg.SearchPath = append([]string(nil), cfg.SearchPath...)
	return &Resolver{cfg: cfg, reg: reg, log: log}
}

// ParseReference splits a reference on its single separator.
func ParseReference(ref string) (namespace, callable string, err error) {
	if strings.Count(ref, ".") != 1 {
		return "", "", &shared.ConfigurationError{Kind: shared.KindBadReference, Reference: ref, Err: shared.ErrBadReference}
	}
	namespace, callable, _ = strings.Cut(ref, ".")
	namespace = strings.TrimSpace(namespace)
	callable = strings.TrimSpace(callable)
	if namespace == "" || callable == "" {
		return "", "", &shared.ConfigurationError{
			Kind:      shared.KindBadReference,
			Reference: ref,
			Err:       errors.New("namespace and callable must both be non-empty"),
		}
	}
	return namespace, callable, nil
}

// Resolve activates the isolated environment, if configured, and looks the
// reference up along the search path.
func (r *Resolver) Resolve() (*Resolved, error) {
	namespace, callable, err := ParseReference(r.cfg.Reference)
	if err != nil {
		return nil, err
	}

	searchPath := r.cfg.SearchPath
	resolved := &Resolved{Reference: r.cfg.Reference, Callable: callable}
	if r.cfg.EnvPath != "" {
		desc, found, err := LoadActivation(r.cfg.EnvPath)
		if err != nil {
			return nil, err
		}
		if found {
			searchPath = append(append([]string(nil), desc.SearchPath...), searchPath...)
			resolved.Variables = maps.Clone(desc.Variables)
			resolved.Activated = true
			r.log.Infow("Activated isolated environment", "path", r.cfg.EnvPath, "variables", len(desc.Variables))
		}
	}

	var tried []string
	for _, candidate := range candidates(searchPath, namespace) {
		tried = append(tried, candidate)
		factory, hasNamespace := r.reg.lookup(candidate, callable)
		if !hasNamespace {
			continue
		}
		if factory == nil {
			return nil, &shared.ConfigurationError{
				Kind:      shared.KindNoSuchCallable,
				Reference: r.cfg.Reference,
				Err:       fmt.Errorf("namespace %q has no callable %q", candidate, callable),
			}
		}
		app, err := factory()
		if err != nil {
			return nil, &shared.ConfigurationError{Kind: shared.KindFactoryFailed, Reference: r.cfg.Reference, Err: err}
		}
		if app == nil {
			return nil, &shared.ConfigurationError{
				Kind:      shared.KindFactoryFailed,
				Reference: r.cfg.Reference,
				Err:       errors.New("factory returned no application"),
			}
		}
		resolved.Application = app
		resolved.Namespace = candidate
		r.log.Infow("Resolved application", "reference", r.cfg.Reference, "namespace", candidate)
		return resolved, nil
	}
	return nil, &shared.ConfigurationError{
		Kind:      shared.KindNoSuchNamespace,
		Reference: r.cfg.Reference,
		Err:       fmt.Errorf("tried %s", strings.Join(tried, ", ")),
	}
}

func candidates(searchPath []string, namespace string) []string {
	out := make([]string, 0, len(searchPath)+1)
	for _, root := range searchPath {
		root = strings.Trim(strings.TrimSpace(root), "/")
		if root == "" {
			continue
		}
		out = append(out, root+"/"+namespace)
	}
	return append(out, namespace)
}
