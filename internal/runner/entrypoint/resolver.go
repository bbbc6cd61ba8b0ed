// Package entrypoint picks the file to launch from a materialized workspace.
package entrypoint

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/tgifai/launchpad/internal/runner/execution"
	"github.com/tgifai/launchpad/internal/runner/runtimes"
	"github.com/tgifai/launchpad/internal/runner/workspace"
)

// DefaultNames is the priority list of conventional entry-point stems.
var DefaultNames = []string{"main", "app", "run", "game", "server", "index", "start"}

// Rule records which step of resolution picked the entry point.
type Rule string

const (
	RuleName     Rule = "name"
	RuleGuard    Rule = "guard"
	RuleFallback Rule = "fallback"
)

type Result struct {
	// Path is absolute; Rel is relative to the workspace, slash separated.
	Path    string
	Rel     string
	Rule    Rule
	Runtime *runtimes.Runtime
}

type Resolver struct {
	table *runtimes.Table
	names []string
}

func NewResolver(table *runtimes.Table, names ...string) *Resolver {
	if len(names) == 0 {
		names = DefaultNames
	}
	return &Resolver{table: table, names: names}
}

// Resolve applies, in order: conventional names, the direct-invocation guard
// idiom, and the first source file in walk order. A workspace without any
// source file yields ErrEntryPointNotFound.
func (r *Resolver) Resolve(ws *workspace.Workspace) (*Result, error) {
	var candidates []string
	err := ws.Walk(func(abs string) error {
		if r.table.IsSource(abs) {
			candidates = append(candidates, abs)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(execution.ErrEntryPointNotFound, err)
	}
	if len(candidates) == 0 {
		return nil, execution.ErrEntryPointNotFound
	}

	if path := r.byName(candidates); path != "" {
		return r.result(ws, path, RuleName), nil
	}
	if path := r.byGuard(candidates); path != "" {
		return r.result(ws, path, RuleGuard), nil
	}
	return r.result(ws, candidates[0], RuleFallback), nil
}

func (r *Resolver) byName(candidates []string) string {
	for _, name := range r.names {
		for _, path := range candidates {
			base := strings.ToLower(filepath.Base(path))
			if strings.TrimSuffix(base, filepath.Ext(base)) == name {
				return path
			}
		}
	}
	return ""
}

func (r *Resolver) byGuard(candidates []string) string {
	for _, path := range candidates {
		rt := r.table.ForFile(path)
		if rt == nil || rt.Guard == nil {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if rt.Guard.Match(raw) {
			return path
		}
	}
	return ""
}

func (r *Resolver) result(ws *workspace.Workspace, path string, rule Rule) *Result {
	return &Result{
		Path:    path,
		Rel:     ws.Rel(path),
		Rule:    rule,
		Runtime: r.table.ForFile(path),
	}
}
