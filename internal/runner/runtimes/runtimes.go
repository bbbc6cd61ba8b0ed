// Package runtimes maps source files to the interpreter that launches them.
package runtimes

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tgifai/launchpad/internal/config"
)

type Runtime struct {
	Name       string
	Extensions []string
	Command    []string
	// Guard matches the idiom a source file uses to run only when invoked directly.
	Guard *regexp.Regexp
	// VersionArgs are appended to Command[0] to print the interpreter version.
	VersionArgs       []string
	VersionConstraint string
}

// Argv returns the full argv launching entry.
func (r *Runtime) Argv(entry string) []string {
	argv := make([]string, 0, len(r.Command)+1)
	argv = append(argv, r.Command...)
	return append(argv, entry)
}

func builtin() []*Runtime {
	return []*Runtime{
		{
			Name:        "python",
			Extensions:  []string{".py"},
			Command:     []string{"python3", "-u"},
			Guard:       regexp.MustCompile(`(?m)^\s*if\s+__name__\s*==\s*['"]__main__['"]\s*:`),
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "node",
			Extensions:  []string{".js", ".mjs", ".cjs"},
			Command:     []string{"node"},
			Guard:       regexp.MustCompile(`require\.main\s*===?\s*module`),
			VersionArgs: []string{"--version"},
		},
		{
			Name:       "shell",
			Extensions: []string{".sh"},
			Command:    []string{"sh"},
		},
	}
}

// Table is an immutable lookup from file extension to Runtime.
type Table struct {
	ordered []*Runtime
	byExt   map[string]*Runtime
}

// NewTable builds the builtin table with overrides from config applied.
// Overrides may only replace the command or add a version constraint of a
// known runtime.
func NewTable(overrides map[string]config.RuntimeConfig) *Table {
	t := &Table{byExt: make(map[string]*Runtime)}
	for _, rt := range builtin() {
		if ov, ok := overrides[rt.Name]; ok {
			if len(ov.Command) > 0 {
				rt.Command = append([]string(nil), ov.Command...)
			}
			rt.VersionConstraint = ov.VersionConstraint
		}
		t.ordered = append(t.ordered, rt)
		for _, ext := range rt.Extensions {
			t.byExt[ext] = rt
		}
	}
	return t
}

// ForFile returns the runtime for path, or nil if the file is not a source file.
func (t *Table) ForFile(path string) *Runtime {
	return t.byExt[strings.ToLower(filepath.Ext(path))]
}

func (t *Table) IsSource(path string) bool {
	return t.ForFile(path) != nil
}

// Extensions returns every recognized source extension, in runtime order.
func (t *Table) Extensions() []string {
	var out []string
	for _, rt := range t.ordered {
		out = append(out, rt.Extensions...)
	}
	return out
}

func (t *Table) List() []*Runtime {
	out := append([]*Runtime(nil), t.ordered...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
