// Package adapter prepares a workspace so its program can run unattended on
// a headless, shared host.
package adapter

import (
	"os"
	"regexp"
	"sort"

	"github.com/tgifai/launchpad/internal/runner/workspace"
)

// Hazard is the tagged result of static analysis.
type Hazard int

const (
	NoAdaptation Hazard = iota
	NeedsHeadlessDisplay
	NeedsPortRewrite
)

func (h Hazard) String() string {
	switch h {
	case NeedsHeadlessDisplay:
		return "headless_display"
	case NeedsPortRewrite:
		return "port_rewrite"
	default:
		return "none"
	}
}

// Detection is one hazard found in one file.
type Detection struct {
	Hazard  Hazard
	File    string // absolute path
	Library string
}

type displayLibrary struct {
	name    string
	pattern *regexp.Regexp
	env     map[string]string
}

var displayLibraries = []displayLibrary{
	{
		name:    "pygame",
		pattern: importPattern("pygame"),
		env:     map[string]string{"SDL_VIDEODRIVER": "dummy", "SDL_AUDIODRIVER": "dummy"},
	},
	{
		name:    "matplotlib",
		pattern: importPattern("matplotlib"),
		env:     map[string]string{"MPLBACKEND": "Agg"},
	},
	{
		name:    "pyglet",
		pattern: importPattern("pyglet"),
		env:     map[string]string{"PYGLET_HEADLESS": "true"},
	},
}

func importPattern(module string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*(?:import[ \t]+(?:[\w.]+(?:[ \t]+as[ \t]+\w+)?[ \t]*,[ \t]*)*` + module + `\b|from[ \t]+` + module + `(?:\.\w+)*[ \t]+import\b)`)
}

// Classify scans every python source in ws. The result is empty when the
// program needs no adaptation.
func Classify(ws *workspace.Workspace) ([]Detection, error) {
	var out []Detection
	err := ws.Walk(func(abs string) error {
		if !isPython(abs) {
			return nil
		}
		raw, err := os.ReadFile(abs)
		if err != nil {
			return err
		}
		out = append(out, ClassifySource(abs, string(raw))...)
		return nil
	})
	return out, err
}

// ClassifySource runs every detector over a single file's text.
func ClassifySource(file, src string) []Detection {
	var out []Detection
	for _, lib := range displayLibraries {
		if lib.pattern.MatchString(src) {
			out = append(out, Detection{Hazard: NeedsHeadlessDisplay, File: file, Library: lib.name})
		}
	}
	for _, fw := range frameworks {
		if fw.imports.MatchString(src) && fw.looksLikeServer(src) {
			out = append(out, Detection{Hazard: NeedsPortRewrite, File: file, Library: fw.name})
		}
	}
	return out
}

// HeadlessEnv returns the environment overrides for the display detections,
// sorted as KEY=VALUE pairs.
func HeadlessEnv(detections []Detection) []string {
	merged := map[string]string{}
	for _, d := range detections {
		if d.Hazard != NeedsHeadlessDisplay {
			continue
		}
		for _, lib := range displayLibraries {
			if lib.name != d.Library {
				continue
			}
			for k, v := range lib.env {
				merged[k] = v
			}
		}
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
