package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/gg/gslice"

	"github.com/tgifai/launchpad/internal/pkg/logs"
	"github.com/tgifai/launchpad/internal/pkg/utils"
	"github.com/tgifai/launchpad/internal/runner/workspace"
)

const portSearchWindow = 200

// Plan is what Prepare decided for one workspace.
type Plan struct {
	Detections []Detection
	// Env holds KEY=VALUE overrides for the child process.
	Env []string
	// Rewritten lists the workspace-relative files whose text changed.
	Rewritten []string
	// Port is the suggested listening port, 0 when none was found.
	Port int
}

// Hazards returns the distinct hazards in the plan, NoAdaptation when empty.
func (p *Plan) Hazards() []Hazard {
	out := gslice.Uniq(gslice.Map(p.Detections, func(d Detection) Hazard { return d.Hazard }))
	if len(out) == 0 {
		return []Hazard{NoAdaptation}
	}
	gslice.Sort(out)
	return out
}

type Adapter struct {
	baseline int
}

func New(portBaseline int) *Adapter {
	return &Adapter{baseline: portBaseline}
}

// Prepare classifies ws and applies the matching adaptations. A file that
// cannot be rewritten is logged and left as submitted.
func (a *Adapter) Prepare(ctx context.Context, ws *workspace.Workspace, entry string) (*Plan, error) {
	detections, err := Classify(ws)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Detections: detections}
	plan.Env = append(plan.Env, "PYTHONUNBUFFERED=1")
	plan.Env = append(plan.Env, HeadlessEnv(detections)...)

	baseline := a.baseline
	if port, err := utils.FindFreePort(loopback, a.baseline, portSearchWindow); err != nil {
		logs.CtxWarn(ctx, "[adapter] no free port near %d: %v", a.baseline, err)
	} else {
		plan.Port = port
		baseline = port
		plan.Env = append(plan.Env, "PORT="+strconv.Itoa(port))
	}

	for _, d := range detections {
		if d.Hazard == NeedsHeadlessDisplay {
			logs.CtxInfo(ctx, "[adapter] %s imports %s, running headless", ws.Rel(d.File), d.Library)
		}
	}
	if !hasHazard(detections, NeedsPortRewrite) {
		return plan, nil
	}

	a.rewritePorts(ctx, ws, entry, detections, baseline, plan)
	return plan, nil
}

func (a *Adapter) rewritePorts(ctx context.Context, ws *workspace.Workspace, entry string, detections []Detection, baseline int, plan *Plan) {
	var appVars []string
	uvicornFiles := map[string]bool{}
	for _, d := range detections {
		if d.Hazard != NeedsPortRewrite {
			continue
		}
		switch d.Library {
		case flask.name:
			raw, err := os.ReadFile(d.File)
			if err == nil {
				appVars = gslice.Uniq(append(appVars, FlaskAppVars(string(raw))...))
			}
		case uvicorn.name:
			uvicornFiles[d.File] = true
		}
	}
	// An entry that imports the app may bind it under another name.
	imported := ""
	if raw, err := os.ReadFile(entry); err == nil && len(appVars) > 0 {
		if imported = ImportedName(string(raw), appVars); imported != "" {
			appVars = gslice.Uniq(append(appVars, imported))
		}
	}

	flaskCalls := false
	_ = ws.Walk(func(abs string) error {
		if !isPython(abs) {
			return nil
		}
		raw, err := os.ReadFile(abs)
		if err != nil {
			logs.CtxWarn(ctx, "[adapter] read %s: %v", ws.Rel(abs), err)
			return nil
		}
		src := string(raw)
		out, changed := src, false

		if HasFlaskRun(src, appVars) {
			flaskCalls = true
			var err error
			if out, changed, err = RewriteFlask(out, appVars, baseline); err != nil {
				logs.CtxWarn(ctx, "[adapter] rewrite %s: %v", ws.Rel(abs), err)
			}
		}
		if uvicornFiles[abs] {
			next, ok, err := RewriteUvicorn(out, baseline)
			if err != nil {
				logs.CtxWarn(ctx, "[adapter] rewrite %s: %v", ws.Rel(abs), err)
			}
			out, changed = next, changed || ok
		}
		if changed {
			a.write(ctx, ws, abs, out, plan)
		}
		return nil
	})

	// A flask app nobody starts gets a startup call in the entry point,
	// whether the entry defines the app or imports it from another module.
	if flaskCalls || len(appVars) == 0 || entry == "" {
		return
	}
	raw, err := os.ReadFile(entry)
	if err != nil {
		logs.CtxWarn(ctx, "[adapter] read %s: %v", ws.Rel(entry), err)
		return
	}
	name := imported
	if defined := FlaskAppVars(string(raw)); len(defined) > 0 {
		name = defined[0]
	}
	if name == "" {
		return
	}
	a.write(ctx, ws, entry, InjectFlaskRun(string(raw), name, baseline), plan)
}

func (a *Adapter) write(ctx context.Context, ws *workspace.Workspace, abs, content string, plan *Plan) {
	info, err := os.Stat(abs)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(abs, []byte(content), mode); err != nil {
		logs.CtxWarn(ctx, "[adapter] write %s: %v", ws.Rel(abs), err)
		return
	}
	rel := ws.Rel(abs)
	plan.Rewritten = append(plan.Rewritten, rel)
	logs.CtxInfo(ctx, "[adapter] rewrote server startup in %s", rel)
}

func hasHazard(detections []Detection, h Hazard) bool {
	return gslice.Any(detections, func(d Detection) bool { return d.Hazard == h })
}

func isPython(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".py")
}
