package adapter

import (
	"context"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/tgifai/launchpad/internal/runner/execution"
	"github.com/tgifai/launchpad/internal/runner/workspace"
)

func newWorkspace(t *testing.T, files map[string]string) *workspace.Workspace {
	t.Helper()
	var subs []execution.SubmittedFile
	for p, c := range files {
		subs = append(subs, execution.SubmittedFile{Path: p, Content: c})
	}
	ws, err := workspace.NewManager(t.TempDir()).Create(context.Background(), subs)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return ws
}

func TestClassifySource(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want []Hazard
	}{
		{"plain", "print('hello')\n", nil},
		{"pygame", "import pygame\npygame.init()\n", []Hazard{NeedsHeadlessDisplay}},
		{"matplotlib submodule", "from matplotlib.pyplot import plot\n", []Hazard{NeedsHeadlessDisplay}},
		{"pygame in import list", "import sys, pygame\npygame.init()\n", []Hazard{NeedsHeadlessDisplay}},
		{"aliased import list", "import os, matplotlib.pyplot as plt\n", []Hazard{NeedsHeadlessDisplay}},
		{"import list after alias", "import numpy as np, pyglet\n", []Hazard{NeedsHeadlessDisplay}},
		{"similar name in import list", "import sys, pygame_gui\n", nil},
		{"flask app", "from flask import Flask\napp = Flask(__name__)\n", []Hazard{NeedsPortRewrite}},
		{"flask without app", "from flask import jsonify\n", nil},
		{"similar module name", "import flask_cors\nimport pygame_gui_helpers\n", nil},
		{"uvicorn", "import uvicorn\nuvicorn.run(app)\n", []Hazard{NeedsPortRewrite}},
		{"both", "import pygame\nimport flask\napp = flask.Flask('g')\n", []Hazard{NeedsHeadlessDisplay, NeedsPortRewrite}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got []Hazard
			for _, d := range ClassifySource("f.py", tc.src) {
				got = append(got, d.Hazard)
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHeadlessEnv(t *testing.T) {
	env := HeadlessEnv([]Detection{
		{Hazard: NeedsHeadlessDisplay, Library: "pygame"},
		{Hazard: NeedsHeadlessDisplay, Library: "pygame"},
		{Hazard: NeedsHeadlessDisplay, Library: "matplotlib"},
		{Hazard: NeedsPortRewrite, Library: "flask"},
	})
	want := []string{"MPLBACKEND=Agg", "SDL_AUDIODRIVER=dummy", "SDL_VIDEODRIVER=dummy"}
	if !slices.Equal(env, want) {
		t.Fatalf("got %v, want %v", env, want)
	}
}

func TestPrepareHeadlessGame(t *testing.T) {
	ws := newWorkspace(t, map[string]string{
		"game.py": "import pygame\n\npygame.init()\nscreen = pygame.display.set_mode((10, 10))\n",
	})
	plan, err := New(5000).Prepare(context.Background(), ws, ws.Abs("game.py"))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !slices.Contains(plan.Env, "SDL_VIDEODRIVER=dummy") || !slices.Contains(plan.Env, "PYTHONUNBUFFERED=1") {
		t.Fatalf("missing env overrides: %v", plan.Env)
	}
	if len(plan.Rewritten) != 0 {
		t.Fatalf("nothing should be rewritten: %v", plan.Rewritten)
	}
	if !slices.Equal(plan.Hazards(), []Hazard{NeedsHeadlessDisplay}) {
		t.Fatalf("unexpected hazards %v", plan.Hazards())
	}
}

func TestPreparePlainProgram(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"main.py": "print('hi')\n"})
	plan, err := New(5000).Prepare(context.Background(), ws, ws.Abs("main.py"))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !slices.Equal(plan.Hazards(), []Hazard{NoAdaptation}) {
		t.Fatalf("unexpected hazards %v", plan.Hazards())
	}
	raw, _ := os.ReadFile(ws.Abs("main.py"))
	if string(raw) != "print('hi')\n" {
		t.Fatalf("plain program modified: %q", raw)
	}
}

func TestPrepareRewritesCallInAnotherFile(t *testing.T) {
	ws := newWorkspace(t, map[string]string{
		"webapp.py": "from flask import Flask\napp = Flask(__name__)\n\n@app.route('/')\ndef index():\n    return 'ok'\n",
		"run.py":    "from webapp import app\n\nif __name__ == '__main__':\n    app.run(host='0.0.0.0', port=80, debug=True)\n",
	})
	plan, err := New(5000).Prepare(context.Background(), ws, ws.Abs("run.py"))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !slices.Equal(plan.Rewritten, []string{"run.py"}) {
		t.Fatalf("unexpected rewritten files %v", plan.Rewritten)
	}
	if plan.Port < 5000 {
		t.Fatalf("port should be probed from the baseline, got %d", plan.Port)
	}
	if !slices.Contains(plan.Env, "PORT="+strconv.Itoa(plan.Port)) {
		t.Fatalf("PORT not exported: %v", plan.Env)
	}
	raw, _ := os.ReadFile(ws.Abs("run.py"))
	if !strings.Contains(string(raw), `app.run(host="127.0.0.1", port=_launchpad_free_port(`) {
		t.Fatalf("call not rewritten:\n%s", raw)
	}
}

func TestPrepareInjectsStartupCallOnce(t *testing.T) {
	ws := newWorkspace(t, map[string]string{
		"app.py": "from flask import Flask\napp = Flask(__name__)\n",
	})
	a := New(5000)
	if _, err := a.Prepare(context.Background(), ws, ws.Abs("app.py")); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	first, _ := os.ReadFile(ws.Abs("app.py"))
	if !strings.Contains(string(first), "if __name__ == \"__main__\":\n    app.run(") {
		t.Fatalf("startup call not injected:\n%s", first)
	}

	plan, err := a.Prepare(context.Background(), ws, ws.Abs("app.py"))
	if err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	second, _ := os.ReadFile(ws.Abs("app.py"))
	if string(second) != string(first) || len(plan.Rewritten) != 0 {
		t.Fatalf("second pass should be a no-op, rewrote %v", plan.Rewritten)
	}
}

func TestPrepareInjectsStartupCallForImportedApp(t *testing.T) {
	ws := newWorkspace(t, map[string]string{
		"web.py":  "from flask import Flask\napp = Flask(__name__)\n",
		"main.py": "from web import app as server\n",
	})
	a := New(5000)
	if _, err := a.Prepare(context.Background(), ws, ws.Abs("main.py")); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	first, _ := os.ReadFile(ws.Abs("main.py"))
	if !strings.Contains(string(first), "if __name__ == \"__main__\":\n    server.run(host=\"127.0.0.1\"") {
		t.Fatalf("startup call not injected:\n%s", first)
	}
	if lib, _ := os.ReadFile(ws.Abs("web.py")); strings.Contains(string(lib), ".run(") {
		t.Fatalf("module defining the app should stay untouched:\n%s", lib)
	}

	if _, err := a.Prepare(context.Background(), ws, ws.Abs("main.py")); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	second, _ := os.ReadFile(ws.Abs("main.py"))
	if string(second) != string(first) {
		t.Fatalf("second pass should be a no-op:\n%s", second)
	}
}
