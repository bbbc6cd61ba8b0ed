package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/tgifai/launchpad/internal/runner/execution"
)

func TestCreateWritesNestedFiles(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Create(context.Background(), []execution.SubmittedFile{
		{Path: "main.py", Content: "print('hi')\n"},
		{Path: "pkg/util/helpers.py", Content: "X = 1\n"},
		{Path: `assets\data.txt`, Content: "raw"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(ws.Dir(), "pkg", "util", "helpers.py"))
	if err != nil || string(raw) != "X = 1\n" {
		t.Fatalf("nested file not written: %q %v", raw, err)
	}
	if _, err := os.Stat(filepath.Join(ws.Dir(), "assets", "data.txt")); err != nil {
		t.Fatalf("backslash path should be normalized: %v", err)
	}

	var seen []string
	_ = ws.Walk(func(abs string) error {
		seen = append(seen, ws.Rel(abs))
		return nil
	})
	want := []string{"assets/data.txt", "main.py", "pkg/util/helpers.py"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected walk order: %v", seen)
	}

	m.Destroy(context.Background(), ws)
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Fatalf("workspace should be removed, stat err=%v", err)
	}
}

func TestCreateRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	for _, bad := range []string{"../escape.py", "a/../../escape.py", "/etc/passwd", "", "  ", ".", "a/.."} {
		_, err := m.Create(context.Background(), []execution.SubmittedFile{
			{Path: "main.py", Content: "ok"},
			{Path: bad, Content: "pwned"},
		})
		if !errors.Is(err, execution.ErrWorkspaceCreation) {
			t.Fatalf("path %q: expected workspace creation error, got %v", bad, err)
		}
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("failed creations must not leave directories behind: %v", entries)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.py")); !os.IsNotExist(err) {
		t.Fatal("traversal wrote outside the workspace")
	}
}

func TestConcurrentWorkspacesAreIsolated(t *testing.T) {
	m := NewManager(t.TempDir())
	a, err := m.Create(context.Background(), []execution.SubmittedFile{{Path: "main.py", Content: "A"}})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := m.Create(context.Background(), []execution.SubmittedFile{{Path: "main.py", Content: "B"}})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if a.Dir() == b.Dir() {
		t.Fatal("workspaces must not share a directory")
	}
	ra, _ := os.ReadFile(a.Abs("main.py"))
	rb, _ := os.ReadFile(b.Abs("main.py"))
	if string(ra) != "A" || string(rb) != "B" {
		t.Fatalf("content leaked between workspaces: %q %q", ra, rb)
	}
}

func TestResolveNeverEscapesProperty(t *testing.T) {
	dir := t.TempDir()
	ws := &Workspace{dir: dir}

	rapid.Check(t, func(t *rapid.T) {
		segs := rapid.SliceOfN(rapid.SampledFrom([]string{"..", ".", "a", "b", "", "c.py", "..."}), 1, 6).Draw(t, "segs")
		rel := strings.Join(segs, "/")

		target, err := ws.resolve(rel)
		if err != nil {
			return
		}
		ok, _ := isPathWithin(target, dir)
		if !ok || target == dir {
			t.Fatalf("resolve(%q) = %q escapes %q", rel, target, dir)
		}
	})
}
