// Package workspace materializes submitted file sets into isolated directories.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tgifai/launchpad/internal/pkg/logs"
	"github.com/tgifai/launchpad/internal/runner/execution"
)

// Workspace is one execution's private directory.
type Workspace struct {
	dir string
}

func (w *Workspace) Dir() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Abs resolves rel inside the workspace.
func (w *Workspace) Abs(rel string) string {
	return filepath.Join(w.dir, filepath.FromSlash(rel))
}

// Rel returns abs relative to the workspace root, slash separated.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.dir, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Walk visits every regular file in lexical order, the same order used by
// entry-point resolution.
func (w *Workspace) Walk(fn func(abs string) error) error {
	return filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(path)
	})
}

type Manager struct {
	root string
}

func NewManager(root string) *Manager {
	return &Manager{root: root}
}

func (m *Manager) Root() string {
	return m.root
}

// Create writes files into a fresh uniquely-named directory under the
// manager root. Any failure removes the partial directory.
func (m *Manager) Create(ctx context.Context, files []execution.SubmittedFile) (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root: %v", execution.ErrWorkspaceCreation, err)
	}
	dir, err := os.MkdirTemp(m.root, "exec-*")
	if err != nil {
		return nil, fmt.Errorf("%w: allocate dir: %v", execution.ErrWorkspaceCreation, err)
	}
	ws := &Workspace{dir: dir}

	for _, f := range files {
		if err := ws.write(f); err != nil {
			m.Destroy(ctx, ws)
			return nil, fmt.Errorf("%w: %v", execution.ErrWorkspaceCreation, err)
		}
	}
	logs.CtxDebug(ctx, "[workspace] created %s with %d files", dir, len(files))
	return ws, nil
}

func (w *Workspace) write(f execution.SubmittedFile) error {
	target, err := w.resolve(f.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", f.Path, err)
	}
	if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

var ErrPathEscapes = errors.New("path escapes workspace")

// resolve maps a submitted relative path to an absolute path that is
// guaranteed to stay inside the workspace.
func (w *Workspace) resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", errors.New("file path is required")
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscapes, rel)
	}

	target := filepath.Join(w.dir, filepath.FromSlash(rel))
	ok, err := isPathWithin(target, w.dir)
	if err != nil {
		return "", err
	}
	if !ok || target == filepath.Clean(w.dir) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, rel)
	}
	return target, nil
}

func isPathWithin(path string, root string) (bool, error) {
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(filepath.Clean(rootAbs), filepath.Clean(pathAbs))
	if err != nil {
		return false, err
	}
	if rel == "." {
		return true, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}

// Destroy removes the workspace directory. Failures are logged only.
func (m *Manager) Destroy(ctx context.Context, ws *Workspace) {
	if ws == nil || ws.dir == "" {
		return
	}
	if err := os.RemoveAll(ws.dir); err != nil {
		logs.CtxWarn(ctx, "[workspace] remove %s: %v", ws.dir, err)
		return
	}
	logs.CtxDebug(ctx, "[workspace] removed %s", ws.dir)
}
