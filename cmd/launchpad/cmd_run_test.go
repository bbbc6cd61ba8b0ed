package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("main.py", "print(1)")
	write("pkg/util.py", "X = 1")
	write(".git/HEAD", "ref")
	write("__pycache__/main.cpython-312.pyc", "bin")
	write("node_modules/x/index.js", "")

	files, err := collectFiles(dir)
	require.NoError(t, err)

	got := map[string]string{}
	for _, f := range files {
		got[f.Path] = f.Content
	}
	require.Equal(t, map[string]string{"main.py": "print(1)", "pkg/util.py": "X = 1"}, got)
}
