package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codetwin/internal/extractor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestCrawler_ScanProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.py", "from util import helper\n\ndef run():\n    helper()\n")
	writeFile(t, root, "pkg/util.py", "def helper():\n    pass\n")
	writeFile(t, root, "web/app.js", "function start() { boot(); }\n")
	writeFile(t, root, "README.md", "# Demo\n")
	writeFile(t, root, "node_modules/lib/index.js", "function vendored() {}\n")
	writeFile(t, root, ".git/config", "[core]\n")
	writeFile(t, root, "assets/logo.png", "png")
	writeFile(t, root, "data/settings.json", "{}")
	writeFile(t, root, "notes.unknown", "text")

	c := NewCrawler(extractor.NewExtractor(), WithWorkers(2))

	files, err := c.ListFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "main.py", "pkg/util.py", "web/app.js"}, files)

	var order []string
	units := map[string][]*extractor.CodeUnit{}
	err = c.ScanProject(context.Background(), root, func(r FileResult) {
		require.NoError(t, r.Err)
		order = append(order, r.Path)
		units[r.Path] = r.Units
	})
	require.NoError(t, err)

	assert.Equal(t, files, order, "results are delivered in path order")
	require.Len(t, units["main.py"], 1)
	assert.Equal(t, "main.py::root::run", units["main.py"][0].Identifier)
	require.Len(t, units["pkg/util.py"], 1)
	assert.Equal(t, "pkg/util.py::root::helper", units["pkg/util.py"][0].Identifier)
	require.Len(t, units["README.md"], 1)
	assert.Equal(t, extractor.KindModule, units["README.md"][0].Kind)
}

func TestCrawler_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "def a():\n    pass\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewCrawler(extractor.NewExtractor()).ScanProject(ctx, root, func(FileResult) { called = true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCrawler_MissingRoot(t *testing.T) {
	err := NewCrawler(extractor.NewExtractor()).ScanProject(context.Background(), filepath.Join(t.TempDir(), "nope"), func(FileResult) {})
	assert.Error(t, err)
}
