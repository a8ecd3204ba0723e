package extractor

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonSource = `import os
from util import helper

class Service(Base):
    def save(self, item):
        self.repo.save(item)
        os.path.join("a", "b")

        def inner():
            audit()

        return helper()

def run():
    helper()
`

func byIdentifier(units []*CodeUnit) map[string]*CodeUnit {
	out := make(map[string]*CodeUnit, len(units))
	for _, u := range units {
		out[u.Identifier] = u
	}
	return out
}

func TestExtractor_ParsePython(t *testing.T) {
	ext := NewExtractor()
	units := ext.Parse("pkg/service.py", []byte(pythonSource))
	require.Len(t, units, 4)

	idx := byIdentifier(units)

	t.Run("Identifiers and kinds", func(t *testing.T) {
		svc, ok := idx["pkg/service.py::root::Service"]
		require.True(t, ok)
		assert.Equal(t, KindClass, svc.Kind)
		assert.Equal(t, []string{"Base"}, svc.Bases)

		save, ok := idx["pkg/service.py::Service::save"]
		require.True(t, ok)
		assert.Equal(t, KindMethod, save.Kind)
		assert.Equal(t, "Service", save.ParentScope)

		inner, ok := idx["pkg/service.py::Service.save::inner"]
		require.True(t, ok)
		assert.Equal(t, KindMethod, inner.Kind, "nested definitions have a non-empty scope")

		run, ok := idx["pkg/service.py::root::run"]
		require.True(t, ok)
		assert.Equal(t, KindFunction, run.Kind)
		assert.Equal(t, 13, run.StartLine)
		assert.Equal(t, 14, run.EndLine)
	})

	t.Run("Calls stop at nested definitions", func(t *testing.T) {
		save := idx["pkg/service.py::Service::save"]
		assert.ElementsMatch(t, []string{"save", "join", "helper"}, save.Calls)
		assert.NotContains(t, save.Calls, "audit")

		inner := idx["pkg/service.py::Service.save::inner"]
		assert.Equal(t, []string{"audit"}, inner.Calls)
	})

	t.Run("File imports attach to top-level units", func(t *testing.T) {
		run := idx["pkg/service.py::root::run"]
		assert.Equal(t, []string{"os", "util"}, run.ImportModules())

		svc := idx["pkg/service.py::root::Service"]
		assert.Equal(t, []string{"os", "util"}, svc.ImportModules())

		save := idx["pkg/service.py::Service::save"]
		assert.Empty(t, save.Imports)
	})

	t.Run("Content is the exact source slice", func(t *testing.T) {
		run := idx["pkg/service.py::root::run"]
		assert.Equal(t, "def run():\n    helper()", run.Content)
		assert.NotEmpty(t, run.Fingerprint)
	})
}

func TestExtractor_ParseJavaScript(t *testing.T) {
	src := `import { draw } from './canvas';

const handler = () => {
  helper();
};

class Widget extends Base {
  render() {
    this.draw();
  }
}
`
	units := NewExtractor().Parse("web/app.js", []byte(src))
	idx := byIdentifier(units)
	require.Len(t, units, 3)

	handler, ok := idx["web/app.js::root::handler"]
	require.True(t, ok)
	assert.Equal(t, KindFunction, handler.Kind)
	assert.Equal(t, []string{"helper"}, handler.Calls)
	assert.Equal(t, []string{"./canvas"}, handler.ImportModules())

	widget, ok := idx["web/app.js::root::Widget"]
	require.True(t, ok)
	assert.Equal(t, KindClass, widget.Kind)
	assert.Equal(t, []string{"Base"}, widget.Bases)

	render, ok := idx["web/app.js::Widget::render"]
	require.True(t, ok)
	assert.Equal(t, KindMethod, render.Kind)
	assert.Equal(t, []string{"draw"}, render.Calls)
}

func TestExtractor_ParseGoReceivers(t *testing.T) {
	src := `package main

import "fmt"

type A struct{}
type B struct{}

func (a *A) String() string { return fmt.Sprint("a") }
func (b B) String() string  { return "b" }

func main() {}
`
	units := NewExtractor().Parse("main.go", []byte(src))
	idx := byIdentifier(units)

	a, ok := idx["main.go::A::String"]
	require.True(t, ok)
	assert.Equal(t, KindMethod, a.Kind)
	assert.Equal(t, []string{"Sprint"}, a.Calls)

	_, ok = idx["main.go::B::String"]
	assert.True(t, ok, "methods of different receivers must not collide")

	m, ok := idx["main.go::root::main"]
	require.True(t, ok)
	assert.Equal(t, KindFunction, m.Kind)
	assert.Equal(t, []string{"fmt"}, m.ImportModules())

	_, ok = idx["main.go::root::A"]
	assert.True(t, ok)
}

func TestExtractor_ParseRustImplScopes(t *testing.T) {
	src := `struct Foo { x: i32 }

impl Foo {
    fn bar(&self) -> i32 { helper() }
}

impl Display for Foo {
    fn fmt(&self) {}
}

fn helper() -> i32 { 1 }
`
	units := NewExtractor().Parse("src/lib.rs", []byte(src))
	idx := byIdentifier(units)
	require.Len(t, units, 4)

	foo, ok := idx["src/lib.rs::root::Foo"]
	require.True(t, ok)
	assert.Equal(t, KindClass, foo.Kind)
	assert.Contains(t, foo.Content, "struct Foo", "impl blocks must not replace the struct")
	assert.NotContains(t, foo.Content, "fn bar")

	bar, ok := idx["src/lib.rs::Foo::bar"]
	require.True(t, ok)
	assert.Equal(t, KindMethod, bar.Kind)
	assert.Equal(t, []string{"helper"}, bar.Calls)

	_, ok = idx["src/lib.rs::Foo::fmt"]
	assert.True(t, ok, "trait impl methods share the type's scope")
}

func TestExtractor_ParseMarkdown(t *testing.T) {
	src := "# Title\n\nBody\n"
	units := NewExtractor().Parse("docs/README.md", []byte(src))
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, "docs/README.md::root::README.md", u.Identifier)
	assert.Equal(t, KindModule, u.Kind)
	assert.Equal(t, src, u.Content)
	assert.Equal(t, 0, u.StartLine)
	assert.Equal(t, 2, u.EndLine)
}

func TestExtractor_IgnoredAndUnsupported(t *testing.T) {
	ext := NewExtractor()
	tests := []struct {
		name string
		path string
	}{
		{"vendored dependency", "node_modules/lib/index.js"},
		{"asset", "static/logo.png"},
		{"config data", "config.yaml"},
		{"unsupported language", "script.xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ext.Parse(tt.path, []byte("function f() {}")))
		})
	}
}

func TestExtractor_PanicDropsFile(t *testing.T) {
	orig := languages["python"]
	broken := *orig
	broken.imports = map[string]func(ParsedNode) []string{
		"import_statement": func(ParsedNode) []string { panic("bad grammar node") },
	}
	languages["python"] = &broken
	t.Cleanup(func() { languages["python"] = orig })

	var buf bytes.Buffer
	ext := NewExtractor(WithLogger(hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Warn})))

	var units []*CodeUnit
	require.NotPanics(t, func() { units = ext.Parse("svc.py", []byte(pythonSource)) })
	assert.Nil(t, units)
	assert.Contains(t, buf.String(), "skipping file after parser panic")
	assert.Contains(t, buf.String(), "svc.py")

	languages["python"] = orig
	assert.NotEmpty(t, ext.Parse("svc.py", []byte(pythonSource)))
}

func TestExtractor_Deterministic(t *testing.T) {
	ext := NewExtractor()
	first := ext.Parse("pkg/service.py", []byte(pythonSource))
	second := ext.Parse("./pkg/service.py", []byte(pythonSource))
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Identifier, second[i].Identifier)
		assert.Equal(t, first[i].Fingerprint, second[i].Fingerprint)
	}
}

func TestExtractor_ParseFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "util.py"), []byte("def helper():\n    pass\n"), 0o644))

	units, err := NewExtractor().ParseFile(root, "lib/util.py")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "lib/util.py::root::helper", units[0].Identifier)

	_, err = NewExtractor().ParseFile(root, "missing.py")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	base := &CodeUnit{Content: "def f(): pass"}
	same := &CodeUnit{Content: "def f(): pass"}
	changed := &CodeUnit{Content: "def f(): return 1"}
	withImport := &CodeUnit{Content: "def f(): pass", Imports: []ImportInfo{{Module: "os"}}}

	assert.Equal(t, Fingerprint(base), Fingerprint(same))
	assert.NotEqual(t, Fingerprint(base), Fingerprint(changed))
	assert.NotEqual(t, Fingerprint(base), Fingerprint(withImport))
}

func TestNormalizeSymbol(t *testing.T) {
	tests := map[string]string{
		"self.repo.save":  "save",
		"Foo::bar":        "bar",
		"ptr->run":        "run",
		"helper":          "helper",
		"List<String>":    "List",
		"valid?":          "valid?",
		"(function(){})":  "",
		"arr[0]":          "arr",
		"  spaced  ":      "spaced",
		"a.b(c).d":        "d",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeSymbol(in), in)
	}
}

func TestBuildIdentifier(t *testing.T) {
	assert.Equal(t, "a.py::root::f", BuildIdentifier("a.py", "", "f"))
	assert.Equal(t, "a.py::C.m::g", BuildIdentifier("a.py", "C.m", "g"))
	assert.Equal(t, "g", ShortName("a.py::C.m::g"))
	assert.Equal(t, "pkg/a.py", NormalizePath(`.\pkg\a.py`))
}
