package resolver

import (
	"path"
	"strings"

	"codetwin/internal/extractor"
	"codetwin/internal/graph"
)

// ImportGatedResolver binds a short target name to the units ending in
// `::name` that live in the source's own file or in a file the source file
// imports. Same-named units elsewhere in the repository are rejected.
type ImportGatedResolver struct {
	fileImports map[string][]string
}

func NewImportGatedResolver(fileImports map[string][]string) *ImportGatedResolver {
	if fileImports == nil {
		fileImports = map[string][]string{}
	}
	return &ImportGatedResolver{fileImports: fileImports}
}

func (r *ImportGatedResolver) Name() string {
	return "import_gated"
}

func (r *ImportGatedResolver) Resolve(g *graph.Graph) (ResolveStats, error) {
	var stats ResolveStats
	if g == nil {
		return stats, nil
	}

	var still []graph.UnresolvedRelation
	for _, ur := range g.Unresolved {
		stats.Attempted++
		src, ok := g.Nodes[ur.From]
		if !ok || src.Unit == nil {
			ur.Reason = graph.ReasonSourceMissing
			stats.Skipped++
			still = append(still, ur)
			continue
		}

		candidates := g.Candidates(extractor.ShortName(ur.Target))
		if len(candidates) == 0 {
			ur.Reason = graph.ReasonNoCandidate
			stats.Skipped++
			still = append(still, ur)
			continue
		}

		linked := false
		for _, id := range candidates {
			target := g.Nodes[id].Unit
			if target.FilePath != src.Unit.FilePath && !r.imports(src.Unit.FilePath, target.FilePath) {
				continue
			}
			g.AddEdge(graph.Edge{From: ur.From, To: id, Kind: ur.Kind})
			linked = true
		}
		if !linked {
			ur.Reason = graph.ReasonNotImported
			stats.Skipped++
			still = append(still, ur)
			continue
		}
		stats.Resolved++
	}
	g.Unresolved = still
	return stats, nil
}

func (r *ImportGatedResolver) imports(sourceFile, candidateFile string) bool {
	for _, mod := range r.fileImports[sourceFile] {
		if MatchesImport(mod, candidateFile) {
			return true
		}
	}
	return false
}

// MatchesImport reports whether an import string refers to candidateFile. The
// import is normalized to a slash path (dots, `::` and backslashes become
// separators, relative prefixes and quotes are dropped) and compared by
// equality or by a `/`-bounded suffix in either direction. The full import
// may name the candidate's file or, for package imports, its directory. A
// multi-segment import also tries its parent, for imports that name an item
// inside a module, but only against the file itself: `x.a` never admits a
// sibling like `x/b.py`.
func MatchesImport(module, candidateFile string) bool {
	mod := normalizeImport(module)
	if mod == "" {
		return false
	}
	file := extractor.NormalizePath(candidateFile)
	noExt := strings.TrimSuffix(file, path.Ext(file))
	dir := path.Dir(file)
	if dir == "." {
		dir = ""
	}

	if pathsMatch(mod, noExt) || pathsMatch(mod, dir) {
		return true
	}
	if i := strings.LastIndex(mod, "/"); i > 0 {
		return pathsMatch(mod[:i], noExt)
	}
	return false
}

func pathsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}

var rustPathRoots = []string{"crate/", "self/", "super/"}

func normalizeImport(module string) string {
	m := strings.TrimSpace(module)
	m = strings.Trim(m, `"'<>`+"`")
	m = strings.ReplaceAll(m, "\\", "/")
	for {
		switch {
		case strings.HasPrefix(m, "./"):
			m = m[2:]
		case strings.HasPrefix(m, "../"):
			m = m[3:]
		default:
			goto stripped
		}
	}
stripped:
	// python relative imports
	m = strings.TrimLeft(m, ".")
	if ext := path.Ext(m); ext != "" && extractor.LanguageFor(m) != "" {
		m = strings.TrimSuffix(m, ext)
	}
	m = strings.ReplaceAll(m, "::", "/")
	m = strings.ReplaceAll(m, ".", "/")
	for _, root := range rustPathRoots {
		m = strings.TrimPrefix(m, root)
	}
	m = strings.TrimSuffix(m, "/*")
	return strings.Trim(m, "/")
}
