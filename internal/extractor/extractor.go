package extractor

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	sitter "github.com/smacker/go-tree-sitter"
)

// Extractor turns source files into CodeUnits. It holds no per-file state and
// is safe for concurrent use.
type Extractor struct {
	logger hclog.Logger
}

type Option func(*Extractor)

// WithLogger sets the logger used for skipped files and nodes.
func WithLogger(l hclog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor creates an extractor covering every supported language.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseFile reads root/relPath and parses it.
func (e *Extractor) ParseFile(root, relPath string) ([]*CodeUnit, error) {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", relPath, err)
	}
	return e.Parse(relPath, content), nil
}

// Parse extracts the units of one file. Ignored paths, unsupported languages
// and unparsable content all yield an empty result. A panic anywhere in the
// parse drops the whole file rather than the caller.
func (e *Extractor) Parse(filePath string, content []byte) (units []*CodeUnit) {
	filePath = NormalizePath(filePath)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("skipping file after parser panic", "file", filePath, "panic", r)
			units = nil
		}
	}()
	if !ShouldProcess(filePath) {
		return nil
	}
	lang := LanguageFor(filePath)
	if lang == "" {
		return nil
	}
	if lang == markdownLanguage {
		return []*CodeUnit{proseUnit(filePath, content)}
	}
	spec, ok := languages[lang]
	if !ok {
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.grammar())
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree == nil {
		e.logger.Warn("failed to parse file", "file", filePath, "language", lang, "error", err)
		return nil
	}
	root := newParsedNode(tree.RootNode(), content)

	units = e.walk(spec, root, filePath, lang)
	imports := spec.collectImports(root)
	for _, u := range units {
		if u.ParentScope == "" && len(u.Imports) == 0 && len(imports) > 0 {
			u.Imports = append([]ImportInfo(nil), imports...)
		}
		u.Fingerprint = Fingerprint(u)
	}
	return mergeDuplicates(units)
}

type frame struct {
	node  ParsedNode
	scope string
}

// walk visits the tree depth-first in source order with an explicit stack.
// Each frame carries the scope its node was found in.
func (e *Extractor) walk(spec *languageSpec, root ParsedNode, filePath, lang string) []*CodeUnit {
	var units []*CodeUnit
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		childScope := cur.scope
		if rule, ok := spec.definitions[cur.node.Type()]; ok && rule.scopeOnly {
			if rule.name != nil {
				if raw := rule.name(cur.node); raw != "" {
					childScope = joinScope(cur.scope, cleanName(raw))
				}
			}
		} else if ok && rule.accepts(cur.node) {
			if u := e.buildUnit(spec, rule, cur.node, filePath, lang, cur.scope); u != nil {
				units = append(units, u)
				childScope = joinScope(u.ParentScope, u.Name)
			}
		}

		children := cur.node.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i], scope: childScope})
		}
	}
	return units
}

func (e *Extractor) buildUnit(spec *languageSpec, rule definitionRule, n ParsedNode, filePath, lang, scope string) (u *CodeUnit) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("skipping malformed node", "file", filePath, "node", n.Type(), "line", n.StartLine()+1, "panic", r)
			u = nil
		}
	}()

	name := "anonymous"
	if rule.name != nil {
		if raw := rule.name(n); raw != "" {
			name = cleanName(raw)
		}
	}
	parent := scope
	if rule.scope != nil {
		parent = joinScope(scope, rule.scope(n))
	}

	var bases []string
	if rule.bases != nil {
		bases = dedupe(rule.bases(n))
	}

	return &CodeUnit{
		Identifier:  BuildIdentifier(filePath, parent, name),
		Name:        name,
		Kind:        classify(rule.category, parent),
		Language:    lang,
		FilePath:    filePath,
		ParentScope: parent,
		Content:     n.Text(),
		StartLine:   n.StartLine(),
		EndLine:     n.EndLine(),
		Calls:       spec.collectCalls(n),
		Bases:       bases,
	}
}

func classify(c category, parentScope string) UnitKind {
	switch c {
	case categoryClass:
		return KindClass
	case categoryMethod:
		return KindMethod
	}
	if parentScope != "" {
		return KindMethod
	}
	return KindFunction
}

func cleanName(raw string) string {
	if name := normalizeSymbol(raw); name != "" {
		return name
	}
	return strings.Join(strings.Fields(raw), " ")
}

func proseUnit(filePath string, content []byte) *CodeUnit {
	text := string(content)
	name := path.Base(filePath)
	end := strings.Count(text, "\n")
	if end > 0 && strings.HasSuffix(text, "\n") {
		end--
	}
	u := &CodeUnit{
		Identifier: BuildIdentifier(filePath, "", name),
		Name:       name,
		Kind:       KindModule,
		Language:   markdownLanguage,
		FilePath:   filePath,
		Content:    text,
		StartLine:  0,
		EndLine:    end,
	}
	u.Fingerprint = Fingerprint(u)
	return u
}

// mergeDuplicates keeps one unit per identifier. Overloads and redefinitions
// collapse onto the same identifier; the last definition in the file wins and
// takes the position of the first.
func mergeDuplicates(units []*CodeUnit) []*CodeUnit {
	index := make(map[string]int, len(units))
	out := make([]*CodeUnit, 0, len(units))
	for _, u := range units {
		if i, ok := index[u.Identifier]; ok {
			out[i] = u
			continue
		}
		index[u.Identifier] = len(out)
		out = append(out, u)
	}
	return out
}
