package extractor

import (
	"strings"
	"unicode"
)

var qualifierSeparators = []string{".", "::", "->"}

// normalizeSymbol reduces a call or type expression such as `self.repo.save`,
// `Foo::bar`, `ptr->run` or `List<T>` to its bare trailing name. It returns ""
// when the result is not identifier-like (computed callees, lambdas).
func normalizeSymbol(expr string) string {
	s := strings.TrimSpace(expr)
	for _, sep := range qualifierSeparators {
		if i := strings.LastIndex(s, sep); i >= 0 {
			s = s[i+len(sep):]
		}
	}
	if i := strings.IndexAny(s, "(<[ \t\n"); i >= 0 {
		s = s[:i]
	}
	if !isIdentifier(s) {
		return ""
	}
	return s
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	// ruby predicate and bang methods
	s = strings.TrimRight(s, "?!")
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// collectCalls gathers call targets under root without descending into
// nested definitions, which own their calls.
func (l *languageSpec) collectCalls(root ParsedNode) []string {
	type item struct {
		node ParsedNode
		root bool
	}
	var calls []string
	seen := make(map[string]bool)
	stack := []item{{node: root, root: true}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if target, ok := l.calls[cur.node.Type()]; ok {
			if name := normalizeSymbol(target(cur.node)); name != "" && !seen[name] {
				seen[name] = true
				calls = append(calls, name)
			}
		}
		if !cur.root && l.isDefinition(cur.node) {
			continue
		}
		children := cur.node.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: children[i]})
		}
	}
	return calls
}

// collectImports gathers every import statement of the file in source order.
func (l *languageSpec) collectImports(root ParsedNode) []ImportInfo {
	var imports []ImportInfo
	seen := make(map[string]bool)
	stack := []ParsedNode{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if extract, ok := l.imports[cur.Type()]; ok {
			for _, mod := range extract(cur) {
				mod = strings.TrimSpace(mod)
				if mod == "" || seen[mod] {
					continue
				}
				seen[mod] = true
				imports = append(imports, ImportInfo{Module: mod, Line: cur.StartLine()})
			}
		}
		children := cur.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return imports
}
