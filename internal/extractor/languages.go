package extractor

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

const markdownLanguage = "markdown"

type category int

const (
	// categoryFunction becomes a method when it sits inside another unit.
	categoryFunction category = iota
	categoryMethod
	categoryClass
)

type definitionRule struct {
	category category
	name     func(ParsedNode) string
	// scope, when set, names an extra enclosing scope the node declares for
	// itself (a Go receiver, a C++ qualified definition).
	scope  func(ParsedNode) string
	accept func(ParsedNode) bool
	bases  func(ParsedNode) []string
	// scopeOnly rules open a scope for their children without emitting a
	// unit of their own (a Rust impl block).
	scopeOnly bool
}

func (r definitionRule) accepts(n ParsedNode) bool {
	return r.accept == nil || r.accept(n)
}

type languageSpec struct {
	name        string
	grammar     func() *sitter.Language
	definitions map[string]definitionRule
	calls       map[string]func(ParsedNode) string
	imports     map[string]func(ParsedNode) []string
}

func (l *languageSpec) isDefinition(n ParsedNode) bool {
	rule, ok := l.definitions[n.Type()]
	return ok && rule.accepts(n)
}

var extensionLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".cjs":  "javascript",
	".mjs":  "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "tsx",
	".go":   "go",
	".java": "java",
	".rs":   "rust",
	".rb":   "ruby",
	".php":  "php",
	".c":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".h":    "cpp",
	".hpp":  "cpp",
	".cs":   "c_sharp",
	".md":   markdownLanguage,
}

// LanguageFor maps a file path to its language tag, or "" when unsupported.
func LanguageFor(filePath string) string {
	return extensionLanguages[strings.ToLower(path.Ext(filePath))]
}

var languages = map[string]*languageSpec{}

func register(spec *languageSpec) {
	languages[spec.name] = spec
}

func init() {
	register(pythonSpec())
	for _, l := range []struct {
		name    string
		grammar func() *sitter.Language
	}{
		{"javascript", javascript.GetLanguage},
		{"typescript", typescript.GetLanguage},
		{"tsx", tsx.GetLanguage},
	} {
		register(ecmaSpec(l.name, l.grammar))
	}
	register(goSpec())
	register(javaSpec())
	register(csharpSpec())
	register(cFamilySpec("c", c.GetLanguage))
	register(cFamilySpec("cpp", cpp.GetLanguage))
	register(rustSpec())
	register(phpSpec())
	register(rubySpec())
}

func pythonSpec() *languageSpec {
	return &languageSpec{
		name:    "python",
		grammar: python.GetLanguage,
		definitions: map[string]definitionRule{
			"function_definition": {category: categoryFunction, name: fieldText("name")},
			"class_definition":    {category: categoryClass, name: fieldText("name"), bases: fieldNames("superclasses")},
		},
		calls: map[string]func(ParsedNode) string{
			"call": fieldText("function"),
		},
		imports: map[string]func(ParsedNode) []string{
			"import_statement": func(n ParsedNode) []string {
				var out []string
				for _, c := range n.NamedChildren() {
					switch c.Type() {
					case "dotted_name":
						out = append(out, c.Text())
					case "aliased_import":
						if name, ok := c.Field("name"); ok {
							out = append(out, name.Text())
						}
					}
				}
				return out
			},
			"import_from_statement": func(n ParsedNode) []string {
				if mod, ok := n.Field("module_name"); ok {
					return []string{mod.Text()}
				}
				return []string{"."}
			},
		},
	}
}

func ecmaSpec(name string, grammar func() *sitter.Language) *languageSpec {
	heritage := childNames("class_heritage")
	return &languageSpec{
		name:    name,
		grammar: grammar,
		definitions: map[string]definitionRule{
			"function_declaration":           {category: categoryFunction, name: fieldText("name")},
			"generator_function_declaration": {category: categoryFunction, name: fieldText("name")},
			"class_declaration":              {category: categoryClass, name: fieldText("name"), bases: heritage},
			"abstract_class_declaration":     {category: categoryClass, name: fieldText("name"), bases: heritage},
			"interface_declaration":          {category: categoryClass, name: fieldText("name"), bases: childNames("extends_type_clause")},
			"method_definition":              {category: categoryMethod, name: fieldText("name")},
			"variable_declarator": {
				category: categoryFunction,
				name:     fieldText("name"),
				accept: func(n ParsedNode) bool {
					v, ok := n.Field("value")
					if !ok {
						return false
					}
					switch v.Type() {
					case "arrow_function", "function", "function_expression", "generator_function":
						return true
					}
					return false
				},
			},
		},
		calls: map[string]func(ParsedNode) string{
			"call_expression": fieldText("function"),
			"new_expression":  fieldText("constructor"),
		},
		imports: map[string]func(ParsedNode) []string{
			"import_statement": quotedField("source", `"'`+"`"),
			"export_statement": quotedField("source", `"'`+"`"),
		},
	}
}

func goSpec() *languageSpec {
	return &languageSpec{
		name:    "go",
		grammar: golang.GetLanguage,
		definitions: map[string]definitionRule{
			"function_declaration": {category: categoryFunction, name: fieldText("name")},
			"method_declaration":   {category: categoryMethod, name: fieldText("name"), scope: goReceiverType},
			"type_spec":            {category: categoryClass, name: fieldText("name")},
		},
		calls: map[string]func(ParsedNode) string{
			"call_expression": fieldText("function"),
		},
		imports: map[string]func(ParsedNode) []string{
			"import_spec": quotedField("path", `"`+"`"),
		},
	}
}

func javaSpec() *languageSpec {
	return &languageSpec{
		name:    "java",
		grammar: java.GetLanguage,
		definitions: map[string]definitionRule{
			"class_declaration":       {category: categoryClass, name: fieldText("name"), bases: fieldNames("superclass", "interfaces")},
			"interface_declaration":   {category: categoryClass, name: fieldText("name"), bases: childNames("extends_interfaces")},
			"enum_declaration":        {category: categoryClass, name: fieldText("name")},
			"record_declaration":      {category: categoryClass, name: fieldText("name")},
			"method_declaration":      {category: categoryMethod, name: fieldText("name")},
			"constructor_declaration": {category: categoryMethod, name: fieldText("name")},
		},
		calls: map[string]func(ParsedNode) string{
			"method_invocation":          fieldText("name"),
			"object_creation_expression": fieldText("type"),
		},
		imports: map[string]func(ParsedNode) []string{
			"import_declaration": func(n ParsedNode) []string {
				text := strings.TrimSpace(n.Text())
				text = strings.TrimPrefix(text, "import")
				text = strings.TrimSpace(text)
				text = strings.TrimPrefix(text, "static")
				text = strings.TrimSuffix(strings.TrimSpace(text), ";")
				return []string{strings.TrimSpace(text)}
			},
		},
	}
}

func csharpSpec() *languageSpec {
	bases := childNames("base_list")
	return &languageSpec{
		name:    "c_sharp",
		grammar: csharp.GetLanguage,
		definitions: map[string]definitionRule{
			"class_declaration":       {category: categoryClass, name: fieldText("name"), bases: bases},
			"interface_declaration":   {category: categoryClass, name: fieldText("name"), bases: bases},
			"struct_declaration":      {category: categoryClass, name: fieldText("name"), bases: bases},
			"record_declaration":      {category: categoryClass, name: fieldText("name"), bases: bases},
			"enum_declaration":        {category: categoryClass, name: fieldText("name")},
			"method_declaration":      {category: categoryMethod, name: fieldText("name")},
			"constructor_declaration": {category: categoryMethod, name: fieldText("name")},
		},
		calls: map[string]func(ParsedNode) string{
			"invocation_expression":      fieldText("function"),
			"object_creation_expression": fieldText("type"),
		},
		imports: map[string]func(ParsedNode) []string{
			"using_directive": func(n ParsedNode) []string {
				if name, ok := n.Field("name"); ok {
					return []string{name.Text()}
				}
				named := n.NamedChildren()
				if len(named) == 0 {
					return nil
				}
				return []string{named[len(named)-1].Text()}
			},
		},
	}
}

func cFamilySpec(name string, grammar func() *sitter.Language) *languageSpec {
	hasBody := func(n ParsedNode) bool {
		_, ok := n.Field("body")
		return ok
	}
	defs := map[string]definitionRule{
		"function_definition": {category: categoryFunction, name: cDeclaratorName, scope: cDeclaratorScope},
		"struct_specifier":    {category: categoryClass, name: fieldText("name"), accept: hasBody, bases: childNames("base_class_clause")},
	}
	if name == "cpp" {
		defs["class_specifier"] = definitionRule{category: categoryClass, name: fieldText("name"), accept: hasBody, bases: childNames("base_class_clause")}
	}
	return &languageSpec{
		name:        name,
		grammar:     grammar,
		definitions: defs,
		calls: map[string]func(ParsedNode) string{
			"call_expression": fieldText("function"),
		},
		imports: map[string]func(ParsedNode) []string{
			"preproc_include": quotedField("path", `<>"`),
		},
	}
}

func rustSpec() *languageSpec {
	return &languageSpec{
		name:    "rust",
		grammar: rust.GetLanguage,
		definitions: map[string]definitionRule{
			"function_item": {category: categoryFunction, name: fieldText("name")},
			"struct_item":   {category: categoryClass, name: fieldText("name")},
			"enum_item":     {category: categoryClass, name: fieldText("name")},
			"trait_item":    {category: categoryClass, name: fieldText("name")},
			"impl_item":     {category: categoryClass, name: fieldText("type"), scopeOnly: true},
		},
		calls: map[string]func(ParsedNode) string{
			"call_expression": fieldText("function"),
		},
		imports: map[string]func(ParsedNode) []string{
			"use_declaration": func(n ParsedNode) []string {
				if arg, ok := n.Field("argument"); ok {
					return []string{arg.Text()}
				}
				return nil
			},
		},
	}
}

func phpSpec() *languageSpec {
	bases := childNames("base_clause", "class_base_clause", "class_interface_clause")
	return &languageSpec{
		name:    "php",
		grammar: php.GetLanguage,
		definitions: map[string]definitionRule{
			"class_declaration":     {category: categoryClass, name: fieldText("name"), bases: bases},
			"interface_declaration": {category: categoryClass, name: fieldText("name"), bases: bases},
			"trait_declaration":     {category: categoryClass, name: fieldText("name")},
			"function_definition":   {category: categoryFunction, name: fieldText("name")},
			"method_declaration":    {category: categoryMethod, name: fieldText("name")},
		},
		calls: map[string]func(ParsedNode) string{
			"function_call_expression": fieldText("function"),
			"member_call_expression":   fieldText("name"),
			"scoped_call_expression":   fieldText("name"),
		},
		imports: map[string]func(ParsedNode) []string{
			"namespace_use_declaration": func(n ParsedNode) []string {
				var out []string
				for _, clause := range n.NamedChildren() {
					if clause.Type() != "namespace_use_clause" {
						continue
					}
					if name, ok := clause.Field("name"); ok {
						out = append(out, name.Text())
					} else if named := clause.NamedChildren(); len(named) > 0 {
						out = append(out, named[0].Text())
					}
				}
				return out
			},
		},
	}
}

var rubyRequires = map[string]bool{"require": true, "require_relative": true, "load": true}

func rubySpec() *languageSpec {
	return &languageSpec{
		name:    "ruby",
		grammar: ruby.GetLanguage,
		definitions: map[string]definitionRule{
			"class":            {category: categoryClass, name: fieldText("name"), bases: fieldNames("superclass")},
			"module":           {category: categoryClass, name: fieldText("name")},
			"method":           {category: categoryFunction, name: fieldText("name")},
			"singleton_method": {category: categoryMethod, name: fieldText("name")},
		},
		calls: map[string]func(ParsedNode) string{
			"call": fieldText("method"),
		},
		imports: map[string]func(ParsedNode) []string{
			"call": func(n ParsedNode) []string {
				method, ok := n.Field("method")
				if !ok || !rubyRequires[method.Text()] {
					return nil
				}
				args, ok := n.Field("arguments")
				if !ok {
					return nil
				}
				return []string{strings.Trim(args.Text(), `()'" `)}
			},
		},
	}
}

func fieldText(field string) func(ParsedNode) string {
	return func(n ParsedNode) string {
		c, ok := n.Field(field)
		if !ok {
			return ""
		}
		return c.Text()
	}
}

func quotedField(field, cutset string) func(ParsedNode) []string {
	return func(n ParsedNode) []string {
		c, ok := n.Field(field)
		if !ok {
			return nil
		}
		if mod := strings.Trim(c.Text(), cutset); mod != "" {
			return []string{mod}
		}
		return nil
	}
}

// fieldNames collects type names below the given fields.
func fieldNames(fields ...string) func(ParsedNode) []string {
	return func(n ParsedNode) []string {
		var out []string
		for _, f := range fields {
			if c, ok := n.Field(f); ok {
				out = append(out, typeNames(c)...)
			}
		}
		return out
	}
}

// childNames collects type names below direct children of the given types.
func childNames(types ...string) func(ParsedNode) []string {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	return func(n ParsedNode) []string {
		var out []string
		for _, c := range n.Children() {
			if want[c.Type()] {
				out = append(out, typeNames(c)...)
			}
		}
		return out
	}
}

var typeNameNodes = map[string]bool{
	"identifier": true, "type_identifier": true, "constant": true, "name": true,
	"qualified_name": true, "qualified_identifier": true, "scoped_identifier": true,
	"scoped_type_identifier": true, "scope_resolution": true, "attribute": true,
	"member_expression": true, "generic_type": true, "nested_type_identifier": true,
	"generic_name": true,
}

var skippedTypeNodes = map[string]bool{
	"keyword_argument": true, "type_arguments": true, "type_parameters": true,
	"access_specifier": true, "comment": true,
}

func typeNames(n ParsedNode) []string {
	var out []string
	stack := []ParsedNode{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if skippedTypeNodes[cur.Type()] {
			continue
		}
		if typeNameNodes[cur.Type()] {
			if name := normalizeSymbol(cur.Text()); name != "" {
				out = append(out, name)
			}
			continue
		}
		children := cur.NamedChildren()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

func goReceiverType(n ParsedNode) string {
	recv, ok := n.Field("receiver")
	if !ok {
		return ""
	}
	for _, param := range recv.NamedChildren() {
		t, ok := param.Field("type")
		if !ok {
			continue
		}
		text := strings.TrimLeft(strings.TrimSpace(t.Text()), "*")
		if i := strings.IndexByte(text, '['); i >= 0 {
			text = text[:i]
		}
		return text
	}
	return ""
}

// innermostDeclarator follows the declarator chain of a C/C++ definition down
// to the node that carries the function's name.
func innermostDeclarator(n ParsedNode) (ParsedNode, bool) {
	d, ok := n.Field("declarator")
	if !ok {
		return ParsedNode{}, false
	}
	for {
		inner, ok := d.Field("declarator")
		if !ok {
			return d, true
		}
		d = inner
	}
}

func cDeclaratorName(n ParsedNode) string {
	d, ok := innermostDeclarator(n)
	if !ok {
		return ""
	}
	text := d.Text()
	if i := strings.LastIndex(text, "::"); i >= 0 {
		text = text[i+2:]
	}
	return text
}

func cDeclaratorScope(n ParsedNode) string {
	d, ok := innermostDeclarator(n)
	if !ok || d.Type() != "qualified_identifier" {
		return ""
	}
	text := d.Text()
	i := strings.LastIndex(text, "::")
	if i <= 0 {
		return ""
	}
	return strings.ReplaceAll(text[:i], "::", ".")
}
