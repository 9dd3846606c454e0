// Package symbols is the Symbol & Library Extractor (C6): it parses source
// files for top-level/class-level symbols, seeds Library nodes from
// dependency manifests, and parses import statements into IMPORTS/USES_LIBRARY
// edges. Go files are parsed with go/ast (grounded on the teacher's
// internal/world/go_parser.go); Python, JavaScript, TypeScript, and Rust are
// parsed with tree-sitter (grounded on internal/world/ast_treesitter.go).
// Rust `use` declarations are not recorded as imports.
//
// ParseFile is also used directly by internal/chunk (C5) to find symbol
// boundaries for code chunking, since the spec requires C5 to chunk at
// symbol granularity before C6 runs — the parsing utility is shared, the
// Symbol-node writes are not.
package symbols

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	tsLang "github.com/smacker/go-tree-sitter/typescript/typescript"

	"kgingest/internal/graph"
	"kgingest/internal/kgerrors"
)

// ParsedSymbol is a located symbol prior to UID assignment.
type ParsedSymbol struct {
	Name string
	Kind graph.SymbolKind
	Span graph.Span
}

// ParsedImport is a raw, unresolved import/require target.
type ParsedImport struct {
	Module string // as written in source, e.g. "os/exec", "./util", "numpy"; Python dotted names use "/" ("os.path" -> "os/path")
	Line   int
}

// ParseResult is everything ParseFile extracts from one file.
type ParseResult struct {
	Symbols []ParsedSymbol
	Imports []ParsedImport
}

// SupportedLanguages lists the languages with a real parser; anything else
// falls back to span-based chunking in C5 and is skipped by C6 entirely.
var SupportedLanguages = map[string]bool{
	"go": true, "python": true, "javascript": true, "typescript": true, "rust": true,
}

// ParseFile dispatches to the language-specific parser. Returns
// kgerrors.PerFile on any parse failure — callers must treat this as
// non-fatal and continue (spec.md §4.6).
func ParseFile(language, path string, content []byte) (*ParseResult, error) {
	switch language {
	case "go":
		return parseGo(path, content)
	case "python":
		return parseTreeSitter(path, content, python.GetLanguage(), pythonNodeKinds)
	case "javascript":
		return parseTreeSitter(path, content, javascript.GetLanguage(), jsNodeKinds)
	case "typescript":
		return parseTreeSitter(path, content, tsLang.GetLanguage(), jsNodeKinds)
	case "rust":
		return parseTreeSitter(path, content, rust.GetLanguage(), rustNodeKinds)
	default:
		return nil, kgerrors.PerFile("symbols", "unsupported language: "+language, nil)
	}
}

func parseGo(path string, content []byte) (*ParseResult, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, kgerrors.PerFile("symbols", "go parse failed: "+path, err)
	}

	result := &ParseResult{}
	structMethodRecv := map[string]bool{}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			kind := graph.SymbolFunction
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				kind = graph.SymbolMethod
				if recvName := receiverTypeName(d.Recv.List[0].Type); recvName != "" {
					structMethodRecv[recvName] = true
					name = recvName + "." + name
				}
			}
			start, end := fset.Position(d.Pos()).Line, fset.Position(d.End()).Line
			result.Symbols = append(result.Symbols, ParsedSymbol{Name: name, Kind: kind, Span: graph.Span{StartLine: start, EndLine: end}})

		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				kind := graph.SymbolClass
				if _, isIface := ts.Type.(*ast.InterfaceType); isIface {
					kind = graph.SymbolInterface
				}
				start, end := fset.Position(ts.Pos()).Line, fset.Position(ts.End()).Line
				result.Symbols = append(result.Symbols, ParsedSymbol{Name: ts.Name.Name, Kind: kind, Span: graph.Span{StartLine: start, EndLine: end}})
			}
		}
	}

	for _, imp := range file.Imports {
		line := fset.Position(imp.Pos()).Line
		path := strings.Trim(imp.Path.Value, `"`)
		result.Imports = append(result.Imports, ParsedImport{Module: path, Line: line})
	}

	return result, nil
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

type nodeKindSet struct {
	function  []string
	method    []string
	class     []string
	iface []string
	imports   []string
}

var pythonNodeKinds = nodeKindSet{
	function: []string{"function_definition"},
	class:    []string{"class_definition"},
	imports:  []string{"import_statement", "import_from_statement"},
}

var jsNodeKinds = nodeKindSet{
	function: []string{"function_declaration", "function"},
	method:   []string{"method_definition"},
	class:    []string{"class_declaration"},
	iface: []string{"interface_declaration"},
	imports:  []string{"import_statement", "call_expression"},
}

var rustNodeKinds = nodeKindSet{
	function: []string{"function_item"},
	class:    []string{"struct_item", "enum_item"},
	iface: []string{"trait_item"},
	imports:  []string{"use_declaration"},
}

func parseTreeSitter(path string, content []byte, lang *sitter.Language, kinds nodeKindSet) (*ParseResult, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(lang)

	tree, err := p.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, kgerrors.PerFile("symbols", fmt.Sprintf("tree-sitter parse failed: %s", path), err)
	}
	defer tree.Close()

	result := &ParseResult{}
	walk(tree.RootNode(), content, kinds, result)
	return result, nil
}

func walk(n *sitter.Node, content []byte, kinds nodeKindSet, result *ParseResult) {
	if n == nil {
		return
	}
	t := n.Type()
	switch {
	case contains(kinds.function, t):
		result.Symbols = append(result.Symbols, symbolFromNode(n, content, graph.SymbolFunction))
	case contains(kinds.method, t):
		result.Symbols = append(result.Symbols, symbolFromNode(n, content, graph.SymbolMethod))
	case contains(kinds.class, t):
		result.Symbols = append(result.Symbols, symbolFromNode(n, content, graph.SymbolClass))
	case contains(kinds.iface, t):
		result.Symbols = append(result.Symbols, symbolFromNode(n, content, graph.SymbolInterface))
	case contains(kinds.imports, t):
		if imp := importFromNode(n, content); imp != nil {
			result.Imports = append(result.Imports, *imp)
		}
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), content, kinds, result)
	}
}

func symbolFromNode(n *sitter.Node, content []byte, kind graph.SymbolKind) ParsedSymbol {
	name := "anonymous"
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		name = nameNode.Content(content)
	}
	return ParsedSymbol{
		Name: name,
		Kind: kind,
		Span: graph.Span{StartLine: int(n.StartPoint().Row) + 1, EndLine: int(n.EndPoint().Row) + 1},
	}
}

func importFromNode(n *sitter.Node, content []byte) *ParsedImport {
	text := n.Content(content)
	line := int(n.StartPoint().Row) + 1

	if n.Type() == "call_expression" && !strings.HasPrefix(text, "require(") && !strings.HasPrefix(text, "import(") {
		return nil
	}
	if module := extractQuoted(text); module != "" {
		return &ParsedImport{Module: module, Line: line}
	}
	// Python names the module unquoted: "import a.b" or "from a.b import c".
	if f := strings.Fields(text); len(f) >= 2 && (f[0] == "import" || f[0] == "from") {
		module := strings.TrimRight(f[1], ",")
		if !strings.HasPrefix(module, ".") {
			module = strings.ReplaceAll(module, ".", "/")
		}
		return &ParsedImport{Module: module, Line: line}
	}
	return nil
}

func extractQuoted(s string) string {
	for _, q := range []byte{'"', '\''} {
		start := strings.IndexByte(s, q)
		if start < 0 {
			continue
		}
		end := strings.IndexByte(s[start+1:], q)
		if end < 0 {
			continue
		}
		return s[start+1 : start+1+end]
	}
	return ""
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
