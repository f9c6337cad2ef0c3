// Package parser provides the reference Go front end for the semantic
// model, built on tree-sitter. The engine depends only on model.Parser;
// other languages plug in behind the same interface.
package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/awalker/govern/internal/model"
)

// ArchMarker declares a file's architecture id inside a comment, e.g.
//
//	// govern:arch domain.service
const ArchMarker = "govern:arch"

// GoParser parses Go source files into the semantic model. Safe for
// concurrent use: each Parse call builds its own tree-sitter parser.
type GoParser struct{}

// NewGo returns a Go front end.
func NewGo() *GoParser {
	return &GoParser{}
}

// Supports reports whether path looks like a Go source file.
func (p *GoParser) Supports(path string) bool {
	return strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go")
}

const extractionQuery = `
(import_spec path: (interpreted_string_literal) @import.path)

(type_declaration (type_spec
  name: (type_identifier) @type.name
  type: (struct_type)))

(method_declaration
  receiver: (parameter_list) @method.receiver
  name: (field_identifier) @method.name)

(function_declaration name: (identifier) @func.name)

(call_expression function: (identifier) @call.bare)

(call_expression function: (selector_expression) @call.selector)

(var_spec
  name: (identifier) @assert.name
  type: (type_identifier) @assert.iface
  value: (expression_list) @assert.value)

(comment) @comment
`

// Parse builds the semantic model of one Go file.
func (p *GoParser) Parse(ctx context.Context, path string, content []byte) (*model.ParsedFile, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	query, err := sitter.NewQuery([]byte(extractionQuery), golang.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	qc := sitter.NewQueryCursor()
	qc.Exec(query, tree.RootNode())

	pf := &model.ParsedFile{
		Path:      path,
		LineCount: strings.Count(string(content), "\n") + 1,
	}
	classByName := make(map[string]*model.Class)
	var classOrder []string

	ensureClass := func(name string, loc model.Location) *model.Class {
		if c, ok := classByName[name]; ok {
			return c
		}
		c := &model.Class{
			Name:     name,
			Exported: exported(name),
			Loc:      loc,
		}
		classByName[name] = c
		classOrder = append(classOrder, name)
		return c
	}

	type assertion struct {
		iface string
		value string
		skip  bool
	}
	var pendingMethod struct {
		receiver string
		has      bool
	}
	var asserts []assertion
	var curAssert assertion

	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			name := query.CaptureNameForId(c.Index)
			node := c.Node
			text := node.Content(content)
			loc := model.Location{
				Line: int(node.StartPoint().Row) + 1,
				Col:  int(node.StartPoint().Column) + 1,
			}

			switch name {
			case "import.path":
				imp := strings.Trim(text, `"`)
				pf.Imports = append(pf.Imports, imp)
				pf.EntityRefs = append(pf.EntityRefs, model.EntityRef{
					Entity: imp, RefType: "import", Line: loc.Line,
				})

			case "type.name":
				ensureClass(text, loc)

			case "method.receiver":
				pendingMethod.receiver = receiverType(text)
				pendingMethod.has = true

			case "method.name":
				recv := ""
				if pendingMethod.has {
					recv = pendingMethod.receiver
					pendingMethod.has = false
				}
				if recv == "" {
					break
				}
				cls := ensureClass(recv, loc)
				vis := model.Private
				if exported(text) {
					vis = model.Public
				}
				cls.Methods = append(cls.Methods, model.Method{
					Name:       text,
					Visibility: vis,
					Loc:        loc,
				})

			case "func.name":
				pf.Functions = append(pf.Functions, model.Function{
					Name:     text,
					Exported: exported(text),
					Loc:      loc,
				})

			case "call.bare":
				pf.Calls = append(pf.Calls, model.CallSite{
					Callee: text,
					Method: text,
					Loc:    loc,
				})
				pf.EntityRefs = append(pf.EntityRefs, model.EntityRef{
					Entity: text, RefType: "call", Line: loc.Line,
				})

			case "call.selector":
				recv, method := splitSelector(text)
				pf.Calls = append(pf.Calls, model.CallSite{
					Callee:   text,
					Method:   method,
					Receiver: recv,
					Loc:      loc,
				})
				pf.EntityRefs = append(pf.EntityRefs, model.EntityRef{
					Entity: text, RefType: "call", Line: loc.Line,
				})

			case "assert.name":
				curAssert = assertion{skip: text != "_"}

			case "assert.iface":
				curAssert.iface = text

			case "assert.value":
				if !curAssert.skip && curAssert.iface != "" {
					curAssert.value = text
					asserts = append(asserts, curAssert)
				}
				curAssert = assertion{}

			case "comment":
				if i := strings.Index(text, ArchMarker); i >= 0 {
					rest := strings.TrimSpace(text[i+len(ArchMarker):])
					if f := strings.Fields(rest); len(f) > 0 && pf.ArchID == "" {
						pf.ArchID = f[0]
					}
				}
			}
		}
	}

	// Interface assertions ("var _ Iface = (*Foo)(nil)") declare that Foo
	// implements Iface.
	for _, a := range asserts {
		target := assertedType(a.value)
		if target == "" {
			continue
		}
		if cls, ok := classByName[target]; ok {
			cls.Implements = append(cls.Implements, a.iface)
		}
	}

	for _, name := range classOrder {
		pf.Classes = append(pf.Classes, *classByName[name])
	}

	// Tree-sitter matches arrive per pattern; the model promises source
	// order for calls.
	sort.SliceStable(pf.Calls, func(i, j int) bool {
		if pf.Calls[i].Loc.Line != pf.Calls[j].Loc.Line {
			return pf.Calls[i].Loc.Line < pf.Calls[j].Loc.Line
		}
		return pf.Calls[i].Loc.Col < pf.Calls[j].Loc.Col
	})

	return pf, nil
}

// exported reports whether a Go identifier is exported.
func exported(name string) bool {
	if name == "" {
		return false
	}
	return unicode.IsUpper(rune(name[0]))
}

// receiverType extracts the named type from a receiver parameter list,
// e.g. "(s *Store)" -> "Store".
func receiverType(recv string) string {
	recv = strings.Trim(recv, "()")
	fields := strings.Fields(recv)
	if len(fields) == 0 {
		return ""
	}
	t := fields[len(fields)-1]
	t = strings.TrimPrefix(t, "*")
	// Drop type parameters: "Cache[K, V]" receivers arrive as "Cache[K,".
	if i := strings.IndexByte(t, '['); i >= 0 {
		t = t[:i]
	}
	return t
}

// splitSelector splits "ctx.db.patch" into receiver "ctx.db" and method
// "patch".
func splitSelector(callee string) (receiver, method string) {
	i := strings.LastIndexByte(callee, '.')
	if i < 0 {
		return "", callee
	}
	return callee[:i], callee[i+1:]
}

// assertedType pulls the concrete type out of an assertion value like
// "(*Foo)(nil)" or "Foo{}".
func assertedType(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "&")
	value = strings.TrimPrefix(value, "(")
	value = strings.TrimPrefix(value, "*")
	for i, r := range value {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return value[:i]
		}
	}
	return value
}
