// Package model defines the language-agnostic semantic model produced by
// source-language front ends and consumed by the constraint engine. The
// engine depends only on these shapes, never on a specific grammar.
package model

import "context"

// Visibility of a method or class member.
type Visibility string

const (
	Public    Visibility = "public"
	Private   Visibility = "private"
	Protected Visibility = "protected"
)

// Location is a 1-based line/column position in a source file.
type Location struct {
	Line int
	Col  int
}

// Method is a single method declared on a class.
type Method struct {
	Name       string
	Visibility Visibility
	Loc        Location
}

// Class is a type with a method set. Front ends map their language's
// nearest equivalent (Go struct types, TS/Java classes) onto this shape.
type Class struct {
	Name       string
	Exported   bool
	Implements []string // declared interface names, generics included as written
	Methods    []Method
	Loc        Location
}

// Function is a free function (no receiver).
type Function struct {
	Name     string
	Exported bool
	Loc      Location
}

// CallSite is one call expression in source order.
type CallSite struct {
	Callee   string // full callee expression, e.g. "ctx.db.patch"
	Method   string // resolved method name, e.g. "patch"
	Receiver string // receiver expression, e.g. "ctx.db"; empty for bare calls
	Loc      Location
}

// EntityRef records a reference to a named entity for the cross-reference
// graph.
type EntityRef struct {
	Entity  string
	RefType string // "call", "type", "import", ...
	Line    int
}

// ParsedFile is the semantic model of one source file. It is owned by a
// single validation pass and never mutated after creation.
type ParsedFile struct {
	Path       string
	ArchID     string // declared architecture id, empty when undeclared
	Classes    []Class
	Functions  []Function
	Calls      []CallSite // ordered by line, then column
	Imports    []string
	EntityRefs []EntityRef
	LineCount  int
}

// PublicMethodCount sums public methods across all classes in the file.
func (f *ParsedFile) PublicMethodCount() int {
	n := 0
	for _, c := range f.Classes {
		for _, m := range c.Methods {
			if m.Visibility == Public {
				n++
			}
		}
	}
	return n
}

// Parser turns one source file into a ParsedFile. Implementations are
// language front ends; they must be safe for concurrent use.
type Parser interface {
	Parse(ctx context.Context, path string, content []byte) (*ParsedFile, error)
	// Supports reports whether the parser handles the given file path.
	Supports(path string) bool
}
