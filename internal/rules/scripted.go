package rules

import (
	"context"
	"fmt"

	"github.com/risor-io/risor"

	"github.com/awalker/govern/internal/registry"
)

// ScriptLoader resolves a script name from a custom constraint's value to
// Risor source code.
type ScriptLoader func(name string) (string, error)

// Scripted evaluates user-supplied Risor scripts as rule validators,
// registered under the "custom" rule kind. The script receives a `file`
// global (the semantic model as nested maps) and evaluates to a list of
// violation maps: {"message": ..., "line": ..., "severity": ...}.
// An empty list means the rule passed.
type Scripted struct {
	load ScriptLoader
}

// NewScripted builds a Scripted validator using the given loader.
func NewScripted(load ScriptLoader) *Scripted {
	return &Scripted{load: load}
}

// fileGlobal projects the semantic model into plain maps and slices so the
// script can walk it without host bindings.
func fileGlobal(ctx *Context) map[string]any {
	classes := make([]any, 0, len(ctx.File.Classes))
	for _, c := range ctx.File.Classes {
		methods := make([]any, 0, len(c.Methods))
		for _, m := range c.Methods {
			methods = append(methods, map[string]any{
				"name":       m.Name,
				"visibility": string(m.Visibility),
				"line":       int64(m.Loc.Line),
			})
		}
		impls := make([]any, 0, len(c.Implements))
		for _, i := range c.Implements {
			impls = append(impls, i)
		}
		classes = append(classes, map[string]any{
			"name":       c.Name,
			"exported":   c.Exported,
			"implements": impls,
			"methods":    methods,
			"line":       int64(c.Loc.Line),
		})
	}
	calls := make([]any, 0, len(ctx.File.Calls))
	for _, cs := range ctx.File.Calls {
		calls = append(calls, map[string]any{
			"callee":   cs.Callee,
			"method":   cs.Method,
			"receiver": cs.Receiver,
			"line":     int64(cs.Loc.Line),
			"col":      int64(cs.Loc.Col),
		})
	}
	imports := make([]any, 0, len(ctx.File.Imports))
	for _, imp := range ctx.File.Imports {
		imports = append(imports, imp)
	}
	return map[string]any{
		"path":    ctx.FilePath,
		"arch":    ctx.ArchID,
		"classes": classes,
		"calls":   calls,
		"imports": imports,
	}
}

func (s *Scripted) Validate(c registry.Constraint, vctx *Context) Result {
	name, ok := stringValue(c.Value)
	if !ok {
		return invalidValue(c, "a script name string")
	}
	src, err := s.load(name)
	if err != nil {
		return fail(Violation{
			Rule:     c.Rule,
			Code:     CodeInvalidConstraint,
			Message:  fmt.Sprintf("load custom rule script %q: %v", name, err),
			Severity: SeverityError,
		})
	}

	result, err := risor.Eval(context.Background(), src,
		risor.WithGlobal("file", fileGlobal(vctx)),
	)
	if err != nil {
		return fail(Violation{
			Rule:     c.Rule,
			Code:     CodeCustomRule,
			Message:  fmt.Sprintf("custom rule script %q failed: %v", name, err),
			Severity: SeverityError,
		})
	}

	items, ok := result.Interface().([]any)
	if !ok {
		if result.Interface() == nil {
			return pass()
		}
		return fail(Violation{
			Rule:     c.Rule,
			Code:     CodeCustomRule,
			Message:  fmt.Sprintf("custom rule script %q must evaluate to a list of violations, got %T", name, result.Interface()),
			Severity: SeverityError,
		})
	}

	var out []Violation
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		v := Violation{
			Rule:     c.Rule,
			Code:     CodeCustomRule,
			Severity: SeverityError,
		}
		if msg, ok := m["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := m["severity"].(string); ok {
			v.Severity = sev
		}
		if line, ok := m["line"].(int64); ok {
			v.Line = int(line)
		}
		if col, ok := m["col"].(int64); ok {
			v.Column = int(col)
		}
		if actual, ok := m["actual"].(string); ok {
			v.Actual = actual
		}
		out = append(out, v)
	}
	if len(out) > 0 {
		return fail(out...)
	}
	return pass()
}

func (s *Scripted) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("see custom rule %v", c.Value)
}
