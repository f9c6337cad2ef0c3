package rules

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/awalker/govern/internal/model"
	"github.com/awalker/govern/internal/registry"
)

// --- location_pattern ---

// locationPattern requires the file to live under a configured directory.
// The prefix is /-bounded so "src/component" does not match
// "src/mycomponents".
type locationPattern struct{}

func (locationPattern) Validate(c registry.Constraint, ctx *Context) Result {
	want, ok := stringValue(c.Value)
	if !ok {
		return invalidValue(c, "a path string")
	}
	want = strings.TrimSuffix(want, "/")
	if want == "" {
		return pass()
	}

	p := ctx.FilePath
	if p == want ||
		strings.HasPrefix(p, want+"/") ||
		strings.Contains(p, "/"+want+"/") ||
		strings.HasSuffix(p, "/"+want) {
		return pass()
	}
	return fail(Violation{
		Rule:     c.Rule,
		Code:     CodeLocationPattern,
		Message:  fmt.Sprintf("file is outside required location %q", want),
		Severity: SeverityError,
		Actual:   p,
	})
}

func (locationPattern) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("move %s under %v/", path.Base(actual), c.Value)
}

// --- implements ---

// implementsRule requires every exported class to declare the configured
// interface. Generic arguments are stripped before comparison, so
// "IHandler<T>" satisfies a required "IHandler".
type implementsRule struct{}

// baseName strips generic arguments: "IHandler<T>" -> "IHandler".
func baseName(iface string) string {
	if i := strings.IndexByte(iface, '<'); i >= 0 {
		return iface[:i]
	}
	return iface
}

func (implementsRule) Validate(c registry.Constraint, ctx *Context) Result {
	want, ok := stringValue(c.Value)
	if !ok {
		return invalidValue(c, "an interface name string")
	}
	want = baseName(want)

	var out []Violation
	for _, cls := range ctx.File.Classes {
		if !cls.Exported {
			continue
		}
		found := false
		for _, iface := range cls.Implements {
			if baseName(iface) == want {
				found = true
				break
			}
		}
		if !found {
			out = append(out, Violation{
				Rule:     c.Rule,
				Code:     CodeImplements,
				Message:  fmt.Sprintf("class %s does not implement %s", cls.Name, want),
				Severity: SeverityError,
				Line:     cls.Loc.Line,
				Column:   cls.Loc.Col,
				Actual:   strings.Join(cls.Implements, ", "),
			})
		}
	}
	if len(out) > 0 {
		return fail(out...)
	}
	return pass()
}

func (implementsRule) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("add %v to the class's implements clause", c.Value)
}

// --- max_public_methods ---

type maxPublicMethods struct{}

func (maxPublicMethods) Validate(c registry.Constraint, ctx *Context) Result {
	limit, ok := intValue(c.Value)
	if !ok {
		return invalidValue(c, "an integer limit")
	}
	count := ctx.File.PublicMethodCount()
	if count <= limit {
		return pass()
	}
	return fail(Violation{
		Rule:     c.Rule,
		Code:     CodeMaxPublicMethods,
		Message:  fmt.Sprintf("file exposes %d public methods, limit is %d", count, limit),
		Severity: SeverityError,
		Actual:   fmt.Sprint(count),
	})
}

func (maxPublicMethods) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("split responsibilities or demote methods to private (limit %v, found %s)", c.Value, actual)
}

// --- require_call ---

// requireCall demands at least one call site anywhere in the file matching
// the configured pattern.
type requireCall struct{}

func (requireCall) Validate(c registry.Constraint, ctx *Context) Result {
	pattern, ok := stringValue(c.Value)
	if !ok {
		return invalidValue(c, "a call pattern string")
	}
	for _, call := range ctx.File.Calls {
		if matchCall(pattern, callShape{callee: call.Callee, method: call.Method, receiver: call.Receiver}) {
			return pass()
		}
	}
	return fail(Violation{
		Rule:     c.Rule,
		Code:     CodeRequireCall,
		Message:  fmt.Sprintf("no call matching %q found", pattern),
		Severity: SeverityError,
		Actual:   fmt.Sprintf("%d call sites inspected", len(ctx.File.Calls)),
	})
}

func (requireCall) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("add a call matching %v", c.Value)
}

// --- require_call_before ---

// requireCallBefore enforces that every call matching a guarded pattern
// (from the "before" field) is preceded in source order by at least one
// call matching the prerequisite pattern (from the value). Source order is
// line-then-column; this is a textual approximation of happens-before, not
// control-flow analysis. No guarded patterns means vacuously satisfied.
type requireCallBefore struct{}

// before reports whether a sits strictly before b in source order.
func before(a, b model.Location) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Col < b.Col
}

func (requireCallBefore) Validate(c registry.Constraint, ctx *Context) Result {
	prereqs, ok := stringListValue(c.Value)
	if !ok {
		return invalidValue(c, "a prerequisite pattern or list of patterns")
	}
	if len(c.Before) == 0 {
		return pass()
	}

	var out []Violation
	for _, call := range ctx.File.Calls {
		shape := callShape{callee: call.Callee, method: call.Method, receiver: call.Receiver}
		guarded := false
		for _, gp := range c.Before {
			if matchCall(gp, shape) {
				guarded = true
				break
			}
		}
		if !guarded {
			continue
		}

		satisfied := false
	scan:
		for _, prior := range ctx.File.Calls {
			if !before(prior.Loc, call.Loc) {
				continue
			}
			ps := callShape{callee: prior.Callee, method: prior.Method, receiver: prior.Receiver}
			for _, pp := range prereqs {
				if matchCall(pp, ps) {
					satisfied = true
					break scan
				}
			}
		}
		if !satisfied {
			out = append(out, Violation{
				Rule:     c.Rule,
				Code:     CodeRequireCallBefore,
				Message:  fmt.Sprintf("%s must be preceded by a call matching %s", call.Callee, strings.Join(prereqs, " or ")),
				Severity: SeverityError,
				Line:     call.Loc.Line,
				Column:   call.Loc.Col,
				Actual:   call.Callee,
			})
		}
	}
	if len(out) > 0 {
		return fail(out...)
	}
	return pass()
}

func (requireCallBefore) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("call %v before %s", c.Value, actual)
}

// --- forbid_import / require_import ---

type forbidImport struct{}

func (forbidImport) Validate(c registry.Constraint, ctx *Context) Result {
	banned, ok := stringValue(c.Value)
	if !ok {
		return invalidValue(c, "an import path string")
	}
	var out []Violation
	for _, imp := range ctx.File.Imports {
		if imp == banned || strings.HasPrefix(imp, banned+"/") {
			out = append(out, Violation{
				Rule:     c.Rule,
				Code:     CodeForbidImport,
				Message:  fmt.Sprintf("import of %q is forbidden for this architecture", imp),
				Severity: SeverityError,
				Actual:   imp,
			})
		}
	}
	if len(out) > 0 {
		return fail(out...)
	}
	return pass()
}

func (forbidImport) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("remove the import of %s or move the file to an architecture that allows it", actual)
}

type requireImport struct{}

func (requireImport) Validate(c registry.Constraint, ctx *Context) Result {
	required, ok := stringValue(c.Value)
	if !ok {
		return invalidValue(c, "an import path string")
	}
	for _, imp := range ctx.File.Imports {
		if imp == required || strings.HasPrefix(imp, required+"/") {
			return pass()
		}
	}
	return fail(Violation{
		Rule:     c.Rule,
		Code:     CodeRequireImport,
		Message:  fmt.Sprintf("required import %q is missing", required),
		Severity: SeverityError,
		Actual:   strings.Join(ctx.File.Imports, ", "),
	})
}

func (requireImport) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("add an import of %v", c.Value)
}

// --- naming_pattern ---

// namingPattern matches class names in the file against a doublestar glob,
// e.g. "*Service" or "{*Handler,*Controller}".
type namingPattern struct{}

func (namingPattern) Validate(c registry.Constraint, ctx *Context) Result {
	pattern, ok := stringValue(c.Value)
	if !ok {
		return invalidValue(c, "a glob pattern string")
	}
	if !doublestar.ValidatePattern(pattern) {
		return invalidValue(c, "a valid glob pattern")
	}

	var out []Violation
	for _, cls := range ctx.File.Classes {
		if !cls.Exported {
			continue
		}
		matched, _ := doublestar.Match(pattern, cls.Name)
		if !matched {
			out = append(out, Violation{
				Rule:     c.Rule,
				Code:     CodeNamingPattern,
				Message:  fmt.Sprintf("class name %q does not match pattern %q", cls.Name, pattern),
				Severity: SeverityError,
				Line:     cls.Loc.Line,
				Column:   cls.Loc.Col,
				Actual:   cls.Name,
			})
		}
	}
	if len(out) > 0 {
		return fail(out...)
	}
	return pass()
}

func (namingPattern) FixHint(c registry.Constraint, actual string) string {
	return fmt.Sprintf("rename %s to match %v", actual, c.Value)
}
