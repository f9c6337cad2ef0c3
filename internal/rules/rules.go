// Package rules implements the pluggable constraint engine: a registry of
// rule validators evaluated against one file's semantic model. New rule
// kinds register into the map without touching the dispatcher.
package rules

import (
	"fmt"
	"sort"

	"github.com/awalker/govern/internal/model"
	"github.com/awalker/govern/internal/registry"
)

// Severity levels for violations.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Stable machine codes for violations. Downstream tooling filters by code,
// never by message text.
const (
	CodeLocationPattern   = "location-pattern"
	CodeImplements        = "missing-implements"
	CodeMaxPublicMethods  = "max-public-methods"
	CodeRequireCall       = "missing-required-call"
	CodeRequireCallBefore = "call-order"
	CodeForbidImport      = "forbidden-import"
	CodeRequireImport     = "missing-required-import"
	CodeNamingPattern     = "naming-pattern"
	CodeCustomRule        = "custom-rule"
	CodeInvalidConstraint = "invalid-constraint-value"
	CodeUnknownRule       = "unknown-rule"
)

// Violation is one failed constraint against one file.
type Violation struct {
	Rule       string `json:"rule"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	Line       int    `json:"line,omitempty"`   // 0 when not line-specific
	Column     int    `json:"column,omitempty"` // 0 when not line-specific
	Actual     string `json:"actual,omitempty"`
	FixHint    string `json:"fixHint,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Value      string `json:"value,omitempty"` // constraint value, for override matching
}

// Context bundles what a validator sees for one evaluation.
type Context struct {
	FilePath string
	ArchID   string
	File     *model.ParsedFile
}

// Result is a validator's outcome for one constraint.
type Result struct {
	Passed     bool
	Violations []Violation
}

func pass() Result { return Result{Passed: true} }

func fail(violations ...Violation) Result {
	return Result{Passed: false, Violations: violations}
}

// Validator is the capability set every rule kind implements. Validate
// never returns an error: a constraint that cannot be interpreted produces
// a descriptive violation instead of aborting the run.
type Validator interface {
	Validate(c registry.Constraint, ctx *Context) Result
	FixHint(c registry.Constraint, actual string) string
}

// Engine dispatches constraints to validators by rule kind.
type Engine struct {
	validators map[string]Validator
}

// NewEngine returns an Engine with the built-in rule library registered.
func NewEngine() *Engine {
	e := &Engine{validators: make(map[string]Validator)}
	e.Register("location_pattern", &locationPattern{})
	e.Register("implements", &implementsRule{})
	e.Register("max_public_methods", &maxPublicMethods{})
	e.Register("require_call", &requireCall{})
	e.Register("require_call_before", &requireCallBefore{})
	e.Register("forbid_import", &forbidImport{})
	e.Register("require_import", &requireImport{})
	e.Register("naming_pattern", &namingPattern{})
	return e
}

// Register installs a validator for a rule kind, replacing any existing one.
func (e *Engine) Register(rule string, v Validator) {
	e.validators[rule] = v
}

// Rules returns the registered rule kinds in sorted order.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.validators))
	for name := range e.validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether a rule kind has a registered validator.
func (e *Engine) Known(rule string) bool {
	_, ok := e.validators[rule]
	return ok
}

// Evaluate runs every constraint in the resolved set against the file.
// Unknown rule kinds yield a violation rather than an error so one bad
// constraint cannot take down the rest of the set.
func (e *Engine) Evaluate(set *registry.ResolvedSet, ctx *Context) []Violation {
	var out []Violation
	for _, rc := range set.Constraints {
		v, ok := e.validators[rc.Rule]
		if !ok {
			out = append(out, Violation{
				Rule:     rc.Rule,
				Code:     CodeUnknownRule,
				Message:  fmt.Sprintf("no validator registered for rule %q", rc.Rule),
				Severity: SeverityError,
				Value:    rc.ValueString(),
			})
			continue
		}
		res := v.Validate(rc.Constraint, ctx)
		for i := range res.Violations {
			viol := &res.Violations[i]
			if viol.Severity == "" {
				viol.Severity = SeverityError
			}
			if rc.Severity != "" {
				viol.Severity = rc.Severity
			}
			if viol.Value == "" {
				viol.Value = rc.ValueString()
			}
			if viol.FixHint == "" {
				viol.FixHint = v.FixHint(rc.Constraint, viol.Actual)
			}
		}
		out = append(out, res.Violations...)
	}
	return out
}

// invalidValue builds the standard violation for a constraint whose value
// cannot be interpreted by its validator.
func invalidValue(c registry.Constraint, want string) Result {
	return fail(Violation{
		Rule:     c.Rule,
		Code:     CodeInvalidConstraint,
		Message:  fmt.Sprintf("rule %q expects %s, got %v (%T)", c.Rule, want, c.Value, c.Value),
		Severity: SeverityError,
		Actual:   fmt.Sprint(c.Value),
	})
}

// stringValue coerces a constraint value to a string.
func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// stringListValue coerces a constraint value to a list of strings. A bare
// string is treated as a one-element list; YAML lists arrive as []any.
func stringListValue(v any) ([]string, bool) {
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// intValue coerces a constraint value to an int. YAML numbers arrive as
// int; JSON round-trips may produce float64.
func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	}
	return 0, false
}
