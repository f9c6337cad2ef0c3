// Package override implements the override lifecycle: parsing in-source
// override annotations, suppressing matching violations, classifying
// expiry, and clustering repeated overrides into promotion candidates.
package override

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/awalker/govern/internal/rules"
)

// Marker introduces an override annotation inside a comment, e.g.
//
//	// govern:allow rule=forbid_import value=axios reason="Legacy HTTP client" expires=2026-12-31 ticket=ARCH-42
const Marker = "govern:allow"

// Expiry status values.
const (
	StatusActive   = "active"
	StatusExpiring = "expiring"
	StatusExpired  = "expired"
)

// Override is one reasoned, time-boxed suppression of a specific violation.
type Override struct {
	Rule       string     `json:"rule"`
	Value      string     `json:"value,omitempty"`
	Reason     string     `json:"reason"`
	Expires    *time.Time `json:"expires,omitempty"`
	Ticket     string     `json:"ticket,omitempty"`
	ApprovedBy string     `json:"approvedBy,omitempty"`
	File       string     `json:"file"`
	Line       int        `json:"line"`
}

// Finding is a lifecycle observation about an override itself (missing
// reason, approaching or past expiry). Findings carry stable codes like
// violations do.
type Finding struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Rule    string `json:"rule"`
}

// Finding codes.
const (
	CodeMissingReason = "override-missing-reason"
	CodeExpiring      = "override-expiring"
	CodeExpired       = "override-expired"
	CodeMalformed     = "override-malformed"
)

// Status classifies the override's expiry relative to now. warnWindow is
// how far ahead of expiry the override counts as "expiring".
func (o *Override) Status(now time.Time, warnWindow time.Duration) string {
	if o.Expires == nil {
		return StatusActive
	}
	switch {
	case now.After(*o.Expires):
		return StatusExpired
	case o.Expires.Sub(now) <= warnWindow:
		return StatusExpiring
	default:
		return StatusActive
	}
}

// DaysUntilExpiry returns the whole days remaining before expiry; negative
// once expired. Zero and false when no expiry is set.
func (o *Override) DaysUntilExpiry(now time.Time) (int, bool) {
	if o.Expires == nil {
		return 0, false
	}
	return int(o.Expires.Sub(now).Hours() / 24), true
}

// Applies reports whether the override suppresses the violation: the rule
// must match exactly, and the value must match the violation's constraint
// value, an empty override value being rule-wide.
func (o *Override) Applies(v *rules.Violation) bool {
	if o.Rule != v.Rule {
		return false
	}
	return o.Value == "" || o.Value == v.Value
}

// Collect parses all override annotations from source content. Lines that
// carry the marker but cannot be parsed yield a malformed finding rather
// than an error.
func Collect(file string, content []byte) ([]Override, []Finding) {
	var (
		overrides []Override
		findings  []Finding
	)
	sc := bufio.NewScanner(strings.NewReader(string(content)))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		idx := strings.Index(line, Marker)
		if idx < 0 {
			continue
		}
		o, err := parseAnnotation(line[idx+len(Marker):])
		if err != nil {
			findings = append(findings, Finding{
				Code:    CodeMalformed,
				Message: fmt.Sprintf("malformed override annotation: %v", err),
				File:    file,
				Line:    lineNo,
			})
			continue
		}
		o.File = file
		o.Line = lineNo
		if o.Reason == "" {
			findings = append(findings, Finding{
				Code:    CodeMissingReason,
				Message: fmt.Sprintf("override for rule %q has no reason", o.Rule),
				File:    file,
				Line:    lineNo,
				Rule:    o.Rule,
			})
		}
		overrides = append(overrides, o)
	}
	return overrides, findings
}

// parseAnnotation parses the key=value fields after the marker. Values may
// be double-quoted to contain spaces.
func parseAnnotation(s string) (Override, error) {
	var o Override
	fields, err := splitFields(s)
	if err != nil {
		return o, err
	}
	if len(fields) == 0 {
		return o, fmt.Errorf("no fields")
	}
	for _, f := range fields {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return o, fmt.Errorf("field %q is not key=value", f)
		}
		switch key {
		case "rule":
			o.Rule = val
		case "value":
			o.Value = val
		case "reason":
			o.Reason = val
		case "expires":
			t, err := time.Parse("2006-01-02", val)
			if err != nil {
				return o, fmt.Errorf("expires %q is not an ISO date: %w", val, err)
			}
			// Suppression holds through the stated day.
			t = t.Add(24*time.Hour - time.Nanosecond)
			o.Expires = &t
		case "ticket":
			o.Ticket = val
		case "approved_by":
			o.ApprovedBy = val
		default:
			return o, fmt.Errorf("unknown field %q", key)
		}
	}
	if o.Rule == "" {
		return o, fmt.Errorf("missing rule field")
	}
	return o, nil
}

// splitFields splits on whitespace while honoring double-quoted values.
func splitFields(s string) ([]string, error) {
	var (
		fields  []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case !quoted && (r == ' ' || r == '\t'):
			if started && cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
			started = false
		default:
			started = true
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields, nil
}

// Filter splits violations into surviving and suppressed sets and emits
// lifecycle findings for the overrides involved.
//
// Expired overrides stop suppressing: the underlying violation re-surfaces
// and an expired finding is reported. Expiring overrides still suppress
// but yield a warning finding.
func Filter(violations []rules.Violation, overrides []Override, now time.Time, warnWindow time.Duration) (surviving, suppressed []rules.Violation, findings []Finding) {
	for _, o := range overrides {
		switch o.Status(now, warnWindow) {
		case StatusExpired:
			findings = append(findings, Finding{
				Code:    CodeExpired,
				Message: fmt.Sprintf("override for rule %q expired on %s", o.Rule, o.Expires.Format("2006-01-02")),
				File:    o.File,
				Line:    o.Line,
				Rule:    o.Rule,
			})
		case StatusExpiring:
			days, _ := o.DaysUntilExpiry(now)
			findings = append(findings, Finding{
				Code:    CodeExpiring,
				Message: fmt.Sprintf("override for rule %q expires in %d day(s)", o.Rule, days),
				File:    o.File,
				Line:    o.Line,
				Rule:    o.Rule,
			})
		}
	}

	for _, v := range violations {
		matched := false
		for i := range overrides {
			o := &overrides[i]
			if !o.Applies(&v) {
				continue
			}
			if o.Status(now, warnWindow) == StatusExpired {
				continue // expired overrides no longer suppress
			}
			matched = true
			break
		}
		if matched {
			suppressed = append(suppressed, v)
		} else {
			surviving = append(surviving, v)
		}
	}
	return surviving, suppressed, findings
}
