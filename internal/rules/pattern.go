package rules

import "strings"

// Call-pattern matching shared by require_call and require_call_before.
//
// Three wildcard forms:
//
//	validate*    bare prefix, no dot: matches by method-name or callee prefix
//	logger.*     single wildcard: same-level calls under the prefix, or an
//	             exact receiver match; no further dot after the prefix
//	ctx.db.**    deep wildcard: the prefix itself or anything under it
//
// Anything else is an exact match against the callee expression or the
// resolved method name.

// matchCall reports whether one call site matches the pattern, using the
// require_call semantics (no deep wildcard).
func matchCall(pattern string, call callShape) bool {
	switch {
	case strings.HasSuffix(pattern, ".**"):
		return matchDeep(strings.TrimSuffix(pattern, ".**"), call)
	case strings.HasSuffix(pattern, ".*"):
		return matchReceiver(strings.TrimSuffix(pattern, ".*"), call)
	case strings.HasSuffix(pattern, "*") && !strings.Contains(pattern, "."):
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(call.method, prefix) || strings.HasPrefix(call.callee, prefix)
	default:
		return call.callee == pattern || call.method == pattern
	}
}

// matchReceiver handles the single-wildcard form "prefix.*": a call whose
// receiver equals the prefix, or whose callee sits directly under the
// prefix with no further dot (same-level only).
func matchReceiver(prefix string, call callShape) bool {
	if call.receiver == prefix {
		return true
	}
	if rest, ok := strings.CutPrefix(call.callee, prefix+"."); ok {
		return !strings.Contains(rest, ".")
	}
	return false
}

// matchDeep handles the deep-wildcard form "prefix.**": the prefix itself
// or any callee beginning with prefix+".".
func matchDeep(prefix string, call callShape) bool {
	return call.callee == prefix || strings.HasPrefix(call.callee, prefix+".")
}

// callShape is the matchable projection of a call site.
type callShape struct {
	callee   string
	method   string
	receiver string
}
