// Package health analyzes the taxonomy for bloat: architectures nobody
// uses, redundant single-child chains, definitions nested too deep, and
// nodes that contribute nothing. It reads the registry and usage counts;
// it never feeds back into validation.
package health

import (
	"fmt"
	"sort"

	"github.com/awalker/govern/internal/registry"
)

// Finding codes.
const (
	CodeUnusedArch    = "health-unused-architecture"
	CodeEmptyArch     = "health-empty-architecture"
	CodeRedundantArch = "health-redundant-chain"
	CodeDeepArch      = "health-deep-hierarchy"
)

// defaultMaxDepth is the hierarchy depth beyond which a node is flagged.
const defaultMaxDepth = 4

// Finding is one health observation about an architecture definition.
type Finding struct {
	Code    string `json:"code"`
	ArchID  string `json:"archId"`
	Message string `json:"message"`
}

// Analyzer inspects a registry together with per-architecture usage.
type Analyzer struct {
	reg      *registry.Registry
	maxDepth int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMaxDepth overrides the depth threshold for deep-hierarchy findings.
func WithMaxDepth(depth int) Option {
	return func(a *Analyzer) { a.maxDepth = depth }
}

// NewAnalyzer builds an Analyzer over reg.
func NewAnalyzer(reg *registry.Registry, opts ...Option) *Analyzer {
	a := &Analyzer{reg: reg, maxDepth: defaultMaxDepth}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze returns findings ordered by architecture id.
//
// usage maps architecture id to the number of files declaring it; ids
// absent from the map count as unused.
func (a *Analyzer) Analyze(usage map[string]int) []Finding {
	var out []Finding

	children := make(map[string][]string)
	for _, id := range a.reg.NodeIDs() {
		n := a.reg.Node(id)
		if n.Inherits != "" {
			children[n.Inherits] = append(children[n.Inherits], id)
		}
	}

	for _, id := range a.reg.NodeIDs() {
		n := a.reg.Node(id)

		// Unused: no file declares it and nothing inherits from it.
		if usage[id] == 0 && len(children[id]) == 0 {
			out = append(out, Finding{
				Code:    CodeUnusedArch,
				ArchID:  id,
				Message: fmt.Sprintf("architecture %q has no files and no descendants", id),
			})
		}

		// Empty: contributes no constraints of its own and no mixins.
		if len(n.Constraints) == 0 && len(n.Mixins) == 0 {
			out = append(out, Finding{
				Code:    CodeEmptyArch,
				ArchID:  id,
				Message: fmt.Sprintf("architecture %q adds no constraints or mixins over its parent", id),
			})
		}

		// Redundant chain: an unused intermediate node with exactly one
		// child collapses into that child.
		if usage[id] == 0 && len(children[id]) == 1 {
			out = append(out, Finding{
				Code:    CodeRedundantArch,
				ArchID:  id,
				Message: fmt.Sprintf("architecture %q exists only to parent %q; consider merging", id, children[id][0]),
			})
		}

		if d := a.depth(id); d > a.maxDepth {
			out = append(out, Finding{
				Code:    CodeDeepArch,
				ArchID:  id,
				Message: fmt.Sprintf("architecture %q sits %d levels deep (threshold %d)", id, d, a.maxDepth),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ArchID < out[j].ArchID })
	return out
}

// depth counts inheritance hops from id to its root. The visited set
// terminates the walk if a cycle slipped past registry loading.
func (a *Analyzer) depth(id string) int {
	d := 0
	seen := map[string]bool{}
	for cur := a.reg.Node(id); cur != nil && cur.Inherits != ""; cur = a.reg.Node(cur.Inherits) {
		if seen[cur.ID] {
			break
		}
		seen[cur.ID] = true
		d++
	}
	return d
}
