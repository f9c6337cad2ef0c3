package registry

import (
	"fmt"
	"sync"
)

// maxChainDepth is the hard ceiling on inheritance depth. The visited-set
// walk catches cycles before this triggers; the ceiling is the backstop.
const maxChainDepth = 32

// ResolvedConstraint is one constraint in a resolved set together with the
// node or mixin that contributed it.
type ResolvedConstraint struct {
	Constraint
	Origin string // contributing node or mixin id
}

// ResolvedSet is the final ordered constraint set for one architecture id.
type ResolvedSet struct {
	ArchID      string
	Constraints []ResolvedConstraint
}

// Resolver resolves architecture ids to constraint sets. Resolution is a
// pure function of the immutable registry, so results are memoized per id
// and shared across workers.
type Resolver struct {
	reg *Registry

	mu    sync.RWMutex
	cache map[string]*ResolvedSet
}

// NewResolver creates a Resolver over reg.
func NewResolver(reg *Registry) *Resolver {
	return &Resolver{reg: reg, cache: make(map[string]*ResolvedSet)}
}

// chain walks the inheritance relation from id to its root, returning the
// chain ordered leaf-first. Fails on unknown ids and cycles.
func (r *Registry) chain(id string) ([]*Node, error) {
	var nodes []*Node
	visited := make(map[string]bool)
	cur := id
	for depth := 0; cur != ""; depth++ {
		if depth >= maxChainDepth {
			return nil, &IntegrityError{
				Code:   "registry-depth-exceeded",
				ArchID: id,
				Detail: fmt.Sprintf("inheritance chain deeper than %d", maxChainDepth),
			}
		}
		if visited[cur] {
			return nil, &IntegrityError{
				Code:   "registry-cycle",
				ArchID: id,
				Detail: fmt.Sprintf("inheritance cycle through %q", cur),
			}
		}
		visited[cur] = true
		n := r.nodes[cur]
		if n == nil {
			return nil, &IntegrityError{
				Code:   "registry-unknown-architecture",
				ArchID: id,
				Detail: fmt.Sprintf("unknown architecture %q", cur),
			}
		}
		nodes = append(nodes, n)
		cur = n.Inherits
	}
	return nodes, nil
}

// Resolve returns the final constraint set for archID.
//
// Merge order and precedence: the chain is walked root-first so ancestor
// constraints land before descendant ones; each node's own constraints are
// followed by its mixins' constraints in declaration order. A later entry
// with the same identity replaces an earlier one in place, which gives
// "closer to the leaf wins", and for the same node, "mixins win over the
// node's own constraints, later mixins win over earlier ones".
func (r *Resolver) Resolve(archID string) (*ResolvedSet, error) {
	r.mu.RLock()
	if set, ok := r.cache[archID]; ok {
		r.mu.RUnlock()
		return set, nil
	}
	r.mu.RUnlock()

	chain, err := r.reg.chain(archID)
	if err != nil {
		return nil, err
	}

	var merged []ResolvedConstraint
	index := make(map[string]int) // constraint key -> position in merged

	add := func(c Constraint, origin string) {
		rc := ResolvedConstraint{Constraint: c, Origin: origin}
		key := c.Key()
		if i, ok := index[key]; ok {
			merged[i] = rc
			return
		}
		index[key] = len(merged)
		merged = append(merged, rc)
	}

	// Root-first: walk the chain in reverse.
	for i := len(chain) - 1; i >= 0; i-- {
		n := chain[i]
		for _, c := range n.Constraints {
			add(c, n.ID)
		}
		for _, mid := range n.Mixins {
			m := r.reg.Mixin(mid)
			if m == nil {
				return nil, &IntegrityError{
					Code:   "registry-unknown-mixin",
					ArchID: archID,
					Detail: fmt.Sprintf("node %q references unknown mixin %q", n.ID, mid),
				}
			}
			for _, c := range m.Constraints {
				add(c, mid)
			}
		}
	}

	set := &ResolvedSet{ArchID: archID, Constraints: merged}

	// Idempotent race: concurrent resolvers compute equal sets, last write
	// wins harmlessly.
	r.mu.Lock()
	r.cache[archID] = set
	r.mu.Unlock()

	return set, nil
}
