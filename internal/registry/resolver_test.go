package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustResolve(t *testing.T, r *Resolver, id string) *ResolvedSet {
	t.Helper()
	set, err := r.Resolve(id)
	require.NoError(t, err)
	return set
}

// ruleValues projects a resolved set into "rule=value" strings for
// compact assertions.
func ruleValues(set *ResolvedSet) []string {
	out := make([]string, 0, len(set.Constraints))
	for _, c := range set.Constraints {
		out = append(out, c.Rule+"="+c.ValueString())
	}
	return out
}

func TestResolve_CollectsAncestorConstraints(t *testing.T) {
	t.Parallel()
	reg := New([]*Node{
		{ID: "base", Constraints: []Constraint{{Rule: "forbid_import", Value: "net/http"}}},
		{ID: "base.child", Inherits: "base", Constraints: []Constraint{{Rule: "max_public_methods", Value: 5}}},
	}, nil)

	set := mustResolve(t, NewResolver(reg), "base.child")
	assert.Equal(t, []string{"forbid_import=net/http", "max_public_methods=5"}, ruleValues(set))
	assert.Equal(t, "base", set.Constraints[0].Origin)
	assert.Equal(t, "base.child", set.Constraints[1].Origin)
}

func TestResolve_LeafWinsOverAncestor(t *testing.T) {
	t.Parallel()
	reg := New([]*Node{
		{ID: "base", Constraints: []Constraint{{Rule: "max_public_methods", Value: 20}}},
		{ID: "base.child", Inherits: "base", Constraints: []Constraint{{Rule: "max_public_methods", Value: 5}}},
	}, nil)

	set := mustResolve(t, NewResolver(reg), "base.child")
	require.Len(t, set.Constraints, 1)
	assert.Equal(t, 5, set.Constraints[0].Value)
	assert.Equal(t, "base.child", set.Constraints[0].Origin)
}

func TestResolve_RepeatableRulesAccumulate(t *testing.T) {
	t.Parallel()
	reg := New([]*Node{
		{ID: "base", Constraints: []Constraint{{Rule: "forbid_import", Value: "axios"}}},
		{ID: "base.child", Inherits: "base", Constraints: []Constraint{{Rule: "forbid_import", Value: "lodash"}}},
	}, nil)

	set := mustResolve(t, NewResolver(reg), "base.child")
	assert.Equal(t, []string{"forbid_import=axios", "forbid_import=lodash"}, ruleValues(set))
}

func TestResolve_MixinConstraintsAppend(t *testing.T) {
	t.Parallel()
	reg := New(
		[]*Node{{ID: "svc", Mixins: []string{"observable"}}},
		[]*Mixin{{ID: "observable", Constraints: []Constraint{{Rule: "require_call", Value: "logger.*"}}}},
	)

	set := mustResolve(t, NewResolver(reg), "svc")
	require.Len(t, set.Constraints, 1)
	assert.Equal(t, "observable", set.Constraints[0].Origin)
}

// Same-distance tie between a node's own constraint and its mixin's:
// mixins win, and within the mixin list later mixins win.
func TestResolve_MixinBeatsOwnConstraint(t *testing.T) {
	t.Parallel()
	reg := New(
		[]*Node{{
			ID:          "svc",
			Mixins:      []string{"strict", "lenient"},
			Constraints: []Constraint{{Rule: "max_public_methods", Value: 10}},
		}},
		[]*Mixin{
			{ID: "strict", Constraints: []Constraint{{Rule: "max_public_methods", Value: 3}}},
			{ID: "lenient", Constraints: []Constraint{{Rule: "max_public_methods", Value: 8}}},
		},
	)

	set := mustResolve(t, NewResolver(reg), "svc")
	require.Len(t, set.Constraints, 1)
	assert.Equal(t, 8, set.Constraints[0].Value)
	assert.Equal(t, "lenient", set.Constraints[0].Origin)
}

func TestResolve_MixinOnAncestorLosesToLeaf(t *testing.T) {
	t.Parallel()
	reg := New(
		[]*Node{
			{ID: "base", Mixins: []string{"loose"}},
			{ID: "base.child", Inherits: "base", Constraints: []Constraint{{Rule: "max_public_methods", Value: 4}}},
		},
		[]*Mixin{{ID: "loose", Constraints: []Constraint{{Rule: "max_public_methods", Value: 50}}}},
	)

	set := mustResolve(t, NewResolver(reg), "base.child")
	require.Len(t, set.Constraints, 1)
	assert.Equal(t, 4, set.Constraints[0].Value)
}

func TestResolve_UnknownArchitecture(t *testing.T) {
	t.Parallel()
	reg := New(nil, nil)
	_, err := NewResolver(reg).Resolve("ghost")
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "registry-unknown-architecture", ierr.Code)
}

func TestResolve_Memoized(t *testing.T) {
	t.Parallel()
	reg := New([]*Node{{ID: "a", Constraints: []Constraint{{Rule: "forbid_import", Value: "x"}}}}, nil)
	r := NewResolver(reg)

	first := mustResolve(t, r, "a")
	second := mustResolve(t, r, "a")
	assert.Same(t, first, second)
}
