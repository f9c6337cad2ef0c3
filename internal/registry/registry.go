// Package registry holds the architecture taxonomy: named architecture
// nodes with single inheritance, reusable mixins, and the constraints each
// contributes. Definitions are loaded once per run from YAML and are
// immutable afterwards.
package registry

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Constraint is one structural rule instance attached to a node or mixin.
type Constraint struct {
	Rule     string   `yaml:"rule"`
	Value    any      `yaml:"value"`
	Before   []string `yaml:"before,omitempty"`
	Severity string   `yaml:"severity,omitempty"`
}

// singletonRules may appear at most once in a resolved set; their merge
// identity is the rule name alone. Repeatable rules merge by (rule, value).
var singletonRules = map[string]bool{
	"max_public_methods": true,
	"location_pattern":   true,
	"naming_pattern":     true,
	"implements":         true,
}

// Key returns the merge/override identity of the constraint.
func (c Constraint) Key() string {
	if singletonRules[c.Rule] {
		return c.Rule
	}
	return c.Rule + "\x00" + fmt.Sprint(c.Value)
}

// ValueString renders the constraint value for reports and override matching.
func (c Constraint) ValueString() string {
	return fmt.Sprint(c.Value)
}

// Node is one architecture in the taxonomy.
type Node struct {
	ID          string       `yaml:"-"`
	Inherits    string       `yaml:"inherits,omitempty"`
	Mixins      []string     `yaml:"mixins,omitempty"`
	Constraints []Constraint `yaml:"constraints,omitempty"`
	Description string       `yaml:"description,omitempty"`
	Rationale   string       `yaml:"rationale,omitempty"`
}

// Mixin is a flat, non-inheriting constraint bundle.
type Mixin struct {
	ID          string       `yaml:"-"`
	Constraints []Constraint `yaml:"constraints,omitempty"`
	Description string       `yaml:"description,omitempty"`
}

// IntegrityError is a fatal defect in the registry definitions: unknown
// parent or mixin ids, inheritance cycles, or unknown rule kinds. No
// partial registry is used once one is detected.
type IntegrityError struct {
	Code   string // stable machine code, e.g. "registry-unknown-parent"
	ArchID string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("registry integrity: %s (%s): %s", e.Code, e.ArchID, e.Detail)
}

// Registry is the loaded taxonomy.
type Registry struct {
	nodes    map[string]*Node
	mixins   map[string]*Mixin
	checksum string
}

// definitionFile is the on-disk YAML shape: two mappings keyed by id.
type definitionFile struct {
	Architectures map[string]*Node  `yaml:"architectures"`
	Mixins        map[string]*Mixin `yaml:"mixins"`
}

// New builds a Registry from already-constructed nodes and mixins.
// Used by tests and by loaders other than the YAML one.
func New(nodes []*Node, mixins []*Mixin) *Registry {
	r := &Registry{
		nodes:  make(map[string]*Node, len(nodes)),
		mixins: make(map[string]*Mixin, len(mixins)),
	}
	for _, n := range nodes {
		r.nodes[n.ID] = n
	}
	for _, m := range mixins {
		r.mixins[m.ID] = m
	}
	return r
}

// Load reads a YAML definition file and validates referential integrity.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from YAML definition bytes.
func Parse(data []byte) (*Registry, error) {
	var def definitionFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	r := &Registry{
		nodes:    make(map[string]*Node, len(def.Architectures)),
		mixins:   make(map[string]*Mixin, len(def.Mixins)),
		checksum: fmt.Sprintf("%x", sha256.Sum256(data)),
	}
	for id, n := range def.Architectures {
		if n == nil {
			n = &Node{}
		}
		n.ID = id
		r.nodes[id] = n
	}
	for id, m := range def.Mixins {
		if m == nil {
			m = &Mixin{}
		}
		m.ID = id
		r.mixins[id] = m
	}

	if err := r.checkIntegrity(); err != nil {
		return nil, err
	}
	return r, nil
}

// checkIntegrity verifies every inherits/mixin reference resolves and that
// the inheritance relation is a forest. Cycle detection happens again at
// resolve time, but catching it at load keeps broken registries out of runs.
func (r *Registry) checkIntegrity() error {
	for _, id := range r.NodeIDs() {
		n := r.nodes[id]
		if n.Inherits != "" {
			if _, ok := r.nodes[n.Inherits]; !ok {
				return &IntegrityError{
					Code:   "registry-unknown-parent",
					ArchID: id,
					Detail: fmt.Sprintf("inherits unknown architecture %q", n.Inherits),
				}
			}
		}
		for _, mid := range n.Mixins {
			if _, ok := r.mixins[mid]; !ok {
				return &IntegrityError{
					Code:   "registry-unknown-mixin",
					ArchID: id,
					Detail: fmt.Sprintf("references unknown mixin %q", mid),
				}
			}
		}
	}
	// Walk each chain once so cycles fail the load, not the first resolve.
	for _, id := range r.NodeIDs() {
		if _, err := r.chain(id); err != nil {
			return err
		}
	}
	return nil
}

// Checksum returns the sha256 of the definition bytes this registry was
// parsed from, or "" when built with New.
func (r *Registry) Checksum() string {
	return r.checksum
}

// Node returns the node for id, or nil.
func (r *Registry) Node(id string) *Node {
	return r.nodes[id]
}

// Mixin returns the mixin for id, or nil.
func (r *Registry) Mixin(id string) *Mixin {
	return r.mixins[id]
}

// NodeIDs returns all architecture ids in sorted order.
func (r *Registry) NodeIDs() []string {
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MixinIDs returns all mixin ids in sorted order.
func (r *Registry) MixinIDs() []string {
	ids := make([]string, 0, len(r.mixins))
	for id := range r.mixins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
