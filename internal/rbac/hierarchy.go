// Package rbac implements role-based permission resolution: a static role
// hierarchy loaded at startup plus a manager that answers per-user
// permission checks against the grant store.
package rbac

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	perrors "github.com/p-blackswan/permbot/internal/errors"
)

// RoleDef describes one role in the hierarchy config.
type RoleDef struct {
	// Permissions granted directly by this role.
	Permissions []string `yaml:"permissions"`
	// Inherits lists roles this role dominates. The effective permission
	// set is the union over the transitive closure.
	Inherits []string `yaml:"inherits"`
}

// HierarchyConfig is the top-level roles file (roles.yaml).
type HierarchyConfig struct {
	Roles map[string]RoleDef `yaml:"roles"`
}

// Hierarchy is an immutable, validated role hierarchy. Effective permission
// sets and the dominance closure are precomputed at construction, so queries
// never traverse and cannot loop.
type Hierarchy struct {
	defs      map[string]RoleDef
	effective map[string]map[string]struct{}
	dominated map[string]map[string]struct{}
}

// LoadHierarchy reads and validates a roles file.
func LoadHierarchy(path string) (*Hierarchy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roles file: %w", err)
	}
	var cfg HierarchyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing roles file: %w", err)
	}
	return NewHierarchy(cfg)
}

// NewHierarchy validates the config and builds the hierarchy.
// Returns ErrCyclicHierarchy (wrapped) if the inheritance graph has a cycle,
// or an error naming any inherited role that is not defined.
func NewHierarchy(cfg HierarchyConfig) (*Hierarchy, error) {
	if len(cfg.Roles) == 0 {
		return nil, fmt.Errorf("role hierarchy is empty")
	}

	for name, def := range cfg.Roles {
		for _, parent := range def.Inherits {
			if _, ok := cfg.Roles[parent]; !ok {
				return nil, fmt.Errorf("role %q inherits undefined role %q", name, parent)
			}
		}
	}

	h := &Hierarchy{
		defs:      cfg.Roles,
		effective: make(map[string]map[string]struct{}, len(cfg.Roles)),
		dominated: make(map[string]map[string]struct{}, len(cfg.Roles)),
	}

	// DFS with three-color marking. A gray role seen again is a cycle.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(cfg.Roles))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return fmt.Errorf("%w: role %q participates in a cycle", perrors.ErrCyclicHierarchy, name)
		case black:
			return nil
		}
		color[name] = gray

		perms := make(map[string]struct{})
		doms := make(map[string]struct{})
		for _, p := range cfg.Roles[name].Permissions {
			perms[p] = struct{}{}
		}
		for _, parent := range cfg.Roles[name].Inherits {
			if err := visit(parent); err != nil {
				return err
			}
			doms[parent] = struct{}{}
			for p := range h.effective[parent] {
				perms[p] = struct{}{}
			}
			for d := range h.dominated[parent] {
				doms[d] = struct{}{}
			}
		}

		h.effective[name] = perms
		h.dominated[name] = doms
		color[name] = black
		return nil
	}

	// Deterministic visit order so cycle errors are stable.
	names := make([]string, 0, len(cfg.Roles))
	for name := range cfg.Roles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// EffectivePermissions returns the full permission set of a role, including
// everything inherited from dominated roles. The second return is false for
// unknown roles. The returned map is shared; callers must not mutate it.
func (h *Hierarchy) EffectivePermissions(role string) (map[string]struct{}, bool) {
	perms, ok := h.effective[role]
	return perms, ok
}

// Dominates reports whether role a's effective permissions include all of
// role b's, i.e. b is in a's transitive inheritance closure. A role does not
// dominate itself. Unknown roles dominate nothing.
func (h *Hierarchy) Dominates(a, b string) bool {
	doms, ok := h.dominated[a]
	if !ok {
		return false
	}
	_, ok = doms[b]
	return ok
}

// Def returns the raw definition of a role.
func (h *Hierarchy) Def(role string) (RoleDef, bool) {
	def, ok := h.defs[role]
	return def, ok
}

// HasRole reports whether the role is defined.
func (h *Hierarchy) HasRole(role string) bool {
	_, ok := h.defs[role]
	return ok
}

// Roles returns all defined role names, sorted.
func (h *Hierarchy) Roles() []string {
	names := make([]string, 0, len(h.defs))
	for name := range h.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns role → sorted effective permissions, for admin tooling.
func (h *Hierarchy) Describe() map[string][]string {
	out := make(map[string][]string, len(h.effective))
	for role, perms := range h.effective {
		list := make([]string, 0, len(perms))
		for p := range perms {
			list = append(list, p)
		}
		sort.Strings(list)
		out[role] = list
	}
	return out
}

// DefaultHierarchy returns the built-in admin ⊇ developer ⊇ user hierarchy
// used when no roles file is configured.
func DefaultHierarchy() *Hierarchy {
	h, err := NewHierarchy(HierarchyConfig{
		Roles: map[string]RoleDef{
			"user": {
				Permissions: []string{"read_status"},
			},
			"developer": {
				Permissions: []string{"deployment", "read_logs"},
				Inherits:    []string{"user"},
			},
			"admin": {
				Permissions: []string{"admin", "manage_permissions"},
				Inherits:    []string{"developer"},
			},
		},
	})
	if err != nil {
		// The built-in hierarchy is statically correct.
		panic(err)
	}
	return h
}
