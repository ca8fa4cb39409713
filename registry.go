package clubperm

import (
	"fmt"
	"sort"
)

// DefaultSystemRole is the reserved all-powerful role name. Holders bypass
// the union/override pipeline entirely (see Calculator).
const DefaultSystemRole = "System_CRUD_All"

// BuiltinResources are always part of the known-resource universe, even when
// no loaded role mentions them. ResourceMemberStatus is the pseudo-resource
// carrying the status-approval capability.
var BuiltinResources = []string{
	ResourceMembers,
	ResourceEvents,
	ResourceProducts,
	ResourceCommunication,
	ResourceSystem,
	ResourceMemberStatus,
}

const (
	ResourceMembers       = "members"
	ResourceEvents        = "events"
	ResourceProducts      = "products"
	ResourceCommunication = "communication"
	ResourceSystem        = "system"
	ResourceMemberStatus  = "members.status"
)

// Registry is the static role catalog. It is built once from validated
// definitions and is immutable afterwards, so lookups need no locking.
type Registry struct {
	byName     map[string]*RoleDefinition
	resources  []string
	regions    []string
	systemRole string
}

// RegistryOption tweaks registry construction.
type RegistryOption func(*Registry)

// WithSystemRole overrides the reserved system role name.
func WithSystemRole(name string) RegistryOption {
	return func(r *Registry) {
		if name != "" {
			r.systemRole = name
		}
	}
}

// NewRegistry validates and loads the full definition catalog. Any
// violation (duplicate name, duplicate precedence, regional role without a
// region, malformed tag) fails the load; a half-valid catalog is never
// usable.
func NewRegistry(defs []*RoleDefinition, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		byName:     make(map[string]*RoleDefinition, len(defs)),
		systemRole: DefaultSystemRole,
	}
	for _, opt := range opts {
		opt(r)
	}

	seenPrec := make(map[Precedence]string, len(defs))
	resourceSet := make(map[string]struct{})
	regionSet := make(map[string]struct{})
	for _, res := range BuiltinResources {
		resourceSet[res] = struct{}{}
	}

	for _, def := range defs {
		if def == nil {
			return nil, fmt.Errorf("%w: nil role definition", ErrConfig)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate role name %q", ErrConfig, def.Name)
		}
		if holder, dup := seenPrec[def.Precedence]; dup {
			return nil, fmt.Errorf("%w: roles %q and %q share precedence %d", ErrConfig, holder, def.Name, def.Precedence)
		}
		seenPrec[def.Precedence] = def.Name
		r.byName[def.Name] = def

		for resource := range def.Permissions {
			resourceSet[resource] = struct{}{}
		}
		if def.Scope == ScopeRegional {
			regionSet[def.Region] = struct{}{}
		}
	}

	r.resources = make([]string, 0, len(resourceSet))
	for res := range resourceSet {
		r.resources = append(r.resources, res)
	}
	sort.Strings(r.resources)

	r.regions = make([]string, 0, len(regionSet))
	for region := range regionSet {
		r.regions = append(r.regions, region)
	}
	sort.Strings(r.regions)

	return r, nil
}

// Resolve looks a role definition up by name.
func (r *Registry) Resolve(name string) (*RoleDefinition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Resources returns the sorted known-resource universe: every resource
// mentioned by a loaded role plus the builtin set.
func (r *Registry) Resources() []string {
	return r.resources
}

// Regions returns the sorted regions covered by regional roles.
func (r *Registry) Regions() []string {
	return r.regions
}

// SystemRole returns the reserved all-powerful role name.
func (r *Registry) SystemRole() string {
	return r.systemRole
}

// Len returns the number of loaded definitions.
func (r *Registry) Len() int {
	return len(r.byName)
}

// Definitions returns the catalog sorted by precedence, for persistence
// and for rebuilding a registry with admin changes applied.
func (r *Registry) Definitions() []*RoleDefinition {
	defs := make([]*RoleDefinition, 0, len(r.byName))
	for _, def := range r.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Precedence.Less(defs[j].Precedence) })
	return defs
}

// RoleNames returns the sorted catalog names, mainly for diagnostics.
func (r *Registry) RoleNames() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
