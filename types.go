package clubperm

import (
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Scope describes the organizational reach of a role.
type Scope string

const (
	ScopeNational Scope = "national"
	ScopeRegional Scope = "regional"
	ScopeSystem   Scope = "system"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeNational, ScopeRegional, ScopeSystem:
		return true
	}
	return false
}

// Precedence orders roles for conflict resolution. Lower values win.
// It exists as its own type so role ordering never gets compared against
// unrelated integers.
type Precedence int

func (p Precedence) Less(other Precedence) bool { return p < other }

// Action identifies how a resource is accessed.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionExport Action = "export"
)

// ScopeTag is the breadth of an action grant: "own", "all" or "region:<N>".
type ScopeTag string

const (
	TagOwn ScopeTag = "own"
	TagAll ScopeTag = "all"
)

const regionTagPrefix = "region:"

// RegionTag builds the scope tag for a single region.
func RegionTag(region string) ScopeTag {
	return ScopeTag(regionTagPrefix + region)
}

// IsRegion reports whether the tag targets a single region.
func (t ScopeTag) IsRegion() bool {
	return strings.HasPrefix(string(t), regionTagPrefix)
}

// Region returns the region identifier of a region tag, or "" otherwise.
func (t ScopeTag) Region() string {
	if !t.IsRegion() {
		return ""
	}
	return string(t)[len(regionTagPrefix):]
}

func (t ScopeTag) Valid() bool {
	return t == TagOwn || t == TagAll || (t.IsRegion() && t.Region() != "")
}

// ActionSet holds the scope tags a role (or computed set) grants per action.
type ActionSet struct {
	Read   []ScopeTag `json:"read,omitempty" yaml:"read,omitempty"`
	Write  []ScopeTag `json:"write,omitempty" yaml:"write,omitempty"`
	Export []ScopeTag `json:"export,omitempty" yaml:"export,omitempty"`
}

// Tags returns the tag slice for an action.
func (a ActionSet) Tags(action Action) []ScopeTag {
	switch action {
	case ActionRead:
		return a.Read
	case ActionWrite:
		return a.Write
	case ActionExport:
		return a.Export
	}
	return nil
}

func (a ActionSet) isEmpty() bool {
	return len(a.Read) == 0 && len(a.Write) == 0 && len(a.Export) == 0
}

// PermissionSet is the computed, per-evaluation mapping from resource to
// the effective ActionSet. It is derived state: callers obtain one from
// the Calculator (or the cache) and treat it as read-only.
type PermissionSet map[string]ActionSet

// Tags returns the effective scope tags for a resource/action pair.
func (ps PermissionSet) Tags(resource string, action Action) []ScopeTag {
	return ps[resource].Tags(action)
}

// Has reports whether the resource/action grant contains the exact tag.
func (ps PermissionSet) Has(resource string, action Action, tag ScopeTag) bool {
	for _, t := range ps.Tags(resource, action) {
		if t == tag {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the set grants nothing at all.
func (ps PermissionSet) IsEmpty() bool {
	for _, as := range ps {
		if !as.isEmpty() {
			return false
		}
	}
	return true
}

// Resources returns the sorted resource names present in the set.
func (ps PermissionSet) Resources() []string {
	out := make([]string, 0, len(ps))
	for r := range ps {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy; cached sets are cloned before being handed out.
func (ps PermissionSet) Clone() PermissionSet {
	dup := make(PermissionSet, len(ps))
	for r, as := range ps {
		dup[r] = ActionSet{
			Read:   append([]ScopeTag(nil), as.Read...),
			Write:  append([]ScopeTag(nil), as.Write...),
			Export: append([]ScopeTag(nil), as.Export...),
		}
	}
	return dup
}

// RoleDefinition is a single entry in the role catalog. Definitions are
// validated and frozen at registry load; nothing mutates them afterwards.
type RoleDefinition struct {
	Name        string               `json:"name" yaml:"name"`
	Precedence  Precedence           `json:"precedence" yaml:"precedence"`
	Scope       Scope                `json:"scope" yaml:"scope"`
	Region      string               `json:"region,omitempty" yaml:"region,omitempty"`
	Permissions map[string]ActionSet `json:"permissions" yaml:"permissions"`
}

// Validate checks the structural invariants of a single definition.
// Cross-definition invariants (unique name/precedence) live in the registry.
func (d *RoleDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: role name is required", ErrConfig)
	}
	if !d.Scope.Valid() {
		return fmt.Errorf("%w: role %q has unknown scope %q", ErrConfig, d.Name, d.Scope)
	}
	if d.Scope == ScopeRegional && d.Region == "" {
		return fmt.Errorf("%w: regional role %q is missing a region", ErrConfig, d.Name)
	}
	if d.Scope != ScopeRegional && d.Region != "" {
		return fmt.Errorf("%w: role %q has scope %s but carries region %q", ErrConfig, d.Name, d.Scope, d.Region)
	}
	for resource, as := range d.Permissions {
		if resource == "" {
			return fmt.Errorf("%w: role %q grants permissions on an empty resource name", ErrConfig, d.Name)
		}
		for _, action := range []Action{ActionRead, ActionWrite, ActionExport} {
			for _, tag := range as.Tags(action) {
				if !tag.Valid() {
					return fmt.Errorf("%w: role %q resource %q %s has malformed scope tag %q", ErrConfig, d.Name, resource, action, tag)
				}
			}
		}
	}
	return nil
}

// UserContext carries the caller identity handed to the legacy
// module-visibility fallback. The engine never inspects it.
type UserContext struct {
	SubjectID string         `json:"subject_id"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// RoleMembership binds a subject to a role by name.
type RoleMembership struct {
	SubjectID string `json:"subject_id" yaml:"subject_id"`
	RoleName  string `json:"role_name" yaml:"role_name"`
}
