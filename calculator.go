package clubperm

import (
	"fmt"
	"sort"

	"github.com/hdcn/clubperm/logger"
)

// Calculator combines a user's assigned roles into one effective
// PermissionSet. It is stateless: every call works on the immutable
// registry plus its own locals, so any number of goroutines may share one
// Calculator.
type Calculator struct {
	registry *Registry
	logger   logger.Logger
}

// NewCalculator builds a calculator over a loaded registry.
func NewCalculator(registry *Registry, log logger.Logger) *Calculator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Calculator{registry: registry, logger: log}
}

// Calculate resolves role names and produces the effective permission set.
//
// Unknown role names contribute nothing (fail-closed) and are logged.
// Combination is additive: extra roles never reduce access. The only
// replacement rule is the national override, which swaps region tags for
// the wider "all" on actions where a national role granted "all". An
// empty input is a valid roleless-user state and yields an empty set,
// never an error.
func (c *Calculator) Calculate(roleNames []string) PermissionSet {
	ps, _ := c.calculate(roleNames, false)
	return ps
}

// CalculateWithTrace is Calculate plus a human-readable step trace, used
// by the engine's Explain API.
func (c *Calculator) CalculateWithTrace(roleNames []string) (PermissionSet, []string) {
	return c.calculate(roleNames, true)
}

func (c *Calculator) calculate(roleNames []string, withTrace bool) (PermissionSet, []string) {
	var trace []string
	note := func(format string, args ...any) {
		if withTrace {
			trace = append(trace, fmt.Sprintf(format, args...))
		}
	}

	// Resolve; drop unknown names silently but logged.
	defs := make([]*RoleDefinition, 0, len(roleNames))
	for _, name := range roleNames {
		def, ok := c.registry.Resolve(name)
		if !ok {
			c.logger.Info("dropping unknown role", "role", name)
			note("role=%s unknown, dropped", name)
			continue
		}
		defs = append(defs, def)
		note("role=%s resolved precedence=%d scope=%s", def.Name, def.Precedence, def.Scope)
	}
	if len(defs) == 0 {
		note("no roles resolved, empty permission set")
		return PermissionSet{}, trace
	}

	// System short-circuit: the reserved role must be incapable of being
	// narrowed by interaction with other roles, so it skips the pipeline.
	for _, def := range defs {
		if def.Name == c.registry.SystemRole() {
			note("role=%s is the system role, granting all scope on every resource", def.Name)
			return c.systemPermissionSet(), trace
		}
	}

	// Precedence sort. Union is commutative; the order only matters for
	// the override bookkeeping below.
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Precedence.Less(defs[j].Precedence) })

	ps := make(PermissionSet)
	nationalAll := make(map[string]actionFlags)
	for _, def := range defs {
		for resource, as := range def.Permissions {
			merged := ps[resource]
			merged.Read = unionTags(merged.Read, as.Read)
			merged.Write = unionTags(merged.Write, as.Write)
			merged.Export = unionTags(merged.Export, as.Export)
			ps[resource] = merged
			if def.Scope == ScopeNational || def.Scope == ScopeSystem {
				flags := nationalAll[resource]
				// A national write grant carries a read grant, so it
				// subsumes regional reads too.
				flags.read = flags.read || hasTag(as.Read, TagAll) || hasTag(as.Write, TagAll)
				flags.write = flags.write || hasTag(as.Write, TagAll)
				flags.export = flags.export || hasTag(as.Export, TagAll)
				nationalAll[resource] = flags
			}
			note("role=%s resource=%s merged", def.Name, resource)
		}
	}

	// National override: a national "all" grant subsumes regional grants
	// on the same action, never the reverse. A national role granting only
	// "own" leaves regional tags from other roles intact; combination
	// stays additive.
	for resource, flags := range nationalAll {
		if !flags.read && !flags.write && !flags.export {
			continue
		}
		as := ps[resource]
		if flags.read {
			as.Read = dropRegionTags(as.Read)
		}
		if flags.write {
			as.Write = dropRegionTags(as.Write)
		}
		if flags.export {
			as.Export = dropRegionTags(as.Export)
		}
		ps[resource] = as
		note("resource=%s national override applied", resource)
	}

	// A write grant must not produce a resource the caller can modify but
	// not view.
	for resource, as := range ps {
		if len(as.Write) > 0 {
			as.Read = unionTags(as.Read, as.Write)
			ps[resource] = as
		}
	}

	for resource, as := range ps {
		as.Read = canonicalTags(as.Read)
		as.Write = canonicalTags(as.Write)
		as.Export = canonicalTags(as.Export)
		ps[resource] = as
	}

	return ps, trace
}

// systemPermissionSet grants "all" on every known resource for every action.
func (c *Calculator) systemPermissionSet() PermissionSet {
	ps := make(PermissionSet, len(c.registry.Resources()))
	for _, resource := range c.registry.Resources() {
		ps[resource] = ActionSet{
			Read:   []ScopeTag{TagAll},
			Write:  []ScopeTag{TagAll},
			Export: []ScopeTag{TagAll},
		}
	}
	return ps
}

// actionFlags marks the actions of one resource a national "all" grant
// touched during merging.
type actionFlags struct {
	read, write, export bool
}

func hasTag(tags []ScopeTag, want ScopeTag) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

// unionTags appends the tags of b missing from a, preserving order of
// first appearance.
func unionTags(a, b []ScopeTag) []ScopeTag {
	if len(b) == 0 {
		return a
	}
	out := a
	for _, tag := range b {
		found := false
		for _, have := range out {
			if have == tag {
				found = true
				break
			}
		}
		if !found {
			out = append(out, tag)
		}
	}
	return out
}

func dropRegionTags(tags []ScopeTag) []ScopeTag {
	out := tags[:0]
	for _, tag := range tags {
		if !tag.IsRegion() {
			out = append(out, tag)
		}
	}
	return out
}

// canonicalTags dedupes and orders tags deterministically: own, all, then
// region tags sorted by region. Redundant region tags next to "all" are
// kept; they are harmless and dropping them would hide what was granted.
func canonicalTags(tags []ScopeTag) []ScopeTag {
	if len(tags) <= 1 {
		return tags
	}
	seen := make(map[ScopeTag]struct{}, len(tags))
	out := make([]ScopeTag, 0, len(tags))
	for _, tag := range tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return tagRank(out[i]) < tagRank(out[j]) })
	return out
}

func tagRank(t ScopeTag) string {
	switch {
	case t == TagOwn:
		return "0"
	case t == TagAll:
		return "1"
	default:
		return "2" + string(t)
	}
}
