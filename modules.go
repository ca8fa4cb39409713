package clubperm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hdcn/clubperm/logger"
	"github.com/hdcn/clubperm/utils"
)

// regionPlaceholder marks the spot in a template rule that expands to a
// concrete region identifier at load time.
const regionPlaceholder = "{region}"

// ModuleRule maps one role name to the UI/API modules it unlocks. Either
// side may carry the {region} placeholder; such template rules expand once
// per known region (or per the role's own region) when the table is built.
type ModuleRule struct {
	Role    string   `json:"role" yaml:"role"`
	Modules []string `json:"modules" yaml:"modules"`
}

// ModuleRules is the static role-to-module visibility table, expanded and
// frozen at load time.
type ModuleRules struct {
	byRole map[string][]string
}

// NewModuleRules expands template entries and freezes the table.
//
// A rule whose role name contains {region} expands over every region the
// registry knows. A rule on a concrete regional role expands {region} in
// its module list to that role's region. Rules naming roles absent from
// the registry are kept verbatim: the table also answers for legacy group
// names the registry does not model.
func NewModuleRules(rules []ModuleRule, registry *Registry) (*ModuleRules, error) {
	mr := &ModuleRules{byRole: make(map[string][]string, len(rules))}
	for _, rule := range rules {
		if rule.Role == "" {
			return nil, fmt.Errorf("%w: module rule with empty role name", ErrConfig)
		}
		if len(rule.Modules) == 0 {
			return nil, fmt.Errorf("%w: module rule for %q grants no modules", ErrConfig, rule.Role)
		}
		if strings.Contains(rule.Role, regionPlaceholder) {
			if registry == nil || len(registry.Regions()) == 0 {
				return nil, fmt.Errorf("%w: template module rule %q but no regions are known", ErrConfig, rule.Role)
			}
			for _, region := range registry.Regions() {
				role := strings.ReplaceAll(rule.Role, regionPlaceholder, region)
				mr.add(role, expandModules(rule.Modules, region))
			}
			continue
		}
		region := ""
		if registry != nil {
			if def, ok := registry.Resolve(rule.Role); ok && def.Scope == ScopeRegional {
				region = def.Region
			}
		}
		if region == "" && containsPlaceholder(rule.Modules) {
			return nil, fmt.Errorf("%w: module rule for %q uses %s but the role is not regional", ErrConfig, rule.Role, regionPlaceholder)
		}
		mr.add(rule.Role, expandModules(rule.Modules, region))
	}
	for role := range mr.byRole {
		sort.Strings(mr.byRole[role])
	}
	return mr, nil
}

func (mr *ModuleRules) add(role string, modules []string) {
	existing := mr.byRole[role]
	for _, m := range modules {
		dup := false
		for _, have := range existing {
			if have == m {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, m)
		}
	}
	mr.byRole[role] = existing
}

func containsPlaceholder(modules []string) bool {
	for _, m := range modules {
		if strings.Contains(m, regionPlaceholder) {
			return true
		}
	}
	return false
}

func expandModules(modules []string, region string) []string {
	out := make([]string, len(modules))
	for i, m := range modules {
		if region != "" {
			m = strings.ReplaceAll(m, regionPlaceholder, region)
		}
		out[i] = m
	}
	return out
}

// Rules returns the expanded table as a rule list, sorted by role name.
func (mr *ModuleRules) Rules() []ModuleRule {
	roles := make([]string, 0, len(mr.byRole))
	for role := range mr.byRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	rules := make([]ModuleRule, 0, len(roles))
	for _, role := range roles {
		rules = append(rules, ModuleRule{
			Role:    role,
			Modules: append([]string(nil), mr.byRole[role]...),
		})
	}
	return rules
}

// Modules returns the expanded module patterns granted to a role.
func (mr *ModuleRules) Modules(role string) []string {
	return mr.byRole[role]
}

// Grants reports whether any of the given roles maps to the module in the
// static table. Patterns in the table may use wildcards.
func (mr *ModuleRules) Grants(roleNames []string, moduleID string) bool {
	for _, role := range roleNames {
		for _, pattern := range mr.byRole[role] {
			if utils.MatchModule(moduleID, pattern) {
				return true
			}
		}
	}
	return false
}

// LegacyFallback is the parameter-store-driven visibility collaborator,
// consulted only when the role-based table is silent on a module. It is an
// external I/O boundary and must honor ctx cancellation.
type LegacyFallback func(ctx context.Context, uc UserContext, moduleID string) (bool, error)

// ModuleEvaluator answers module visibility queries, combining the static
// role table with the bounded legacy fallback.
type ModuleEvaluator struct {
	rules           *ModuleRules
	fallback        LegacyFallback
	fallbackTimeout time.Duration
	logger          logger.Logger
}

// DefaultFallbackTimeout bounds a single legacy parameter-store lookup.
const DefaultFallbackTimeout = 2 * time.Second

// NewModuleEvaluator wires the table, the optional fallback and a logger.
func NewModuleEvaluator(rules *ModuleRules, fallback LegacyFallback, timeout time.Duration, log logger.Logger) *ModuleEvaluator {
	if timeout <= 0 {
		timeout = DefaultFallbackTimeout
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &ModuleEvaluator{rules: rules, fallback: fallback, fallbackTimeout: timeout, logger: log}
}

// CanAccess decides module visibility for the caller.
//
// An unassigned user (empty role set) is denied unconditionally, whatever
// the fallback would say: nothing is visible until a role is assigned.
// A role-table hit grants immediately without touching the fallback, so a
// slow parameter store can never stall the role-based path. Only when the
// table is silent does the evaluator defer to the fallback, under a
// timeout; a fallback error or timeout degrades to deny and is logged.
func (ev *ModuleEvaluator) CanAccess(ctx context.Context, uc UserContext, roleNames []string, moduleID string) bool {
	if len(roleNames) == 0 {
		return false
	}
	if ev.rules != nil && ev.rules.Grants(roleNames, moduleID) {
		return true
	}
	if ev.fallback == nil {
		return false
	}

	fbCtx, cancel := context.WithTimeout(ctx, ev.fallbackTimeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ok, err := ev.fallback(fbCtx, uc, moduleID)
		ch <- result{ok: ok, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			ev.logger.Error("legacy module fallback failed", "module", moduleID, "error", res.err.Error())
			return false
		}
		return res.ok
	case <-fbCtx.Done():
		ev.logger.Error("legacy module fallback timed out", "module", moduleID, "subject", uc.SubjectID)
		return false
	}
}

// DefaultModuleRules is the deploy-time visibility table, including the
// per-region template entries for regional roles.
func DefaultModuleRules() []ModuleRule {
	return []ModuleRule{
		{Role: DefaultSystemRole, Modules: []string{"*"}},
		{Role: "Members_Admin_All", Modules: []string{"members:*", "reports:members"}},
		{Role: "Members_Read_All", Modules: []string{"members:list", "members:detail", "members:export"}},
		{Role: "Members_Status_Approve", Modules: []string{"members:status-queue"}},
		{Role: "Members_Read_Region{region}", Modules: []string{"members:list:region{region}", "members:detail:region{region}"}},
		{Role: "Events_Admin_All", Modules: []string{"events:*"}},
		{Role: "Products_Admin_All", Modules: []string{"products:*"}},
		{Role: "Communication_Send", Modules: []string{"communication:compose", "communication:templates"}},
		{Role: "hdcnLeden", Modules: []string{"profile", "events:calendar", "products:shop"}},
	}
}
