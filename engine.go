package clubperm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hdcn/clubperm/logger"
)

// RoleMembershipStore resolves and mutates subject-to-role bindings. The
// engine treats the binding source as external; implementations live in
// the stores package.
type RoleMembershipStore interface {
	AssignRole(ctx context.Context, subjectID, roleName string) error
	RevokeRole(ctx context.Context, subjectID, roleName string) error
	ListRoles(ctx context.Context, subjectID string) ([]string, error)
}

// Engine is the permission resolution engine: role registry, calculator,
// field and module evaluators, decision cache and audit pipeline behind
// one facade. All rule tables are immutable after construction (or after
// an ApplyConfig swap), so every query path is safe for concurrent use.
type Engine struct {
	mu         sync.RWMutex
	registry   *Registry
	calc       *Calculator
	fields     *FieldRules
	modules    *ModuleRules
	moduleEval *ModuleEvaluator

	cache           PermissionCache
	auditStore      AuditStore
	membership      RoleMembershipStore
	roleDefs        RoleDefinitionStore
	logger          logger.Logger
	traceIDFunc     logger.TraceIDFunc
	fallback        LegacyFallback
	fallbackTimeout time.Duration

	auditCh   chan AuditEntry
	auditWG   sync.WaitGroup
	closeOnce sync.Once
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// WithLogger installs a Logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceIDFunc = f
		return nil
	}
}

// WithCache replaces the default in-memory decision cache.
func WithCache(c PermissionCache) EngineOption {
	return func(e *Engine) error {
		if c != nil {
			e.cache = c
		}
		return nil
	}
}

// WithCacheTTL sets the TTL of the default in-memory cache.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		e.cache = NewMemoryPermissionCache(ttl)
		return nil
	}
}

// WithRistrettoCache switches the decision cache to ristretto.
func WithRistrettoCache(cfg RistrettoCacheConfig, ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		c, err := NewRistrettoPermissionCache(cfg, ttl)
		if err != nil {
			return fmt.Errorf("configure ristretto cache: %w", err)
		}
		e.cache = c
		return nil
	}
}

// WithAuditStore installs an audit sink; without one, decisions are only
// logged.
func WithAuditStore(s AuditStore) EngineOption {
	return func(e *Engine) error {
		e.auditStore = s
		return nil
	}
}

// WithMembershipStore installs the subject-to-role binding source.
func WithMembershipStore(s RoleMembershipStore) EngineOption {
	return func(e *Engine) error {
		e.membership = s
		return nil
	}
}

// WithLegacyFallback installs the parameter-store module-visibility
// collaborator and its per-call timeout.
func WithLegacyFallback(fb LegacyFallback, timeout time.Duration) EngineOption {
	return func(e *Engine) error {
		e.fallback = fb
		if timeout > 0 {
			e.fallbackTimeout = timeout
		}
		return nil
	}
}

// NewEngine assembles an engine over the validated rule tables. The
// registry, field rules and module rules must have loaded successfully;
// the constructor itself cannot produce an ambiguous-policy state.
func NewEngine(registry *Registry, fields *FieldRules, modules *ModuleRules, opts ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrConfig)
	}
	e := &Engine{
		registry:        registry,
		fields:          fields,
		modules:         modules,
		logger:          logger.NewPhusluLogger(),
		fallbackTimeout: DefaultFallbackTimeout,
		auditCh:         make(chan AuditEntry, 1024),
	}
	e.traceIDFunc = func() string { return fmt.Sprintf("%d", time.Now().UnixNano()) }
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.cache == nil {
		e.cache = NewMemoryPermissionCache(DefaultCacheTTL)
	}
	e.calc = NewCalculator(registry, e.logger)
	e.moduleEval = NewModuleEvaluator(modules, e.fallback, e.fallbackTimeout, e.logger)

	e.auditWG.Add(1)
	go e.auditWorker()
	return e, nil
}

func (e *Engine) auditWorker() {
	defer e.auditWG.Done()
	bg := context.Background()
	for entry := range e.auditCh {
		if e.auditStore == nil {
			continue
		}
		if err := e.auditStore.LogDecision(bg, &entry); err != nil {
			e.logger.Error("audit sink write failed", "error", err.Error())
		}
	}
}

// Close drains the audit pipeline and releases the cache.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.auditCh)
		e.auditWG.Wait()
		e.cacheRef().Close()
	})
}

// cacheRef reads the live cache handle. ApplyConfig may swap it, so the
// field is only touched under the table lock.
func (e *Engine) cacheRef() PermissionCache {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache
}

// Calculate computes (or retrieves the cached) effective permission set
// for a role-name list. It never fails: unknown roles are dropped and an
// empty role list is the valid roleless-user state.
func (e *Engine) Calculate(roleNames []string) PermissionSet {
	key := CacheKey(roleNames)
	cache := e.cacheRef()
	if cached, ok := cache.Get(key); ok {
		e.audit(DecisionCalculate, roleNames, "permission-set", !cached.IsEmpty(), "cache hit")
		return cached.Clone()
	}
	e.mu.RLock()
	calc := e.calc
	e.mu.RUnlock()
	ps := calc.Calculate(roleNames)
	cache.Set(key, ps)
	e.audit(DecisionCalculate, roleNames, "permission-set", !ps.IsEmpty(), "computed")
	return ps.Clone()
}

// Explain computes a permission set with a step-by-step trace, bypassing
// the cache.
func (e *Engine) Explain(roleNames []string) (PermissionSet, []string) {
	e.mu.RLock()
	calc := e.calc
	e.mu.RUnlock()
	return calc.CalculateWithTrace(roleNames)
}

// CalculateSubject resolves a subject's assigned roles through the
// membership store and computes their permission set. A store failure
// degrades to the empty set: an unresolvable subject has no access.
func (e *Engine) CalculateSubject(ctx context.Context, subjectID string) PermissionSet {
	if e.membership == nil {
		e.logger.Error("no membership store configured", "subject", subjectID)
		return PermissionSet{}
	}
	roles, err := e.membership.ListRoles(ctx, subjectID)
	if err != nil {
		e.logger.Error("membership lookup failed", "subject", subjectID, "error", err.Error())
		return PermissionSet{}
	}
	return e.Calculate(roles)
}

// CanEditField answers a field-level edit query against a computed set.
func (e *Engine) CanEditField(ps PermissionSet, fieldName string, isOwnRecord bool) bool {
	e.mu.RLock()
	fields := e.fields
	e.mu.RUnlock()
	allowed := fields != nil && fields.CanEditField(ps, fieldName, isOwnRecord)
	e.audit(DecisionField, nil, "field:"+fieldName, allowed, "")
	return allowed
}

// CanReadField answers a field-level read query against a computed set.
func (e *Engine) CanReadField(ps PermissionSet, fieldName string, isOwnRecord bool) bool {
	e.mu.RLock()
	fields := e.fields
	e.mu.RUnlock()
	allowed := fields != nil && fields.CanReadField(ps, fieldName, isOwnRecord)
	e.audit(DecisionField, nil, "field:"+fieldName, allowed, "")
	return allowed
}

// CanAccessModule decides module visibility.
//
// The role-based table is consulted first and can grant without waiting on
// the legacy fallback. A caller without any role is denied outright. The
// permission set contributes one thing: a full system grant ("all" write
// on the system resource) makes every module visible, mirroring the
// calculator's system short-circuit.
func (e *Engine) CanAccessModule(ctx context.Context, uc UserContext, ps PermissionSet, roleNames []string, moduleID string) bool {
	if len(roleNames) == 0 {
		e.audit(DecisionModule, roleNames, "module:"+moduleID, false, "no roles assigned")
		return false
	}
	if ps.Has(ResourceSystem, ActionWrite, TagAll) {
		e.audit(DecisionModule, roleNames, "module:"+moduleID, true, "system grant")
		return true
	}
	e.mu.RLock()
	eval := e.moduleEval
	e.mu.RUnlock()
	allowed := eval.CanAccess(ctx, uc, roleNames, moduleID)
	e.audit(DecisionModule, roleNames, "module:"+moduleID, allowed, "")
	return allowed
}

// IsRegionVisible answers a regional visibility query.
func (e *Engine) IsRegionVisible(ps PermissionSet, resource string, action Action, region string) bool {
	allowed := IsRegionVisible(ps, resource, action, region)
	e.audit(DecisionRegion, nil, resource+"/"+string(action)+"/"+region, allowed, "")
	return allowed
}

// CanApproveStatus reports the status-approval capability of a set.
func (e *Engine) CanApproveStatus(ps PermissionSet) bool {
	return CanApproveStatus(ps)
}

// Registry returns the live role catalog.
func (e *Engine) Registry() *Registry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry
}

// FieldRules returns the live field category table.
func (e *Engine) FieldRules() *FieldRules {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fields
}

// ModuleRules returns the live module visibility table.
func (e *Engine) ModuleRules() *ModuleRules {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modules
}

// AssignRole binds a role to a subject and invalidates the subject's
// cached permission set. This is the role-assignment change event the
// cache contract requires.
func (e *Engine) AssignRole(ctx context.Context, subjectID, roleName string) error {
	if e.membership == nil {
		return fmt.Errorf("no membership store configured")
	}
	before, _ := e.membership.ListRoles(ctx, subjectID)
	if err := e.membership.AssignRole(ctx, subjectID, roleName); err != nil {
		return err
	}
	e.invalidateAround(before, append(append([]string(nil), before...), roleName))
	return nil
}

// RevokeRole removes a role binding and invalidates the affected cache
// entries.
func (e *Engine) RevokeRole(ctx context.Context, subjectID, roleName string) error {
	if e.membership == nil {
		return fmt.Errorf("no membership store configured")
	}
	before, _ := e.membership.ListRoles(ctx, subjectID)
	if err := e.membership.RevokeRole(ctx, subjectID, roleName); err != nil {
		return err
	}
	after := make([]string, 0, len(before))
	for _, r := range before {
		if r != roleName {
			after = append(after, r)
		}
	}
	e.invalidateAround(before, after)
	return nil
}

func (e *Engine) invalidateAround(before, after []string) {
	cache := e.cacheRef()
	cache.Invalidate(CacheKey(before))
	cache.Invalidate(CacheKey(after))
}

// InvalidateRoleSet drops the cache entry for one role-name set, for
// callers reacting to external role-change events.
func (e *Engine) InvalidateRoleSet(roleNames []string) {
	e.cacheRef().Invalidate(CacheKey(roleNames))
}

// FlushCache drops every cached permission set, e.g. after a rule-table
// reload.
func (e *Engine) FlushCache() {
	e.cacheRef().Flush()
}

func (e *Engine) audit(kind DecisionKind, roleNames []string, object string, allowed bool, reason string) {
	entry := AuditEntry{
		ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		TraceID:   e.traceIDFunc(),
		Timestamp: time.Now(),
		Kind:      kind,
		RoleNames: roleNames,
		Object:    object,
		Allowed:   allowed,
		Reason:    reason,
	}

	e.logger.Info("access decision",
		"kind", string(kind),
		"roles", rolesForLog(roleNames),
		"object", object,
		"allowed", allowed,
		"reason", reason,
	)

	select {
	case e.auditCh <- entry:
	default:
		// drop rather than stall the decision path when the sink lags
	}
}

func rolesForLog(roleNames []string) string {
	if len(roleNames) == 0 {
		return "-"
	}
	sorted := append([]string(nil), roleNames...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
