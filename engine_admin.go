package clubperm

import (
	"context"
	"fmt"
)

// WithRoleDefinitionStore installs catalog persistence; admin mutations
// write through it before the in-memory registry is swapped.
func WithRoleDefinitionStore(s RoleDefinitionStore) EngineOption {
	return func(e *Engine) error {
		e.roleDefs = s
		return nil
	}
}

// ExplainRequest is the request shape of the Explain admin API.
type ExplainRequest struct {
	SubjectID string   `json:"subject_id,omitempty"`
	Roles     []string `json:"roles"`
	Resource  string   `json:"resource,omitempty"`
	Action    string   `json:"action,omitempty"`
	Region    string   `json:"region,omitempty"`
}

// ExplainResponse carries the computed set, the calculation trace and,
// when the request names a resource/action, the concrete answer.
type ExplainResponse struct {
	Permissions PermissionSet `json:"permissions"`
	Trace       []string      `json:"trace"`
	Allowed     *bool         `json:"allowed,omitempty"`
}

// ExplainRequest resolves an explain query. When the request carries only
// a subject, roles are looked up through the membership store first.
func (e *Engine) ExplainRequest(ctx context.Context, req *ExplainRequest) (*ExplainResponse, error) {
	roles := req.Roles
	if len(roles) == 0 && req.SubjectID != "" {
		if e.membership == nil {
			return nil, fmt.Errorf("no membership store configured")
		}
		var err error
		roles, err = e.membership.ListRoles(ctx, req.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("resolve roles for %s: %w", req.SubjectID, err)
		}
	}

	ps, trace := e.Explain(roles)
	resp := &ExplainResponse{Permissions: ps, Trace: trace}
	if req.Resource != "" && req.Action != "" {
		var allowed bool
		if req.Region != "" {
			allowed = IsRegionVisible(ps, req.Resource, Action(req.Action), req.Region)
		} else {
			allowed = len(ps.Tags(req.Resource, Action(req.Action))) > 0
		}
		resp.Allowed = &allowed
	}
	return resp, nil
}

// UpsertRole adds or replaces one role definition. The registry is
// rebuilt so cross-definition invariants still hold, the change is
// persisted when a definition store is configured, and the decision
// cache is flushed: any cached set could have been computed from the old
// definition.
func (e *Engine) UpsertRole(ctx context.Context, def *RoleDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil role definition", ErrConfig)
	}
	if err := def.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defs := make([]*RoleDefinition, 0, e.registry.Len()+1)
	for _, existing := range e.registry.Definitions() {
		if existing.Name != def.Name {
			defs = append(defs, existing)
		}
	}
	defs = append(defs, def)
	registry, err := NewRegistry(defs, WithSystemRole(e.registry.SystemRole()))
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.registry = registry
	e.calc = NewCalculator(registry, e.logger)
	e.mu.Unlock()

	if e.roleDefs != nil {
		if err := e.roleDefs.SaveRole(ctx, def); err != nil {
			return fmt.Errorf("persist role %s: %w", def.Name, err)
		}
	}

	e.FlushCache()
	e.logger.Info("role definition upserted", "role", def.Name)
	return nil
}

// DeleteRole removes a role definition from the catalog and flushes the
// decision cache. Deleting the reserved system role is refused.
func (e *Engine) DeleteRole(ctx context.Context, name string) error {
	e.mu.Lock()
	if name == e.registry.SystemRole() {
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot delete the reserved system role %q", ErrConfig, name)
	}
	if _, ok := e.registry.Resolve(name); !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: role %s", ErrNotFound, name)
	}
	defs := make([]*RoleDefinition, 0, e.registry.Len())
	for _, existing := range e.registry.Definitions() {
		if existing.Name != name {
			defs = append(defs, existing)
		}
	}
	registry, err := NewRegistry(defs, WithSystemRole(e.registry.SystemRole()))
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.registry = registry
	e.calc = NewCalculator(registry, e.logger)
	e.mu.Unlock()

	if e.roleDefs != nil {
		if err := e.roleDefs.DeleteRole(ctx, name); err != nil {
			return fmt.Errorf("delete role %s: %w", name, err)
		}
	}

	e.FlushCache()
	e.logger.Info("role definition deleted", "role", name)
	return nil
}

// CalculateBatch computes permission sets for many role-name lists at
// once, sharing the cache across entries.
func (e *Engine) CalculateBatch(roleSets [][]string) []PermissionSet {
	out := make([]PermissionSet, len(roleSets))
	for i, roles := range roleSets {
		out[i] = e.Calculate(roles)
	}
	return out
}

// GetAccessLog queries the configured audit sink.
func (e *Engine) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	if e.auditStore == nil {
		return nil, fmt.Errorf("no audit store configured")
	}
	return e.auditStore.GetAccessLog(ctx, filter)
}
