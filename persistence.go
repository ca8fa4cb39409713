package clubperm

import "context"

// RoleDefinitionStore persists the role catalog. The registry itself is
// immutable; admin tooling writes through a store and rebuilds the
// registry from List at startup or on ApplyConfig.
type RoleDefinitionStore interface {
	SaveRole(ctx context.Context, def *RoleDefinition) error
	GetRole(ctx context.Context, name string) (*RoleDefinition, error)
	DeleteRole(ctx context.Context, name string) error
	ListRoles(ctx context.Context) ([]*RoleDefinition, error)
}

// ModuleRuleStore persists the role-to-module visibility table.
type ModuleRuleStore interface {
	SaveRule(ctx context.Context, rule ModuleRule) error
	DeleteRule(ctx context.Context, role string) error
	ListRules(ctx context.Context) ([]ModuleRule, error)
}
