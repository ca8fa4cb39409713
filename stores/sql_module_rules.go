package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/hdcn/clubperm"
)

// SQLModuleRuleStore persists the role-to-module visibility table.
type SQLModuleRuleStore struct {
	db *squealx.DB
}

func NewSQLModuleRuleStore(db *squealx.DB) *SQLModuleRuleStore {
	return &SQLModuleRuleStore{db: db}
}

func (s *SQLModuleRuleStore) SaveRule(ctx context.Context, rule clubperm.ModuleRule) error {
	for _, pattern := range rule.Modules {
		q := `INSERT OR IGNORE INTO module_rules(role_name, module_pattern) VALUES(:role_name, :module_pattern)`
		if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_name": rule.Role, "module_pattern": pattern}); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLModuleRuleStore) DeleteRule(ctx context.Context, role string) error {
	q := `DELETE FROM module_rules WHERE role_name = :role_name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_name": role})
	return err
}

func (s *SQLModuleRuleStore) ListRules(ctx context.Context) ([]clubperm.ModuleRule, error) {
	q := `SELECT role_name, module_pattern FROM module_rules ORDER BY role_name, module_pattern`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	byRole := make(map[string][]string)
	order := make([]string, 0)
	for r.Next() {
		var role, pattern string
		if err := r.Scan(&role, &pattern); err != nil {
			return nil, err
		}
		if _, seen := byRole[role]; !seen {
			order = append(order, role)
		}
		byRole[role] = append(byRole[role], pattern)
	}
	out := make([]clubperm.ModuleRule, 0, len(order))
	for _, role := range order {
		out = append(out, clubperm.ModuleRule{Role: role, Modules: byRole[role]})
	}
	return out, nil
}
