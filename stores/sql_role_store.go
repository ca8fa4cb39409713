package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/hdcn/clubperm"
)

// SQLRoleDefinitionStore persists the role catalog in SQL (squealx).
type SQLRoleDefinitionStore struct {
	db *squealx.DB
}

func NewSQLRoleDefinitionStore(db *squealx.DB) *SQLRoleDefinitionStore {
	return &SQLRoleDefinitionStore{db: db}
}

func (s *SQLRoleDefinitionStore) SaveRole(ctx context.Context, def *clubperm.RoleDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	perms, _ := json.Marshal(def.Permissions)
	now := time.Now()
	q := `INSERT INTO role_definitions(name, precedence, scope, region, permissions_json, created_at, updated_at)
VALUES(:name, :precedence, :scope, :region, :permissions_json, :now, :now)
ON CONFLICT(name) DO UPDATE SET precedence=:precedence, scope=:scope, region=:region, permissions_json=:permissions_json, updated_at=:now`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"name":             def.Name,
		"precedence":       int(def.Precedence),
		"scope":            string(def.Scope),
		"region":           def.Region,
		"permissions_json": string(perms),
		"now":              now,
	})
	return err
}

func (s *SQLRoleDefinitionStore) GetRole(ctx context.Context, name string) (*clubperm.RoleDefinition, error) {
	q := `SELECT name, precedence, scope, region, permissions_json FROM role_definitions WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("%w: role %s", clubperm.ErrNotFound, name)
	}
	return scanRoleDefinition(r)
}

func (s *SQLRoleDefinitionStore) DeleteRole(ctx context.Context, name string) error {
	q := `DELETE FROM role_definitions WHERE name = :name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"name": name})
	return err
}

func (s *SQLRoleDefinitionStore) ListRoles(ctx context.Context) ([]*clubperm.RoleDefinition, error) {
	q := `SELECT name, precedence, scope, region, permissions_json FROM role_definitions ORDER BY precedence`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*clubperm.RoleDefinition, 0)
	for r.Next() {
		def, err := scanRoleDefinition(r)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoleDefinition(r rowScanner) (*clubperm.RoleDefinition, error) {
	var name, scope, region, permsJSON string
	var prec int
	if err := r.Scan(&name, &prec, &scope, &region, &permsJSON); err != nil {
		return nil, err
	}
	def := &clubperm.RoleDefinition{
		Name:       name,
		Precedence: clubperm.Precedence(prec),
		Scope:      clubperm.Scope(scope),
		Region:     region,
	}
	if err := json.Unmarshal([]byte(permsJSON), &def.Permissions); err != nil {
		return nil, fmt.Errorf("role %s: decode permissions: %w", name, err)
	}
	return def, nil
}

// LoadRegistry rebuilds the validated registry from the persisted catalog.
func (s *SQLRoleDefinitionStore) LoadRegistry(ctx context.Context, opts ...clubperm.RegistryOption) (*clubperm.Registry, error) {
	defs, err := s.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	return clubperm.NewRegistry(defs, opts...)
}
