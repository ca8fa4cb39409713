package stores

import (
	"context"
	"fmt"
	"sync"

	"github.com/hdcn/clubperm"
)

// MemoryRoleDefinitionStore implements in-memory catalog persistence for
// testing/demo.
type MemoryRoleDefinitionStore struct {
	mu    sync.RWMutex
	roles map[string]*clubperm.RoleDefinition
}

func NewMemoryRoleDefinitionStore() *MemoryRoleDefinitionStore {
	return &MemoryRoleDefinitionStore{roles: make(map[string]*clubperm.RoleDefinition)}
}

func (s *MemoryRoleDefinitionStore) SaveRole(ctx context.Context, def *clubperm.RoleDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[def.Name] = def
	return nil
}

func (s *MemoryRoleDefinitionStore) GetRole(ctx context.Context, name string) (*clubperm.RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.roles[name]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", clubperm.ErrNotFound, name)
	}
	return def, nil
}

func (s *MemoryRoleDefinitionStore) DeleteRole(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, name)
	return nil
}

func (s *MemoryRoleDefinitionStore) ListRoles(ctx context.Context) ([]*clubperm.RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*clubperm.RoleDefinition, 0, len(s.roles))
	for _, def := range s.roles {
		out = append(out, def)
	}
	return out, nil
}

// MemoryRoleMembershipStore implements in-memory subject->roles bindings.
type MemoryRoleMembershipStore struct {
	mu       sync.RWMutex
	bindings map[string]map[string]struct{}
}

func NewMemoryRoleMembershipStore() *MemoryRoleMembershipStore {
	return &MemoryRoleMembershipStore{bindings: make(map[string]map[string]struct{})}
}

func (s *MemoryRoleMembershipStore) AssignRole(ctx context.Context, subjectID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bindings[subjectID] == nil {
		s.bindings[subjectID] = make(map[string]struct{})
	}
	s.bindings[subjectID][roleName] = struct{}{}
	return nil
}

func (s *MemoryRoleMembershipStore) RevokeRole(ctx context.Context, subjectID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings[subjectID], roleName)
	return nil
}

func (s *MemoryRoleMembershipStore) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bindings[subjectID]))
	for role := range s.bindings[subjectID] {
		out = append(out, role)
	}
	return out, nil
}

// MemoryModuleRuleStore implements in-memory module rule persistence.
type MemoryModuleRuleStore struct {
	mu    sync.RWMutex
	rules map[string][]string
}

func NewMemoryModuleRuleStore() *MemoryModuleRuleStore {
	return &MemoryModuleRuleStore{rules: make(map[string][]string)}
}

func (s *MemoryModuleRuleStore) SaveRule(ctx context.Context, rule clubperm.ModuleRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pattern := range rule.Modules {
		dup := false
		for _, have := range s.rules[rule.Role] {
			if have == pattern {
				dup = true
				break
			}
		}
		if !dup {
			s.rules[rule.Role] = append(s.rules[rule.Role], pattern)
		}
	}
	return nil
}

func (s *MemoryModuleRuleStore) DeleteRule(ctx context.Context, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, role)
	return nil
}

func (s *MemoryModuleRuleStore) ListRules(ctx context.Context) ([]clubperm.ModuleRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]clubperm.ModuleRule, 0, len(s.rules))
	for role, patterns := range s.rules {
		out = append(out, clubperm.ModuleRule{Role: role, Modules: append([]string(nil), patterns...)})
	}
	return out, nil
}
