package clubperm

import (
	"errors"
	"testing"
)

func TestNewRegistryRejectsDuplicateName(t *testing.T) {
	defs := []*RoleDefinition{
		{Name: "A", Precedence: 1, Scope: ScopeNational},
		{Name: "A", Precedence: 2, Scope: ScopeNational},
	}
	_, err := NewRegistry(defs)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error for duplicate name, got %v", err)
	}
}

func TestNewRegistryRejectsDuplicatePrecedence(t *testing.T) {
	defs := []*RoleDefinition{
		{Name: "A", Precedence: 1, Scope: ScopeNational},
		{Name: "B", Precedence: 1, Scope: ScopeNational},
	}
	_, err := NewRegistry(defs)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error for duplicate precedence, got %v", err)
	}
}

func TestNewRegistryRejectsRegionalWithoutRegion(t *testing.T) {
	defs := []*RoleDefinition{
		{Name: "A", Precedence: 1, Scope: ScopeRegional},
	}
	_, err := NewRegistry(defs)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error for missing region, got %v", err)
	}
}

func TestNewRegistryRejectsMalformedTag(t *testing.T) {
	defs := []*RoleDefinition{
		{
			Name: "A", Precedence: 1, Scope: ScopeNational,
			Permissions: map[string]ActionSet{
				ResourceMembers: {Read: []ScopeTag{"sideways"}},
			},
		},
	}
	_, err := NewRegistry(defs)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error for malformed tag, got %v", err)
	}
}

func TestRegistryResourceUniverseIncludesBuiltins(t *testing.T) {
	registry, err := NewRegistry([]*RoleDefinition{
		{
			Name: "Custom", Precedence: 1, Scope: ScopeNational,
			Permissions: map[string]ActionSet{
				"magazines": {Read: []ScopeTag{TagAll}},
			},
		},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := append([]string{"magazines"}, BuiltinResources...)
	have := registry.Resources()
	for _, resource := range want {
		found := false
		for _, r := range have {
			if r == resource {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("resource universe missing %s: %v", resource, have)
		}
	}
}

func TestRegistryRegions(t *testing.T) {
	registry := testRegistry(t)
	regions := registry.Regions()
	if len(regions) != 5 {
		t.Fatalf("expected 5 regions, got %v", regions)
	}
	if regions[0] != "1" || regions[4] != "5" {
		t.Fatalf("unexpected region ids: %v", regions)
	}
}

func TestRegistryCustomSystemRole(t *testing.T) {
	registry, err := NewRegistry([]*RoleDefinition{
		{Name: "Root", Precedence: 0, Scope: ScopeSystem},
	}, WithSystemRole("Root"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if registry.SystemRole() != "Root" {
		t.Fatalf("expected system role Root, got %s", registry.SystemRole())
	}
}

func TestRegistryDefinitionsSortedByPrecedence(t *testing.T) {
	registry := testRegistry(t)
	defs := registry.Definitions()
	for i := 1; i < len(defs); i++ {
		if defs[i].Precedence.Less(defs[i-1].Precedence) {
			t.Fatalf("definitions not sorted: %s before %s", defs[i-1].Name, defs[i].Name)
		}
	}
	if defs[0].Name != DefaultSystemRole {
		t.Fatalf("expected system role first, got %s", defs[0].Name)
	}
}
