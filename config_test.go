package clubperm

import (
	"context"
	"sync"
	"testing"

	"github.com/hdcn/clubperm/logger"
)

func TestDefaultConfigBuilds(t *testing.T) {
	registry, fields, modules, err := DefaultConfig().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if registry.Len() != 10 {
		t.Fatalf("expected 10 roles in the stock catalog, got %d", registry.Len())
	}
	if _, ok := registry.Resolve("hdcnLeden"); !ok {
		t.Fatalf("base member role missing")
	}
	if _, ok := fields.Category("telefoon"); !ok {
		t.Fatalf("default field table missing telefoon")
	}
	if len(modules.Modules("Members_Read_Region5")) == 0 {
		t.Fatalf("regional template not expanded for region 5")
	}
}

func TestConfigYAMLRoundtrip(t *testing.T) {
	cfg := DefaultConfig()
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}

	loaded, err := NewConfigLoader().LoadYAML(data)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if len(loaded.Roles) != len(cfg.Roles) {
		t.Fatalf("roles lost in yaml roundtrip: %d vs %d", len(loaded.Roles), len(cfg.Roles))
	}
	if _, _, _, err := loaded.Build(); err != nil {
		t.Fatalf("reloaded config no longer builds: %v", err)
	}
}

func TestConfigJSONRoundtrip(t *testing.T) {
	cfg := DefaultConfig()
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	loaded, err := NewConfigLoader().LoadJSON(data)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(loaded.Roles) != len(cfg.Roles) {
		t.Fatalf("roles lost in json roundtrip")
	}
}

func TestConfigBinaryRoundtrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memberships = []RoleMembership{{SubjectID: "user-1", RoleName: "hdcnLeden"}}

	data, err := EncodeBinaryConfig(cfg)
	if err != nil {
		t.Fatalf("encode binary: %v", err)
	}
	loaded, err := NewConfigLoader().LoadBinary(data)
	if err != nil {
		t.Fatalf("load binary: %v", err)
	}

	if loaded.Version != cfg.Version {
		t.Fatalf("version lost: %d vs %d", loaded.Version, cfg.Version)
	}
	if len(loaded.Roles) != len(cfg.Roles) {
		t.Fatalf("roles lost in binary roundtrip")
	}
	if len(loaded.Memberships) != 1 || loaded.Memberships[0].SubjectID != "user-1" {
		t.Fatalf("memberships lost: %v", loaded.Memberships)
	}
	if loaded.Engine.CacheTTL != cfg.Engine.CacheTTL {
		t.Fatalf("engine config lost: %+v", loaded.Engine)
	}
	if _, _, _, err := loaded.Build(); err != nil {
		t.Fatalf("binary-decoded config no longer builds: %v", err)
	}
}

func TestConfigBinaryRejectsBadMagic(t *testing.T) {
	if _, err := NewConfigLoader().LoadBinary([]byte{0xDE, 0xAD, 0x00, 0x01, 0x00, 0x01}); err == nil {
		t.Fatalf("expected magic mismatch error")
	}
}

func TestConfigBuildRejectsBadRole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles = append(cfg.Roles, RoleConfig{Name: "Broken", Precedence: 999, Scope: "galactic"})
	if _, _, _, err := cfg.Build(); err == nil {
		t.Fatalf("expected build failure for unknown scope")
	}
}

func TestApplyConfigSwapsTables(t *testing.T) {
	registry, fields, modules, err := DefaultConfig().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	engine, err := NewEngine(registry, fields, modules, WithLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	// prime the cache under the old catalog
	before := engine.Calculate([]string{"Members_Read_All"})
	if !before.Has(ResourceMembers, ActionRead, TagAll) {
		t.Fatalf("priming calculation failed: %v", before)
	}

	smaller := NewConfigBuilder().
		AddRole(RoleConfig{
			Name: DefaultSystemRole, Precedence: 0, Scope: string(ScopeSystem),
			Permissions: map[string]ActionSetConfig{ResourceSystem: {Write: []string{"all"}}},
		}).
		AddRole(RoleConfig{
			Name: "Members_Read_All", Precedence: 20, Scope: string(ScopeNational),
			Permissions: map[string]ActionSetConfig{ResourceMembers: {Read: []string{"own"}}},
		}).
		Build()

	if err := engine.ApplyConfig(context.Background(), smaller); err != nil {
		t.Fatalf("apply config: %v", err)
	}

	after := engine.Calculate([]string{"Members_Read_All"})
	if after.Has(ResourceMembers, ActionRead, TagAll) {
		t.Fatalf("cache served a stale set after ApplyConfig: %v", after)
	}
	if !after.Has(ResourceMembers, ActionRead, TagOwn) {
		t.Fatalf("new catalog not in effect: %v", after)
	}
}

func TestConfigBuildWithoutRegionalRoles(t *testing.T) {
	cfg := NewConfigBuilder().
		AddRole(RoleConfig{
			Name: "Members_Read_All", Precedence: 20, Scope: string(ScopeNational),
			Permissions: map[string]ActionSetConfig{ResourceMembers: {Read: []string{"all"}}},
		}).
		Build()

	_, _, modules, err := cfg.Build()
	if err != nil {
		t.Fatalf("catalog without regional roles must build: %v", err)
	}
	if len(modules.Modules("Members_Read_All")) != 0 {
		t.Fatalf("empty module list must yield no module rules")
	}
}

func TestApplyConfigConcurrentWithCalculate(t *testing.T) {
	registry, fields, modules, err := DefaultConfig().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	engine, err := NewEngine(registry, fields, modules, WithLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	cfg := DefaultConfig()
	cfg.Engine.CacheTTL = 50

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				ps := engine.Calculate([]string{"Members_Read_All"})
				if !ps.Has(ResourceMembers, ActionRead, TagAll) {
					t.Errorf("lost grant during reload: %v", ps)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if err := engine.ApplyConfig(context.Background(), cfg); err != nil {
			t.Fatalf("apply config: %v", err)
		}
	}
	close(done)
	wg.Wait()
}

func TestExportConfigRoundtrip(t *testing.T) {
	registry, fields, modules, err := DefaultConfig().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	engine, err := NewEngine(registry, fields, modules, WithLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	exported := engine.ExportConfig()
	if len(exported.Roles) != registry.Len() {
		t.Fatalf("exported %d roles, registry has %d", len(exported.Roles), registry.Len())
	}
	if _, _, _, err := exported.Build(); err != nil {
		t.Fatalf("exported config does not build: %v", err)
	}
}
