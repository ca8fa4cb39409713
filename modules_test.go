package clubperm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hdcn/clubperm/logger"
)

func testModuleRules(t *testing.T) *ModuleRules {
	t.Helper()
	_, _, modules, err := DefaultConfig().Build()
	if err != nil {
		t.Fatalf("build default config: %v", err)
	}
	return modules
}

func TestModuleRulesTemplateExpansion(t *testing.T) {
	rules := testModuleRules(t)

	patterns := rules.Modules("Members_Read_Region3")
	if len(patterns) != 2 {
		t.Fatalf("expected 2 expanded patterns for region 3, got %v", patterns)
	}
	if !rules.Grants([]string{"Members_Read_Region3"}, "members:list:region3") {
		t.Fatalf("expanded template should grant its own region's module")
	}
	if rules.Grants([]string{"Members_Read_Region3"}, "members:list:region4") {
		t.Fatalf("expanded template must not grant other regions")
	}
}

func TestModuleRulesWildcard(t *testing.T) {
	rules := testModuleRules(t)

	if !rules.Grants([]string{DefaultSystemRole}, "anything:at:all") {
		t.Fatalf("system role's * pattern should grant every module")
	}
	if !rules.Grants([]string{"Members_Admin_All"}, "members:export") {
		t.Fatalf("members:* should cover members:export")
	}
	if rules.Grants([]string{"Members_Admin_All"}, "events:calendar") {
		t.Fatalf("members:* must not cover events modules")
	}
}

func TestNewModuleRulesRejectsEmptyRule(t *testing.T) {
	registry := testRegistry(t)
	_, err := NewModuleRules([]ModuleRule{{Role: "", Modules: []string{"x"}}}, registry)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error for empty role, got %v", err)
	}
	_, err = NewModuleRules([]ModuleRule{{Role: "A", Modules: nil}}, registry)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error for empty module list, got %v", err)
	}
}

func TestCanAccessEmptyRolesAlwaysDenied(t *testing.T) {
	fallbackCalled := false
	fb := func(ctx context.Context, uc UserContext, moduleID string) (bool, error) {
		fallbackCalled = true
		return true, nil
	}
	ev := NewModuleEvaluator(testModuleRules(t), fb, time.Second, logger.NewNullLogger())

	if ev.CanAccess(context.Background(), UserContext{}, nil, "members:list") {
		t.Fatalf("roleless caller must be denied")
	}
	if fallbackCalled {
		t.Fatalf("fallback must not run for a roleless caller")
	}
}

func TestCanAccessTableHitSkipsFallback(t *testing.T) {
	fallbackCalled := false
	fb := func(ctx context.Context, uc UserContext, moduleID string) (bool, error) {
		fallbackCalled = true
		return false, nil
	}
	ev := NewModuleEvaluator(testModuleRules(t), fb, time.Second, logger.NewNullLogger())

	if !ev.CanAccess(context.Background(), UserContext{}, []string{"Members_Read_All"}, "members:list") {
		t.Fatalf("table hit should grant")
	}
	if fallbackCalled {
		t.Fatalf("fallback must not run on a table hit")
	}
}

func TestCanAccessFallbackGrant(t *testing.T) {
	fb := func(ctx context.Context, uc UserContext, moduleID string) (bool, error) {
		return moduleID == "legacy:archive", nil
	}
	ev := NewModuleEvaluator(testModuleRules(t), fb, time.Second, logger.NewNullLogger())

	if !ev.CanAccess(context.Background(), UserContext{SubjectID: "u1"}, []string{"hdcnLeden"}, "legacy:archive") {
		t.Fatalf("fallback grant should pass through")
	}
	if ev.CanAccess(context.Background(), UserContext{SubjectID: "u1"}, []string{"hdcnLeden"}, "legacy:other") {
		t.Fatalf("fallback deny should pass through")
	}
}

func TestCanAccessFallbackErrorDenies(t *testing.T) {
	fb := func(ctx context.Context, uc UserContext, moduleID string) (bool, error) {
		return true, errors.New("parameter store unavailable")
	}
	ev := NewModuleEvaluator(testModuleRules(t), fb, time.Second, logger.NewNullLogger())

	if ev.CanAccess(context.Background(), UserContext{}, []string{"hdcnLeden"}, "legacy:archive") {
		t.Fatalf("fallback error must degrade to deny")
	}
}

func TestCanAccessFallbackTimeoutDenies(t *testing.T) {
	fb := func(ctx context.Context, uc UserContext, moduleID string) (bool, error) {
		select {
		case <-time.After(5 * time.Second):
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	ev := NewModuleEvaluator(testModuleRules(t), fb, 50*time.Millisecond, logger.NewNullLogger())

	start := time.Now()
	if ev.CanAccess(context.Background(), UserContext{}, []string{"hdcnLeden"}, "legacy:slow") {
		t.Fatalf("slow fallback must be denied")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout did not bound the fallback wait")
	}
}

func TestCanAccessNoFallbackDenies(t *testing.T) {
	ev := NewModuleEvaluator(testModuleRules(t), nil, time.Second, logger.NewNullLogger())
	if ev.CanAccess(context.Background(), UserContext{}, []string{"hdcnLeden"}, "legacy:archive") {
		t.Fatalf("table miss without fallback must deny")
	}
}

func TestNewModuleRulesRegionPlaceholderOnNationalRole(t *testing.T) {
	registry := testRegistry(t)
	_, err := NewModuleRules([]ModuleRule{
		{Role: "Members_Read_All", Modules: []string{"members:list:region{region}"}},
	}, registry)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("placeholder on non-regional role must be rejected, got %v", err)
	}
}
