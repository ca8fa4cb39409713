package clubperm

import (
	"testing"

	"github.com/hdcn/clubperm/logger"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, _, _, err := DefaultConfig().Build()
	if err != nil {
		t.Fatalf("build default config: %v", err)
	}
	return registry
}

func TestCalculateEmptyRoleListYieldsEmptySet(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps := calc.Calculate(nil)
	if !ps.IsEmpty() {
		t.Fatalf("expected empty set for roleless user, got %v", ps)
	}
	ps = calc.Calculate([]string{})
	if !ps.IsEmpty() {
		t.Fatalf("expected empty set for empty list, got %v", ps)
	}
}

func TestCalculateUnknownRolesAreDropped(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps := calc.Calculate([]string{"Members_Read_All", "Does_Not_Exist"})
	if !ps.Has(ResourceMembers, ActionRead, TagAll) {
		t.Fatalf("known role should still contribute, got %v", ps)
	}

	ps = calc.Calculate([]string{"Does_Not_Exist"})
	if !ps.IsEmpty() {
		t.Fatalf("unknown-only role list must yield empty set, got %v", ps)
	}
}

func TestCalculateNationalOverridesRegional(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps := calc.Calculate([]string{"Members_Read_All", "Members_Read_Region3"})
	tags := ps.Tags(ResourceMembers, ActionRead)
	if len(tags) != 1 || tags[0] != TagAll {
		t.Fatalf("expected national override to leave only [all], got %v", tags)
	}
}

func TestCalculateNationalOwnKeepsRegionalGrants(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps := calc.Calculate([]string{"hdcnLeden", "Members_Read_Region1"})
	if !ps.Has(ResourceMembers, ActionRead, TagOwn) {
		t.Fatalf("base role's own grant missing: %v", ps)
	}
	if !ps.Has(ResourceMembers, ActionRead, RegionTag("1")) {
		t.Fatalf("regional grant must survive a national own-only role: %v", ps)
	}
	if !IsRegionVisible(ps, ResourceMembers, ActionRead, "region1") {
		t.Fatalf("region 1 must stay visible with the base role added")
	}

	alone := calc.Calculate([]string{"Members_Read_Region1"})
	if len(alone.Tags(ResourceMembers, ActionRead)) > len(ps.Tags(ResourceMembers, ActionRead)) {
		t.Fatalf("adding a role narrowed the read tags: %v vs %v", alone, ps)
	}
}

func TestCalculateNationalOverrideIdempotent(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	first := calc.Calculate([]string{"Members_Read_All", "Members_Read_Region3"})
	second := calc.Calculate([]string{"Members_Read_Region3", "Members_Read_All", "Members_Read_All"})
	if len(first.Tags(ResourceMembers, ActionRead)) != len(second.Tags(ResourceMembers, ActionRead)) {
		t.Fatalf("order/duplicates changed the outcome: %v vs %v", first, second)
	}
}

func TestCalculateRegionalOnlyKeepsRegionTag(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps := calc.Calculate([]string{"Members_Read_Region1"})
	tags := ps.Tags(ResourceMembers, ActionRead)
	if len(tags) != 1 || tags[0] != RegionTag("1") {
		t.Fatalf("expected [region:1], got %v", tags)
	}
}

func TestCalculateTwoRegionalRolesUnion(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps := calc.Calculate([]string{"Members_Read_Region1", "Members_Read_Region4"})
	tags := ps.Tags(ResourceMembers, ActionRead)
	if len(tags) != 2 {
		t.Fatalf("expected both region tags, got %v", tags)
	}
	if !ps.Has(ResourceMembers, ActionRead, RegionTag("1")) || !ps.Has(ResourceMembers, ActionRead, RegionTag("4")) {
		t.Fatalf("missing a region tag: %v", tags)
	}
}

func TestCalculateMonotonicity(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	base := calc.Calculate([]string{"hdcnLeden"})
	wider := calc.Calculate([]string{"hdcnLeden", "Members_Read_Region2", "Members_Status_Approve"})

	for _, resource := range base.Resources() {
		for _, action := range []Action{ActionRead, ActionWrite, ActionExport} {
			for _, tag := range base.Tags(resource, action) {
				if !wider.Has(resource, action, tag) {
					t.Fatalf("adding roles removed %s/%s/%s", resource, action, tag)
				}
			}
		}
	}
}

func TestCalculateWriteImpliesRead(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps := calc.Calculate([]string{"Members_Status_Approve"})
	if !ps.Has(ResourceMemberStatus, ActionWrite, TagAll) {
		t.Fatalf("expected status write grant, got %v", ps)
	}
	if !ps.Has(ResourceMemberStatus, ActionRead, TagAll) {
		t.Fatalf("write grant must imply read, got %v", ps.Tags(ResourceMemberStatus, ActionRead))
	}
}

func TestCalculateSystemRoleShortCircuit(t *testing.T) {
	registry := testRegistry(t)
	calc := NewCalculator(registry, logger.NewNullLogger())

	ps := calc.Calculate([]string{DefaultSystemRole})
	for _, resource := range registry.Resources() {
		for _, action := range []Action{ActionRead, ActionWrite, ActionExport} {
			if !ps.Has(resource, action, TagAll) {
				t.Fatalf("system role missing all on %s/%s", resource, action)
			}
		}
	}

	// other roles in the set must not narrow the system grant
	combined := calc.Calculate([]string{"Members_Read_Region1", DefaultSystemRole})
	if !combined.Has(ResourceMembers, ActionRead, TagAll) {
		t.Fatalf("system grant narrowed by regional role: %v", combined.Tags(ResourceMembers, ActionRead))
	}
}

func TestCalculateDeduplicatesTags(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps := calc.Calculate([]string{"Members_Read_All", "Members_Admin_All"})
	tags := ps.Tags(ResourceMembers, ActionRead)
	seen := map[ScopeTag]bool{}
	for _, tag := range tags {
		if seen[tag] {
			t.Fatalf("duplicate tag %s in %v", tag, tags)
		}
		seen[tag] = true
	}
}

func TestCalculateWithTrace(t *testing.T) {
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	ps, trace := calc.CalculateWithTrace([]string{"Members_Read_All", "Nope"})
	if ps.IsEmpty() {
		t.Fatalf("expected non-empty set")
	}
	if len(trace) == 0 {
		t.Fatalf("expected a step trace")
	}
	foundDrop := false
	for _, step := range trace {
		if step == "role=Nope unknown, dropped" {
			foundDrop = true
		}
	}
	if !foundDrop {
		t.Fatalf("trace missing the dropped-role step: %v", trace)
	}
}
