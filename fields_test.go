package clubperm

import (
	"errors"
	"testing"

	"github.com/hdcn/clubperm/logger"
)

func testFieldRules(t *testing.T) *FieldRules {
	t.Helper()
	fr, err := NewFieldRules(DefaultFieldCategories())
	if err != nil {
		t.Fatalf("load field rules: %v", err)
	}
	return fr
}

func TestNewFieldRulesRejectsDuplicateField(t *testing.T) {
	_, err := NewFieldRules(map[FieldCategory][]string{
		CategoryPersonal:       {"telefoon"},
		CategoryAdministrative: {"telefoon"},
	})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error for duplicated field, got %v", err)
	}
}

func TestNewFieldRulesRejectsUnknownCategory(t *testing.T) {
	_, err := NewFieldRules(map[FieldCategory][]string{
		"secret": {"x"},
	})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error for unknown category, got %v", err)
	}
}

func TestCanEditOwnPersonalField(t *testing.T) {
	fr := testFieldRules(t)
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())
	ps := calc.Calculate([]string{"hdcnLeden"})

	if !fr.CanEditField(ps, "telefoon", true) {
		t.Fatalf("member must be able to edit their own phone number")
	}
	if fr.CanEditField(ps, "telefoon", false) {
		t.Fatalf("own-scope write must not reach other records")
	}
}

func TestCanEditOwnPersonalFieldNeedsOwnWriteTag(t *testing.T) {
	fr := testFieldRules(t)

	regionalWrite := PermissionSet{
		ResourceMembers: ActionSet{
			Read:  []ScopeTag{RegionTag("1")},
			Write: []ScopeTag{RegionTag("1")},
		},
	}
	if fr.CanEditField(regionalWrite, "telefoon", true) {
		t.Fatalf("a regional write tag must not grant own-record edits")
	}

	ownWrite := PermissionSet{
		ResourceMembers: ActionSet{
			Read:  []ScopeTag{TagOwn},
			Write: []ScopeTag{TagOwn},
		},
	}
	if !fr.CanEditField(ownWrite, "telefoon", true) {
		t.Fatalf("own write tag should grant own-record edits")
	}
}

func TestCanEditAdministrativeFieldRequiresAllWrite(t *testing.T) {
	fr := testFieldRules(t)
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	member := calc.Calculate([]string{"hdcnLeden"})
	if fr.CanEditField(member, "lidnummer", true) {
		t.Fatalf("ownership must not unlock administrative fields")
	}

	admin := calc.Calculate([]string{"Members_Admin_All"})
	if !fr.CanEditField(admin, "lidnummer", false) {
		t.Fatalf("all-write grant must unlock administrative fields")
	}
}

func TestCanEditStatusFieldRequiresApprovalCapability(t *testing.T) {
	fr := testFieldRules(t)
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	member := calc.Calculate([]string{"hdcnLeden"})
	if fr.CanEditField(member, "status", true) {
		t.Fatalf("status must not be editable without the approval capability")
	}

	approver := calc.Calculate([]string{"Members_Status_Approve"})
	if !fr.CanEditField(approver, "status", false) {
		t.Fatalf("status approver must be able to edit status fields")
	}
	if !CanApproveStatus(approver) {
		t.Fatalf("approver set must carry the approval capability")
	}
	if CanApproveStatus(member) {
		t.Fatalf("member set must not carry the approval capability")
	}
}

func TestCanEditUnknownFieldDenied(t *testing.T) {
	fr := testFieldRules(t)
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())
	admin := calc.Calculate([]string{DefaultSystemRole})

	if fr.CanEditField(admin, "nonexistent_column", true) {
		t.Fatalf("unclassified fields must be denied even for the system role")
	}
}

func TestCanEditMotorcycleField(t *testing.T) {
	fr := testFieldRules(t)
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	member := calc.Calculate([]string{"hdcnLeden"})
	if !fr.CanEditField(member, "kenteken", true) {
		t.Fatalf("member must manage their own motorcycle data")
	}
	if fr.CanEditField(member, "kenteken", false) {
		t.Fatalf("own-scope must not write other records")
	}
}

func TestCanReadField(t *testing.T) {
	fr := testFieldRules(t)
	calc := NewCalculator(testRegistry(t), logger.NewNullLogger())

	regional := calc.Calculate([]string{"Members_Read_Region2"})
	if !fr.CanReadField(regional, "voornaam", false) {
		t.Fatalf("regional reader should see personal fields of regional records")
	}
	if fr.CanReadField(regional, "lidnummer", false) {
		t.Fatalf("regional reader must not see administrative fields")
	}

	admin := calc.Calculate([]string{"Members_Read_All"})
	if !fr.CanReadField(admin, "lidnummer", false) {
		t.Fatalf("national reader should see administrative fields")
	}
}

func TestFieldRulesCategories(t *testing.T) {
	fr := testFieldRules(t)
	cats := fr.Categories()
	if len(cats) != 4 {
		t.Fatalf("expected 4 categories, got %v", cats)
	}
	if len(cats[string(CategoryPersonal)]) == 0 {
		t.Fatalf("personal category empty")
	}
	if got, ok := fr.Category("telefoon"); !ok || got != CategoryPersonal {
		t.Fatalf("telefoon should be personal, got %v %v", got, ok)
	}
}
