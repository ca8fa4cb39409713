package clubperm

import (
	"fmt"
	"sort"
)

// FieldCategory groups member-record fields sharing one access rule.
type FieldCategory string

const (
	CategoryPersonal       FieldCategory = "personal"
	CategoryMotorcycle     FieldCategory = "motorcycle"
	CategoryAdministrative FieldCategory = "administrative"
	CategoryStatus         FieldCategory = "status"
)

func (c FieldCategory) Valid() bool {
	switch c {
	case CategoryPersonal, CategoryMotorcycle, CategoryAdministrative, CategoryStatus:
		return true
	}
	return false
}

// FieldRules is the static field-to-category table. Loaded once at
// startup, read-only afterwards.
type FieldRules struct {
	byField    map[string]FieldCategory
	byCategory map[FieldCategory][]string
}

// NewFieldRules validates and loads the category table. Every field must
// belong to exactly one category; a field listed twice is a configuration
// error, not a runtime tie to break.
func NewFieldRules(categories map[FieldCategory][]string) (*FieldRules, error) {
	fr := &FieldRules{
		byField:    make(map[string]FieldCategory),
		byCategory: make(map[FieldCategory][]string, len(categories)),
	}
	for category, fields := range categories {
		if !category.Valid() {
			return nil, fmt.Errorf("%w: unknown field category %q", ErrConfig, category)
		}
		for _, field := range fields {
			if field == "" {
				return nil, fmt.Errorf("%w: empty field name in category %q", ErrConfig, category)
			}
			if prev, dup := fr.byField[field]; dup {
				return nil, fmt.Errorf("%w: field %q appears in categories %q and %q", ErrConfig, field, prev, category)
			}
			fr.byField[field] = category
			fr.byCategory[category] = append(fr.byCategory[category], field)
		}
	}
	for category := range fr.byCategory {
		sort.Strings(fr.byCategory[category])
	}
	return fr, nil
}

// Category resolves the category a field belongs to.
func (fr *FieldRules) Category(field string) (FieldCategory, bool) {
	c, ok := fr.byField[field]
	return c, ok
}

// Fields returns the sorted field names of a category.
func (fr *FieldRules) Fields(category FieldCategory) []string {
	return fr.byCategory[category]
}

// Categories returns the full table keyed by category name, in the shape
// the config layer serializes.
func (fr *FieldRules) Categories() map[string][]string {
	out := make(map[string][]string, len(fr.byCategory))
	for category, fields := range fr.byCategory {
		out[string(category)] = append([]string(nil), fields...)
	}
	return out
}

// CanEditField decides edit eligibility for one field.
//
// Unknown fields are denied outright so a newly added column never leaks
// editability before it is classified. Administrative data requires an
// "all" write grant on members; owning the record never helps there.
// Personal and motorcycle data is editable on the caller's own record with
// at least an "own" write tag, or on any record with "all". Status fields
// require the dedicated approval capability instead of the general member
// write grant: editing a profile and approving a status are
// organizationally distinct authorities.
func (fr *FieldRules) CanEditField(ps PermissionSet, field string, isOwnRecord bool) bool {
	category, ok := fr.byField[field]
	if !ok {
		return false
	}
	switch category {
	case CategoryAdministrative:
		return ps.Has(ResourceMembers, ActionWrite, TagAll)
	case CategoryStatus:
		return CanApproveStatus(ps)
	case CategoryPersonal, CategoryMotorcycle:
		if ps.Has(ResourceMembers, ActionWrite, TagAll) {
			return true
		}
		// A bare regional write tag is not an own-record grant; the
		// record's region is unknown here.
		return isOwnRecord && ps.Has(ResourceMembers, ActionWrite, TagOwn)
	}
	return false
}

// CanReadField mirrors CanEditField against the read grants. Administrative
// and status data stays visible to holders of an "all" read grant only.
func (fr *FieldRules) CanReadField(ps PermissionSet, field string, isOwnRecord bool) bool {
	category, ok := fr.byField[field]
	if !ok {
		return false
	}
	switch category {
	case CategoryAdministrative, CategoryStatus:
		return ps.Has(ResourceMembers, ActionRead, TagAll)
	case CategoryPersonal, CategoryMotorcycle:
		if ps.Has(ResourceMembers, ActionRead, TagAll) {
			return true
		}
		if isOwnRecord && len(ps.Tags(ResourceMembers, ActionRead)) > 0 {
			return true
		}
		// Regional read grants expose records within the region.
		for _, tag := range ps.Tags(ResourceMembers, ActionRead) {
			if tag.IsRegion() {
				return true
			}
		}
	}
	return false
}

// CanApproveStatus reports whether the set carries the status-approval
// capability, modeled as a write grant on the members.status
// pseudo-resource and assignable independently of general member write
// access.
func CanApproveStatus(ps PermissionSet) bool {
	return len(ps.Tags(ResourceMemberStatus, ActionWrite)) > 0
}

// DefaultFieldCategories is the deploy-time table for the membership
// records, using the club's Dutch field names.
func DefaultFieldCategories() map[FieldCategory][]string {
	return map[FieldCategory][]string{
		CategoryPersonal: {
			"voornaam", "achternaam", "tussenvoegsel", "email", "telefoon",
			"adres", "postcode", "woonplaats", "geboortedatum",
		},
		CategoryMotorcycle: {
			"motor_merk", "motor_model", "motor_bouwjaar", "kenteken",
		},
		CategoryAdministrative: {
			"lidnummer", "lidmaatschap_type", "regio", "contributie", "inschrijfdatum",
		},
		CategoryStatus: {
			"status", "status_reden",
		},
	}
}
