package clubperm

import "strings"

// IsRegionVisible reports whether the action's grant on the resource
// covers the given region: either an "all" tag or the exact region tag.
//
// This is a pure lookup against an already-resolved PermissionSet. It is
// kept as a separate unit because the national-override interaction in the
// Calculator is easy to get wrong and this is where it becomes observable.
// The region argument tolerates the spellings "3", "region3" and
// "region:3"; they all address the same region.
func IsRegionVisible(ps PermissionSet, resource string, action Action, region string) bool {
	want := NormalizeRegion(region)
	for _, tag := range ps.Tags(resource, action) {
		if tag == TagAll {
			return true
		}
		if tag.IsRegion() && tag.Region() == want {
			return true
		}
	}
	return false
}

// NormalizeRegion strips the optional "region" / "region:" prefix callers
// use interchangeably, returning the bare region identifier.
func NormalizeRegion(region string) string {
	region = strings.TrimPrefix(region, regionTagPrefix)
	region = strings.TrimPrefix(region, "region")
	return region
}

// VisibleRegions enumerates the region identifiers a grant makes visible
// out of the provided known-region list. An "all" tag makes every known
// region visible.
func VisibleRegions(ps PermissionSet, resource string, action Action, known []string) []string {
	tags := ps.Tags(resource, action)
	if len(tags) == 0 {
		return nil
	}
	for _, tag := range tags {
		if tag == TagAll {
			return append([]string(nil), known...)
		}
	}
	out := make([]string, 0, len(tags))
	for _, region := range known {
		want := NormalizeRegion(region)
		for _, tag := range tags {
			if tag.IsRegion() && tag.Region() == want {
				out = append(out, region)
				break
			}
		}
	}
	return out
}
