package utils

import "testing"

func TestMatchModule(t *testing.T) {
	cases := []struct {
		moduleID string
		pattern  string
		want     bool
	}{
		{"profile", "*", true},
		{"members:export", "*", true},
		{"profile", "profile", true},
		{"profile", "profiles", false},
		{"members:export", "members:*", true},
		{"members:export:csv", "members:*", true},
		{"events:region3", "members:*", false},
		{"events/region3", "events/*", true},
		{"events", "events:*", false},
		{"events:region3", "events:region*", true},
		{"events:region3:admin", "events:region*", false},
		{"members:export", "*:export", true},
		{"members:export", "*:import", false},
		{"members:all:export", "*:export", false},
		{"", "*", true},
		{"profile", "", false},
	}
	for _, tc := range cases {
		if got := MatchModule(tc.moduleID, tc.pattern); got != tc.want {
			t.Fatalf("MatchModule(%q, %q) = %v, want %v", tc.moduleID, tc.pattern, got, tc.want)
		}
	}
}
