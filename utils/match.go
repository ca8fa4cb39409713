package utils

import "strings"

// MatchModule checks a concrete module identifier against a rule pattern.
// Patterns may contain:
//   - '*' matching any sequence of characters within a segment.
//   - A trailing ":*" or "/*" matching the whole subtree.
//
// Module identifiers are colon- or slash-separated, e.g. "members:export"
// or "events/region3".
func MatchModule(moduleID, pattern string) bool {
	if pattern == "*" || pattern == moduleID {
		return true
	}
	if strings.HasSuffix(pattern, ":*") || strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(moduleID, strings.TrimSuffix(pattern, "*"))
	}
	return matchSegments(moduleID, pattern)
}

// matchSegments matches a value against a pattern with embedded '*'
// wildcards, where '*' does not cross ':' or '/' separators.
func matchSegments(value, pattern string) bool {
	vIndex, pIndex := 0, 0
	vLen, pLen := len(value), len(pattern)

	for pIndex < pLen {
		switch pattern[pIndex] {
		case '*':
			if pIndex == pLen-1 {
				for vIndex < vLen {
					if value[vIndex] == ':' || value[vIndex] == '/' {
						return false
					}
					vIndex++
				}
				return true
			}
			for vIndex < vLen && value[vIndex] != ':' && value[vIndex] != '/' {
				vIndex++
			}
			pIndex++
		default:
			if vIndex < vLen && pattern[pIndex] == value[vIndex] {
				vIndex++
				pIndex++
			} else {
				return false
			}
		}
	}
	return vIndex == vLen && pIndex == pLen
}
