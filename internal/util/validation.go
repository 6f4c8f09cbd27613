package util

import (
	"regexp"
)

// Lowercase canonical form only, as produced by gen_random_uuid().
var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func IsValidUUID(s string) bool {
	return s != "" && uuidPattern.MatchString(s)
}

// FilterUUIDs returns the well-formed ids in order, dropping duplicates.
func FilterUUIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !IsValidUUID(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// IsValidEnum reports whether value is one of validValues. The empty string
// is accepted so callers can apply their own default.
func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
