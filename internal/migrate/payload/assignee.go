package payload

import "strings"

// MapAssignee derives the target-service login from a source unique
// name: local part before "@", dots replaced with hyphens, optional
// fixed suffix appended. Purely syntactic; the result is not validated
// against the target user directory.
func MapAssignee(uniqueName string, suffix string) string {
	trimmed := strings.TrimSpace(uniqueName)
	if trimmed == "" {
		return ""
	}

	local := trimmed
	if at := strings.Index(trimmed, "@"); at >= 0 {
		local = trimmed[:at]
	}
	if local == "" {
		return ""
	}

	return strings.ReplaceAll(local, ".", "-") + suffix
}
