package syncengine

import "strings"

// dsStoreName is one of the hidden/temp-file patterns shouldSkip excludes
// from a local enumeration: "*.tmp", "*~", ".DS_Store".
const dsStoreName = ".DS_Store"

// shouldSkip reports whether name should be excluded from enumeration.
func shouldSkip(name string) bool {
	if name == dsStoreName {
		return true
	}

	if strings.HasSuffix(name, ".tmp") {
		return true
	}

	if strings.HasSuffix(name, "~") {
		return true
	}

	return false
}
