// Package utils holds small helpers with no internal dependencies.
package utils

// CoalesceString returns the first non-empty string.
func CoalesceString(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// DefaultInt returns defaultVal when v is not positive.
func DefaultInt(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}
