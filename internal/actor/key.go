package actor

import (
	"fmt"
	"strings"
)

// Split breaks a colon-delimited actor key into its parts. It tolerates
// the ':' delimiter and performs no validation of its own — callers in
// each domain package validate arity for their specific key shape.
func Split(key string) []string {
	return strings.Split(key, ":")
}

// Join assembles a colon-delimited actor key from its parts.
func Join(parts ...string) string {
	return strings.Join(parts, ":")
}

// ValidateArity rejects a key whose part count does not match want,
// reporting the offending kind for a useful error message.
func ValidateArity(kind string, parts []string, want int) error {
	if len(parts) != want {
		return fmt.Errorf("actor key for kind %q has wrong arity: got %d parts, want %d (%q)",
			kind, len(parts), want, strings.Join(parts, ":"))
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("actor key for kind %q has an empty segment: %q", kind, strings.Join(parts, ":"))
		}
	}
	return nil
}
