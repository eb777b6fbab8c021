package bulksync

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// quoteIdentifier quotes a SQL identifier after validating it, so that
// metadata-sourced names can be interpolated into statements safely.
func quoteIdentifier(name string) (string, error) {
	if !isSafeIdentifier(name) {
		return "", fmt.Errorf("%w: invalid identifier %q", ErrConfig, name)
	}
	return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\"")), nil
}

// isSafeIdentifier reports whether the identifier meets simple SQL safety rules.
func isSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' {
			continue
		}
		if unicode.IsLetter(r) {
			continue
		}
		if unicode.IsDigit(r) {
			if i == 0 {
				return false
			}
			continue
		}
		return false
	}
	return true
}

// stagingName derives the staging relation name for a target table. The
// suffix keeps repeated Stage calls within one session from colliding.
func stagingName(table, suffix string) string {
	return fmt.Sprintf("staging_%s_%s", table, suffix)
}

// newStagingSuffix returns a fresh name suffix for a staging relation.
func newStagingSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
