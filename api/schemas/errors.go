package schemas

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is the sentinel a fallback implementation returns (or
// wraps) to signal that it has no real body yet. It is the narrow trigger for
// an evolution round.
var ErrNotImplemented = errors.New("not implemented")

// DisallowedImportError reports a candidate importing a module whose root is
// not on the configured allowlist. It is a policy violation: fatal, never
// retried, and surfaced to the original caller as-is.
type DisallowedImportError struct {
	Module string
}

func (e *DisallowedImportError) Error() string {
	return fmt.Sprintf("disallowed import: %s", e.Module)
}

// IsPolicyViolation reports whether err (or anything it wraps) is a
// disallowed-import rejection.
func IsPolicyViolation(err error) bool {
	var die *DisallowedImportError
	return errors.As(err, &die)
}
