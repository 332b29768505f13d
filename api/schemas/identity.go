// Package schemas holds the shared data contracts of the evolution engine.
// Every component communicates through these types so that implementations
// stay swappable and mockable in tests.
package schemas

import (
	"fmt"
	"strings"
)

// FunctionIdentity is the stable key for a wrapped function. It identifies
// the function across calls, ledger entries, and cache artifacts.
type FunctionIdentity struct {
	// Namespace is a dotted logical grouping, e.g. "billing.invoices".
	Namespace string `json:"namespace"`
	// Name is the function name within the namespace.
	Name string `json:"name"`
}

// String renders the identity in the canonical "namespace.name" form.
func (id FunctionIdentity) String() string {
	if id.Namespace == "" {
		return id.Name
	}
	return id.Namespace + "." + id.Name
}

// SafeName maps the identity to a deterministic, collision-free file stem.
// Namespace separators are replaced with underscores and the name is joined
// with a double underscore, so "a.b" + "f" and "a" + "b__f" cannot collide
// with each other's namespace scoping during scoped cache cleans.
func (id FunctionIdentity) SafeName() string {
	return strings.ReplaceAll(id.Namespace, ".", "_") + "__" + id.Name
}

// Validate rejects identities that would produce unusable cache file names.
func (id FunctionIdentity) Validate() error {
	if id.Name == "" {
		return fmt.Errorf("function identity requires a name")
	}
	for _, r := range id.Name {
		if r == '/' || r == '\\' || r == '.' {
			return fmt.Errorf("function name %q contains a path or namespace separator", id.Name)
		}
	}
	if strings.ContainsAny(id.Namespace, `/\`) {
		return fmt.Errorf("namespace %q contains a path separator", id.Namespace)
	}
	return nil
}
