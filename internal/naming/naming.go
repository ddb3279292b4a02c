// Package naming derives canonical workspace identifiers from data
// product identity. The derivation is a pure function: the same
// domain/product/version always maps to the same workspace id, so
// re-provisioning a product finds the workspace it created before.
package naming

import "fmt"

// WorkspaceID is the remote platform identifier of a workspace.
type WorkspaceID string

// Resolve returns the workspace identifier for a product identity,
// preserving case and using underscore separators:
// ${Domain}_${ProductName}_${MajorVersion}.
func Resolve(domain, productName, majorVersion string) WorkspaceID {
	return WorkspaceID(fmt.Sprintf("%s_%s_%s", domain, productName, majorVersion))
}
