package plugin

import (
	"fmt"

	"pmp/internal/domain"
)

// ValidatePermissions checks that every permission the bundle requests is
// allowed and none are denied. An empty allow list allows everything not
// denied.
func ValidatePermissions(b *Bundle, allowed, denied []string) error {
	denySet := make(map[string]bool, len(denied))
	for _, d := range denied {
		denySet[d] = true
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowSet[a] = true
	}

	for _, perm := range b.Manifest.Permissions {
		if denySet[perm] {
			return fmt.Errorf("%w: bundle %q requests denied permission %q",
				domain.ErrPermissionDenied, b.Package, perm)
		}
		if len(allowSet) > 0 && !allowSet[perm] {
			return fmt.Errorf("%w: bundle %q requests unlisted permission %q",
				domain.ErrPermissionDenied, b.Package, perm)
		}
	}
	return nil
}
