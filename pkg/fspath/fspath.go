// Package fspath composes client-supplied relative paths with the server
// root. The join itself is purely textual; canonicalisation is a separate,
// best-effort step so that operations creating a not-yet-existing path keep
// working.
package fspath

import (
	"path/filepath"
	"strings"
)

// Join yields root + "/" + rel with leading slashes of rel stripped and no
// repeated separators. It never consults the filesystem.
func Join(root, rel string) string {
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return root
	}
	if root == "" {
		return rel
	}
	return strings.TrimRight(root, "/") + "/" + rel
}

// JoinReal joins like Join and then canonicalises the result, resolving
// symlinks in the existing part of the path. When the full path does not
// exist yet the parent directory is canonicalised and the last element
// reattached; when even that fails the textual join is returned unchanged.
func JoinReal(root, rel string) string {
	joined := Join(root, rel)

	if resolved, err := filepath.EvalSymlinks(joined); err == nil {
		return resolved
	}
	dir, base := filepath.Split(joined)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, base)
	}
	return joined
}
