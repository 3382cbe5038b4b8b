// Package workspace bounds every file reference to a tenant workspace root.
// Validation failures are aggregated into a single SecurityError so the
// response cannot be used as a path oracle.
package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/pkg/models"
)

// Validator resolves workspace-relative paths against a scope root.
type Validator struct {
	allowedExtensions map[string]bool
}

// NewValidator creates a validator with the configured extension allow-list.
// Extensions are matched case-insensitively and must include the dot.
func NewValidator(extensions []string) *Validator {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Validator{allowedExtensions: allowed}
}

// Resolve maps a workspace-relative path to an absolute path inside
// scope.RootPath. It rejects absolute paths, parent-directory traversal,
// symlink escapes, and extensions outside the allow-list. Pure over
// filesystem metadata; never reads file content.
func (v *Validator) Resolve(scope models.WorkspaceScope, rel string) (string, error) {
	if rel == "" {
		return "", gateerr.Security()
	}

	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "\\") {
		return "", gateerr.Security()
	}

	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", gateerr.Security()
	}

	if !v.extensionAllowed(clean) {
		return "", gateerr.Security()
	}

	root, err := filepath.EvalSymlinks(scope.RootPath)
	if err != nil {
		log.Error().Err(err).Str("workspace_id", scope.WorkspaceID).Msg("workspace root is not resolvable")
		return "", gateerr.Security()
	}

	abs := filepath.Join(root, clean)

	// Resolve symlinks on the deepest existing ancestor so a link placed
	// anywhere along the path cannot point outside the root. The file itself
	// may not exist yet (patch targets), which is fine.
	real, err := resolveExisting(abs)
	if err != nil {
		return "", gateerr.Security()
	}

	if !within(root, real) {
		return "", gateerr.Security()
	}

	return abs, nil
}

// ResolveAll resolves every source path in order. Any failure aborts the
// whole request with one aggregated SecurityError; no partial results are
// returned and no file is read.
func (v *Validator) ResolveAll(scope models.WorkspaceScope, rels []string) ([]string, error) {
	resolved := make([]string, 0, len(rels))
	failed := 0
	for _, rel := range rels {
		abs, err := v.Resolve(scope, rel)
		if err != nil {
			failed++
			continue
		}
		resolved = append(resolved, abs)
	}
	if failed > 0 {
		log.Warn().
			Str("tenant_id", scope.TenantID).
			Str("workspace_id", scope.WorkspaceID).
			Int("failed_sources", failed).
			Msg("source path validation failed")
		return nil, gateerr.Security()
	}
	return resolved, nil
}

// ExtensionAllowed reports whether the path's extension is on the allow-list.
func (v *Validator) ExtensionAllowed(path string) bool {
	return v.extensionAllowed(path)
}

func (v *Validator) extensionAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	return v.allowedExtensions[ext]
}

// resolveExisting resolves symlinks on abs, falling back to the deepest
// existing ancestor when the leaf does not exist yet. The unresolved
// remainder is re-joined so the caller still checks the full path.
func resolveExisting(abs string) (string, error) {
	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir := abs
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
		real, rerr := filepath.EvalSymlinks(dir)
		if rerr == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		if !os.IsNotExist(rerr) {
			return "", rerr
		}
	}
}

// within reports whether path is root or inside root.
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
