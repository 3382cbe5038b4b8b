package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/promptgate/pkg/models"
)

// WalkLimits bounds a folder traversal. Adversarial trees (deep nesting,
// symlink cycles, huge fan-out) must never translate into unbounded memory.
type WalkLimits struct {
	MaxDepth   int
	MaxEntries int
	MaxBytes   int64
}

// FolderFile is one regular file discovered by WalkFolder.
type FolderFile struct {
	RelPath string
	AbsPath string
	Size    int64
}

type walkItem struct {
	rel   string
	depth int
}

// WalkFolder lists allow-listed regular files under a workspace-relative
// folder using an explicit work-list, stopping at the configured depth,
// entry, and byte ceilings. Symlinked directories are not followed; files
// are still individually re-validated by the caller before reading.
func (v *Validator) WalkFolder(scope models.WorkspaceScope, rel string, limits WalkLimits) ([]FolderFile, error) {
	root, err := filepath.EvalSymlinks(scope.RootPath)
	if err != nil {
		return nil, err
	}

	start := filepath.Clean(rel)
	if filepath.IsAbs(start) || start == ".." || strings.HasPrefix(start, ".."+string(filepath.Separator)) {
		return nil, os.ErrPermission
	}

	// The start directory must really live inside the root; a symlinked
	// folder entry point would otherwise walk foreign trees.
	startReal, err := filepath.EvalSymlinks(filepath.Join(root, start))
	if err != nil {
		return nil, err
	}
	if !within(root, startReal) {
		return nil, os.ErrPermission
	}

	var files []FolderFile
	var totalBytes int64
	queue := []walkItem{{rel: start, depth: 0}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.depth > limits.MaxDepth {
			continue
		}

		dir := filepath.Join(root, item.rel)
		entries, err := os.ReadDir(dir)
		if err != nil {
			// Unreadable subdirectories are skipped, not fatal.
			continue
		}

		// Deterministic order keeps packing (and tests) stable.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			childRel := filepath.Join(item.rel, entry.Name())

			if entry.IsDir() {
				queue = append(queue, walkItem{rel: childRel, depth: item.depth + 1})
				continue
			}

			if entry.Type()&os.ModeSymlink != 0 {
				continue
			}

			if !entry.Type().IsRegular() || !v.extensionAllowed(entry.Name()) {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				continue
			}

			if len(files) >= limits.MaxEntries || totalBytes+info.Size() > limits.MaxBytes {
				return files, nil
			}

			files = append(files, FolderFile{
				RelPath: childRel,
				AbsPath: filepath.Join(dir, entry.Name()),
				Size:    info.Size(),
			})
			totalBytes += info.Size()
		}
	}

	return files, nil
}
