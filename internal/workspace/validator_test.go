package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/pkg/models"
)

func testScope(t *testing.T) models.WorkspaceScope {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "util.go"), []byte("package pkg\n"), 0644))
	return models.WorkspaceScope{
		TenantID:    "t1",
		ProjectID:   "p1",
		WorkspaceID: "w1",
		RootPath:    root,
	}
}

func newTestValidator() *Validator {
	return NewValidator([]string{".go", ".md", ".txt"})
}

func TestResolveValidPaths(t *testing.T) {
	v := newTestValidator()
	scope := testScope(t)

	tests := []struct {
		name string
		rel  string
	}{
		{name: "top level file", rel: "main.go"},
		{name: "nested file", rel: "pkg/util.go"},
		{name: "not yet existing file", rel: "pkg/new_file.go"},
		{name: "redundant dot segments", rel: "./pkg/util.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			abs, err := v.Resolve(scope, tt.rel)
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(abs))
		})
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	v := newTestValidator()
	scope := testScope(t)

	tests := []struct {
		name string
		rel  string
	}{
		{name: "parent traversal", rel: "../../etc/passwd"},
		{name: "hidden traversal", rel: "pkg/../../outside.go"},
		{name: "absolute path", rel: "/etc/passwd"},
		{name: "empty path", rel: ""},
		{name: "disallowed extension", rel: "binary.exe"},
		{name: "no extension", rel: "Makefile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Resolve(scope, tt.rel)
			require.Error(t, err)
			assert.Equal(t, gateerr.CodeSecurity, gateerr.CodeOf(err))
		})
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	v := newTestValidator()
	scope := testScope(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s3cret"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(scope.RootPath, "link")))

	_, err := v.Resolve(scope, "link/secret.txt")
	require.Error(t, err)
	assert.Equal(t, gateerr.CodeSecurity, gateerr.CodeOf(err))
}

func TestResolveAllAggregatesFailures(t *testing.T) {
	v := newTestValidator()
	scope := testScope(t)

	// One bad path poisons the whole batch; no partial results leak out.
	_, err := v.ResolveAll(scope, []string{"main.go", "../../etc/passwd"})
	require.Error(t, err)
	assert.Equal(t, gateerr.CodeSecurity, gateerr.CodeOf(err))

	resolved, err := v.ResolveAll(scope, []string{"main.go", "pkg/util.go"})
	require.NoError(t, err)
	assert.Len(t, resolved, 2)
}

func TestWalkFolderHonorsCeilings(t *testing.T) {
	v := newTestValidator()
	scope := testScope(t)

	deep := filepath.Join(scope.RootPath, "a", "b", "c", "d")
	require.NoError(t, os.MkdirAll(deep, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(deep, "deep.go"), []byte("package d\n"), 0644))

	files, err := v.WalkFolder(scope, ".", WalkLimits{MaxDepth: 1, MaxEntries: 100, MaxBytes: 1 << 20})
	require.NoError(t, err)
	for _, f := range files {
		assert.NotContains(t, f.RelPath, "deep.go")
	}

	files, err = v.WalkFolder(scope, ".", WalkLimits{MaxDepth: 10, MaxEntries: 1, MaxBytes: 1 << 20})
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestWalkFolderSkipsSymlinkedDirs(t *testing.T) {
	v := newTestValidator()
	scope := testScope(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "leak.go"), []byte("package leak\n"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(scope.RootPath, "linked")))

	files, err := v.WalkFolder(scope, ".", WalkLimits{MaxDepth: 10, MaxEntries: 100, MaxBytes: 1 << 20})
	require.NoError(t, err)
	for _, f := range files {
		assert.NotContains(t, f.RelPath, "leak.go")
	}
}
