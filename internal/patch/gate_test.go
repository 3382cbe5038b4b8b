package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/internal/workspace"
	"github.com/promptgate/pkg/models"
)

func testScope(t *testing.T) models.WorkspaceScope {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"),
		[]byte("package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "util.go"),
		[]byte("package main\n\nfunc helper() int {\n\treturn 1\n}\n"), 0644))
	return models.WorkspaceScope{
		TenantID:    "t1",
		ProjectID:   "p1",
		WorkspaceID: "w1",
		RootPath:    root,
	}
}

func newTestGate() *Gate {
	return NewGate(workspace.NewValidator([]string{".go", ".md", ".txt"}), 1<<20)
}

const modifyMainDiff = `--- a/main.go
+++ b/main.go
@@ -2,4 +2,4 @@

 func main() {
-	println("hello")
+	println("goodbye")
 }
`

const twoFileDiff = `--- a/main.go
+++ b/main.go
@@ -2,4 +2,4 @@

 func main() {
-	println("hello")
+	println("goodbye")
 }
--- a/util.go
+++ b/util.go
@@ -3,3 +3,3 @@
 func helper() int {
-	return 1
+	return 2
 }
`

func TestParseGitStyleDiff(t *testing.T) {
	text := "diff --git a/main.go b/main.go\nindex 1111111..2222222 100644\n" + modifyMainDiff
	files, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].Path)
	require.Len(t, files[0].Hunks, 1)

	want := Hunk{
		OldStart: 2, OldCount: 4, NewStart: 2, NewCount: 4,
		Lines: []HunkLine{
			{Kind: LineContext, Content: ""},
			{Kind: LineContext, Content: "func main() {"},
			{Kind: LineDelete, Content: "\tprintln(\"hello\")"},
			{Kind: LineAdd, Content: "\tprintln(\"goodbye\")"},
			{Kind: LineContext, Content: "}"},
		},
	}
	if diff := cmp.Diff(want, files[0].Hunks[0]); diff != "" {
		t.Errorf("parsed hunk mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePlainDiffMultipleFiles(t *testing.T) {
	files, err := Parse(twoFileDiff)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "main.go", files[0].Path)
	assert.Equal(t, "util.go", files[1].Path)
}

func TestParseHunkBodyDashDashLines(t *testing.T) {
	// Deleting a "-- " SQL comment renders as "--- old comment" in the hunk
	// body; inside a hunk that must parse as a delete line, not a header.
	diff := "--- a/schema.sql\n" +
		"+++ b/schema.sql\n" +
		"@@ -1,2 +1,2 @@\n" +
		" CREATE TABLE t (id int);\n" +
		"--- old comment\n" +
		"+++ new comment\n"

	files, err := Parse(diff)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "schema.sql", files[0].Path)
	require.Len(t, files[0].Hunks, 1)

	lines := files[0].Hunks[0].Lines
	require.Len(t, lines, 3)
	assert.Equal(t, HunkLine{Kind: LineDelete, Content: "-- old comment"}, lines[1])
	assert.Equal(t, HunkLine{Kind: LineAdd, Content: "++ new comment"}, lines[2])
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		diff string
	}{
		{name: "empty", diff: ""},
		{name: "no hunks", diff: "--- a/main.go\n+++ b/main.go\n"},
		{name: "hunk before header", diff: "@@ -1,1 +1,1 @@\n-x\n+y\n"},
		{name: "short hunk body", diff: "--- a/main.go\n+++ b/main.go\n@@ -1,3 +1,3 @@\n x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.diff)
			assert.Error(t, err)
		})
	}
}

func TestValidateReportsFiles(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	res, err := g.Validate(scope, twoFileDiff)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, res.State)
	assert.Equal(t, []string{"main.go", "util.go"}, res.Files)
}

func TestValidateRejectsEscapingPath(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	diff := strings.ReplaceAll(modifyMainDiff, "main.go", "../outside.go")
	res, err := g.Validate(scope, diff)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, gateerr.CodeSecurity, gateerr.CodeOf(err))
}

func TestValidateRejectsOversizeDiff(t *testing.T) {
	g := NewGate(workspace.NewValidator([]string{".go"}), 64)
	scope := testScope(t)

	_, err := g.Validate(scope, modifyMainDiff)
	assert.Equal(t, gateerr.CodePatchRejected, gateerr.CodeOf(err))
}

func TestValidateRejectsDeletion(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	diff := "--- a/main.go\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-package main\n"
	_, err := g.Validate(scope, diff)
	assert.Equal(t, gateerr.CodePatchRejected, gateerr.CodeOf(err))
}

func TestApplyModifiesFile(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	res, err := g.Apply(scope, modifyMainDiff, false)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)
	assert.Equal(t, []string{"main.go"}, res.Applied)

	data, err := os.ReadFile(filepath.Join(scope.RootPath, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `println("goodbye")`)
	assert.NotContains(t, string(data), `println("hello")`)
}

func TestApplyDryRunLeavesFilesUntouched(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	res, err := g.Apply(scope, modifyMainDiff, true)
	require.NoError(t, err)
	assert.Equal(t, StateDryRunComplete, res.State)

	data, err := os.ReadFile(filepath.Join(scope.RootPath, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `println("hello")`)
}

func TestApplyConflictWritesNothing(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	// util.go drifted after the diff was produced, main.go did not.
	require.NoError(t, os.WriteFile(filepath.Join(scope.RootPath, "util.go"),
		[]byte("package main\n\nfunc helper() int {\n\treturn 42\n}\n"), 0644))

	res, err := g.Apply(scope, twoFileDiff, false)
	assert.Equal(t, gateerr.CodePatchConflict, gateerr.CodeOf(err))
	assert.Equal(t, StateConflict, res.State)
	assert.Equal(t, []string{"util.go"}, res.Conflicts)

	// The clean file must not have been written either.
	data, err := os.ReadFile(filepath.Join(scope.RootPath, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `println("hello")`)
}

func TestApplyCreatesNewFile(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	diff := "--- /dev/null\n+++ b/notes.md\n@@ -0,0 +1,2 @@\n+# Notes\n+first entry\n"
	res, err := g.Apply(scope, diff, false)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)

	data, err := os.ReadFile(filepath.Join(scope.RootPath, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Notes\nfirst entry\n", string(data))
}

func TestApplyNewFileConflictsWhenFileExists(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	require.NoError(t, os.WriteFile(filepath.Join(scope.RootPath, "notes.md"), []byte("old\n"), 0644))

	diff := "--- /dev/null\n+++ b/notes.md\n@@ -0,0 +1,1 @@\n+new\n"
	res, err := g.Apply(scope, diff, false)
	assert.Equal(t, gateerr.CodePatchConflict, gateerr.CodeOf(err))
	assert.Equal(t, StateConflict, res.State)
}

func TestApplyHunksInsertion(t *testing.T) {
	content := "a\nb\nc\n"
	hunks := []Hunk{{
		OldStart: 1, OldCount: 0, NewStart: 2, NewCount: 1,
		Lines: []HunkLine{{Kind: LineAdd, Content: "inserted"}},
	}}
	out, err := applyHunks(content, hunks)
	require.NoError(t, err)
	assert.Equal(t, "a\ninserted\nb\nc\n", out)
}

func TestApplyHunksContextMismatch(t *testing.T) {
	hunks := []Hunk{{
		OldStart: 1, OldCount: 2, NewStart: 1, NewCount: 2,
		Lines: []HunkLine{
			{Kind: LineContext, Content: "not the real first line"},
			{Kind: LineDelete, Content: "b"},
			{Kind: LineAdd, Content: "B"},
		},
	}}
	_, err := applyHunks("a\nb\n", hunks)
	assert.Error(t, err)
}

func TestConcurrentAppliesSerialize(t *testing.T) {
	g := newTestGate()
	scope := testScope(t)

	require.NoError(t, os.WriteFile(filepath.Join(scope.RootPath, "count.txt"), []byte("0\n"), 0644))

	// Each goroutine patches count.txt from its own pre-image; exactly one
	// can win, the rest must conflict rather than corrupt the file.
	const n = 8
	results := make(chan State, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			diff := fmt.Sprintf("--- a/count.txt\n+++ b/count.txt\n@@ -1,1 +1,1 @@\n-0\n+%d\n", i+1)
			res, _ := g.Apply(scope, diff, false)
			results <- res.State
		}(i)
	}

	var applied, conflicted int
	for i := 0; i < n; i++ {
		switch <-results {
		case StateApplied:
			applied++
		case StateConflict:
			conflicted++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, n-1, conflicted)

	data, err := os.ReadFile(filepath.Join(scope.RootPath, "count.txt"))
	require.NoError(t, err)
	assert.NotEqual(t, "0\n", string(data))
}
