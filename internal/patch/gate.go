package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/internal/workspace"
	"github.com/promptgate/pkg/models"
)

// State names the stages a patch moves through. Terminal states are
// Applied, Conflict, and Rejected.
type State string

const (
	StateReceived       State = "received"
	StateValidated      State = "validated"
	StateDryRunComplete State = "dry_run_complete"
	StateApplying       State = "applying"
	StateApplied        State = "applied"
	StateConflict       State = "conflict"
	StateRejected       State = "rejected"
)

// Gate mediates patch application against workspace files. Every target
// path goes through the same validation as read access, every hunk's
// pre-image is verified before any file is written, and application is
// all-or-nothing per patch.
type Gate struct {
	validator    *workspace.Validator
	maxDiffBytes int64

	mu    sync.Mutex
	locks map[string]*sync.Mutex // keyed by resolved absolute path
}

// Result is the outcome of a validate, dry-run, or apply call.
type Result struct {
	State     State
	Files     []string // workspace-relative paths the diff touches
	Applied   []string // files actually written (apply only)
	Conflicts []string // files whose pre-image no longer matches
	Message   string
}

func NewGate(validator *workspace.Validator, maxDiffBytes int64) *Gate {
	return &Gate{
		validator:    validator,
		maxDiffBytes: maxDiffBytes,
		locks:        make(map[string]*sync.Mutex),
	}
}

// target is one file of a patch after validation.
type target struct {
	rel      string
	abs      string
	diff     *FileDiff
	newText  string
	hasPrior bool
}

// Validate parses the diff and checks structure, size, and every target
// path. It does not touch file contents.
func (g *Gate) Validate(scope models.WorkspaceScope, diffText string) (*Result, error) {
	targets, err := g.validate(scope, diffText)
	if err != nil {
		return &Result{State: StateRejected, Message: gateerr.MessageOf(err)}, err
	}
	return &Result{State: StateValidated, Files: relPaths(targets)}, nil
}

// Apply validates the diff, verifies every hunk's pre-image against the
// current file contents, and then writes all files. When dryRun is set the
// write step is skipped. Any pre-image mismatch aborts the whole patch
// before the first write.
func (g *Gate) Apply(scope models.WorkspaceScope, diffText string, dryRun bool) (*Result, error) {
	targets, err := g.validate(scope, diffText)
	if err != nil {
		return &Result{State: StateRejected, Message: gateerr.MessageOf(err)}, err
	}

	files := relPaths(targets)

	unlock := g.lockPaths(targets)
	defer unlock()

	// Verify all pre-images before writing anything.
	var conflicts []string
	for _, t := range targets {
		if cerr := g.prepare(t); cerr != nil {
			conflicts = append(conflicts, t.rel)
			log.Debug().Str("path", t.rel).Err(cerr).Msg("patch pre-image mismatch")
		}
	}
	if len(conflicts) > 0 {
		res := &Result{
			State:     StateConflict,
			Files:     files,
			Conflicts: conflicts,
			Message:   "file contents changed since the diff was produced",
		}
		return res, gateerr.New(gateerr.CodePatchConflict,
			fmt.Sprintf("patch conflicts in %s", strings.Join(conflicts, ", ")))
	}

	if dryRun {
		return &Result{State: StateDryRunComplete, Files: files}, nil
	}

	applied := make([]string, 0, len(targets))
	for _, t := range targets {
		if err := g.write(t); err != nil {
			// Partial failure here is an I/O error, not a conflict. Files
			// already written stay; the caller sees which ones.
			return &Result{
				State:   StateRejected,
				Files:   files,
				Applied: applied,
				Message: fmt.Sprintf("write failed for %s", t.rel),
			}, gateerr.Wrap(gateerr.CodeInternal, "patch write failed", err)
		}
		applied = append(applied, t.rel)
	}

	return &Result{State: StateApplied, Files: files, Applied: applied}, nil
}

func (g *Gate) validate(scope models.WorkspaceScope, diffText string) ([]*target, error) {
	if g.maxDiffBytes > 0 && int64(len(diffText)) > g.maxDiffBytes {
		return nil, gateerr.New(gateerr.CodePatchRejected,
			fmt.Sprintf("diff exceeds %d byte limit", g.maxDiffBytes))
	}

	diffs, err := Parse(diffText)
	if err != nil {
		return nil, gateerr.Wrap(gateerr.CodePatchRejected, "malformed diff", err)
	}

	targets := make([]*target, 0, len(diffs))
	seen := make(map[string]bool, len(diffs))
	for _, fd := range diffs {
		if fd.IsDelete {
			return nil, gateerr.New(gateerr.CodePatchRejected,
				fmt.Sprintf("diff deletes %s, deletions are not permitted", fd.Path))
		}
		if seen[fd.Path] {
			return nil, gateerr.New(gateerr.CodePatchRejected,
				fmt.Sprintf("diff touches %s more than once", fd.Path))
		}
		seen[fd.Path] = true

		abs, err := g.validator.Resolve(scope, fd.Path)
		if err != nil {
			return nil, err
		}
		targets = append(targets, &target{rel: fd.Path, abs: abs, diff: fd})
	}
	return targets, nil
}

// prepare reads the current content of the target and computes its
// post-patch text, returning an error when any hunk's pre-image no longer
// matches.
func (g *Gate) prepare(t *target) error {
	var current string
	data, err := os.ReadFile(t.abs)
	switch {
	case err == nil:
		current = string(data)
		t.hasPrior = true
	case os.IsNotExist(err) && t.diff.IsNew:
		current = ""
	case os.IsNotExist(err):
		return fmt.Errorf("file does not exist")
	default:
		return err
	}
	if t.diff.IsNew && t.hasPrior {
		return fmt.Errorf("file already exists")
	}

	newText, err := applyHunks(current, t.diff.Hunks)
	if err != nil {
		return err
	}
	t.newText = newText
	return nil
}

func (g *Gate) write(t *target) error {
	if err := os.MkdirAll(filepath.Dir(t.abs), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.abs), ".patch-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(t.newText); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, t.abs); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// lockPaths acquires per-file locks in sorted order so that concurrent
// patches touching overlapping files serialize instead of deadlocking.
func (g *Gate) lockPaths(targets []*target) func() {
	paths := make([]string, len(targets))
	for i, t := range targets {
		paths[i] = t.abs
	}
	sort.Strings(paths)

	locks := make([]*sync.Mutex, len(paths))
	for i, p := range paths {
		g.mu.Lock()
		l, ok := g.locks[p]
		if !ok {
			l = &sync.Mutex{}
			g.locks[p] = l
		}
		g.mu.Unlock()
		locks[i] = l
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// applyHunks applies hunks to content, verifying that every context and
// deletion line matches the current text at the expected position.
func applyHunks(content string, hunks []Hunk) (string, error) {
	lines := splitLines(content)
	out := make([]string, 0, len(lines))
	cursor := 0 // index into lines of the next unconsumed line

	for _, h := range hunks {
		start := h.OldStart - 1
		if h.OldCount == 0 {
			// Pure insertion; OldStart names the line after which to insert.
			start = h.OldStart
		}
		if start < cursor || start > len(lines) {
			return "", fmt.Errorf("hunk at line %d out of range", h.OldStart)
		}

		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, hl := range h.Lines {
			switch hl.Kind {
			case LineContext:
				if cursor >= len(lines) || lines[cursor] != hl.Content {
					return "", fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				out = append(out, lines[cursor])
				cursor++
			case LineDelete:
				if cursor >= len(lines) || lines[cursor] != hl.Content {
					return "", fmt.Errorf("deleted line mismatch at line %d", cursor+1)
				}
				cursor++
			case LineAdd:
				out = append(out, hl.Content)
			}
		}
	}

	out = append(out, lines[cursor:]...)
	return joinLines(out, strings.HasSuffix(content, "\n") || content == ""), nil
}

// splitLines splits content into lines without trailing newlines. An empty
// file has zero lines.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

func joinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if trailingNewline {
		s += "\n"
	}
	return s
}

func relPaths(targets []*target) []string {
	paths := make([]string, len(targets))
	for i, t := range targets {
		paths[i] = t.rel
	}
	return paths
}
