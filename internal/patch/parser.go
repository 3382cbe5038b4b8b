// Package patch validates and applies unified-diff patches against
// workspace files under conflict detection. Application is all-or-nothing.
package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LineKind is the role of one line inside a hunk body.
type LineKind byte

const (
	LineContext LineKind = ' '
	LineAdd     LineKind = '+'
	LineDelete  LineKind = '-'
)

// HunkLine is one body line of a hunk, prefix stripped.
type HunkLine struct {
	Kind    LineKind
	Content string
}

// Hunk is one @@ block of a file diff.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []HunkLine
}

// FileDiff is the parsed diff for a single file.
type FileDiff struct {
	Path     string // new-side path, workspace-relative
	OldPath  string
	IsNew    bool // old side is /dev/null
	IsDelete bool // new side is /dev/null
	Hunks    []Hunk
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse parses unified diff text into per-file diffs. Both git-style diffs
// (diff --git headers) and plain ---/+++ diffs are accepted.
func Parse(diffText string) ([]*FileDiff, error) {
	if strings.TrimSpace(diffText) == "" {
		return nil, fmt.Errorf("empty diff")
	}

	lines := strings.Split(diffText, "\n")

	var files []*FileDiff
	var current *FileDiff
	var hunk *Hunk
	var remainingOld, remainingNew int

	closeHunk := func() error {
		if hunk == nil {
			return nil
		}
		if remainingOld != 0 || remainingNew != 0 {
			return fmt.Errorf("hunk at -%d,+%d has wrong line counts", hunk.OldStart, hunk.NewStart)
		}
		current.Hunks = append(current.Hunks, *hunk)
		hunk = nil
		return nil
	}

	closeFile := func() error {
		if err := closeHunk(); err != nil {
			return err
		}
		if current != nil {
			if len(current.Hunks) == 0 {
				return fmt.Errorf("file %s has no hunks", current.Path)
			}
			files = append(files, current)
			current = nil
		}
		return nil
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			if err := closeFile(); err != nil {
				return nil, err
			}

		// Header lines only count as headers between hunks. Inside a hunk
		// body a "--- " or "+++ " prefix is a deleted or added line whose
		// content happens to start with "-- " or "++ ".
		case hunk == nil && strings.HasPrefix(line, "--- "):
			// An old-side header outside a hunk starts a new file section
			// for plain (non-git) diffs.
			if current != nil && len(current.Hunks) > 0 {
				if err := closeFile(); err != nil {
					return nil, err
				}
			}
			if current == nil {
				current = &FileDiff{}
			}
			current.OldPath = stripPathPrefix(line[4:])
			current.IsNew = current.OldPath == ""

		case hunk == nil && strings.HasPrefix(line, "+++ "):
			if current == nil {
				current = &FileDiff{}
			}
			current.Path = stripPathPrefix(line[4:])
			if current.Path == "" {
				current.IsDelete = true
				current.Path = current.OldPath
			}

		case hunkHeaderRe.MatchString(line):
			if current == nil || current.Path == "" {
				return nil, fmt.Errorf("hunk header before file header")
			}
			if err := closeHunk(); err != nil {
				return nil, err
			}

			m := hunkHeaderRe.FindStringSubmatch(line)
			h := Hunk{
				OldStart: atoiDefault(m[1], 0),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewCount: atoiDefault(m[4], 1),
			}
			hunk = &h
			remainingOld = h.OldCount
			remainingNew = h.NewCount

		case hunk != nil && len(line) > 0 && (line[0] == ' ' || line[0] == '+' || line[0] == '-'):
			kind := LineKind(line[0])
			hunk.Lines = append(hunk.Lines, HunkLine{Kind: kind, Content: line[1:]})
			switch kind {
			case LineContext:
				remainingOld--
				remainingNew--
			case LineDelete:
				remainingOld--
			case LineAdd:
				remainingNew--
			}
			if remainingOld == 0 && remainingNew == 0 {
				if err := closeHunk(); err != nil {
					return nil, err
				}
			}

		case hunk != nil && strings.HasPrefix(line, `\ No newline`):
			// Metadata only; the applier treats files as line sequences.

		case hunk != nil && line == "":
			// Some producers emit bare empty lines for empty context lines.
			hunk.Lines = append(hunk.Lines, HunkLine{Kind: LineContext})
			remainingOld--
			remainingNew--
			if remainingOld == 0 && remainingNew == 0 {
				if err := closeHunk(); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := closeFile(); err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no file diffs found")
	}

	return files, nil
}

// stripPathPrefix removes the a/ or b/ prefix and trailing metadata from a
// file header path. /dev/null maps to the empty string.
func stripPathPrefix(s string) string {
	s = strings.TrimSpace(s)
	if tab := strings.IndexByte(s, '\t'); tab >= 0 {
		s = s[:tab]
	}
	if s == "/dev/null" {
		return ""
	}
	s = strings.TrimPrefix(s, "a/")
	s = strings.TrimPrefix(s, "b/")
	return s
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
