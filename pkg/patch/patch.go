// Package patch detects and normalizes the diff dialects a code-host or
// local git client might hand back (git's extended unified diff, svn's
// "Index:" header style, and raw unified diff) into a single unified-diff
// representation, and parses that representation into per-file changes.
//
// No diff-parsing library was found anywhere in the example pack (only
// pmezard/go-difflib, an indirect test dependency of testify, appeared —
// it computes diffs, it does not parse arbitrary dialects), so this
// package is hand-rolled against the standard library; see DESIGN.md.
package patch

import (
	"fmt"
	"strings"
)

// Format identifies the dialect a raw diff was authored in.
type Format string

const (
	FormatGit     Format = "git"
	FormatSVN     Format = "svn"
	FormatUnified Format = "unified"
	FormatUnknown Format = "unknown"
)

// DetectFormat inspects diff's header lines to classify its dialect.
// Detection looks at line prefixes only; it never parses hunk bodies.
func DetectFormat(diff string) Format {
	lines := strings.Split(diff, "\n")
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			return FormatGit
		case strings.HasPrefix(line, "Index: "):
			return FormatSVN
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
			return FormatUnified
		}
	}
	return FormatUnknown
}

// Normalize rewrites diff into plain unified-diff form: every dialect's
// bookkeeping lines (git's "diff --git"/"index"/mode lines, svn's
// "Index:"/"===" separators) are dropped, leaving only `--- `, `+++ `,
// `@@ ` hunk headers and their body lines. Normalize is idempotent: an
// already-unified diff passes through unchanged, so
// Normalize(Normalize(d)) == Normalize(d) and DetectFormat(Normalize(d))
// == FormatUnified for any non-empty, parseable d.
func Normalize(diff string) (string, error) {
	format := DetectFormat(diff)
	if format == FormatUnknown {
		return "", fmt.Errorf("patch: unrecognized diff format")
	}

	lines := strings.Split(diff, "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff --git "),
			strings.HasPrefix(line, "index "),
			strings.HasPrefix(line, "new file mode "),
			strings.HasPrefix(line, "deleted file mode "),
			strings.HasPrefix(line, "old mode "),
			strings.HasPrefix(line, "new mode "),
			strings.HasPrefix(line, "similarity index "),
			strings.HasPrefix(line, "rename from "),
			strings.HasPrefix(line, "rename to "),
			strings.HasPrefix(line, "Index: "),
			isSVNSeparator(line):
			continue
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n"), nil
}

func isSVNSeparator(line string) bool {
	if len(line) < 3 {
		return false
	}
	for _, r := range line {
		if r != '=' {
			return false
		}
	}
	return true
}

// Hunk is one @@ -a,b +c,d @@ block and its body lines (each still
// carrying its leading ' '/'+'/'-' marker).
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Body     []string
}

// FileChange is one file's worth of hunks within a multi-file diff.
type FileChange struct {
	OldPath   string
	NewPath   string
	IsNew     bool
	IsDeleted bool
	Hunks     []Hunk
}

// Path returns the change's effective path: NewPath, or OldPath for a
// deletion.
func (f FileChange) Path() string {
	if f.IsDeleted {
		return f.OldPath
	}
	return f.NewPath
}

// ParseFiles normalizes diff and splits it into per-file changes. An
// empty or structurally invalid diff (no `--- `/`+++ ` pair, or a `@@ `
// header that fails to parse) is reported as an error — the caller (the
// Validator's diff_format check, spec §4.5) treats that as terminal.
func ParseFiles(diff string) ([]FileChange, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, fmt.Errorf("patch: empty diff")
	}

	normalized, err := Normalize(diff)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(normalized, "\n")
	var files []FileChange
	var current *FileChange

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			if current != nil {
				files = append(files, *current)
			}
			current = &FileChange{OldPath: trimDiffPath(line[4:])}
		case strings.HasPrefix(line, "+++ "):
			if current == nil {
				return nil, fmt.Errorf("patch: '+++ ' header with no preceding '--- ' at line %d", i+1)
			}
			current.NewPath = trimDiffPath(line[4:])
			current.IsNew = current.OldPath == "/dev/null"
			current.IsDeleted = current.NewPath == "/dev/null"
		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("patch: '@@ ' hunk with no preceding file header at line %d", i+1)
			}
			hunk, bodyEnd, err := parseHunk(lines, i)
			if err != nil {
				return nil, err
			}
			current.Hunks = append(current.Hunks, hunk)
			i = bodyEnd - 1
		}
	}
	if current != nil {
		files = append(files, *current)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("patch: no file headers found in diff")
	}
	return files, nil
}

// Render serializes a FileChange back into unified-diff text: a `--- `/
// `+++ ` header pair followed by each hunk's `@@ ` header and body.
// Render(f) for an f produced by ParseFiles round-trips byte-for-byte
// modulo the a/b path prefix ParseFiles strips.
func Render(f FileChange) string {
	var sb strings.Builder
	oldPath, newPath := f.OldPath, f.NewPath
	if oldPath != "/dev/null" {
		oldPath = "a/" + oldPath
	}
	if newPath != "/dev/null" {
		newPath = "b/" + newPath
	}
	fmt.Fprintf(&sb, "--- %s\n", oldPath)
	fmt.Fprintf(&sb, "+++ %s\n", newPath)
	for _, h := range f.Hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, line := range h.Body {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func trimDiffPath(raw string) string {
	path := strings.TrimSpace(raw)
	if idx := strings.IndexByte(path, '\t'); idx >= 0 {
		path = path[:idx]
	}
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		path = path[2:]
	}
	return path
}

// parseHunk parses the "@@ -a,b +c,d @@" header at lines[start] plus its
// body lines (until the next header or EOF), returning the hunk and the
// index just past its body.
func parseHunk(lines []string, start int) (Hunk, int, error) {
	header := lines[start]
	var oldStart, oldLines, newStart, newLines int
	closeIdx := strings.Index(header[3:], "@@")
	if closeIdx < 0 {
		return Hunk{}, 0, fmt.Errorf("patch: malformed hunk header %q", header)
	}
	ranges := strings.TrimSpace(header[3 : 3+closeIdx])
	parts := strings.Fields(ranges)
	if len(parts) != 2 {
		return Hunk{}, 0, fmt.Errorf("patch: malformed hunk range %q", ranges)
	}

	var err error
	oldStart, oldLines, err = parseRange(parts[0], '-')
	if err != nil {
		return Hunk{}, 0, err
	}
	newStart, newLines, err = parseRange(parts[1], '+')
	if err != nil {
		return Hunk{}, 0, err
	}

	i := start + 1
	var body []string
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "@@ ") {
			break
		}
		if line == "" && i == len(lines)-1 {
			break
		}
		body = append(body, line)
	}

	return Hunk{OldStart: oldStart, OldLines: oldLines, NewStart: newStart, NewLines: newLines, Body: body}, i, nil
}

func parseRange(field string, marker byte) (start, count int, err error) {
	if len(field) == 0 || field[0] != marker {
		return 0, 0, fmt.Errorf("patch: expected range starting with %q, got %q", marker, field)
	}
	field = field[1:]
	commaIdx := strings.IndexByte(field, ',')
	if commaIdx < 0 {
		start, err = atoi(field)
		return start, 1, err
	}
	start, err = atoi(field[:commaIdx])
	if err != nil {
		return 0, 0, err
	}
	count, err = atoi(field[commaIdx+1:])
	return start, count, err
}

func atoi(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("patch: invalid integer %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
