package patch

import (
	"fmt"
	"strings"
)

// Apply reconstructs a file's post-change content from its pre-change
// content (empty for FileChange.IsNew) and f's hunks. Hunks are applied in
// order; each hunk's context (' ') and removed ('-') lines must match the
// position Apply has reached in original, added ('+') lines are inserted
// verbatim. The result is what a code host's git-data API needs (a whole
// blob), since the data API has no notion of a unified-diff hunk.
func Apply(original string, f FileChange) (string, error) {
	if f.IsDeleted {
		return "", fmt.Errorf("patch: cannot apply a deletion hunk for %q, delete the path instead", f.Path())
	}

	lines := splitLines(original)

	var out []string
	cursor := 0

	for _, h := range f.Hunks {
		start := h.OldStart - 1
		if start < 0 {
			start = 0
		}
		if start < cursor {
			return "", fmt.Errorf("patch: hunks for %q are out of order or overlapping at line %d", f.Path(), h.OldStart)
		}
		if start > len(lines) {
			return "", fmt.Errorf("patch: hunk for %q starts at line %d past end of original (%d lines)", f.Path(), h.OldStart, len(lines))
		}

		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, body := range h.Body {
			if body == "" {
				continue
			}
			marker, text := body[0], body[1:]
			switch marker {
			case ' ':
				if cursor >= len(lines) {
					return "", fmt.Errorf("patch: context line past end of original for %q", f.Path())
				}
				out = append(out, lines[cursor])
				cursor++
			case '-':
				if cursor >= len(lines) {
					return "", fmt.Errorf("patch: removal past end of original for %q", f.Path())
				}
				cursor++
			case '+':
				out = append(out, text)
			default:
				return "", fmt.Errorf("patch: unrecognized hunk body marker %q in %q", marker, f.Path())
			}
		}
	}
	out = append(out, lines[cursor:]...)

	return strings.Join(out, "\n"), nil
}

func splitLines(s string) []string {
	return strings.Split(s, "\n")
}
