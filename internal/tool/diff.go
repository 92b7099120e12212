package tool

import (
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// buildDiffMetadata summarizes a file mutation for tool metadata: a
// patch-format diff (with ---/+++ headers naming the file relative to
// baseDir) plus added/removed line counts. Identical content yields an
// empty diff and zero counts.
func buildDiffMetadata(path, before, after, baseDir string) (diffText string, additions, deletions int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	chA, chB, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chA, chB, false), lines)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += lineCount(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += lineCount(d.Text)
		}
	}

	patch := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if patch == "" {
		return "", additions, deletions
	}

	var b strings.Builder
	if header := displayPath(path, baseDir); header != "" {
		b.WriteString("--- " + header + "\n")
		b.WriteString("+++ " + header + "\n")
	}
	b.WriteString(patch)
	return b.String(), additions, deletions
}

// displayPath renders path relative to baseDir when possible.
func displayPath(path, baseDir string) string {
	if path == "" || baseDir == "" {
		return path
	}
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return path
	}
	return rel
}

// lineCount counts lines in a diff hunk, treating a trailing partial
// line as one more.
func lineCount(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
