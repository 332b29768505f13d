package cache

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/xkilldash9x/lazarus/api/schemas"
)

// unifiedDiff renders a line-oriented unified diff between the original
// snapshot and the accepted candidate. Decorator-like annotation lines of the
// original are prepended to the "after" side so reports never suggest the
// annotations were removed; the cached file itself stays unannotated.
func unifiedDiff(id schemas.FunctionIdentity, original, candidate, timestamp string) (string, error) {
	before := difflib.SplitLines(normalizeNewlines(original))
	after := difflib.SplitLines(normalizeNewlines(candidate))
	if decor := decoratorBlock(original); len(decor) > 0 {
		after = append(decor, after...)
	}

	ud := difflib.UnifiedDiff{
		A:        before,
		B:        after,
		FromFile: "before:" + id.String(),
		ToFile:   "after:" + id.String(),
		FromDate: timestamp,
		ToDate:   timestamp,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(ud)
}

// decoratorBlock returns the contiguous "@"-prefixed lines directly above the
// first "def " line of src, with line terminators, in source order.
func decoratorBlock(src string) []string {
	lines := difflib.SplitLines(normalizeNewlines(src))
	defIdx := -1
	for i, ln := range lines {
		if strings.HasPrefix(strings.TrimLeft(ln, " \t"), "def ") {
			defIdx = i
			break
		}
	}
	if defIdx <= 0 {
		return nil
	}

	var decor []string
	for j := defIdx - 1; j >= 0; j-- {
		if strings.HasPrefix(strings.TrimLeft(lines[j], " \t"), "@") {
			decor = append([]string{lines[j]}, decor...)
			continue
		}
		break
	}
	return decor
}

// diffStats parses the unified diff text and counts hunks and changed lines.
func diffStats(diffText string) schemas.DiffStats {
	var stats schemas.DiffStats
	if strings.TrimSpace(diffText) == "" {
		return stats
	}

	fileDiffs, err := godiff.NewMultiFileDiffReader(strings.NewReader(diffText)).ReadAllFiles()
	if err != nil {
		return stats
	}
	for _, fd := range fileDiffs {
		stats.Hunks += len(fd.Hunks)
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") {
					stats.Added++
				} else if strings.HasPrefix(line, "-") {
					stats.Deleted++
				}
			}
		}
	}
	return stats
}

// markdownDoc embeds the diff in a reviewable markdown document.
func markdownDoc(id schemas.FunctionIdentity, diffText, timestamp string) string {
	var sb strings.Builder
	sb.WriteString("# lazarus diff for `" + id.String() + "`\n\n")
	sb.WriteString("_Generated: " + timestamp + "_\n\n")
	sb.WriteString("```diff\n")
	sb.WriteString(diffText)
	if !strings.HasSuffix(diffText, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n")
	return sb.String()
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
