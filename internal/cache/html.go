package cache

import (
	"fmt"
	"html"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/xkilldash9x/lazarus/api/schemas"
)

// htmlDiff renders a two-column before/after comparison from the sequence
// matcher's opcodes. Equal runs longer than six lines are collapsed to their
// context edges to keep the document readable.
func htmlDiff(id schemas.FunctionIdentity, original, candidate, timestamp string) string {
	before := difflib.SplitLines(normalizeNewlines(original))
	after := difflib.SplitLines(normalizeNewlines(candidate))
	if decor := decoratorBlock(original); len(decor) > 0 {
		after = append(decor, after...)
	}

	var rows strings.Builder
	matcher := difflib.NewMatcher(before, after)
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			writeEqualRows(&rows, before, after, op)
		case 'r':
			n := max(op.I2-op.I1, op.J2-op.J1)
			for k := 0; k < n; k++ {
				left, right := "", ""
				if op.I1+k < op.I2 {
					left = before[op.I1+k]
				}
				if op.J1+k < op.J2 {
					right = after[op.J1+k]
				}
				writeRow(&rows, left, "chg", right, "chg")
			}
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				writeRow(&rows, before[i], "del", "", "")
			}
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				writeRow(&rows, "", "", after[j], "add")
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString("<title>lazarus diff: " + html.EscapeString(id.String()) + "</title>\n")
	sb.WriteString(`<style>
body { font-family: monospace; font-size: 13px; }
table { border-collapse: collapse; width: 100%; }
td { padding: 1px 6px; vertical-align: top; white-space: pre-wrap; width: 50%; }
td.del { background: #ffd7d5; }
td.add { background: #d4f8d4; }
td.chg { background: #fff3c2; }
tr.gap td { background: #f0f0f0; color: #888; text-align: center; }
th { text-align: left; padding: 4px 6px; background: #e8e8e8; }
</style>
</head>
<body>
`)
	fmt.Fprintf(&sb, "<p>Generated: %s</p>\n", html.EscapeString(timestamp))
	fmt.Fprintf(&sb, "<table>\n<tr><th>before: %s</th><th>after: %s</th></tr>\n",
		html.EscapeString(id.String()), html.EscapeString(id.String()))
	sb.WriteString(rows.String())
	sb.WriteString("</table>\n</body>\n</html>\n")
	return sb.String()
}

const contextLines = 3

func writeEqualRows(sb *strings.Builder, before, after []string, op difflib.OpCode) {
	n := op.I2 - op.I1
	if n <= 2*contextLines {
		for k := 0; k < n; k++ {
			writeRow(sb, before[op.I1+k], "", after[op.J1+k], "")
		}
		return
	}
	for k := 0; k < contextLines; k++ {
		writeRow(sb, before[op.I1+k], "", after[op.J1+k], "")
	}
	fmt.Fprintf(sb, "<tr class=\"gap\"><td colspan=\"2\">&hellip; %d unchanged lines &hellip;</td></tr>\n",
		n-2*contextLines)
	for k := n - contextLines; k < n; k++ {
		writeRow(sb, before[op.I1+k], "", after[op.J1+k], "")
	}
}

func writeRow(sb *strings.Builder, left, leftClass, right, rightClass string) {
	fmt.Fprintf(sb, "<tr><td%s>%s</td><td%s>%s</td></tr>\n",
		classAttr(leftClass), html.EscapeString(strings.TrimRight(left, "\n")),
		classAttr(rightClass), html.EscapeString(strings.TrimRight(right, "\n")))
}

func classAttr(class string) string {
	if class == "" {
		return ""
	}
	return ` class="` + class + `"`
}
