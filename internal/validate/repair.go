package validate

import "strings"

// RepairIndentation applies one conservative repair pass to a candidate body
// whose wrapped form failed to parse. It is pure and never fails; the result
// still has to survive a re-parse.
//
// Strategy:
//   - trim blank edge lines and normalize line endings
//   - strip a uniform leading indent taken from the first line
//   - flatten indentation increases not preceded by a block opener or an open
//     bracket
//   - force-indent the line immediately following a block opener that is not
//     already indented
func RepairIndentation(body string) string {
	b := strings.ReplaceAll(body, "\r\n", "\n")
	b = strings.ReplaceAll(b, "\r", "\n")

	lines := strings.Split(b, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}

	// Remove the first line's leading indent from every line that carries it.
	first := lines[0]
	lead := len(first) - len(strings.TrimLeft(first, " "))
	if lead > 0 {
		prefix := strings.Repeat(" ", lead)
		for i, ln := range lines {
			if strings.HasPrefix(ln, prefix) {
				lines[i] = ln[lead:]
			} else {
				lines[i] = strings.TrimLeft(ln, "\t")
			}
		}
	}

	// Flatten unexpected indents.
	out := make([]string, 0, len(lines))
	var prev string
	havePrev := false
	bracketDepth := 0
	for _, ln := range lines {
		stripped := strings.TrimLeft(ln, " ")
		if stripped == "" {
			out = append(out, ln)
			continue
		}
		indent := len(ln) - len(stripped)
		allowIndent := bracketDepth > 0 ||
			(havePrev && strings.HasSuffix(strings.TrimRight(prev, " \t"), ":"))
		if indent > 0 && !allowIndent {
			ln = stripped
		}
		out = append(out, ln)
		bracketDepth += bracketDelta(stripped)
		prev = stripped
		havePrev = true
	}

	// A block opener must be followed by an indented line.
	for i := range out {
		if !strings.HasSuffix(strings.TrimRight(out[i], " \t"), ":") {
			continue
		}
		j := i + 1
		for j < len(out) && strings.TrimSpace(out[j]) == "" {
			j++
		}
		if j < len(out) {
			next := out[j]
			if len(next) == len(strings.TrimLeft(next, " ")) {
				out[j] = "    " + next
			}
		}
	}
	return strings.Join(out, "\n")
}

// bracketDelta is a crude open/close bracket balance; it ignores strings,
// which is good enough for a best-effort repair.
func bracketDelta(s string) int {
	return strings.Count(s, "(") + strings.Count(s, "[") + strings.Count(s, "{") -
		strings.Count(s, ")") - strings.Count(s, "]") - strings.Count(s, "}")
}
