// Package validate checks and repairs oracle-generated candidate bodies
// before anything is allowed near the sandbox. The pipeline is staged so a
// cheap, deterministic check never wastes an isolated execution: normalize,
// then syntax, then imports.
package validate

import (
	"regexp"
	"strings"
)

// codeBlockRegex extracts content wrapped in markdown fences, tolerating
// language tags (python, py, etc.). Backticks are written as \x60 because Go
// raw strings cannot contain them.
var codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*\n?(.*?)\\s*\x60\x60\x60")

// Normalize prepares raw oracle output for wrapping: strips markdown fences
// and language tags, normalizes line endings, dedents, and trims blank edge
// lines without touching the indentation of non-empty lines.
func Normalize(body string) string {
	b := strings.TrimSpace(body)

	if strings.HasPrefix(b, "```") {
		if matches := codeBlockRegex.FindStringSubmatch(b); len(matches) > 1 {
			b = matches[1]
		} else {
			b = strings.Trim(b, "`\n")
			b = strings.TrimPrefix(b, "python\n")
		}
	}

	b = strings.ReplaceAll(b, "\r\n", "\n")
	b = strings.ReplaceAll(b, "\r", "\n")
	b = dedent(b)

	lines := strings.Split(b, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// dedent removes the longest whitespace prefix common to all non-blank lines.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	margin := ""
	first := true
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		indent := ln[:len(ln)-len(strings.TrimLeft(ln, " \t"))]
		if first {
			margin = indent
			first = false
			continue
		}
		for !strings.HasPrefix(indent, margin) {
			margin = margin[:len(margin)-1]
		}
		if margin == "" {
			return s
		}
	}
	if margin == "" {
		return s
	}
	out := make([]string, len(lines))
	for i, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			out[i] = ln
			continue
		}
		out[i] = strings.TrimPrefix(ln, margin)
	}
	return strings.Join(out, "\n")
}

var (
	importLineRegex = regexp.MustCompile(`^\s*import\s+([a-zA-Z0-9_\.]+)`)
	fromLineRegex   = regexp.MustCompile(`^\s*from\s+([a-zA-Z0-9_\.]+)\s+import\s+`)
)

// EnsureImports prepends "import <root>" lines for every allowlisted module
// the body references by attribute access (e.g. "json.dumps") but never
// imports. The check is a plain token scan; it deliberately does not try to
// exclude string literals.
func EnsureImports(body string, allow []string) string {
	existing := make(map[string]bool)
	for _, ln := range strings.Split(body, "\n") {
		if m := importLineRegex.FindStringSubmatch(ln); m != nil {
			existing[rootOf(m[1])] = true
		}
		if m := fromLineRegex.FindStringSubmatch(ln); m != nil {
			existing[rootOf(m[1])] = true
		}
	}

	var toAdd []string
	for _, mod := range allow {
		root := rootOf(mod)
		if existing[root] {
			continue
		}
		if strings.Contains(body, root+".") {
			toAdd = append(toAdd, "import "+root)
			existing[root] = true
		}
	}

	if len(toAdd) == 0 {
		return body
	}
	return strings.Join(toAdd, "\n") + "\n" + body
}

func rootOf(module string) string {
	if i := strings.IndexByte(module, '.'); i >= 0 {
		return module[:i]
	}
	return module
}

// CountLines reports the number of lines in a candidate body, used to enforce
// the configured body-size bound.
func CountLines(body string) int {
	if body == "" {
		return 0
	}
	return strings.Count(body, "\n") + 1
}
