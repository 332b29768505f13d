package engine

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/lazarus/api/schemas"
)

const systemPrompt = `You are an expert Python engineer repairing a failing function in a live system.
Respond with only the replacement body of the function: no def line, no markdown fences, no commentary.
Start every body line at indentation level zero; nest with 4-space indentation.
Import only explicitly allowed modules. The body must not read files, open sockets, or touch the host.`

const sanitizeHint = `Additionally, sanitize and normalize the incoming arguments before use.
Strip leading and trailing whitespace from string arguments, remove embedded newlines, and collapse runs of spaces; for URL strings also make sure the path is valid.`

// buildRequest assembles the oracle request for one evolution round.
func (e *Engine) buildRequest(f *Function, trigger error, args []any, attempt int) schemas.GenerationRequest {
	var b strings.Builder

	fmt.Fprintf(&b, "Function: %s\n", f.id.String())
	fmt.Fprintf(&b, "Signature: def %s(%s):\n", f.id.Name, f.signature())
	if f.doc != "" {
		fmt.Fprintf(&b, "Docstring: %s\n", f.doc)
	}
	fmt.Fprintf(&b, "\nCurrent source:\n%s\n", strings.TrimRight(f.original, "\n"))
	fmt.Fprintf(&b, "\nObserved failure: %v\n", trigger)
	fmt.Fprintf(&b, "Call arguments: %s\n", renderArgs(args))
	fmt.Fprintf(&b, "Allowed imports: %s\n", strings.Join(e.cfg.AllowImports, ", "))
	fmt.Fprintf(&b, "\nWrite a working body for %s that returns the correct value for these arguments.\n", f.id.Name)

	if attempt > 1 {
		b.WriteString("\n")
		b.WriteString(sanitizeHint)
		b.WriteString("\n")
	}

	return schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   b.String(),
		Options:      e.genOpts,
	}
}

// renderArgs shows the triggering arguments as JSON literals so the oracle
// sees concrete values, not Go formatting.
func renderArgs(args []any) string {
	if len(args) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		enc, err := json.MarshalToString(a)
		if err != nil {
			enc = fmt.Sprintf("%v", a)
		}
		parts = append(parts, enc)
	}
	return strings.Join(parts, ", ")
}
