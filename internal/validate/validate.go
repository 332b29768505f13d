package validate

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/xkilldash9x/lazarus/api/schemas"
)

// SyntaxError reports that candidate source failed to parse, with the first
// offending line when the parser could localize it.
type SyntaxError struct {
	Line int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("candidate source has a syntax error at line %d", e.Line)
	}
	return "candidate source has a syntax error"
}

// CheckSyntax parses the complete wrapped definition with the tree-sitter
// Python grammar and reports the first syntax error, if any.
func CheckSyntax(ctx context.Context, source string) error {
	root, cleanup, err := parse(ctx, source)
	if err != nil {
		return err
	}
	defer cleanup()

	if errNode := findFirstError(root); errNode != nil {
		return &SyntaxError{Line: int(errNode.StartPoint().Row) + 1}
	}
	return nil
}

// CheckImports walks every import in the parsed definition and rejects any
// module whose top-level root is not on the allowlist. Submodule imports of
// an allowed root are permitted. A rejection is a policy violation, never
// silently repaired here; the orchestrator decides how to react.
func CheckImports(ctx context.Context, source string, allow []string) error {
	root, cleanup, err := parse(ctx, source)
	if err != nil {
		return err
	}
	defer cleanup()

	allowed := make(map[string]bool, len(allow))
	for _, mod := range allow {
		allowed[rootOf(mod)] = true
	}

	src := []byte(source)
	var disallowed *schemas.DisallowedImportError
	walk(root, func(n *sitter.Node) bool {
		if disallowed != nil {
			return false
		}
		switch n.Type() {
		case "import_statement":
			// import a.b, c as d
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				name := child
				if child.Type() == "aliased_import" {
					name = child.ChildByFieldName("name")
				}
				if name == nil {
					continue
				}
				if r := rootOf(name.Content(src)); !allowed[r] {
					disallowed = &schemas.DisallowedImportError{Module: r}
					return false
				}
			}
			return false
		case "import_from_statement":
			// from a.b import c; only the module root is policy-relevant.
			module := n.ChildByFieldName("module_name")
			if module == nil || module.Type() == "relative_import" {
				return false
			}
			if r := rootOf(module.Content(src)); !allowed[r] {
				disallowed = &schemas.DisallowedImportError{Module: r}
			}
			return false
		}
		return true
	})

	if disallowed != nil {
		return disallowed
	}
	return nil
}

func parse(ctx context.Context, source string) (*sitter.Node, func(), error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(source))
	if err != nil {
		parser.Close()
		return nil, nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	cleanup := func() {
		tree.Close()
		parser.Close()
	}
	return tree.RootNode(), cleanup, nil
}

// walk visits nodes depth-first; fn returning false prunes the subtree.
func walk(node *sitter.Node, fn func(*sitter.Node) bool) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), fn)
	}
}

func findFirstError(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if err := findFirstError(node.Child(i)); err != nil {
			return err
		}
	}
	return nil
}
