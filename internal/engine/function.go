// Package engine wires wrapped functions to the evolution pipeline: a failing
// implementation is replaced at runtime with an oracle-generated candidate
// that survived validation and an isolated execution.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lazarus/api/schemas"
	"github.com/xkilldash9x/lazarus/internal/sandbox"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Impl is a callable behavior of a wrapped function. The initial fallback is
// native Go; an evolved implementation dispatches into the sandbox.
type Impl func(ctx context.Context, args ...any) (any, error)

// FunctionSpec registers a function with the engine.
type FunctionSpec struct {
	Namespace string
	Name      string
	// Params are the positional parameter names, used for the def line of
	// generated candidates and for the oracle prompt. Empty means "*args".
	Params []string
	// Doc is the docstring forwarded to the oracle.
	Doc string
	// Source is the current source text, used for prompts and diff artifacts.
	// Empty synthesizes a not-implemented stub.
	Source string
	// Fallback is the native behavior invoked until a candidate is installed.
	// Nil installs a behavior that always reports not implemented.
	Fallback Impl
}

// Function is a wrapped function whose implementation can be atomically
// replaced by a committed candidate.
type Function struct {
	id       schemas.FunctionIdentity
	params   []string
	doc      string
	original string

	engine *Engine
	impl   atomic.Pointer[Impl]
	logger *zap.Logger
}

// Identity returns the wrapped function's identity.
func (f *Function) Identity() schemas.FunctionIdentity { return f.id }

// Call invokes the current implementation. A qualifying failure starts an
// evolution round; any other outcome passes through unchanged.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	value, err := f.invoke(ctx, args...)
	if err == nil || !f.engine.isTrigger(err) {
		return value, err
	}
	return f.engine.resurrect(ctx, f, err, args)
}

func (f *Function) invoke(ctx context.Context, args ...any) (any, error) {
	impl := f.impl.Load()
	return (*impl)(ctx, args...)
}

func (f *Function) install(impl Impl) {
	f.impl.Store(&impl)
}

// installCandidate swaps in an implementation that runs the committed source
// in the sandbox with the caller's arguments.
func (f *Function) installCandidate(source string) {
	cfg := f.engine.cfg
	f.install(func(ctx context.Context, args ...any) (any, error) {
		res, err := f.engine.executor.Execute(ctx, sandbox.Request{
			Source:           source,
			EntryPoint:       f.id.Name,
			Args:             args,
			AllowImports:     cfg.AllowImports,
			Timeout:          cfg.SandboxTimeout,
			NetworkAllowlist: cfg.NetworkAllowlist,
		})
		if err != nil {
			return nil, err
		}
		return decodeValue(res.Value)
	})
}

// signature renders the def-line parameter list.
func (f *Function) signature() string {
	if len(f.params) == 0 {
		return "*args"
	}
	return strings.Join(f.params, ", ")
}

// wrapBody turns a validated body into a complete function definition.
func (f *Function) wrapBody(body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "def %s(%s):\n", f.id.Name, f.signature())
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// stubSource synthesizes a source snapshot for functions registered without
// one, so prompts and diffs always have a "before" side.
func (f *Function) stubSource() string {
	var b strings.Builder
	fmt.Fprintf(&b, "def %s(%s):\n", f.id.Name, f.signature())
	if f.doc != "" {
		fmt.Fprintf(&b, "    \"\"\"%s\"\"\"\n", f.doc)
	}
	b.WriteString("    raise NotImplementedError\n")
	return b.String()
}

func decodeValue(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to decode sandbox value: %w", err)
	}
	return value, nil
}

func notImplemented(ctx context.Context, args ...any) (any, error) {
	return nil, schemas.ErrNotImplemented
}
