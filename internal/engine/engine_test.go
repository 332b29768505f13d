package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/lazarus/api/schemas"
	"github.com/xkilldash9x/lazarus/internal/cache"
	"github.com/xkilldash9x/lazarus/internal/config"
	"github.com/xkilldash9x/lazarus/internal/engine"
	"github.com/xkilldash9x/lazarus/internal/sandbox"
)

// -- Test doubles --

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockOracle) Close() error {
	return m.Called().Error(0)
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []sandbox.Request
	run   func(req sandbox.Request) (*sandbox.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.run(req)
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) lastCall() sandbox.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func resultOf(v any) *sandbox.Result {
	raw, _ := json.Marshal(v)
	return &sandbox.Result{Value: raw, Duration: time.Millisecond}
}

func testEvolutionConfig() config.EvolutionConfig {
	return config.EvolutionConfig{
		AllowImports:   []string{"json", "re", "math"},
		MaxBodyLines:   200,
		SandboxTimeout: 5 * time.Second,
		MaxAttempts:    3,
		PythonBin:      "python3",
	}
}

func newTestEngine(t *testing.T, oracle schemas.Oracle, exec sandbox.Executor) (*engine.Engine, *cache.Store) {
	t.Helper()
	store := cache.NewStore(t.TempDir(), zaptest.NewLogger(t))
	e := engine.New(testEvolutionConfig(), schemas.GenerationOptions{Temperature: 0.0, MaxTokens: 4096}, oracle, exec, store, zaptest.NewLogger(t))
	return e, store
}

func greetSpec() engine.FunctionSpec {
	return engine.FunctionSpec{
		Namespace: "demo.app",
		Name:      "greet",
		Params:    []string{"name"},
		Doc:       "Return a greeting for the given name.",
	}
}

// -- Wrap --

func TestWrap_InvalidIdentity(t *testing.T) {
	e, _ := newTestEngine(t, &mockOracle{}, &fakeExecutor{})

	_, err := e.Wrap(engine.FunctionSpec{Namespace: "app", Name: ""})
	assert.Error(t, err)
}

func TestWrap_FallbackUsedForHealthyCalls(t *testing.T) {
	oracle := &mockOracle{}
	exec := &fakeExecutor{}
	e, _ := newTestEngine(t, oracle, exec)

	spec := greetSpec()
	spec.Fallback = func(ctx context.Context, args ...any) (any, error) {
		return "hello " + args[0].(string), nil
	}
	f, err := e.Wrap(spec)
	require.NoError(t, err)

	got, err := f.Call(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "hello ada", got)
	assert.Zero(t, exec.callCount())
	oracle.AssertExpectations(t)
}

func TestWrap_AdoptsCachedCandidateWithoutOracle(t *testing.T) {
	oracle := &mockOracle{}
	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return resultOf("from cache"), nil
	}}
	e, store := newTestEngine(t, oracle, exec)

	id := schemas.FunctionIdentity{Namespace: "demo.app", Name: "greet"}
	cached := "def greet(name):\n    return 'from cache'\n"
	_, err := store.Save(id, cached, "")
	require.NoError(t, err)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	got, err := f.Call(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "from cache", got)

	require.Equal(t, 1, exec.callCount())
	assert.Equal(t, cached, exec.lastCall().Source)
	assert.Equal(t, "greet", exec.lastCall().EntryPoint)
	oracle.AssertExpectations(t)
}

// -- Trigger selection --

func TestCall_NonTriggerErrorPropagatesUntouched(t *testing.T) {
	oracle := &mockOracle{}
	e, _ := newTestEngine(t, oracle, &fakeExecutor{})

	boom := errors.New("database unreachable")
	spec := greetSpec()
	spec.Fallback = func(ctx context.Context, args ...any) (any, error) {
		return nil, boom
	}
	f, err := e.Wrap(spec)
	require.NoError(t, err)

	_, err = f.Call(context.Background(), "ada")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, e.Ledger().Count(f.Identity()))
	oracle.AssertExpectations(t)
}

// -- Evolution rounds --

func TestEvolve_CommitOnFirstRound(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Return("return 'hello ' + name", nil).Once()

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return resultOf("hello ada"), nil
	}}
	e, store := newTestEngine(t, oracle, exec)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	got, err := f.Call(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "hello ada", got)

	// Committed: ledger reset, candidate persisted, implementation installed.
	assert.Zero(t, e.Ledger().Count(f.Identity()))
	stored, ok, err := store.Load(f.Identity())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, stored, "def greet(name):")
	assert.Contains(t, stored, "    return 'hello ' + name")

	// The next call dispatches into the sandbox, not the oracle.
	_, err = f.Call(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, exec.callCount())
	oracle.AssertExpectations(t)
}

func TestEvolve_ExactlyMaxAttemptsThenPropagate(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Return("return 1", nil).Times(3)

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return nil, &sandbox.Error{Reason: sandbox.ReasonException, Detail: "ZeroDivisionError"}
	}}
	e, _ := newTestEngine(t, oracle, exec)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	// Exhaustion surfaces the most recent failure, here the sandbox error
	// from the final round rather than the not-implemented sentinel.
	_, err = f.Call(context.Background(), "ada")
	var serr *sandbox.Error
	require.True(t, errors.As(err, &serr))
	assert.Contains(t, serr.Detail, "ZeroDivisionError")
	assert.Equal(t, 3, exec.callCount())
	assert.Equal(t, 3, e.Ledger().Count(f.Identity()))

	// The streak is still standing, so the next call propagates its own
	// trigger immediately without another oracle round.
	_, err = f.Call(context.Background(), "ada")
	assert.ErrorIs(t, err, schemas.ErrNotImplemented)
	oracle.AssertExpectations(t)
}

func TestEvolve_SandboxFailureBecomesNextTrigger(t *testing.T) {
	var mu sync.Mutex
	var prompts []string

	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			prompts = append(prompts, args.Get(1).(schemas.GenerationRequest).UserPrompt)
			mu.Unlock()
		}).
		Return("return 1", nil).Times(3)

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return nil, &sandbox.Error{Reason: sandbox.ReasonException, Detail: "ZeroDivisionError: division by zero"}
	}}
	e, _ := newTestEngine(t, oracle, exec)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	_, err = f.Call(context.Background(), "ada")
	require.Error(t, err)

	// Round 1 is prompted with the original trigger; every later round is
	// prompted with the previous round's sandbox failure.
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[0], "not implemented")
	assert.NotContains(t, prompts[0], "ZeroDivisionError")
	assert.Contains(t, prompts[1], "ZeroDivisionError")
	assert.Contains(t, prompts[2], "ZeroDivisionError")
	oracle.AssertExpectations(t)
}

func TestEvolve_SyntaxFailureBecomesNextTrigger(t *testing.T) {
	var mu sync.Mutex
	var prompts []string

	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			prompts = append(prompts, args.Get(1).(schemas.GenerationRequest).UserPrompt)
			mu.Unlock()
		}).
		Return("return (((", nil).Once()
	oracle.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			prompts = append(prompts, args.Get(1).(schemas.GenerationRequest).UserPrompt)
			mu.Unlock()
		}).
		Return("return 'hello ' + name", nil).Once()

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return resultOf("hello ada"), nil
	}}
	e, _ := newTestEngine(t, oracle, exec)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	got, err := f.Call(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "hello ada", got)

	// The unparseable candidate reprompts with the syntax error, and never
	// reaches the sandbox.
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "syntax error")
	assert.Equal(t, 1, exec.callCount())
	oracle.AssertExpectations(t)
}

func TestEvolve_PolicyViolationIsFatal(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Return("import os\nreturn os.getpid()", nil).Once()

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		t.Error("sandbox must not run a policy-violating candidate")
		return nil, nil
	}}
	e, _ := newTestEngine(t, oracle, exec)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	_, err = f.Call(context.Background(), "ada")
	require.Error(t, err)
	assert.True(t, schemas.IsPolicyViolation(err))

	var die *schemas.DisallowedImportError
	require.True(t, errors.As(err, &die))
	assert.Equal(t, "os", die.Module)
	oracle.AssertExpectations(t)
}

func TestEvolve_IndentationRepairedCandidateCommits(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Return("if name:\nreturn 'hello ' + name\nreturn 'hello'", nil).Once()

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return resultOf("hello ada"), nil
	}}
	e, _ := newTestEngine(t, oracle, exec)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	got, err := f.Call(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "hello ada", got)

	// The repaired source reached the sandbox with the block body indented.
	assert.Contains(t, exec.lastCall().Source, "    if name:\n        return 'hello ' + name")
	oracle.AssertExpectations(t)
}

func TestEvolve_MissingImportIsInserted(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Return("return json.dumps({'name': name})", nil).Once()

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return resultOf(`{"name": "ada"}`), nil
	}}
	e, store := newTestEngine(t, oracle, exec)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	_, err = f.Call(context.Background(), "ada")
	require.NoError(t, err)

	assert.Contains(t, exec.lastCall().Source, "    import json\n")
	stored, ok, err := store.Load(f.Identity())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, stored, "import json")
	oracle.AssertExpectations(t)
}

func TestEvolve_SanitizeHintFromSecondRound(t *testing.T) {
	var mu sync.Mutex
	var prompts []string

	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			prompts = append(prompts, args.Get(1).(schemas.GenerationRequest).UserPrompt)
			mu.Unlock()
		}).
		Return("return 'hello ' + name", nil).Times(2)

	round := 0
	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		round++
		if round == 1 {
			return nil, &sandbox.Error{Reason: sandbox.ReasonTimeout}
		}
		return resultOf("hello ada"), nil
	}}
	e, _ := newTestEngine(t, oracle, exec)

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	_, err = f.Call(context.Background(), "ada")
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "sanitize and normalize the incoming arguments")
	assert.Contains(t, prompts[1], "sanitize and normalize the incoming arguments")
	assert.Contains(t, prompts[1], "Strip leading and trailing whitespace")
	assert.Contains(t, prompts[0], "demo.app.greet")
	assert.Contains(t, prompts[0], `"ada"`)
	oracle.AssertExpectations(t)
}

func TestEvolve_AutoResynthesizeWidensTrigger(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Return("return 'recovered'", nil).Once()

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return resultOf("recovered"), nil
	}}
	store := cache.NewStore(t.TempDir(), zaptest.NewLogger(t))
	cfg := testEvolutionConfig()
	cfg.AutoResynthesize = true
	e := engine.New(cfg, schemas.GenerationOptions{}, oracle, exec, store, zaptest.NewLogger(t))

	spec := greetSpec()
	spec.Fallback = func(ctx context.Context, args ...any) (any, error) {
		return nil, fmt.Errorf("flaky backend")
	}
	f, err := e.Wrap(spec)
	require.NoError(t, err)

	got, err := f.Call(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	oracle.AssertExpectations(t)
}

func TestEvolve_OversizedBodyRetries(t *testing.T) {
	long := strings.Repeat("x = 1\n", 20) + "return x"

	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).Return(long, nil).Once()
	oracle.On("Generate", mock.Anything, mock.Anything).Return("return 'ok'", nil).Once()

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return resultOf("ok"), nil
	}}
	store := cache.NewStore(t.TempDir(), zaptest.NewLogger(t))
	cfg := testEvolutionConfig()
	cfg.MaxBodyLines = 10
	e := engine.New(cfg, schemas.GenerationOptions{}, oracle, exec, store, zaptest.NewLogger(t))

	f, err := e.Wrap(greetSpec())
	require.NoError(t, err)

	got, err := f.Call(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, exec.callCount(), "the oversized candidate must never reach the sandbox")
	oracle.AssertExpectations(t)
}

// -- Concurrency --

func TestConcurrentTriggersShareOneRound(t *testing.T) {
	defer goleak.VerifyNone(t)

	oracle := &mockOracle{}
	oracle.On("Generate", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(200 * time.Millisecond) }).
		Return("return 'hello ' + name", nil).Once()

	exec := &fakeExecutor{run: func(req sandbox.Request) (*sandbox.Result, error) {
		return resultOf("hello " + req.Args[0].(string)), nil
	}}
	e, _ := newTestEngine(t, oracle, exec)

	var barrier sync.WaitGroup
	barrier.Add(2)
	spec := greetSpec()
	spec.Fallback = func(ctx context.Context, args ...any) (any, error) {
		barrier.Done()
		barrier.Wait()
		return nil, schemas.ErrNotImplemented
	}
	f, err := e.Wrap(spec)
	require.NoError(t, err)

	results := make([]any, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, name := range []string{"ada", "bob"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i], errs[i] = f.Call(context.Background(), name)
		}(i, name)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.ElementsMatch(t, []any{"hello ada", "hello bob"}, results)
	// One sandbox run inside the shared round plus one re-dispatch by the
	// joining caller; the driver keeps its direct value.
	assert.Equal(t, 2, exec.callCount())
	oracle.AssertExpectations(t)
}
