package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/lazarus/api/schemas"
	"github.com/xkilldash9x/lazarus/internal/cache"
	"github.com/xkilldash9x/lazarus/internal/config"
	"github.com/xkilldash9x/lazarus/internal/ledger"
	"github.com/xkilldash9x/lazarus/internal/sandbox"
	"github.com/xkilldash9x/lazarus/internal/validate"
)

// Engine owns the evolution pipeline shared by every wrapped function.
type Engine struct {
	cfg      config.EvolutionConfig
	genOpts  schemas.GenerationOptions
	oracle   schemas.Oracle
	executor sandbox.Executor
	store    *cache.Store
	ledger   *ledger.Ledger
	logger   *zap.Logger
	flight   singleflight.Group
}

// New assembles an engine from its collaborators.
func New(cfg config.EvolutionConfig, genOpts schemas.GenerationOptions, oracle schemas.Oracle, executor sandbox.Executor, store *cache.Store, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		genOpts:  genOpts,
		oracle:   oracle,
		executor: executor,
		store:    store,
		ledger:   ledger.New(),
		logger:   logger.Named("engine"),
	}
}

// Ledger exposes the attempt ledger, mainly for inspection in tests and the
// admin surface.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Wrap registers a function with the engine. A previously committed candidate
// found in the cache is adopted immediately, without consulting the oracle.
func (e *Engine) Wrap(spec FunctionSpec) (*Function, error) {
	id := schemas.FunctionIdentity{Namespace: spec.Namespace, Name: spec.Name}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	f := &Function{
		id:     id,
		params: spec.Params,
		doc:    spec.Doc,
		engine: e,
		logger: e.logger.With(zap.String("function", id.String())),
	}
	f.original = spec.Source
	if f.original == "" {
		f.original = f.stubSource()
	}

	fallback := spec.Fallback
	if fallback == nil {
		fallback = notImplemented
	}
	f.install(fallback)

	cached, ok, err := e.store.Load(id)
	if err != nil {
		f.logger.Warn("Failed to read cached candidate, starting from fallback", zap.Error(err))
	} else if ok {
		f.installCandidate(cached)
		f.logger.Info("Adopted cached candidate at wrap time")
	}
	return f, nil
}

// isTrigger reports whether err qualifies as an evolution trigger.
func (e *Engine) isTrigger(err error) bool {
	if errors.Is(err, schemas.ErrNotImplemented) {
		return true
	}
	return e.cfg.AutoResynthesize
}

// resurrect funnels concurrent triggers for one identity into a single
// evolution round. The caller that drove the round receives its sandbox value
// directly; everyone else re-dispatches through the installed implementation
// with their own arguments. The flag inside the closure marks the driver;
// singleflight's shared result reports true to every caller, the driver
// included, so it cannot tell them apart.
func (e *Engine) resurrect(ctx context.Context, f *Function, trigger error, args []any) (any, error) {
	var drove bool
	value, err, _ := e.flight.Do(f.id.String(), func() (any, error) {
		drove = true
		return e.evolve(ctx, f, trigger, args)
	})
	if drove {
		return value, err
	}
	if err != nil {
		return nil, trigger
	}
	return f.invoke(ctx, args...)
}

// evolve runs regeneration rounds for one identity until a candidate commits
// or the attempt budget is exhausted. A rejected or failing candidate becomes
// the new trigger, so later rounds and the final propagation carry the most
// recent failure rather than the one that started the streak.
func (e *Engine) evolve(ctx context.Context, f *Function, trigger error, args []any) (any, error) {
	for {
		attempt := e.ledger.RecordFailure(f.id)
		if attempt > e.cfg.MaxAttempts {
			f.logger.Error("Evolution budget exhausted, propagating the most recent failure",
				zap.Int("attempts", attempt-1), zap.Error(trigger))
			return nil, trigger
		}

		f.logger.Info("Starting evolution round",
			zap.Int("attempt", attempt), zap.Int("max_attempts", e.cfg.MaxAttempts))

		body, err := e.oracle.Generate(ctx, e.buildRequest(f, trigger, args, attempt))
		if err != nil {
			f.logger.Error("Oracle generation failed", zap.Error(err))
			if e.ledger.Count(f.id) >= e.cfg.MaxAttempts {
				return nil, trigger
			}
			continue
		}

		source, err := e.validateCandidate(ctx, f, body)
		if err != nil {
			// The rejection becomes the trigger for the next round, so the
			// oracle learns what the last candidate did wrong.
			trigger = err
			continue
		}
		if err := validate.CheckImports(ctx, source, e.cfg.AllowImports); err != nil {
			// Policy violations are final. The oracle was told the rules.
			f.logger.Error("Candidate violated the import policy", zap.Error(err))
			return nil, err
		}

		result, err := e.executor.Execute(ctx, sandbox.Request{
			Source:           source,
			EntryPoint:       f.id.Name,
			Args:             args,
			AllowImports:     e.cfg.AllowImports,
			Timeout:          e.cfg.SandboxTimeout,
			NetworkAllowlist: e.cfg.NetworkAllowlist,
		})
		if err != nil {
			f.logger.Warn("Candidate failed in the sandbox", zap.Error(err))
			trigger = err
			if e.ledger.Count(f.id) >= e.cfg.MaxAttempts {
				return nil, trigger
			}
			continue
		}

		return e.commit(f, source, result)
	}
}

// validateCandidate normalizes a raw oracle body and checks it parses when
// wrapped, applying at most one indentation repair. It returns the complete
// function source ready for the import check and the sandbox, or the error
// that rejected the candidate.
func (e *Engine) validateCandidate(ctx context.Context, f *Function, body string) (string, error) {
	normalized := validate.Normalize(body)
	normalized = validate.EnsureImports(normalized, e.cfg.AllowImports)

	if lines := validate.CountLines(normalized); e.cfg.MaxBodyLines > 0 && lines > e.cfg.MaxBodyLines {
		f.logger.Warn("Candidate body exceeds the size bound",
			zap.Int("lines", lines),
			zap.Int("max_body_lines", e.cfg.MaxBodyLines))
		return "", fmt.Errorf("candidate body has %d lines, above the %d line bound", lines, e.cfg.MaxBodyLines)
	}

	source := f.wrapBody(normalized)
	if err := validate.CheckSyntax(ctx, source); err == nil {
		return source, nil
	}

	repaired := validate.RepairIndentation(normalized)
	source = f.wrapBody(repaired)
	if err := validate.CheckSyntax(ctx, source); err != nil {
		f.logger.Warn("Candidate does not parse after indentation repair", zap.Error(err))
		return "", err
	}
	f.logger.Debug("Indentation repair recovered the candidate")
	return source, nil
}

// commit persists the accepted candidate, installs it, and clears the
// failure streak.
func (e *Engine) commit(f *Function, source string, result *sandbox.Result) (any, error) {
	record, err := e.store.Save(f.id, source, f.original)
	if err != nil {
		// The candidate works; a persistence problem must not discard it.
		f.logger.Error("Failed to persist accepted candidate", zap.Error(err))
	} else {
		f.logger.Info("Candidate committed",
			zap.String("record_id", record.ID),
			zap.Int("hunks", record.Stats.Hunks),
			zap.Duration("sandbox_duration", result.Duration))
	}

	f.installCandidate(source)
	e.ledger.Reset(f.id)
	return decodeValue(result.Value)
}
