// Package executor runs compiled queries end to end: it acquires a store
// connection, fetches candidates, evaluates, maps results and releases the
// connection on every path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scalaris-go/kvquery/internal/debug"
	"github.com/scalaris-go/kvquery/metadata"
	"github.com/scalaris-go/kvquery/query/ast"
	"github.com/scalaris-go/kvquery/query/candidates"
	"github.com/scalaris-go/kvquery/query/evaluator"
	"github.com/scalaris-go/kvquery/query/mapper"
	"github.com/scalaris-go/kvquery/query/qerr"
	"github.com/scalaris-go/kvquery/store"
	"github.com/scalaris-go/kvquery/telemetry"
)

// Executor executes compiled queries. It holds no per-execution state and
// is safe for concurrent use.
type Executor struct {
	store     store.Store
	classes   *metadata.Registry
	evaluator evaluator.Evaluator
	source    candidates.Source
	types     *mapper.TypeRegistry
	recorder  telemetry.Recorder
	log       *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithEvaluator replaces the default evaluation engine.
func WithEvaluator(ev evaluator.Evaluator) Option {
	return func(e *Executor) { e.evaluator = ev }
}

// WithSource replaces the default candidate source.
func WithSource(src candidates.Source) Option {
	return func(e *Executor) { e.source = src }
}

// WithResultTypes sets the result classes queries may name with INTO and
// construct with new.
func WithResultTypes(types *mapper.TypeRegistry) Option {
	return func(e *Executor) { e.types = types }
}

// WithRecorder reports one telemetry event per execution to r.
func WithRecorder(r telemetry.Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// New creates an Executor over st whose candidate classes are described by
// classes.
func New(st store.Store, classes *metadata.Registry, opts ...Option) *Executor {
	e := &Executor{store: st, classes: classes}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = debug.Component("executor")
	}
	if e.types == nil {
		e.types = mapper.NewTypeRegistry()
	}
	if e.evaluator == nil {
		e.evaluator = evaluator.New(
			evaluator.WithConstructor(e.types),
			evaluator.WithLogger(e.log.With("stage", "evaluate")),
		)
	}
	if e.source == nil {
		e.source = candidates.NewStoreSource(e.log.With("stage", "fetch"))
	}
	if e.recorder == nil {
		e.recorder = telemetry.Nop{}
	}
	return e
}

// Classes returns the metadata registry of the executor.
func (e *Executor) Classes() *metadata.Registry { return e.classes }

// ResultTypes returns the result class registry of the executor.
func (e *Executor) ResultTypes() *mapper.TypeRegistry { return e.types }

// Execute runs q with params. When explicit is non-nil it is the candidate
// collection and the store is not scanned; explicit itself is never
// modified. On failure no partial result is returned.
// Rows are mapped whenever q names a result class that is not a creator,
// even without result expressions.
func (e *Executor) Execute(ctx context.Context, q *ast.CompiledQuery, params evaluator.Parameters, explicit []any) (result []any, err error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", qerr.ErrEvaluation)
	}

	run := &execution{
		log: e.log.With("class", q.Candidate),
		event: telemetry.Event{
			Query: q.String(),
			Class: q.Candidate,
		},
	}
	run.advance(telemetry.StateIdle)
	start := time.Now()
	defer func() {
		run.event.Duration = time.Since(start)
		run.event.Rows = len(result)
		if err != nil {
			run.event.Error = err.Error()
		}
		e.recorder.Record(run.event)
	}()

	if e.classes == nil {
		return nil, fmt.Errorf("%w: %s", qerr.ErrMetadataMissing, q.Candidate)
	}
	class, err := e.classes.Lookup(q.Candidate)
	if err != nil {
		return nil, err
	}

	if e.store == nil {
		return nil, fmt.Errorf("%w: no store configured", qerr.ErrStoreUnavailable)
	}
	conn, err := e.store.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", qerr.ErrStoreUnavailable, err)
	}
	run.event.Acquired = true
	run.advance(telemetry.StateConnectionAcquired)

	defer func() {
		relErr := conn.Release()
		run.event.Released = true
		if relErr != nil {
			err = errors.Join(err, fmt.Errorf("release connection: %w", relErr))
		}
		if err != nil {
			result = nil
			run.advance(telemetry.StateReleasedFailure)
			return
		}
		run.advance(telemetry.StateReleasedSuccess)
	}()

	cands, err := e.source.Fetch(ctx, class, conn, explicit)
	if err != nil {
		return nil, err
	}
	run.event.Candidates = len(cands)
	run.advance(telemetry.StateCandidatesFetched)

	rows, err := e.evaluator.Evaluate(ctx, q, cands, params, evaluator.AllPhases)
	if err != nil {
		return nil, err
	}
	run.advance(telemetry.StateEvaluated)

	if q.ResultClass != "" && !q.CreatorResult() {
		m, err := mapper.NewResultClassMapper(e.types, q.ResultClass)
		if err != nil {
			return nil, err
		}
		mapped, err := m.Map(rows, q.Result)
		if err != nil {
			return nil, err
		}
		run.advance(telemetry.StateMapped)
		result = mapped
	} else {
		result = []any(rows)
	}

	if q.Unique && len(result) > 1 {
		return nil, fmt.Errorf("%w: %d rows", qerr.ErrNotUnique, len(result))
	}
	return result, nil
}

// execution tracks the state machine of one Execute call.
type execution struct {
	log   *slog.Logger
	event telemetry.Event
}

func (x *execution) advance(state telemetry.State) {
	x.event.State = state
	x.event.Trail = append(x.event.Trail, state)
	x.log.Debug("query state", "state", state)
}
