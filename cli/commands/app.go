package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/scalaris-go/kvquery/cli/internal/config"
	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/internal/debug"
	"github.com/scalaris-go/kvquery/metadata"
	"github.com/scalaris-go/kvquery/query"
	"github.com/scalaris-go/kvquery/query/compiler"
	"github.com/scalaris-go/kvquery/query/evaluator"
	"github.com/scalaris-go/kvquery/query/executor"
	"github.com/scalaris-go/kvquery/query/mapper"
	"github.com/scalaris-go/kvquery/store"
	"github.com/scalaris-go/kvquery/store/memory"
	"github.com/scalaris-go/kvquery/store/sqlstore"
	"github.com/scalaris-go/kvquery/telemetry"
)

// app is the state shared by all commands of one invocation.
type app struct {
	configPath string
	debug      bool

	cfg       *config.Config
	store     store.Store
	classes   *metadata.Registry
	exec      *executor.Executor
	compiler  *compiler.Compiler
	telemetry *telemetry.Collector
}

// loadConfig reads the configuration and enables debug logging when asked
// for on the command line or in the config.
func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	debug.Init(a.debug || cfg.Debug)
	if cfg.File != "" {
		debug.Debug("loaded config", "file", cfg.File)
	}
	return nil
}

// open builds the store, the class registry and the executor from the
// loaded configuration.
func (a *app) open(ctx context.Context) error {
	if a.exec != nil {
		return nil
	}
	if a.cfg == nil {
		if err := a.loadConfig(); err != nil {
			return err
		}
	}

	st, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.store = st

	a.classes = metadata.NewRegistry()
	for _, cl := range a.cfg.Classes {
		if _, err := a.classes.RegisterDynamic(cl.Name, cl.Fields, cl.Identity...); err != nil {
			_ = st.Close()
			return fmt.Errorf("class %s: %w", cl.Name, err)
		}
	}

	types := mapper.NewTypeRegistry()
	opts := []executor.Option{
		executor.WithResultTypes(types),
		executor.WithEvaluator(evaluator.New(
			evaluator.WithConstructor(types),
			evaluator.WithParallelism(a.cfg.Query.Parallelism),
		)),
	}
	if !telemetry.Disabled() {
		var copts []telemetry.CollectorOption
		if a.debug || a.cfg.Debug {
			copts = append(copts, telemetry.WithSink(os.Stderr))
		}
		a.telemetry = telemetry.NewCollector(copts...)
		opts = append(opts, executor.WithRecorder(a.telemetry))
	}

	a.exec = executor.New(st, a.classes, opts...)
	a.compiler = compiler.New(compiler.WithCacheSize(a.cfg.Query.CacheSize))
	return nil
}

// newQuery returns a single-string query bound to the shared compiler.
func (a *app) newQuery(text string) query.Query {
	return query.NewString(a.exec, text, query.WithCompiler(a.compiler))
}

func (a *app) close() error {
	var errs []error
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// openStore opens the configured store. The memory driver accepts an
// optional DSN naming a JSON seed file of the form {"Class": [records]}.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver != "memory" {
		return sqlstore.Open(ctx, cfg.Driver, cfg.DSN,
			sqlstore.WithPool(cfg.Pool.Sqlstore()),
			sqlstore.WithLogger(debug.Component("sqlstore")),
		)
	}

	st := memory.New()
	if cfg.DSN == "" {
		return st, nil
	}
	raw, err := afero.ReadFile(config.AppFs, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed map[string][]map[string]any
	if err := decodeJSON(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to decode seed file %s: %w", cfg.DSN, err)
	}
	for class, records := range seed {
		entries := make([]store.Entry, len(records))
		for i, rec := range records {
			entries[i] = store.Entry{Record: store.Record(convert.NormalizeJSON(rec).(map[string]any))}
		}
		st.Seed(class, entries...)
	}
	return st, nil
}

// readRecords reads a JSON array of objects. Numbers become int64 when
// integral and float64 otherwise.
func readRecords(path string) ([]map[string]any, error) {
	raw, err := afero.ReadFile(config.AppFs, path)
	if err != nil {
		return nil, err
	}
	var items []any
	if err := decodeJSON(raw, &items); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make([]map[string]any, 0, len(items))
	for i, it := range items {
		m, ok := convert.NormalizeJSON(it).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: element %d is not an object", path, i)
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
