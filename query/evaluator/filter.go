package evaluator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/scalaris-go/kvquery/query/ast"
)

// filter keeps the objects for which expr is true. Unknown excludes the
// object. Output order is the input order.
func (e *Engine) filter(ctx context.Context, expr ast.Expr, objects []any, params Parameters) ([]any, error) {
	keep := make([]bool, len(objects))

	if e.parallelism > 1 && len(objects) > 1 {
		if err := e.filterParallel(ctx, expr, objects, params, keep); err != nil {
			return nil, err
		}
	} else {
		s := &scope{params: params}
		for i, obj := range objects {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s.this = obj
			t, err := truthOf(s, expr)
			if err != nil {
				return nil, err
			}
			keep[i] = t == truthTrue
		}
	}

	out := make([]any, 0, len(objects))
	for i, obj := range objects {
		if keep[i] {
			out = append(out, obj)
		}
	}
	return out, nil
}

// filterParallel splits objects into contiguous chunks, one per worker.
// Each worker writes only its own range of keep.
func (e *Engine) filterParallel(ctx context.Context, expr ast.Expr, objects []any, params Parameters, keep []bool) error {
	workers := e.parallelism
	if workers > len(objects) {
		workers = len(objects)
	}
	chunk := (len(objects) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(objects); start += chunk {
		end := min(start+chunk, len(objects))
		g.Go(func() error {
			s := &scope{params: params}
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				s.this = objects[i]
				t, err := truthOf(s, expr)
				if err != nil {
					return err
				}
				keep[i] = t == truthTrue
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	e.log.Debug("filtered in parallel", "workers", workers, "candidates", len(objects))
	return nil
}
