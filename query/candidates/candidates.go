// Package candidates produces the objects a query is evaluated against:
// either a caller-supplied collection or a full scan of the candidate class.
package candidates

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scalaris-go/kvquery/internal/debug"
	"github.com/scalaris-go/kvquery/metadata"
	"github.com/scalaris-go/kvquery/query/qerr"
	"github.com/scalaris-go/kvquery/store"
)

// Candidate is one object under evaluation.
type Candidate struct {
	// Key is the store key; empty for caller-supplied candidates.
	Key    string
	Object any
	Class  *metadata.ClassMetadata
}

// Objects returns the objects of cands in order.
func Objects(cands []Candidate) []any {
	out := make([]any, len(cands))
	for i, c := range cands {
		out[i] = c.Object
	}
	return out
}

// Source fetches candidates.
type Source interface {
	Fetch(ctx context.Context, class *metadata.ClassMetadata, conn store.Conn, explicit []any) ([]Candidate, error)
}

// StoreSource is the default Source.
type StoreSource struct {
	log *slog.Logger
}

// NewStoreSource creates a Source that scans the store when no explicit
// collection is given.
func NewStoreSource(log *slog.Logger) *StoreSource {
	if log == nil {
		log = debug.Component("candidates")
	}
	return &StoreSource{log: log}
}

// Fetch returns candidates built from a copy of explicit when it is non-nil,
// and from a full scan of class otherwise. Candidates are never cached.
func (s *StoreSource) Fetch(ctx context.Context, class *metadata.ClassMetadata, conn store.Conn, explicit []any) ([]Candidate, error) {
	if class == nil {
		return nil, fmt.Errorf("%w: no candidate class", qerr.ErrMetadataMissing)
	}

	if explicit != nil {
		out := make([]Candidate, len(explicit))
		for i, obj := range explicit {
			out[i] = Candidate{Object: obj, Class: class}
		}
		s.log.Debug("using explicit candidates", "class", class.Name, "count", len(out))
		return out, nil
	}

	if conn == nil {
		return nil, fmt.Errorf("%w: no connection", qerr.ErrStoreUnavailable)
	}
	entries, err := conn.Enumerate(ctx, class.Name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: enumerate %s: %w", qerr.ErrStoreUnavailable, class.Name, err)
	}

	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obj, err := class.Materialize(e.Record)
		if err != nil {
			return nil, fmt.Errorf("materialize %s/%s: %w", class.Name, e.Key, err)
		}
		out = append(out, Candidate{Key: e.Key, Object: obj, Class: class})
	}
	s.log.Debug("scanned candidates", "class", class.Name, "count", len(out))
	return out, nil
}
