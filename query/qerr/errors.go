// Package qerr holds the error kinds reported by query execution. Callers
// match them with errors.Is; every failure is wrapped with context.
package qerr

import "errors"

var (
	ErrMetadataMissing     = errors.New("no metadata registered for class")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrUnboundParameter    = errors.New("unbound query parameter")
	ErrUnmappableAlias     = errors.New("result alias cannot be mapped")
	ErrNoUsableConstructor = errors.New("no usable constructor for result class")
	ErrEvaluation          = errors.New("expression evaluation failed")
	ErrNotUnique           = errors.New("query returned more than one result")
)
