package compiler

import (
	"errors"
	"fmt"

	"github.com/alecthomas/participle/v2/lexer"
)

var (
	ErrSyntax       = errors.New("query syntax error")
	ErrInvalidQuery = errors.New("invalid query")
)

// SyntaxError reports where a query failed to parse.
type SyntaxError struct {
	Pos lexer.Position
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %d:%d: %s", ErrSyntax, e.Pos.Line, e.Pos.Column, e.Msg)
}

// Unwrap makes SyntaxError match ErrSyntax.
func (e *SyntaxError) Unwrap() error { return ErrSyntax }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
