package compiler

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// queryLexer defines the token types of single-string queries.
var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `(?i)\b(select|unique|distinct|into|from|where|parameters|group|by|having|order|ascending|descending|asc|desc|range|as|new|null|true|false|this)\b`},

	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'`},
	{Name: "Float", Pattern: `\d+\.\d+(?:[eE][-+]?\d+)?|\d+[eE][-+]?\d+`},
	{Name: "Int", Pattern: `\d+`},

	// Implicit (:name) and positional (?1) parameters
	{Name: "Param", Pattern: `:[\p{L}_][\p{L}\p{N}_]*|\?\d+`},
	{Name: "Ident", Pattern: `[\p{L}_$][\p{L}\p{N}_$]*`},

	{Name: "Operator", Pattern: `&&|\|\||==|!=|<=|>=|[-+*/%<>!]`},
	{Name: "Punct", Pattern: `[(),.]`},

	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

type rawQuery struct {
	Pos        lexer.Position
	Select     bool            `@"select"`
	Unique     bool            `@"unique"?`
	Distinct   bool            `@"distinct"?`
	Result     []*rawResult    `( @@ ( "," @@ )* )?`
	Into       string          `( "into" @Ident ( @"." @Ident )* )?`
	From       string          `( "from" @Ident ( @"." @Ident )* )?`
	Where      *rawExpr        `( "where" @@ )?`
	Parameters []*rawParameter `( "parameters" @@ ( "," @@ )* )?`
	Group      *rawGroup       `( "group" "by" @@ )?`
	Order      []*rawOrder     `( "order" "by" @@ ( "," @@ )* )?`
	Range      *rawRange       `( "range" @@ )?`
}

type rawResult struct {
	Expr  *rawExpr `@@`
	Alias string   `( "as" @Ident )?`
}

type rawParameter struct {
	Type string `@Ident ( @"." @Ident )*`
	Name string `@Ident`
}

type rawGroup struct {
	Keys   []*rawExpr `@@ ( "," @@ )*`
	Having *rawExpr   `( "having" @@ )?`
}

type rawOrder struct {
	Expr      *rawExpr `@@`
	Direction string   `@( "ascending" | "descending" | "asc" | "desc" )?`
}

type rawRange struct {
	From *rawExpr `@@`
	To   *rawExpr `"," @@`
}

// Expressions, lowest precedence first.

type rawExpr struct {
	Pos  lexer.Position
	Left *rawAnd   `@@`
	Rest []*rawAnd `( "||" @@ )*`
}

type rawAnd struct {
	Left *rawComparison   `@@`
	Rest []*rawComparison `( "&&" @@ )*`
}

type rawComparison struct {
	Left *rawAdditive   `@@`
	Rest []*rawCompareOp `@@*`
}

type rawCompareOp struct {
	Op    string       `@( "==" | "!=" | "<=" | ">=" | "<" | ">" )`
	Right *rawAdditive `@@`
}

type rawAdditive struct {
	Left *rawMultiplicative `@@`
	Rest []*rawAddOp        `@@*`
}

type rawAddOp struct {
	Op    string             `@( "+" | "-" )`
	Right *rawMultiplicative `@@`
}

type rawMultiplicative struct {
	Left *rawUnary   `@@`
	Rest []*rawMulOp `@@*`
}

type rawMulOp struct {
	Op    string    `@( "*" | "/" | "%" )`
	Right *rawUnary `@@`
}

type rawUnary struct {
	Op      string      `  @( "!" | "-" )`
	Operand *rawUnary   `  @@`
	Postfix *rawPostfix `| @@`
}

type rawPostfix struct {
	Pos     lexer.Position
	Primary *rawPrimary    `@@`
	Chain   []*rawSelector `( "." @@ )*`
}

type rawSelector struct {
	Name string   `@Ident`
	Call *rawArgs `@@?`
}

type rawArgs struct {
	Open bool       `@"("`
	Args []*rawExpr `( @@ ( "," @@ )* )? ")"`
}

type rawPrimary struct {
	Float     *float64      `  @Float`
	Int       *int64        `| @Int`
	String    *string       `| @String`
	True      bool          `| @"true"`
	False     bool          `| @"false"`
	Null      bool          `| @"null"`
	This      bool          `| @"this"`
	Param     *string       `| @Param`
	Creator   *rawCreator   `| "new" @@`
	Aggregate *rawAggregate `| @@`
	Function  *rawFunction  `| @@`
	Ident     *string       `| @Ident`
	Sub       *rawExpr      `| "(" @@ ")"`
}

type rawCreator struct {
	Class string     `@Ident ( @"." @Ident )*`
	Args  []*rawExpr `"(" ( @@ ( "," @@ )* )? ")"`
}

type rawAggregate struct {
	Func     string   `@( "count" | "sum" | "avg" | "min" | "max" ) "("`
	Distinct bool     `@"distinct"?`
	Arg      *rawExpr `@@? ")"`
}

type rawFunction struct {
	Name string     `@Ident "("`
	Args []*rawExpr `( @@ ( "," @@ )* )? ")"`
}

var parser = participle.MustBuild[rawQuery](
	participle.Lexer(queryLexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Keyword", "Ident"),
	participle.UseLookahead(2),
)
