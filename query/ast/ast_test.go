package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleQuery() *CompiledQuery {
	return &CompiledQuery{
		Candidate: "Person",
		Filter: &Binary{
			Op:    OpAnd,
			Left:  &Binary{Op: OpGe, Left: &Field{Target: &This{}, Name: "age"}, Right: &Parameter{Name: "min"}},
			Right: &Invoke{Target: &Field{Name: "name"}, Method: "startsWith", Args: []Expr{&Parameter{Name: "1", Positional: true}}},
		},
		Result: []ResultExpr{
			{Expr: &Field{Name: "city"}},
			{Expr: &Aggregate{Func: AggSum, Arg: &Field{Name: "age"}}, Alias: "total"},
			{Expr: &Aggregate{Func: AggCount}},
		},
		ResultClass: "CityStats",
		Grouping:    []Expr{&Field{Name: "city"}},
		Having:      &Binary{Op: OpGt, Left: &Aggregate{Func: AggCount}, Right: &Literal{Value: int64(1)}},
		Ordering:    []OrderExpr{{Expr: &Field{Name: "city"}, Descending: true}},
		Range:       &Range{From: &Literal{Value: int64(0)}, To: &Parameter{Name: "max"}},
		Parameters:  []ParameterDecl{{Type: "int", Name: "min"}},
		Distinct:    true,
	}
}

func TestCompiledQuery_String(t *testing.T) {
	want := `SELECT DISTINCT city, sum(age) AS total, count(this) INTO CityStats FROM Person` +
		` WHERE ((this.age >= :min) && name.startsWith(?1)) PARAMETERS int min` +
		` GROUP BY city HAVING (count(this) > 1) ORDER BY city DESC RANGE 0, :max`
	assert.Equal(t, want, sampleQuery().String())
}

func TestLiteral_String(t *testing.T) {
	assert.Equal(t, "null", (&Literal{}).String())
	assert.Equal(t, `"a\"b"`, (&Literal{Value: `a"b`}).String())
	assert.Equal(t, "2.0", (&Literal{Value: 2.0}).String())
	assert.Equal(t, "2.5", (&Literal{Value: 2.5}).String())
	assert.Equal(t, "true", (&Literal{Value: true}).String())
	assert.Equal(t, "new Pair(a, 1)", (&Creator{Class: "Pair", Args: []Expr{&Field{Name: "a"}, &Literal{Value: int64(1)}}}).String())
	assert.Equal(t, "count(DISTINCT x)", (&Aggregate{Func: AggCount, Distinct: true, Arg: &Field{Name: "x"}}).String())
	assert.Equal(t, "!-x", (&Unary{Op: OpNot, Operand: &Unary{Op: OpNeg, Operand: &Field{Name: "x"}}}).String())
}

func TestCompiledQuery_Parameters(t *testing.T) {
	q := sampleQuery()

	var names []string
	for _, p := range q.ReferencedParameters() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"min", "1", "max"}, names)
	assert.Equal(t, []string{"min", "max"}, q.ParameterNames())
}

func TestCompiledQuery_Grouped(t *testing.T) {
	assert.True(t, sampleQuery().Grouped())

	q := &CompiledQuery{Result: []ResultExpr{{Expr: &Field{Name: "a"}}}}
	assert.False(t, q.Grouped())

	q = &CompiledQuery{Result: []ResultExpr{{Expr: &Binary{Op: OpAdd, Left: &Aggregate{Func: AggMax, Arg: &Field{Name: "a"}}, Right: &Literal{Value: int64(1)}}}}}
	assert.True(t, q.Grouped())
}

func TestCompiledQuery_CreatorResult(t *testing.T) {
	q := &CompiledQuery{Result: []ResultExpr{{Expr: &Creator{Class: "Pair"}}}}
	assert.True(t, q.CreatorResult())
	assert.False(t, sampleQuery().CreatorResult())
	assert.False(t, (&CompiledQuery{}).CreatorResult())
}

func TestResultExpr_ColumnAlias(t *testing.T) {
	assert.Equal(t, "x", ResultExpr{Expr: &Field{Name: "a"}, Alias: "x"}.ColumnAlias())
	assert.Equal(t, "b", ResultExpr{Expr: &Field{Target: &Field{Name: "a"}, Name: "b"}}.ColumnAlias())
	assert.Equal(t, "avg", ResultExpr{Expr: &Aggregate{Func: AggAvg, Arg: &Field{Name: "a"}}}.ColumnAlias())
	assert.Equal(t, "", ResultExpr{Expr: &Literal{Value: int64(1)}}.ColumnAlias())
}
