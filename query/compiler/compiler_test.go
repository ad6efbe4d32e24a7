package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalaris-go/kvquery/query/ast"
)

func TestCompile_CanonicalForm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "full query",
			input: `SELECT UNIQUE name, age AS years INTO Summary FROM Person WHERE age >= minAge && name.startsWith("A") PARAMETERS int minAge ORDER BY age DESC, name RANGE 0, 10`,
			want:  `SELECT UNIQUE name, age AS years INTO Summary FROM Person WHERE ((age >= :minAge) && name.startsWith("A")) PARAMETERS int minAge ORDER BY age DESC, name ASC RANGE 0, 10`,
		},
		{
			name:  "lowercase keywords",
			input: `select from Person where this.x == 1 order by x descending`,
			want:  `SELECT FROM Person WHERE (x == 1) ORDER BY x DESC`,
		},
		{
			name:  "precedence",
			input: `SELECT FROM P WHERE a + b * 2 > 3 || !c && d`,
			want:  `SELECT FROM P WHERE (((a + (b * 2)) > 3) || (!c && d))`,
		},
		{
			name:  "parentheses",
			input: `SELECT FROM P WHERE (a || b) && c`,
			want:  `SELECT FROM P WHERE ((a || b) && c)`,
		},
		{
			name:  "navigation and methods",
			input: `SELECT FROM P WHERE this.home.city.toLowerCase() == 'oslo' && tags.contains(:tag)`,
			want:  `SELECT FROM P WHERE ((home.city.toLowerCase() == "oslo") && tags.contains(:tag))`,
		},
		{
			name:  "literals",
			input: `SELECT FROM P WHERE a == null || b == true || c != false || d < -2.5 || e > -3`,
			want:  `SELECT FROM P WHERE (((((a == null) || (b == true)) || (c != false)) || (d < -2.5)) || (e > -3))`,
		},
		{
			name:  "grouping",
			input: `SELECT g, sum(v), count(DISTINCT w) FROM R GROUP BY g HAVING count(this) > 1 ORDER BY sum(v) desc`,
			want:  `SELECT g, sum(v), count(DISTINCT w) FROM R GROUP BY g HAVING (count(this) > 1) ORDER BY sum(v) DESC`,
		},
		{
			name:  "creator",
			input: `SELECT new Pair(id, name) INTO Pair FROM Person`,
			want:  `SELECT new Pair(id, name) INTO Pair FROM Person`,
		},
		{
			name:  "qualified names",
			input: `SELECT DISTINCT city INTO com.example.Row FROM com.example.Person PARAMETERS java.lang.String c`,
			want:  `SELECT DISTINCT city INTO com.example.Row FROM com.example.Person PARAMETERS java.lang.String c`,
		},
		{
			name:  "functions and positional parameters",
			input: `SELECT FROM P WHERE abs(x - ?1) <= ?2 RANGE :from, :to`,
			want:  `SELECT FROM P WHERE (abs((x - ?1)) <= ?2) RANGE :from, :to`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Compile(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())

			again, err := Compile(q.String())
			require.NoError(t, err)
			assert.Equal(t, q, again, "canonical form compiles to the same query")
		})
	}
}

func TestCompile_Structure(t *testing.T) {
	q, err := Compile(`SELECT name AS n, count(this) FROM Person WHERE age > min PARAMETERS int min GROUP BY name`)
	require.NoError(t, err)

	assert.Equal(t, "Person", q.Candidate)
	require.Len(t, q.Result, 2)
	assert.Equal(t, "n", q.Result[0].Alias)
	assert.Equal(t, &ast.Aggregate{Func: ast.AggCount}, q.Result[1].Expr)
	assert.Equal(t, []ast.ParameterDecl{{Type: "int", Name: "min"}}, q.Parameters)
	assert.Equal(t, &ast.Binary{
		Op:    ast.OpGt,
		Left:  &ast.Field{Name: "age"},
		Right: &ast.Parameter{Name: "min"},
	}, q.Filter)
	assert.True(t, q.Grouped())
}

func TestCompile_Parameters(t *testing.T) {
	q, err := Compile(`SELECT FROM P WHERE a == :x && b == ?1 && c == y && d == :x PARAMETERS String y`)
	require.NoError(t, err)

	assert.Equal(t, []string{"y", "x"}, q.ParameterNames())
	refs := q.ReferencedParameters()
	require.Len(t, refs, 3)
	assert.Equal(t, &ast.Parameter{Name: "1", Positional: true}, refs[1])
}

func TestCompile_Values(t *testing.T) {
	q, err := Compile(`SELECT FROM P WHERE a == 'it\'s' && b == "tab\t" && c == 42 && d == 1e3`)
	require.NoError(t, err)

	var lits []any
	ast.Walk(q.Filter, func(e ast.Expr) bool {
		if l, ok := e.(*ast.Literal); ok {
			lits = append(lits, l.Value)
		}
		return true
	})
	assert.Equal(t, []any{"it's", "tab\t", int64(42), float64(1000)}, lits)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", ``, ErrSyntax},
		{"missing class", `SELECT FROM`, ErrSyntax},
		{"trailing tokens", `SELECT FROM P garbage here`, ErrSyntax},
		{"unbalanced", `SELECT FROM P WHERE (a == 1`, ErrSyntax},
		{"no candidate", `SELECT name`, ErrInvalidQuery},
		{"duplicate parameter", `SELECT FROM P PARAMETERS int a, int a`, ErrInvalidQuery},
		{"aggregate in filter", `SELECT FROM P WHERE count(this) > 1`, ErrInvalidQuery},
		{"aggregate in grouping", `SELECT FROM P GROUP BY max(x)`, ErrInvalidQuery},
		{"unknown function", `SELECT FROM P WHERE foo(x)`, ErrInvalidQuery},
		{"aggregate without argument", `SELECT sum() FROM P`, ErrInvalidQuery},
		{"nested aggregate", `SELECT sum(count(this)) FROM P`, ErrInvalidQuery},
		{"duplicate alias", `SELECT a AS x, b AS X FROM P`, ErrInvalidQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Compile(tt.input)
			assert.Nil(t, q)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCompiler_DefaultCandidate(t *testing.T) {
	c := New(WithDefaultCandidate("Person"))

	q, err := c.Compile(`SELECT name`)
	require.NoError(t, err)
	assert.Equal(t, "Person", q.Candidate)

	q, err = c.Compile(`SELECT name FROM Other`)
	require.NoError(t, err)
	assert.Equal(t, "Other", q.Candidate)
}

func TestCompiler_Cache(t *testing.T) {
	c := New(WithCacheSize(8))

	first, err := c.Compile(`SELECT FROM P WHERE a == 1`)
	require.NoError(t, err)
	second, err := c.Compile(`SELECT FROM P WHERE a == 1`)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = c.Compile(`SELECT FROM`)
	require.Error(t, err)

	stats := c.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.Size)

	uncached := New(WithCacheSize(0))
	a, err := uncached.Compile(`SELECT FROM P`)
	require.NoError(t, err)
	b, err := uncached.Compile(`SELECT FROM P`)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, a, b)
}

func TestExplain(t *testing.T) {
	q, err := Compile(`SELECT city, count(this) INTO Summary FROM Person WHERE age >= :min GROUP BY city ORDER BY city RANGE 0, 5`)
	require.NoError(t, err)

	plan := Explain(q)
	assert.Contains(t, plan, "1. **Scan**: `Person`")
	assert.Contains(t, plan, "2. **Filter**: `(age >= :min)`")
	assert.Contains(t, plan, "3. **Group**: `city`")
	assert.Contains(t, plan, "**Map**: `Summary`")
	assert.Contains(t, plan, "- `:min` (implicit)")
	assert.NotContains(t, plan, "**Unique**")
}
