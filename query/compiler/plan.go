package compiler

import (
	"fmt"
	"strings"

	"github.com/scalaris-go/kvquery/query/ast"
)

// Explain renders the execution plan of q as markdown.
func Explain(q *ast.CompiledQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Query plan\n\n```\n%s\n```\n\n", q.String())

	step := 0
	stage := func(title, detail string) {
		step++
		fmt.Fprintf(&b, "%d. **%s**", step, title)
		if detail != "" {
			fmt.Fprintf(&b, ": `%s`", detail)
		}
		b.WriteString("\n")
	}

	stage("Scan", q.Candidate)
	if q.Filter != nil {
		stage("Filter", q.Filter.String())
	}
	if q.Grouped() {
		keys := "single group"
		if len(q.Grouping) > 0 {
			keys = exprList(q.Grouping)
		}
		stage("Group", keys)
		if q.Having != nil {
			stage("Having", q.Having.String())
		}
	}
	if len(q.Ordering) > 0 {
		parts := make([]string, len(q.Ordering))
		for i, o := range q.Ordering {
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			parts[i] = o.Expr.String() + " " + dir
		}
		stage("Order", strings.Join(parts, ", "))
	}
	if q.Range != nil {
		stage("Range", q.Range.From.String()+", "+q.Range.To.String())
	}
	if len(q.Result) > 0 {
		parts := make([]string, len(q.Result))
		for i, r := range q.Result {
			parts[i] = r.Expr.String()
			if alias := r.ColumnAlias(); alias != "" {
				parts[i] += " AS " + alias
			}
		}
		stage("Project", strings.Join(parts, ", "))
	}
	if q.Distinct {
		stage("Distinct", "")
	}
	switch {
	case q.ResultClass != "" && q.CreatorResult():
		stage("Construct", q.ResultClass)
	case q.ResultClass != "":
		stage("Map", q.ResultClass)
	}
	if q.Unique {
		stage("Unique", "")
	}

	if params := q.ReferencedParameters(); len(params) > 0 {
		b.WriteString("\n## Parameters\n\n")
		types := map[string]string{}
		for _, d := range q.Parameters {
			types[d.Name] = d.Type
		}
		for _, p := range params {
			typ := types[p.Name]
			if typ == "" {
				typ = "implicit"
			}
			fmt.Fprintf(&b, "- `%s` (%s)\n", p.String(), typ)
		}
	}
	return b.String()
}

func exprList(exprs []ast.Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
