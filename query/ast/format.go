package ast

import (
	"fmt"
	"strconv"
	"strings"
)

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	}
	return fmt.Sprint(l.Value)
}

func (*This) String() string { return "this" }

func (f *Field) String() string {
	if f.Target == nil {
		return f.Name
	}
	return f.Target.String() + "." + f.Name
}

func (p *Parameter) String() string {
	if p.Positional {
		return "?" + p.Name
	}
	return ":" + p.Name
}

func (u *Unary) String() string {
	return string(u.Op) + u.Operand.String()
}

func (b *Binary) String() string {
	return "(" + b.Left.String() + " " + string(b.Op) + " " + b.Right.String() + ")"
}

func (i *Invoke) String() string {
	call := i.Method + "(" + joinExprs(i.Args) + ")"
	if i.Target == nil {
		return call
	}
	return i.Target.String() + "." + call
}

func (a *Aggregate) String() string {
	var b strings.Builder
	b.WriteString(string(a.Func))
	b.WriteByte('(')
	if a.Distinct {
		b.WriteString("DISTINCT ")
	}
	if a.Arg == nil {
		b.WriteString("this")
	} else {
		b.WriteString(a.Arg.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (c *Creator) String() string {
	return "new " + c.Class + "(" + joinExprs(c.Args) + ")"
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// String renders the query in canonical single-string form.
func (q *CompiledQuery) String() string {
	var b strings.Builder
	b.WriteString("SELECT")
	if q.Unique {
		b.WriteString(" UNIQUE")
	}
	if q.Distinct {
		b.WriteString(" DISTINCT")
	}
	for i, r := range q.Result {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte(' ')
		b.WriteString(r.Expr.String())
		if r.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(r.Alias)
		}
	}
	if q.ResultClass != "" {
		b.WriteString(" INTO ")
		b.WriteString(q.ResultClass)
	}
	if q.Candidate != "" {
		b.WriteString(" FROM ")
		b.WriteString(q.Candidate)
	}
	if q.Filter != nil {
		b.WriteString(" WHERE ")
		b.WriteString(q.Filter.String())
	}
	if len(q.Parameters) > 0 {
		b.WriteString(" PARAMETERS ")
		for i, p := range q.Parameters {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Type)
			b.WriteByte(' ')
			b.WriteString(p.Name)
		}
	}
	if len(q.Grouping) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(joinExprs(q.Grouping))
	}
	if q.Having != nil {
		b.WriteString(" HAVING ")
		b.WriteString(q.Having.String())
	}
	if len(q.Ordering) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.Ordering {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.Expr.String())
			if o.Descending {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}
	if q.Range != nil {
		b.WriteString(" RANGE ")
		b.WriteString(q.Range.From.String())
		b.WriteString(", ")
		b.WriteString(q.Range.To.String())
	}
	return b.String()
}
