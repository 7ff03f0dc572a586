package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Op is a closed set of WHERE comparison operators.
type Op int

const (
	OpEquals Op = iota
	OpNotEquals
	OpGreaterThan
	OpGreaterOrEqual
	OpLessThan
	OpLessOrEqual
	OpLike
)

// Condition is one field comparison. Conditions are joined with AND only;
// there is no OR and no grouping.
type Condition struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEquals, Value: value}
}

func Neq(field string, value any) Condition {
	return Condition{Field: field, Op: OpNotEquals, Value: value}
}

func Gt(field string, value any) Condition {
	return Condition{Field: field, Op: OpGreaterThan, Value: value}
}

func Gte(field string, value any) Condition {
	return Condition{Field: field, Op: OpGreaterOrEqual, Value: value}
}

func Lt(field string, value any) Condition {
	return Condition{Field: field, Op: OpLessThan, Value: value}
}

func Lte(field string, value any) Condition {
	return Condition{Field: field, Op: OpLessOrEqual, Value: value}
}

func Like(field string, pattern string) Condition {
	return Condition{Field: field, Op: OpLike, Value: pattern}
}

func (c Condition) clause(idx int) string {
	op := "="
	switch c.Op {
	case OpNotEquals:
		op = "<>"
	case OpGreaterThan:
		op = ">"
	case OpGreaterOrEqual:
		op = ">="
	case OpLessThan:
		op = "<"
	case OpLessOrEqual:
		op = "<="
	case OpLike:
		op = "LIKE"
	}
	return fmt.Sprintf("%s %s $%d", c.Field, op, idx)
}

var globReplacer = strings.NewReplacer("*", "%", "?", "_")

// Infer builds a Condition from a field/value pair by sniffing a string
// value's prefix: ">=", "<=", "<>", ">" and "<" strip the prefix and switch
// the operator; a value containing "*" or "?" becomes a LIKE pattern
// ("*" -> "%", "?" -> "_"); anything else compares for equality. This is
// the outermost convenience layer only; prefer the explicit constructors.
func Infer(field string, value any) Condition {
	s, ok := value.(string)
	if !ok {
		return Eq(field, value)
	}
	switch {
	case strings.HasPrefix(s, ">="):
		return Gte(field, s[2:])
	case strings.HasPrefix(s, "<="):
		return Lte(field, s[2:])
	case strings.HasPrefix(s, "<>"):
		return Neq(field, s[2:])
	case strings.HasPrefix(s, ">"):
		return Gt(field, s[1:])
	case strings.HasPrefix(s, "<"):
		return Lt(field, s[1:])
	case strings.ContainsAny(s, "*?"):
		return Like(field, globReplacer.Replace(s))
	}
	return Eq(field, value)
}

func buildWhere(conds []Condition, start int) (string, []any) {
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for i, c := range conds {
		parts = append(parts, c.clause(start+i))
		args = append(args, c.Value)
	}
	return strings.Join(parts, " AND "), args
}

// Cursor accumulates a SELECT: projection, WHERE, ORDER BY and an optional
// row-lock modifier, then executes to one of five result shapes.
type Cursor struct {
	store   *Store
	table   string
	columns []string
	conds   []Condition
	order   []string
	lock    bool
}

// Fields sets the projected columns; default is all.
func (c *Cursor) Fields(cols ...string) *Cursor {
	c.columns = cols
	return c
}

// Where appends explicit conditions.
func (c *Cursor) Where(conds ...Condition) *Cursor {
	c.conds = append(c.conds, conds...)
	return c
}

// WhereMap appends conditions inferred from field/value pairs (see Infer).
// Fields are applied in sorted order so the generated SQL is deterministic.
func (c *Cursor) WhereMap(where map[string]any) *Cursor {
	fields := make([]string, 0, len(where))
	for field := range where {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		c.conds = append(c.conds, Infer(field, where[field]))
	}
	return c
}

// OrderBy sets the ORDER BY columns.
func (c *Cursor) OrderBy(cols ...string) *Cursor {
	c.order = cols
	return c
}

// ForUpdate appends FOR UPDATE, locking the selected rows for the duration
// of the surrounding transaction.
func (c *Cursor) ForUpdate() *Cursor {
	c.lock = true
	return c
}

// SQL returns the statement and arguments the cursor would execute.
func (c *Cursor) SQL() (string, []any) {
	return c.build(false)
}

func (c *Cursor) build(count bool) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	switch {
	case count:
		b.WriteString("COUNT(*)")
	case len(c.columns) == 0:
		b.WriteString("*")
	default:
		b.WriteString(strings.Join(c.columns, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(c.table)

	clause, args := buildWhere(c.conds, 1)
	if clause != "" {
		b.WriteString(" WHERE ")
		b.WriteString(clause)
	}
	if len(c.order) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(c.order, ", "))
	}
	if c.lock {
		b.WriteString(" FOR UPDATE")
	}
	return b.String(), args
}

// All executes and returns every matching row.
func (c *Cursor) All(ctx context.Context) ([]Row, error) {
	query, args := c.build(false)
	res, err := c.store.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Row executes and returns the first matching row, nil when none matched.
// Absence is not an error at this layer.
func (c *Cursor) Row(ctx context.Context) (Row, error) {
	rows, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Value executes and returns the first projected column of the first row.
// The cursor must project at least one explicit field.
func (c *Cursor) Value(ctx context.Context) (any, error) {
	if len(c.columns) == 0 {
		return nil, fmt.Errorf("store: Value requires an explicit field projection on %s", c.table)
	}
	row, err := c.Row(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return row[c.columns[0]], nil
}

// Column executes and returns one named column across all matching rows.
func (c *Cursor) Column(ctx context.Context, name string) ([]any, error) {
	rows, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[name]
	}
	return out, nil
}

// Count executes SELECT COUNT(*) with the accumulated predicate.
func (c *Cursor) Count(ctx context.Context) (int64, error) {
	query, args := c.build(true)
	res, err := c.store.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	return res.Rows[0].Int64("count"), nil
}
